package reduce

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/dreduce/pkg/eval"
	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

func newHierarchicalOp(plan *HierarchicalPlan, log logr.Logger) Operator {
	if plan.Monotonic != nil {
		return newMonotonicOp(plan.Monotonic, log)
	}
	return newBucketedOp(plan.Bucketed, log)
}

func newBasicOp(plan *BasicPlan, log logr.Logger) Operator {
	if plan.Single != nil {
		return newSingleBasicOp(plan.Single, true, log)
	}
	return newMultiBasicOp(plan.Multiple, log)
}

// buildOperator instantiates the aggregator the plan selects.
func buildOperator(plan *ReducePlan, log logr.Logger) (Operator, error) {
	kind, err := plan.Kind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case PlanDistinct:
		return newDistinctOp(log), nil
	case PlanAccumulable:
		plan.Accumulable.normalize()
		return newAccumulableOp(plan.Accumulable, log), nil
	case PlanHierarchical:
		return newHierarchicalOp(plan.Hierarchical, log), nil
	case PlanBasic:
		return newBasicOp(plan.Basic, log), nil
	case PlanCollation:
		if plan.Collation.Accumulable != nil {
			plan.Collation.Accumulable.normalize()
		}
		return newCollationOp(plan.Collation, log), nil
	default:
		return nil, fmt.Errorf("unknown plan kind %q", kind)
	}
}

// Reduction is a rendered incremental GROUP BY dataflow: the extraction
// stage in front of the aggregator the plan selected, plus the maintained
// output arrangement and the active error set.
type Reduction struct {
	id      string
	log     logr.Logger
	extract *extractStage
	op      Operator
	keys    map[string]row.Row
	vals    map[string]row.Row
	errors  *ErrorSet
}

// Render builds a reduction from a key/value extraction plan and a reduce
// plan.
func Render(kvPlan eval.KeyValPlan, plan *ReducePlan, log logr.Logger) (*Reduction, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("cannot render reduction: %w", err)
	}
	if plan.Distinct != nil && kvPlan.Val.Len() != 0 {
		return nil, fmt.Errorf("cannot render reduction: distinct plans take no value projection")
	}
	id := uuid.New().String()
	log = log.WithName("reduce").WithValues("id", id)
	op, err := buildOperator(plan, log)
	if err != nil {
		return nil, fmt.Errorf("cannot render reduction: %w", err)
	}
	log.V(2).Info("rendered reduction", "operator", op.Name(),
		"key", kvPlan.Key.String(), "val", kvPlan.Val.String())
	return &Reduction{
		id:      id,
		log:     log,
		extract: newExtractStage(kvPlan, log),
		op:      op,
		keys:    make(map[string]row.Row),
		vals:    make(map[string]row.Row),
		errors:  NewErrors(),
	}, nil
}

// ID returns the reduction's dataflow identifier.
func (r *Reduction) ID() string { return r.id }

// Process applies one batch of input row changes and returns the changes
// to the output rows and to the active error set. One call advances one
// logical time; outputs reflect the whole batch, never a prefix.
func (r *Reduction) Process(delta *zset.ZSet) (*zset.ZSet, *ErrorSet, error) {
	pairs, errDelta := r.extract.process(delta)
	outDelta, opErrs, err := r.op.Process(pairs)
	if err != nil {
		return nil, nil, fmt.Errorf("reduction %s failed: %w", r.id, err)
	}
	errDelta.AddAllMutate(opErrs)
	r.errors.AddAllMutate(errDelta)

	flat := zset.New()
	for _, e := range outDelta.Entries() {
		kenc := e.Key.Key()
		if e.Count > 0 {
			r.keys[kenc] = e.Key
			r.vals[kenc] = e.Val
		} else if cur, ok := r.vals[kenc]; ok && cur.Equal(e.Val) {
			delete(r.keys, kenc)
			delete(r.vals, kenc)
		}
		flat.AddMutate(e.Key.Concat(e.Val), e.Count)
	}
	r.log.V(4).Info("processed batch", "input", delta.Size(),
		"output", flat.Size(), "errors", len(errDelta.Entries()))
	return flat, errDelta, nil
}

// Snapshot returns the full current output as a Z-set of flat rows.
func (r *Reduction) Snapshot() *zset.ZSet {
	snap := zset.New()
	for kenc, key := range r.keys {
		snap.AddMutate(key.Concat(r.vals[kenc]), 1)
	}
	return snap
}

// Lookup returns the current output row for a group key.
func (r *Reduction) Lookup(key row.Row) (row.Row, bool) {
	val, ok := r.vals[key.Key()]
	return val, ok
}

// ActiveErrors returns the currently active dataflow errors.
func (r *Reduction) ActiveErrors() []ErrorEntry { return r.errors.Entries() }

// Reset drops all maintained state.
func (r *Reduction) Reset() {
	r.op.Reset()
	r.keys = make(map[string]row.Row)
	r.vals = make(map[string]row.Row)
	r.errors = NewErrors()
}
