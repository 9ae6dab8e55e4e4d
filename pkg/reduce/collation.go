package reduce

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

// collationOp runs one constituent reduction per strategy family over the
// same input and stitches the per-key partial rows back into the requested
// aggregate order.
//
// A key that is missing some constituent rows is simply absent from the
// output: constituents retire keys independently, so partial presence is
// a transient, not an error. Shape mismatches between the stitched rows
// and the requested order are corruption and surface as errors.
type collationOp struct {
	log       logr.Logger
	parts     []collationConstituent
	types     []ReductionType
	nDistinct int
	states    map[string]*collationState
	tracker   outputTracker
}

type collationConstituent struct {
	typ ReductionType
	op  Operator
}

type collationState struct {
	key  row.Row
	rows map[ReductionType]row.Row
}

func newCollationOp(plan *CollationPlan, log logr.Logger) *collationOp {
	log = log.WithName("collation")
	var parts []collationConstituent
	if plan.Hierarchical != nil {
		parts = append(parts, collationConstituent{
			typ: ReductionHierarchical,
			op:  newHierarchicalOp(plan.Hierarchical, log),
		})
	}
	if plan.Accumulable != nil {
		parts = append(parts, collationConstituent{
			typ: ReductionAccumulable,
			op:  newAccumulableOp(plan.Accumulable, log),
		})
	}
	if plan.Basic != nil {
		parts = append(parts, collationConstituent{
			typ: ReductionBasic,
			op:  newBasicOp(plan.Basic, log),
		})
	}
	if len(parts) < 2 {
		softPanic(log, "collation over fewer than two constituent reductions",
			"constituents", len(parts))
	}
	distinct := make(map[ReductionType]struct{})
	for _, t := range plan.AggregateTypes {
		distinct[t] = struct{}{}
	}
	return &collationOp{
		log:       log,
		parts:     parts,
		types:     append([]ReductionType(nil), plan.AggregateTypes...),
		nDistinct: len(distinct),
		states:    make(map[string]*collationState),
		tracker:   newOutputTracker(),
	}
}

func (o *collationOp) Name() string { return "collation" }

func (o *collationOp) Process(delta *zset.PairZSet) (*zset.PairZSet, *ErrorSet, error) {
	out := zset.NewPairs()
	errs := NewErrors()
	touched := make(map[string]row.Row)
	for _, part := range o.parts {
		po, pe, err := part.op.Process(delta)
		if err != nil {
			return nil, nil, err
		}
		errs.AddAllMutate(pe)
		for _, e := range po.Entries() {
			kenc := e.Key.Key()
			st := o.states[kenc]
			if st == nil {
				st = &collationState{key: e.Key, rows: make(map[ReductionType]row.Row)}
				o.states[kenc] = st
			}
			if e.Count > 0 {
				st.rows[part.typ] = e.Val
			} else if cur, ok := st.rows[part.typ]; ok && cur.Equal(e.Val) {
				delete(st.rows, part.typ)
			}
			touched[kenc] = e.Key
		}
	}

	bld := row.NewBuilder()
	for kenc, key := range touched {
		st := o.states[kenc]
		if len(st.rows) == 0 {
			delete(o.states, kenc)
			o.tracker.commit(out, errs, kenc, key, nil, false, nil)
			continue
		}
		if len(st.rows) < o.nDistinct {
			o.tracker.commit(out, errs, kenc, key, nil, false, nil)
			continue
		}
		val, newErrs := o.stitch(key, st.rows, bld)
		o.tracker.commit(out, errs, kenc, key, val, val != nil, newErrs)
	}
	return out, errs, nil
}

// stitch walks the requested aggregate order, pulling the next datum from
// the partial row of each aggregate's family.
func (o *collationOp) stitch(key row.Row, rows map[ReductionType]row.Row, bld *row.Builder) (row.Row, []DataflowError) {
	idx := make(map[ReductionType]int, len(rows))
	bld.Reset()
	for _, t := range o.types {
		r := rows[t]
		if idx[t] >= r.Len() {
			o.log.V(1).Info("short constituent row in collation",
				"key", key.String(), "type", t.String())
			bld.Reset()
			return nil, []DataflowError{internalError(
				"missing value for key %s in collation of %s aggregates", key, t)}
		}
		bld.Push(r[idx[t]])
		idx[t]++
	}
	for t, r := range rows {
		if idx[t] != r.Len() {
			o.log.V(1).Info("oversized constituent row in collation",
				"key", key.String(), "type", t.String())
			bld.Reset()
			return nil, []DataflowError{internalError(
				"rows too large for key %s in collation of %s aggregates", key, t)}
		}
	}
	return bld.Finish(), nil
}

func (o *collationOp) Reset() {
	for _, part := range o.parts {
		part.op.Reset()
	}
	o.states = make(map[string]*collationState)
	o.tracker.reset()
}
