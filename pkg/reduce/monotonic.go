package reduce

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

// monotonicOp evaluates min/max over append-only inputs. Because values
// are never retracted, the extrema only ever tighten and a single folded
// value per aggregate suffices. A retraction in the input violates the
// planner's monotonicity promise and is reported as corrupt data.
type monotonicOp struct {
	log     logr.Logger
	plan    *MonotonicPlan
	states  map[string]*monotonicState
	viol    map[string]bool
	tracker outputTracker
}

type monotonicState struct {
	key   row.Row
	bests []row.Datum
}

func newMonotonicOp(plan *MonotonicPlan, log logr.Logger) *monotonicOp {
	return &monotonicOp{
		log:     log.WithName("monotonic"),
		plan:    plan,
		states:  make(map[string]*monotonicState),
		viol:    make(map[string]bool),
		tracker: newOutputTracker(),
	}
}

func (o *monotonicOp) Name() string { return "monotonic" }

func (o *monotonicOp) Process(delta *zset.PairZSet) (*zset.PairZSet, *ErrorSet, error) {
	out := zset.NewPairs()
	errs := NewErrors()
	touched := make(map[string]row.Row)
	for _, e := range delta.Entries() {
		kenc := e.Key.Key()
		// Batches consolidate on entry, so a negative count here is a
		// genuine net retraction, not a transient insert/retract pair.
		if e.Count < 0 {
			o.log.V(1).Info("monotonic reduction saw a retraction",
				"key", e.Key.String(), "val", e.Val.String(), "count", e.Count)
			if !o.viol[kenc] {
				o.viol[kenc] = true
				errs.AddMutate(internalError(
					"retraction for key %s in monotonic min/max aggregate", e.Key), 1)
			}
			continue
		}
		st := o.states[kenc]
		if st == nil {
			st = &monotonicState{key: e.Key, bests: make([]row.Datum, len(o.plan.AggrFuncs))}
			for i := range st.bests {
				st.bests[i] = monoidIdentity()
			}
			o.states[kenc] = st
		}
		for i, f := range o.plan.AggrFuncs {
			col := o.plan.Columns[i]
			d := row.Null()
			if col >= 0 && col < e.Val.Len() {
				d = e.Val[col]
			}
			st.bests[i] = monoidCombine(f, st.bests[i], d)
		}
		touched[kenc] = e.Key
	}

	bld := row.NewBuilder()
	for kenc, key := range touched {
		st := o.states[kenc]
		bld.Reset()
		for _, d := range st.bests {
			bld.Push(d)
		}
		o.tracker.commit(out, errs, kenc, key, bld.Finish(), true, nil)
	}
	return out, errs, nil
}

func (o *monotonicOp) Reset() {
	o.states = make(map[string]*monotonicState)
	o.viol = make(map[string]bool)
	o.tracker.reset()
}
