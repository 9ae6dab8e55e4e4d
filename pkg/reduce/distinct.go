package reduce

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

// distinctOp maintains the set of keys with positive multiplicity. A key
// whose multiplicity goes negative is reported as corrupt until enough
// insertions arrive to repair it.
type distinctOp struct {
	log     logr.Logger
	totals  map[string]*distinctState
	tracker outputTracker
}

type distinctState struct {
	key   row.Row
	total int64
}

func newDistinctOp(log logr.Logger) *distinctOp {
	return &distinctOp{
		log:     log.WithName("distinct"),
		totals:  make(map[string]*distinctState),
		tracker: newOutputTracker(),
	}
}

func (o *distinctOp) Name() string { return "distinct" }

func (o *distinctOp) Process(delta *zset.PairZSet) (*zset.PairZSet, *ErrorSet, error) {
	touched := make(map[string]row.Row)
	for _, e := range delta.Entries() {
		if e.Val.Len() != 0 {
			softPanic(o.log, "non-empty value row in distinct", "val", e.Val.String())
		}
		kenc := e.Key.Key()
		st := o.totals[kenc]
		if st == nil {
			st = &distinctState{key: e.Key}
			o.totals[kenc] = st
		}
		st.total += e.Count
		touched[kenc] = e.Key
	}

	out := zset.NewPairs()
	errs := NewErrors()
	for kenc, key := range touched {
		st := o.totals[kenc]
		var newErrs []DataflowError
		hasVal := false
		switch {
		case st.total > 0:
			hasVal = true
		case st.total < 0:
			o.log.V(1).Info("negative key multiplicity", "key", key.String(), "total", st.total)
			newErrs = []DataflowError{internalError(
				"non-positive multiplicity %d for key %s in distinct", st.total, key)}
		default:
			delete(o.totals, kenc)
		}
		o.tracker.commit(out, errs, kenc, key, row.Row{}, hasVal, newErrs)
	}
	return out, errs, nil
}

func (o *distinctOp) Reset() {
	o.totals = make(map[string]*distinctState)
	o.tracker.reset()
}
