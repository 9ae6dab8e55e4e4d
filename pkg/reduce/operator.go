package reduce

import (
	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

// Operator is a stateful incremental aggregator. Process consumes one
// batch of (key, value) changes and emits the resulting changes to the
// per-key output rows and to the active error set. One Process call
// advances one logical time.
type Operator interface {
	// Name identifies the operator in logs.
	Name() string
	// Process applies a batch of input changes.
	Process(delta *zset.PairZSet) (*zset.PairZSet, *ErrorSet, error)
	// Reset drops all accumulated state.
	Reset()
}

// outputTracker maintains the previous per-key output row and error list
// of an operator, turning recomputed values into retract/insert deltas.
type outputTracker struct {
	prevOut map[string]row.Row
	prevErr map[string][]DataflowError
}

func newOutputTracker() outputTracker {
	return outputTracker{
		prevOut: make(map[string]row.Row),
		prevErr: make(map[string][]DataflowError),
	}
}

func (t *outputTracker) reset() {
	t.prevOut = make(map[string]row.Row)
	t.prevErr = make(map[string][]DataflowError)
}

// commit diffs the freshly computed output of one key against the
// previous state. hasVal false means the key has no output row.
func (t *outputTracker) commit(out *zset.PairZSet, errs *ErrorSet,
	kenc string, key row.Row, newVal row.Row, hasVal bool, newErrs []DataflowError) {

	oldVal, hadVal := t.prevOut[kenc]
	switch {
	case hadVal && hasVal && oldVal.Equal(newVal):
		// Unchanged.
	case hadVal && hasVal:
		out.AddMutate(key, oldVal, -1)
		out.AddMutate(key, newVal, 1)
		t.prevOut[kenc] = newVal
	case hadVal:
		out.AddMutate(key, oldVal, -1)
		delete(t.prevOut, kenc)
	case hasVal:
		out.AddMutate(key, newVal, 1)
		t.prevOut[kenc] = newVal
	}

	oldErrs := t.prevErr[kenc]
	if !errorsEqual(oldErrs, newErrs) {
		for _, e := range oldErrs {
			errs.AddMutate(e, -1)
		}
		for _, e := range newErrs {
			errs.AddMutate(e, 1)
		}
		if len(newErrs) == 0 {
			delete(t.prevErr, kenc)
		} else {
			t.prevErr[kenc] = newErrs
		}
	}
}

func errorsEqual(a, b []DataflowError) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
