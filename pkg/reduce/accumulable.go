package reduce

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

// accumulableOp maintains sums, counts and boolean aggregates as
// commutative accumulations. Simple aggregates fold every record scaled by
// its multiplicity; distinct aggregates fold a value exactly once while
// its (key, value) multiplicity stays positive. Each aggregate finalizes
// against its own record total: simple aggregates share the group's record
// count, distinct aggregates count their currently present values.
type accumulableOp struct {
	log     logr.Logger
	plan    *AccumulablePlan
	slots   []int // accum index to distinct slot, -1 for simple
	states  map[string]*accumState
	tracker outputTracker
}

type accumState struct {
	key    row.Row
	accums []Accum
	// total is the signed record count seen by the simple aggregates.
	total int64
	// dtotals and dpairs hold, per distinct slot, the number of values
	// currently present and the per-value multiplicities backing it.
	dtotals []int64
	dpairs  []map[string]*distinctPair
}

type distinctPair struct {
	datum row.Datum
	count int64
}

func newAccumulableOp(plan *AccumulablePlan, log logr.Logger) *accumulableOp {
	log = log.WithName("accumulable")
	if len(plan.FullAggrs) == 0 ||
		len(plan.SimpleAggrs)+len(plan.DistinctAggrs) != len(plan.FullAggrs) {
		softPanic(log, "malformed accumulable plan",
			"full", len(plan.FullAggrs), "simple", len(plan.SimpleAggrs),
			"distinct", len(plan.DistinctAggrs))
	}
	slots := make([]int, len(plan.FullAggrs))
	for i := range slots {
		slots[i] = -1
	}
	for j, pair := range plan.DistinctAggrs {
		slots[pair.AccumIndex] = j
	}
	return &accumulableOp{
		log:     log,
		plan:    plan,
		slots:   slots,
		states:  make(map[string]*accumState),
		tracker: newOutputTracker(),
	}
}

func (o *accumulableOp) Name() string { return "accumulable" }

func (o *accumulableOp) state(kenc string, key row.Row) *accumState {
	st := o.states[kenc]
	if st == nil {
		st = &accumState{
			key:     key,
			accums:  make([]Accum, len(o.plan.FullAggrs)),
			dtotals: make([]int64, len(o.plan.DistinctAggrs)),
			dpairs:  make([]map[string]*distinctPair, len(o.plan.DistinctAggrs)),
		}
		for i, a := range o.plan.FullAggrs {
			st.accums[i] = newAccum(a.Func)
		}
		for i := range st.dpairs {
			st.dpairs[i] = make(map[string]*distinctPair)
		}
		o.states[kenc] = st
	}
	return st
}

// totalOf returns the record total the aggregate at accumIndex finalizes
// against.
func (o *accumulableOp) totalOf(st *accumState, accumIndex int) int64 {
	if j := o.slots[accumIndex]; j >= 0 {
		return st.dtotals[j]
	}
	return st.total
}

func (o *accumulableOp) valueAt(v row.Row, idx int) row.Datum {
	if idx < 0 || idx >= v.Len() {
		softPanic(o.log, "value column out of range", "index", idx, "arity", v.Len())
		return row.Null()
	}
	return v[idx]
}

func (o *accumulableOp) Process(delta *zset.PairZSet) (*zset.PairZSet, *ErrorSet, error) {
	touched := make(map[string]row.Row)
	for _, e := range delta.Entries() {
		kenc := e.Key.Key()
		st := o.state(kenc, e.Key)
		touched[kenc] = e.Key

		// Simple aggregates see every record; the shared record total
		// counts each record once no matter how many aggregates read it.
		if len(o.plan.SimpleAggrs) > 0 {
			st.total += e.Count
			for _, pair := range o.plan.SimpleAggrs {
				d := o.valueAt(e.Val, pair.DatumIndex)
				acc := datumToAccum(pair.Aggr.Func, d, o.log)
				acc = acc.Scale(e.Count, o.log)
				st.accums[pair.AccumIndex].PlusEquals(&acc, o.log)
			}
		}

		// Distinct aggregates fold a value on its absent-to-present
		// transition and unfold it on present-to-absent.
		for i, pair := range o.plan.DistinctAggrs {
			d := o.valueAt(e.Val, pair.DatumIndex)
			denc := row.Row{d}.Key()
			pc := st.dpairs[i][denc]
			if pc == nil {
				pc = &distinctPair{datum: d}
				st.dpairs[i][denc] = pc
			}
			old := pc.count
			pc.count += e.Count
			switch {
			case old <= 0 && pc.count > 0:
				acc := datumToAccum(pair.Aggr.Func, d, o.log)
				st.accums[pair.AccumIndex].PlusEquals(&acc, o.log)
				st.dtotals[i]++
			case old > 0 && pc.count <= 0:
				acc := datumToAccum(pair.Aggr.Func, d, o.log)
				acc = acc.Scale(-1, o.log)
				st.accums[pair.AccumIndex].PlusEquals(&acc, o.log)
				st.dtotals[i]--
			}
			if pc.count == 0 {
				delete(st.dpairs[i], denc)
			}
		}
	}

	out := zset.NewPairs()
	errs := NewErrors()
	bld := row.NewBuilder()
	for kenc, key := range touched {
		st := o.states[kenc]
		allZero := st.total == 0
		for i := range st.accums {
			if !st.accums[i].IsZero() {
				allZero = false
			}
		}
		// Outstanding distinct pairs, even corrupt negative ones, keep
		// the key's state alive until they cancel.
		for i := range st.dpairs {
			if len(st.dpairs[i]) > 0 {
				allZero = false
			}
		}
		if allZero {
			delete(o.states, kenc)
			o.tracker.commit(out, errs, kenc, key, nil, false, nil)
			continue
		}

		var newErrs []DataflowError
		for i, a := range o.plan.FullAggrs {
			total := o.totalOf(st, i)
			if total < 0 {
				o.log.V(1).Info("negative record count",
					"key", key.String(), "aggregate", a.String(), "total", total)
				newErrs = append(newErrs, internalError(
					"negative record count for key %s in aggregate %s", key, a))
			}
			if total == 0 && !st.accums[i].IsZero() {
				o.log.V(1).Info("net-zero records with non-zero accumulation",
					"key", key.String(), "aggregate", a.String())
				newErrs = append(newErrs, internalError(
					"net-zero records for key %s with non-zero accumulation in aggregate %s",
					key, a))
			}
			switch a.Func {
			case AggSumInt:
				if _, ok := st.accums[i].Sum.Int64(); !ok {
					o.log.V(1).Info("out-of-range accumulation",
						"key", key.String(), "aggregate", a.String())
					newErrs = append(newErrs, internalError(
						"out-of-range accumulation for key %s in aggregate %s", key, a))
				}
			case AggSumUInt:
				if st.accums[i].Sum.IsNegative() {
					o.log.V(1).Info("negative unsigned accumulation",
						"key", key.String(), "aggregate", a.String())
					newErrs = append(newErrs, internalError(
						"negative accumulation for key %s in unsigned aggregate %s", key, a))
				} else if _, ok := st.accums[i].Sum.Uint64(); !ok {
					o.log.V(1).Info("out-of-range accumulation",
						"key", key.String(), "aggregate", a.String())
					newErrs = append(newErrs, internalError(
						"out-of-range accumulation for key %s in aggregate %s", key, a))
				}
			}
		}
		for j, pair := range o.plan.DistinctAggrs {
			for _, pc := range st.dpairs[j] {
				if pc.count < 0 {
					o.log.V(1).Info("negative distinct value multiplicity",
						"key", key.String(), "aggregate", pair.Aggr.String())
					newErrs = append(newErrs, internalError(
						"negative multiplicity for key %s in distinct aggregate %s",
						key, pair.Aggr))
					break
				}
			}
		}

		bld.Reset()
		for i, a := range o.plan.FullAggrs {
			bld.Push(finalizeAccum(a.Func, &st.accums[i], o.totalOf(st, i), o.log))
		}
		o.tracker.commit(out, errs, kenc, key, bld.Finish(), true, newErrs)
	}
	return out, errs, nil
}

func (o *accumulableOp) Reset() {
	o.states = make(map[string]*accumState)
	o.tracker.reset()
}
