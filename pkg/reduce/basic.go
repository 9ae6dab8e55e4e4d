package reduce

import (
	"sort"

	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

// singleBasicOp evaluates one order-sensitive aggregate by maintaining the
// full value multiset per key and refolding it on every change. Values are
// folded in their canonical encoding order so results are deterministic
// across batch arrival orders.
type singleBasicOp struct {
	log      logr.Logger
	index    int
	aggr     AggregateExpr
	validate bool
	groups   map[string]*basicGroup
	dpairs   map[string]*distinctPair
	negPairs map[string]int
	negKey   map[string]row.Row
	tracker  outputTracker
}

type basicGroup struct {
	key  row.Row
	vals map[string]*datumEntry
}

type datumEntry struct {
	val   row.Datum
	count int64
}

func newSingleBasicOp(plan *SingleBasicPlan, validate bool, log logr.Logger) *singleBasicOp {
	return &singleBasicOp{
		log:      log.WithName("basic"),
		index:    plan.Index,
		aggr:     plan.Aggr,
		validate: validate,
		groups:   make(map[string]*basicGroup),
		dpairs:   make(map[string]*distinctPair),
		negPairs: make(map[string]int),
		negKey:   make(map[string]row.Row),
		tracker:  newOutputTracker(),
	}
}

func (o *singleBasicOp) Name() string { return "basic" }

func (o *singleBasicOp) feed(kenc string, key row.Row, d row.Datum, n int64) {
	g := o.groups[kenc]
	if g == nil {
		g = &basicGroup{key: key, vals: make(map[string]*datumEntry)}
		o.groups[kenc] = g
	}
	denc := row.Row{d}.Key()
	de := g.vals[denc]
	if de == nil {
		de = &datumEntry{val: d}
		g.vals[denc] = de
	}
	de.count += n
	if de.count == 0 {
		delete(g.vals, denc)
	}
}

func (o *singleBasicOp) Process(delta *zset.PairZSet) (*zset.PairZSet, *ErrorSet, error) {
	out := zset.NewPairs()
	errs := NewErrors()
	touched := make(map[string]row.Row)
	for _, e := range delta.Entries() {
		d := row.Null()
		if o.aggr.Column >= 0 && o.aggr.Column < e.Val.Len() {
			d = e.Val[o.aggr.Column]
		} else {
			softPanic(o.log, "value column out of range",
				"index", o.aggr.Column, "arity", e.Val.Len())
		}
		kenc := e.Key.Key()
		touched[kenc] = e.Key

		if !o.aggr.Distinct {
			o.feed(kenc, e.Key, d, e.Count)
			continue
		}

		// Distinct pre-dedups: the group multiset only sees the
		// absent-to-present transitions of each (key, value) pair.
		penc := kenc + "\x1f" + row.Row{d}.Key()
		pc := o.dpairs[penc]
		if pc == nil {
			pc = &distinctPair{datum: d}
			o.dpairs[penc] = pc
		}
		old := pc.count
		pc.count += e.Count
		switch {
		case old <= 0 && pc.count > 0:
			o.feed(kenc, e.Key, d, 1)
		case old > 0 && pc.count <= 0:
			o.feed(kenc, e.Key, d, -1)
		}
		if o.validate {
			o.updateNegPair(e.Key, kenc, old < 0, pc.count < 0, errs)
		}
		if pc.count == 0 {
			delete(o.dpairs, penc)
		}
	}

	bld := row.NewBuilder()
	for kenc, key := range touched {
		g := o.groups[kenc]
		var newErrs []DataflowError
		hasVal := false
		if g != nil {
			if o.validate {
				for _, de := range g.vals {
					if de.count < 0 {
						o.log.V(1).Info("negative accumulation in basic aggregate",
							"key", key.String(), "value", de.val.String(), "count", de.count)
						newErrs = []DataflowError{internalError(
							"non-positive accumulation for key %s in basic aggregate", key)}
						break
					}
				}
			}
			for _, de := range g.vals {
				if de.count > 0 {
					hasVal = true
					break
				}
			}
		}
		var val row.Row
		if hasVal {
			bld.Reset()
			bld.Push(evalAggregate(o.aggr.Func, g.iter(), o.log))
			val = bld.Finish()
		}
		if g != nil && len(g.vals) == 0 {
			delete(o.groups, kenc)
		}
		o.tracker.commit(out, errs, kenc, key, val, hasVal, newErrs)
	}
	return out, errs, nil
}

// updateNegPair maintains the per-key corruption error for distinct
// aggregates whose pair multiplicity went negative.
func (o *singleBasicOp) updateNegPair(key row.Row, kenc string, oldNeg, newNeg bool, errs *ErrorSet) {
	if oldNeg == newNeg {
		return
	}
	err := internalError(
		"non-positive accumulation for key %s in distinct basic aggregate", key)
	if newNeg {
		o.negPairs[kenc]++
		if o.negPairs[kenc] == 1 {
			o.negKey[kenc] = key
			errs.AddMutate(err, 1)
		}
		return
	}
	o.negPairs[kenc]--
	if o.negPairs[kenc] == 0 {
		errs.AddMutate(internalError(
			"non-positive accumulation for key %s in distinct basic aggregate",
			o.negKey[kenc]), -1)
		delete(o.negPairs, kenc)
		delete(o.negKey, kenc)
	}
}

// iter yields the group's values in canonical order, each repeated by its
// multiplicity. Negative multiplicities contribute nothing; they are
// reported separately as corruption.
func (g *basicGroup) iter() func() (row.Datum, bool) {
	encs := make([]string, 0, len(g.vals))
	for enc := range g.vals {
		encs = append(encs, enc)
	}
	sort.Strings(encs)
	i, rep := 0, int64(0)
	return func() (row.Datum, bool) {
		for i < len(encs) {
			de := g.vals[encs[i]]
			if rep < de.count {
				rep++
				return de.val, true
			}
			i++
			rep = 0
		}
		return row.Null(), false
	}
}

func (o *singleBasicOp) Reset() {
	o.groups = make(map[string]*basicGroup)
	o.dpairs = make(map[string]*distinctPair)
	o.negPairs = make(map[string]int)
	o.negKey = make(map[string]row.Row)
	o.tracker.reset()
}

// multiBasicOp fuses several order-sensitive aggregates over the same
// input: each runs as its own single-aggregate reduction and the per-key
// results are stitched into one output row. Only the first constituent
// validates input multiplicities, so corruption is reported once.
type multiBasicOp struct {
	log     logr.Logger
	singles []*singleBasicOp
	fused   map[string]*fuseState
	tracker outputTracker
}

type fuseState struct {
	key   row.Row
	parts []row.Datum
	has   []bool
}

func newMultiBasicOp(aggrs []IndexedAggregate, log logr.Logger) *multiBasicOp {
	ordered := append([]IndexedAggregate(nil), aggrs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	singles := make([]*singleBasicOp, len(ordered))
	for i, ia := range ordered {
		plan := &SingleBasicPlan{Index: ia.Index, Aggr: ia.Aggr}
		singles[i] = newSingleBasicOp(plan, i == 0, log)
	}
	return &multiBasicOp{
		log:     log.WithName("basic-fused"),
		singles: singles,
		fused:   make(map[string]*fuseState),
		tracker: newOutputTracker(),
	}
}

func (o *multiBasicOp) Name() string { return "basic-fused" }

func (o *multiBasicOp) Process(delta *zset.PairZSet) (*zset.PairZSet, *ErrorSet, error) {
	out := zset.NewPairs()
	errs := NewErrors()
	touched := make(map[string]row.Row)
	for i, s := range o.singles {
		so, se, err := s.Process(delta)
		if err != nil {
			return nil, nil, err
		}
		errs.AddAllMutate(se)
		for _, e := range so.Entries() {
			kenc := e.Key.Key()
			fs := o.fused[kenc]
			if fs == nil {
				fs = &fuseState{
					key:   e.Key,
					parts: make([]row.Datum, len(o.singles)),
					has:   make([]bool, len(o.singles)),
				}
				o.fused[kenc] = fs
			}
			if e.Val.Len() != 1 {
				softPanic(o.log, "unexpected constituent arity", "arity", e.Val.Len())
				continue
			}
			if e.Count > 0 {
				fs.parts[i] = e.Val[0]
				fs.has[i] = true
			} else if fs.has[i] && row.Compare(fs.parts[i], e.Val[0]) == 0 {
				fs.has[i] = false
			}
			touched[kenc] = e.Key
		}
	}

	bld := row.NewBuilder()
	for kenc, key := range touched {
		fs := o.fused[kenc]
		hasVal := true
		any := false
		for i := range fs.has {
			if fs.has[i] {
				any = true
			} else {
				hasVal = false
			}
		}
		var val row.Row
		if hasVal {
			bld.Reset()
			for _, d := range fs.parts {
				bld.Push(d)
			}
			val = bld.Finish()
		}
		if !any {
			delete(o.fused, kenc)
		}
		o.tracker.commit(out, errs, kenc, key, val, hasVal, nil)
	}
	return out, errs, nil
}

func (o *multiBasicOp) Reset() {
	for _, s := range o.singles {
		s.Reset()
	}
	o.fused = make(map[string]*fuseState)
	o.tracker.reset()
}
