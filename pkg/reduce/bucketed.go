package reduce

import (
	"strconv"

	"github.com/dchest/siphash"
	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

// Bucket hashing keys. Fixed so that bucket placement is stable across
// restarts of the same dataflow.
const (
	bucketHashK0 = 0x0706050403020100
	bucketHashK1 = 0x0f0e0d0c0b0a0908
)

// bucketedOp evaluates min/max with retractions through a tower of
// hash-bucketed partial aggregations. Each level folds its buckets down
// to one candidate vector per bucket and feeds the changes to the next,
// coarser level, so a retraction only reaggregates the buckets on its
// path instead of the whole group.
//
// Only the finest level sees raw input multiplicities, so only it checks
// for negative counts. A violating bucket contributes nothing downstream
// until repaired, and the affected key carries a corruption error.
type bucketedOp struct {
	log     logr.Logger
	plan    *BucketedPlan
	levels  []map[string]*bucketState
	final   map[string]*finalState
	viol    map[string]int
	violKey map[string]row.Row
	tracker outputTracker
}

type bucketState struct {
	kenc   string
	key    row.Row
	bucket uint64
	vals   map[string]*vecEntry
	cur    []row.Datum
	curEnc string
	curSet bool
	bad    bool
}

type finalState struct {
	key  row.Row
	vals map[string]*vecEntry
}

// vecEntry is one candidate vector (one datum per aggregate) with its
// multiplicity within a bucket.
type vecEntry struct {
	vals  []row.Datum
	count int64
}

// contribution is one change flowing between levels of the tower.
type contribution struct {
	kenc string
	key  row.Row
	hash uint64
	vals []row.Datum
	venc string
	n    int64
}

func newBucketedOp(plan *BucketedPlan, log logr.Logger) *bucketedOp {
	levels := make([]map[string]*bucketState, len(plan.Buckets))
	for i := range levels {
		levels[i] = make(map[string]*bucketState)
	}
	return &bucketedOp{
		log:     log.WithName("bucketed"),
		plan:    plan,
		levels:  levels,
		final:   make(map[string]*finalState),
		viol:    make(map[string]int),
		violKey: make(map[string]row.Row),
		tracker: newOutputTracker(),
	}
}

func (o *bucketedOp) Name() string { return "bucketed" }

func (o *bucketedOp) Process(delta *zset.PairZSet) (*zset.PairZSet, *ErrorSet, error) {
	out := zset.NewPairs()
	errs := NewErrors()

	contribs := make([]contribution, 0, 16)
	for _, e := range delta.Entries() {
		vals := make([]row.Datum, len(o.plan.AggrFuncs))
		for i, col := range o.plan.Columns {
			if col >= 0 && col < e.Val.Len() {
				vals[i] = e.Val[col]
			} else {
				vals[i] = row.Null()
			}
		}
		venc := row.Row(vals).Key()
		contribs = append(contribs, contribution{
			kenc: e.Key.Key(),
			key:  e.Key,
			hash: siphash.Hash(bucketHashK0, bucketHashK1, []byte(venc)),
			vals: vals,
			venc: venc,
			n:    e.Count,
		})
	}

	for li, b := range o.plan.Buckets {
		contribs = o.processLevel(li, b, contribs, errs)
	}

	touched := make(map[string]*finalState)
	for _, c := range contribs {
		fs := o.final[c.kenc]
		if fs == nil {
			fs = &finalState{key: c.key, vals: make(map[string]*vecEntry)}
			o.final[c.kenc] = fs
		}
		applyVec(fs.vals, c.venc, c.vals, c.n)
		touched[c.kenc] = fs
	}

	// With an empty tower the final stage sees raw multiplicities and
	// must validate them itself.
	validate := len(o.plan.Buckets) == 0
	bld := row.NewBuilder()
	for kenc, fs := range touched {
		bad := false
		if validate {
			for _, ve := range fs.vals {
				if ve.count < 0 {
					bad = true
					break
				}
			}
		}
		var newErrs []DataflowError
		if bad {
			o.log.V(1).Info("negative accumulation in min/max aggregate",
				"key", fs.key.String())
			newErrs = []DataflowError{o.corruptionError(fs.key)}
		}
		hasVal := !bad && len(fs.vals) > 0
		var val row.Row
		if hasVal {
			bld.Reset()
			for _, d := range o.minsOf(fs.vals) {
				bld.Push(d)
			}
			val = bld.Finish()
		}
		if len(fs.vals) == 0 {
			delete(o.final, kenc)
		}
		o.tracker.commit(out, errs, kenc, fs.key, val, hasVal, newErrs)
	}
	return out, errs, nil
}

// processLevel applies one batch of contributions to the level with the
// given bucket count and returns the changes to the buckets' folded
// outputs.
func (o *bucketedOp) processLevel(li int, b uint64, contribs []contribution, errs *ErrorSet) []contribution {
	touched := make(map[string]*bucketState)
	for _, c := range contribs {
		bucket := c.hash % b
		bid := c.kenc + "\x1f" + strconv.FormatUint(bucket, 10)
		st := o.levels[li][bid]
		if st == nil {
			st = &bucketState{
				kenc:   c.kenc,
				key:    c.key,
				bucket: bucket,
				vals:   make(map[string]*vecEntry),
			}
			o.levels[li][bid] = st
		}
		applyVec(st.vals, c.venc, c.vals, c.n)
		touched[bid] = st
	}

	var next []contribution
	for bid, st := range touched {
		bad := false
		if li == 0 {
			for _, ve := range st.vals {
				if ve.count < 0 {
					bad = true
					break
				}
			}
		}
		if li == 0 && bad != st.bad {
			o.updateViolation(st, bad, errs)
		}

		var newCur []row.Datum
		newEnc := ""
		has := false
		if !bad && len(st.vals) > 0 {
			newCur = o.minsOf(st.vals)
			newEnc = row.Row(newCur).Key()
			has = true
		}
		if st.curSet != has || (has && st.curEnc != newEnc) {
			if st.curSet {
				next = append(next, contribution{
					kenc: st.kenc, key: st.key, hash: st.bucket,
					vals: st.cur, venc: st.curEnc, n: -1,
				})
			}
			if has {
				next = append(next, contribution{
					kenc: st.kenc, key: st.key, hash: st.bucket,
					vals: newCur, venc: newEnc, n: 1,
				})
			}
			st.cur, st.curEnc, st.curSet = newCur, newEnc, has
		}
		if len(st.vals) == 0 && !st.curSet && !st.bad {
			delete(o.levels[li], bid)
		}
	}
	return next
}

// updateViolation maintains the per-key corruption error from the count
// of violating finest-level buckets.
func (o *bucketedOp) updateViolation(st *bucketState, bad bool, errs *ErrorSet) {
	st.bad = bad
	if bad {
		o.viol[st.kenc]++
		if o.viol[st.kenc] == 1 {
			o.violKey[st.kenc] = st.key
			o.log.V(1).Info("negative accumulation in min/max aggregate",
				"key", st.key.String(), "bucket", st.bucket)
			errs.AddMutate(o.corruptionError(st.key), 1)
		}
		return
	}
	o.viol[st.kenc]--
	if o.viol[st.kenc] == 0 {
		errs.AddMutate(o.corruptionError(o.violKey[st.kenc]), -1)
		delete(o.viol, st.kenc)
		delete(o.violKey, st.kenc)
	}
}

func (o *bucketedOp) corruptionError(key row.Row) DataflowError {
	return internalError(
		"non-positive accumulation for key %s in hierarchical min/max aggregate", key)
}

// minsOf folds the candidate vectors of a bucket down to one vector.
func (o *bucketedOp) minsOf(vals map[string]*vecEntry) []row.Datum {
	bests := make([]row.Datum, len(o.plan.AggrFuncs))
	for i := range bests {
		bests[i] = monoidIdentity()
	}
	for _, ve := range vals {
		if ve.count <= 0 {
			continue
		}
		for i, f := range o.plan.AggrFuncs {
			bests[i] = monoidCombine(f, bests[i], ve.vals[i])
		}
	}
	return bests
}

func (o *bucketedOp) Reset() {
	levels := make([]map[string]*bucketState, len(o.plan.Buckets))
	for i := range levels {
		levels[i] = make(map[string]*bucketState)
	}
	o.levels = levels
	o.final = make(map[string]*finalState)
	o.viol = make(map[string]int)
	o.violKey = make(map[string]row.Row)
	o.tracker.reset()
}

func applyVec(m map[string]*vecEntry, venc string, vals []row.Datum, n int64) {
	ve := m[venc]
	if ve == nil {
		ve = &vecEntry{vals: vals}
		m[venc] = ve
	}
	ve.count += n
	if ve.count == 0 {
		delete(m, venc)
	}
}
