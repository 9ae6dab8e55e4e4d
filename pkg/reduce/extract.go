package reduce

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/dreduce/pkg/eval"
	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

// extractStage projects input rows into (key, value) pairs. Only the
// demanded columns are touched; the key and value programs are rewritten
// to read from the narrowed column slice.
type extractStage struct {
	demand  []int
	keyProg eval.Program
	valProg eval.Program
	scratch []row.Datum
	keyBld  *row.Builder
	valBld  *row.Builder
	log     logr.Logger
}

func newExtractStage(plan eval.KeyValPlan, log logr.Logger) *extractStage {
	demand := plan.Demand()
	remap := make(map[int]int, len(demand))
	for i, c := range demand {
		remap[c] = i
	}
	keyProg := plan.Key.Clone()
	keyProg.Permute(remap)
	valProg := plan.Val.Clone()
	valProg.Permute(remap)
	return &extractStage{
		demand:  demand,
		keyProg: keyProg,
		valProg: valProg,
		scratch: make([]row.Datum, len(demand)),
		keyBld:  row.NewBuilder(),
		valBld:  row.NewBuilder(),
		log:     log,
	}
}

// process projects one batch of input row changes. Rows whose key or value
// projection fails carry their multiplicity into the error output instead.
func (s *extractStage) process(delta *zset.ZSet) (*zset.PairZSet, *ErrorSet) {
	ok := zset.NewPairs()
	errs := NewErrors()
	for _, e := range delta.Entries() {
		for i, c := range s.demand {
			if c < len(e.Row) {
				s.scratch[i] = e.Row[c]
			} else {
				s.scratch[i] = row.Null()
			}
		}
		key, err := s.keyProg.EvalInto(s.scratch, s.keyBld)
		if err != nil {
			s.log.V(4).Info("key projection failed", "row", e.Row.String(), "error", err.Error())
			errs.AddMutate(evaluationError(err.Error()), e.Count)
			continue
		}
		val, err := s.valProg.EvalInto(s.scratch, s.valBld)
		if err != nil {
			s.log.V(4).Info("value projection failed", "row", e.Row.String(), "error", err.Error())
			errs.AddMutate(evaluationError(err.Error()), e.Count)
			continue
		}
		ok.AddMutate(key, val, e.Count)
	}
	return ok, errs
}
