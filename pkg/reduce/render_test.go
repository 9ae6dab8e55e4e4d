package reduce

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dreduce/pkg/eval"
	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

var _ = Describe("Rendered reductions", func() {
	kvPlan := func(keyCol, valCol int) eval.KeyValPlan {
		return eval.KeyValPlan{
			Key: eval.NewProgram(eval.NewColumn(keyCol)),
			Val: eval.NewProgram(eval.NewColumn(valCol)),
		}
	}

	Context("group-by count", func() {
		var red *Reduction

		BeforeEach(func() {
			plan, err := PlanFor([]AggregateExpr{{Func: AggCount, Column: 0}}, false, nil)
			Expect(err).NotTo(HaveOccurred())
			red, err = Render(kvPlan(0, 1), plan, logger)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should maintain counts across batches", func() {
			delta, errs, err := red.Process(zset.FromRows([]row.Row{
				r("a", 1), r("a", 2), r("b", 3),
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(errs.IsZero()).To(BeTrue())
			Expect(delta.Multiplicity(r("a", 2))).To(Equal(int64(1)))
			Expect(delta.Multiplicity(r("b", 1))).To(Equal(int64(1)))

			retract := zset.New()
			retract.AddMutate(r("a", 1), -1)
			delta, errs, err = red.Process(retract)
			Expect(err).NotTo(HaveOccurred())
			Expect(errs.IsZero()).To(BeTrue())
			Expect(delta.Multiplicity(r("a", 2))).To(Equal(int64(-1)))
			Expect(delta.Multiplicity(r("a", 1))).To(Equal(int64(1)))

			snap := red.Snapshot()
			Expect(snap.Multiplicity(r("a", 1))).To(Equal(int64(1)))
			Expect(snap.Multiplicity(r("b", 1))).To(Equal(int64(1)))
			Expect(snap.Size()).To(Equal(2))
		})

		It("should answer point lookups from the arrangement", func() {
			_, _, err := red.Process(zset.Singleton(r("a", 1)))
			Expect(err).NotTo(HaveOccurred())
			val, ok := red.Lookup(r("a"))
			Expect(ok).To(BeTrue())
			Expect(val).To(Equal(r(1)))

			_, ok = red.Lookup(r("missing"))
			Expect(ok).To(BeFalse())
		})

		It("should drop state on reset", func() {
			_, _, err := red.Process(zset.Singleton(r("a", 1)))
			Expect(err).NotTo(HaveOccurred())
			red.Reset()
			Expect(red.Snapshot().IsZero()).To(BeTrue())
			Expect(red.ActiveErrors()).To(BeEmpty())
		})
	})

	Context("distinct", func() {
		It("should reduce to the key set", func() {
			plan, err := PlanFor(nil, false, nil)
			Expect(err).NotTo(HaveOccurred())
			red, err := Render(eval.KeyValPlan{
				Key: eval.NewProgram(eval.NewColumn(0)),
			}, plan, logger)
			Expect(err).NotTo(HaveOccurred())

			in := zset.New()
			in.AddMutate(r("a", 1), 1)
			in.AddMutate(r("a", 2), 1)
			in.AddMutate(r("b", 1), 1)
			_, _, err = red.Process(in)
			Expect(err).NotTo(HaveOccurred())

			snap := red.Snapshot()
			Expect(snap.Multiplicity(r("a"))).To(Equal(int64(1)))
			Expect(snap.Multiplicity(r("b"))).To(Equal(int64(1)))
		})

		It("should refuse a value projection", func() {
			plan, err := PlanFor(nil, false, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = Render(kvPlan(0, 1), plan, logger)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("evaluation errors", func() {
		It("should divert failing rows into the error output", func() {
			plan, err := PlanFor([]AggregateExpr{{Func: AggSumInt, Column: 0}}, false, nil)
			Expect(err).NotTo(HaveOccurred())
			red, err := Render(eval.KeyValPlan{
				Key: eval.NewProgram(eval.NewColumn(0)),
				Val: eval.NewProgram(eval.NewBinary("@div",
					eval.NewLiteral(d(10)), eval.NewColumn(1))),
			}, plan, logger)
			Expect(err).NotTo(HaveOccurred())

			in := zset.New()
			in.AddMutate(r("a", 5), 1)
			in.AddMutate(r("a", 0), 1) // division by zero
			delta, errs, err := red.Process(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(errs.IsZero()).To(BeFalse())
			Expect(delta.Multiplicity(r("a", 2))).To(Equal(int64(1)))

			// Retracting the bad row retracts its error.
			in = zset.New()
			in.AddMutate(r("a", 0), -1)
			_, errs, err = red.Process(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(errs.IsZero()).To(BeFalse())
			Expect(red.ActiveErrors()).To(BeEmpty())
		})
	})
})
