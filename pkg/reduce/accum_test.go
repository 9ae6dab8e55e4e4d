package reduce

import (
	"math"

	"github.com/cockroachdb/apd/v3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dreduce/pkg/row"
)

var _ = Describe("Accumulations", func() {
	fold := func(f AggregateFunc, vals ...row.Datum) (Accum, int64) {
		acc := newAccum(f)
		for _, v := range vals {
			a := datumToAccum(f, v, logger)
			acc.PlusEquals(&a, logger)
		}
		return acc, int64(len(vals))
	}

	Context("counts", func() {
		It("should count non-null inputs", func() {
			acc, total := fold(AggCount, d(1), d(nil), d(3))
			Expect(finalizeAccum(AggCount, &acc, total, logger)).To(Equal(d(2)))
		})

		It("should report zero over all-null inputs", func() {
			acc, total := fold(AggCount, d(nil), d(nil))
			Expect(finalizeAccum(AggCount, &acc, total, logger)).To(Equal(d(0)))
		})
	})

	Context("integer sums", func() {
		It("should sum values", func() {
			acc, total := fold(AggSumInt, d(10), d(-3), d(5))
			Expect(finalizeAccum(AggSumInt, &acc, total, logger)).To(Equal(d(12)))
		})

		It("should be null over all-null inputs", func() {
			acc, total := fold(AggSumInt, d(nil), d(nil))
			Expect(finalizeAccum(AggSumInt, &acc, total, logger)).To(Equal(row.Null()))
		})

		It("should cancel exactly under scaling", func() {
			a := datumToAccum(AggSumInt, d(42), logger)
			neg := a.Scale(-1, logger)
			a.PlusEquals(&neg, logger)
			Expect(a.IsZero()).To(BeTrue())
		})

		It("should null out accumulations beyond 64 bits", func() {
			acc, total := fold(AggSumInt, d(int64(math.MaxInt64)), d(int64(math.MaxInt64)))
			Expect(finalizeAccum(AggSumInt, &acc, total, logger)).To(Equal(row.Null()))
		})
	})

	Context("boolean aggregates", func() {
		It("should compute all", func() {
			acc, total := fold(AggAll, d(true), d(true))
			Expect(finalizeAccum(AggAll, &acc, total, logger)).To(Equal(d(true)))

			acc, total = fold(AggAll, d(true), d(false))
			Expect(finalizeAccum(AggAll, &acc, total, logger)).To(Equal(d(false)))

			acc, total = fold(AggAll, d(true), d(nil))
			Expect(finalizeAccum(AggAll, &acc, total, logger)).To(Equal(row.Null()))
		})

		It("should compute any", func() {
			acc, total := fold(AggAny, d(false), d(true))
			Expect(finalizeAccum(AggAny, &acc, total, logger)).To(Equal(d(true)))

			acc, total = fold(AggAny, d(false), d(false))
			Expect(finalizeAccum(AggAny, &acc, total, logger)).To(Equal(d(false)))

			acc, total = fold(AggAny, d(false), d(nil))
			Expect(finalizeAccum(AggAny, &acc, total, logger)).To(Equal(row.Null()))
		})
	})

	Context("float sums", func() {
		It("should accumulate in fixed point", func() {
			acc, total := fold(AggSumFloat, d(0.5), d(0.25), d(-0.125))
			res := finalizeAccum(AggSumFloat, &acc, total, logger)
			Expect(res.Kind).To(Equal(row.KindFloat64))
			Expect(res.F).To(BeNumerically("~", 0.625, 1e-9))
		})

		It("should be order-insensitive", func() {
			a1, _ := fold(AggSumFloat, d(0.1), d(0.2), d(0.3))
			a2, _ := fold(AggSumFloat, d(0.3), d(0.1), d(0.2))
			Expect(a1.Sum).To(Equal(a2.Sum))
		})

		It("should resolve special values", func() {
			acc, total := fold(AggSumFloat, d(1.0), d(math.Inf(1)))
			Expect(finalizeAccum(AggSumFloat, &acc, total, logger).F).To(Equal(math.Inf(1)))

			acc, total = fold(AggSumFloat, d(math.Inf(1)), d(math.Inf(-1)))
			Expect(math.IsNaN(finalizeAccum(AggSumFloat, &acc, total, logger).F)).To(BeTrue())

			acc, total = fold(AggSumFloat, d(math.NaN()), d(1.0))
			Expect(math.IsNaN(finalizeAccum(AggSumFloat, &acc, total, logger).F)).To(BeTrue())
		})

		It("should cancel infinities on retraction", func() {
			acc, _ := fold(AggSumFloat, d(1.0), d(math.Inf(1)))
			retract := datumToAccum(AggSumFloat, d(math.Inf(1)), logger).Scale(-1, logger)
			acc.PlusEquals(&retract, logger)
			Expect(finalizeAccum(AggSumFloat, &acc, 1, logger).F).To(BeNumerically("~", 1.0, 1e-9))
		})
	})

	Context("numeric sums", func() {
		num := func(s string) row.Datum {
			v, _, err := apd.NewFromString(s)
			Expect(err).NotTo(HaveOccurred())
			return row.Numeric(v)
		}

		It("should sum decimals exactly", func() {
			acc, total := fold(AggSumNumeric, num("1.05"), num("2.95"))
			res := finalizeAccum(AggSumNumeric, &acc, total, logger)
			Expect(res.Kind).To(Equal(row.KindNumeric))
			Expect(res.N.Cmp(apd.New(4, 0))).To(Equal(0))
		})

		It("should track signed infinities", func() {
			acc, total := fold(AggSumNumeric, num("1"), num("Infinity"))
			res := finalizeAccum(AggSumNumeric, &acc, total, logger)
			Expect(res.N.Form).To(Equal(apd.Infinite))
			Expect(res.N.Negative).To(BeFalse())
		})
	})

	Context("unsigned sums", func() {
		It("should go null on negative accumulation", func() {
			a := datumToAccum(AggSumUInt, d(uint64(5)), logger)
			acc := a.Scale(-1, logger)
			Expect(finalizeAccum(AggSumUInt, &acc, 0, logger)).To(Equal(row.Null()))
		})

		It("should go null on accumulation beyond 64 bits", func() {
			acc, total := fold(AggSumUInt, d(uint64(math.MaxUint64)), d(uint64(1)))
			Expect(finalizeAccum(AggSumUInt, &acc, total, logger)).To(Equal(row.Null()))
		})
	})
})
