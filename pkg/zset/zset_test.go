package zset_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

func r(vals ...int64) row.Row {
	out := make(row.Row, 0, len(vals))
	for _, v := range vals {
		out = append(out, row.Int64(v))
	}
	return out
}

var _ = Describe("ZSets", func() {
	It("should merge multiplicities of equal rows", func() {
		z := zset.New()
		z.AddMutate(r(1), 2)
		z.AddMutate(r(1), 3)
		Expect(z.Multiplicity(r(1))).To(Equal(int64(5)))
		Expect(z.UniqueCount()).To(Equal(1))
	})

	It("should reclaim entries that cancel to zero", func() {
		z := zset.New()
		z.AddMutate(r(1), 2)
		z.AddMutate(r(1), -2)
		Expect(z.IsZero()).To(BeTrue())
		Expect(z.Contains(r(1))).To(BeFalse())
	})

	It("should carry negative multiplicities", func() {
		z := zset.New()
		z.AddMutate(r(1), -3)
		Expect(z.Multiplicity(r(1))).To(Equal(int64(-3)))
		Expect(z.Contains(r(1))).To(BeFalse())
		Expect(z.Size()).To(Equal(0))
	})

	It("should add and subtract like a group", func() {
		a := zset.New()
		a.AddMutate(r(1), 1)
		a.AddMutate(r(2), 2)
		b := zset.New()
		b.AddMutate(r(2), -2)
		b.AddMutate(r(3), 1)

		sum := a.Add(b)
		Expect(sum.Multiplicity(r(1))).To(Equal(int64(1)))
		Expect(sum.Multiplicity(r(2))).To(Equal(int64(0)))
		Expect(sum.Multiplicity(r(3))).To(Equal(int64(1)))

		diff := sum.Subtract(sum)
		Expect(diff.IsZero()).To(BeTrue())
	})

	It("should negate into its inverse", func() {
		z := zset.New()
		z.AddMutate(r(1), 2)
		Expect(z.Add(z.Negate()).IsZero()).To(BeTrue())
	})

	It("should convert to set semantics with Distinct", func() {
		z := zset.New()
		z.AddMutate(r(1), 4)
		z.AddMutate(r(2), -1)
		dz := z.Distinct()
		Expect(dz.Multiplicity(r(1))).To(Equal(int64(1)))
		Expect(dz.Multiplicity(r(2))).To(Equal(int64(0)))
	})

	It("should iterate deterministically", func() {
		z := zset.New()
		z.AddMutate(r(2), 1)
		z.AddMutate(r(1), 1)
		entries := z.Entries()
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Row).To(Equal(r(1)))
		Expect(entries[1].Row).To(Equal(r(2)))
	})
})

var _ = Describe("Pair ZSets", func() {
	It("should key entries by key and value together", func() {
		z := zset.NewPairs()
		z.AddMutate(r(1), r(10), 1)
		z.AddMutate(r(1), r(20), 1)
		z.AddMutate(r(1), r(10), 2)
		Expect(z.Multiplicity(r(1), r(10))).To(Equal(int64(3)))
		Expect(z.Multiplicity(r(1), r(20))).To(Equal(int64(1)))
		Expect(z.UniqueCount()).To(Equal(2))
	})

	It("should reclaim cancelled pairs", func() {
		z := zset.NewPairs()
		z.AddMutate(r(1), r(10), 1)
		z.AddMutate(r(1), r(10), -1)
		Expect(z.IsZero()).To(BeTrue())
	})

	It("should fold other pair sets in place", func() {
		a := zset.NewPairs()
		a.AddMutate(r(1), r(10), 1)
		b := zset.NewPairs()
		b.AddMutate(r(1), r(10), -1)
		b.AddMutate(r(2), r(20), 1)
		a.AddAllMutate(b)
		Expect(a.Multiplicity(r(1), r(10))).To(Equal(int64(0)))
		Expect(a.Multiplicity(r(2), r(20))).To(Equal(int64(1)))
	})
})
