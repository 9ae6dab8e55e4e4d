package row

import (
	"math"

	"github.com/cockroachdb/apd/v3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Datums", func() {
	It("should order nulls before every other kind", func() {
		Expect(Compare(Null(), Int64(-100))).To(Equal(-1))
		Expect(Compare(Null(), Bool(false))).To(Equal(-1))
		Expect(Compare(Str(""), Null())).To(Equal(1))
	})

	It("should order within a kind by value", func() {
		Expect(Compare(Int64(1), Int64(2))).To(Equal(-1))
		Expect(Compare(Str("b"), Str("a"))).To(Equal(1))
		Expect(Compare(Float64(1.5), Float64(1.5))).To(Equal(0))
	})

	It("should canonicalize NaN for identity", func() {
		a := Row{Float64(math.NaN())}
		b := Row{Float64(math.NaN())}
		Expect(a.Key()).To(Equal(b.Key()))
	})

	It("should distinguish kinds in the encoding", func() {
		Expect(Row{Int64(1)}.Key()).NotTo(Equal(Row{UInt64(1)}.Key()))
		Expect(Row{Str("1")}.Key()).NotTo(Equal(Row{Int64(1)}.Key()))
	})

	It("should compare numerics by value but encode them by representation", func() {
		a, _, err := apd.NewFromString("1.50")
		Expect(err).NotTo(HaveOccurred())
		b, _, err := apd.NewFromString("1.5")
		Expect(err).NotTo(HaveOccurred())
		Expect(Compare(Numeric(a), Numeric(b))).To(Equal(0))
		// Identity keeps the exponent: callers normalize upstream if
		// they want 1.50 and 1.5 to be the same row.
		Expect(Row{Numeric(a)}.Key()).NotTo(Equal(Row{Numeric(b)}.Key()))
	})
})

var _ = Describe("Rows", func() {
	It("should compare lexicographically", func() {
		Expect(Row{Int64(1), Int64(2)}.Compare(Row{Int64(1), Int64(3)})).To(Equal(-1))
		Expect(Row{Int64(1)}.Compare(Row{Int64(1), Int64(0)})).To(Equal(-1))
		Expect(Row{Int64(2)}.Compare(Row{Int64(1), Int64(9)})).To(Equal(1))
	})

	It("should not collide across column boundaries", func() {
		Expect(Row{Str("ab"), Str("c")}.Key()).NotTo(Equal(Row{Str("a"), Str("bc")}.Key()))
	})

	It("should concatenate without aliasing", func() {
		a := Row{Int64(1)}
		b := Row{Int64(2)}
		c := a.Concat(b)
		Expect(c).To(Equal(Row{Int64(1), Int64(2)}))
		Expect(a).To(Equal(Row{Int64(1)}))
	})
})

var _ = Describe("Builders", func() {
	It("should snapshot rows independently of the scratch buffer", func() {
		b := NewBuilder()
		b.Push(Int64(1))
		first := b.Finish()
		b.Push(Int64(2))
		b.Push(Int64(3))
		second := b.Finish()
		Expect(first).To(Equal(Row{Int64(1)}))
		Expect(second).To(Equal(Row{Int64(2), Int64(3)}))
	})

	It("should reset cleanly", func() {
		b := NewBuilder()
		b.Push(Int64(1))
		b.Reset()
		Expect(b.Len()).To(Equal(0))
		Expect(b.Finish()).To(Equal(Row{}))
	})
})
