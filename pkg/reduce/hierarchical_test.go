package reduce

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

var _ = Describe("Hierarchical reductions", func() {
	Context("monotonic", func() {
		var h *opHarness

		BeforeEach(func() {
			h = newHarness(newMonotonicOp(&MonotonicPlan{
				AggrFuncs: []AggregateFunc{AggMin, AggMax},
				Columns:   []int{0, 0},
			}, logger))
		})

		It("should tighten extrema as values arrive", func() {
			h.step(pairs(r("a"), r(5), 1))
			Expect(h.value(r("a"))).To(Equal(r(5, 5)))

			h.step(pairs(r("a"), r(3), 1, r("a"), r(9), 1))
			Expect(h.value(r("a"))).To(Equal(r(3, 9)))

			// A dominated value changes nothing.
			delta := h.step(pairs(r("a"), r(6), 1))
			Expect(delta.IsZero()).To(BeTrue())
		})

		It("should treat nulls as identity", func() {
			h.step(pairs(r("a"), r(nil), 1))
			Expect(h.value(r("a"))).To(Equal(row.Row{row.Null(), row.Null()}))

			h.step(pairs(r("a"), r(7), 1))
			Expect(h.value(r("a"))).To(Equal(r(7, 7)))
		})

		It("should report retractions as corrupt", func() {
			h.step(pairs(r("a"), r(5), 1))
			h.step(pairs(r("a"), r(5), -1))
			Expect(h.errs.IsZero()).To(BeFalse())
		})
	})

	Context("bucketed", func() {
		// Small bucket counts force collisions so the tower actually
		// folds multiple values per bucket.
		newOp := func() *bucketedOp {
			return newBucketedOp(&BucketedPlan{
				AggrFuncs: []AggregateFunc{AggMin, AggMax},
				Columns:   []int{0, 0},
				Buckets:   []uint64{256, 16},
			}, logger)
		}

		It("should maintain extrema under retractions", func() {
			h := newHarness(newOp())
			h.step(pairs(r("a"), r(5), 1, r("a"), r(3), 1, r("a"), r(9), 1))
			Expect(h.value(r("a"))).To(Equal(r(3, 9)))

			h.step(pairs(r("a"), r(3), -1))
			Expect(h.value(r("a"))).To(Equal(r(5, 9)))

			h.step(pairs(r("a"), r(9), -1, r("a"), r(5), -1))
			Expect(h.out.IsZero()).To(BeTrue())
			Expect(h.errs.IsZero()).To(BeTrue())
		})

		It("should count duplicates separately", func() {
			h := newHarness(newOp())
			h.step(pairs(r("a"), r(3), 2, r("a"), r(7), 1))
			h.step(pairs(r("a"), r(3), -1))
			Expect(h.value(r("a"))).To(Equal(r(3, 7)))
			h.step(pairs(r("a"), r(3), -1))
			Expect(h.value(r("a"))).To(Equal(r(7, 7)))
		})

		It("should report and clear negative accumulations", func() {
			h := newHarness(newOp())
			h.step(pairs(r("a"), r(3), 1, r("a"), r(5), -1))
			Expect(h.errs.IsZero()).To(BeFalse())

			// The insert cancels the spurious retraction, so the
			// value never becomes visible.
			h.step(pairs(r("a"), r(5), 1))
			Expect(h.errs.IsZero()).To(BeTrue())
			Expect(h.value(r("a"))).To(Equal(r(3, 3)))
		})

		It("should drop accumulated state on reset", func() {
			op := newOp()
			h := newHarness(op)
			h.step(pairs(r("a"), r(5), 1))
			Expect(h.value(r("a"))).To(Equal(r(5, 5)))

			op.Reset()
			h2 := newHarness(op)
			h2.step(pairs(r("a"), r(7), 1))
			// The old extremum must not survive the reset.
			Expect(h2.value(r("a"))).To(Equal(r(7, 7)))
			Expect(h2.errs.IsZero()).To(BeTrue())
		})

		It("should agree with naive recomputation over random updates", func() {
			h := newHarness(newOp())
			rng := rand.New(rand.NewSource(42))
			present := make(map[int64]int64)

			for step := 0; step < 100; step++ {
				delta := zset.NewPairs()
				for i := 0; i < 5; i++ {
					v := int64(rng.Intn(20))
					if present[v] > 0 && rng.Intn(3) == 0 {
						delta.AddMutate(r("k"), r(v), -1)
						present[v]--
					} else {
						delta.AddMutate(r("k"), r(v), 1)
						present[v]++
					}
				}
				h.step(delta)

				min, max := int64(-1), int64(-1)
				for v, n := range present {
					if n <= 0 {
						continue
					}
					if min == -1 || v < min {
						min = v
					}
					if max == -1 || v > max {
						max = v
					}
				}
				if min == -1 {
					Expect(h.value(r("k"))).To(BeNil())
				} else {
					Expect(h.value(r("k"))).To(Equal(r(min, max)),
						"mismatch at step %d", step)
				}
			}
			Expect(h.errs.IsZero()).To(BeTrue())
		})
	})
})
