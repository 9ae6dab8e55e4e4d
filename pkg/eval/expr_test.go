package eval

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dreduce/pkg/row"
)

var _ = Describe("Expressions", func() {
	cols := []row.Datum{row.Int64(10), row.Str("x"), row.Float64(2.5)}

	It("should evaluate column references", func() {
		d, err := NewColumn(0).Eval(cols)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(row.Int64(10)))
	})

	It("should fail on out-of-range columns", func() {
		_, err := NewColumn(5).Eval(cols)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, ErrEval)).To(BeTrue())
	})

	It("should evaluate arithmetic", func() {
		e := NewBinary("@plus", NewColumn(0), NewLiteral(row.Int64(5)))
		d, err := e.Eval(cols)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(row.Int64(15)))
	})

	It("should propagate nulls through arithmetic", func() {
		e := NewBinary("@mult", NewColumn(0), NewLiteral(row.Null()))
		d, err := e.Eval(cols)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.IsNull()).To(BeTrue())
	})

	It("should fail on division by zero", func() {
		e := NewBinary("@div", NewColumn(0), NewLiteral(row.Int64(0)))
		_, err := e.Eval(cols)
		Expect(errors.Is(err, ErrEval)).To(BeTrue())
	})

	It("should fail on operand kind mismatches", func() {
		e := NewBinary("@plus", NewColumn(0), NewColumn(1))
		_, err := e.Eval(cols)
		Expect(errors.Is(err, ErrEval)).To(BeTrue())
	})

	It("should cast between kinds", func() {
		d, err := NewCast(row.KindFloat64, NewColumn(0)).Eval(cols)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(row.Float64(10)))

		d, err = NewCast(row.KindInt64, NewLiteral(row.Bool(true))).Eval(cols)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(row.Int64(1)))
	})

	It("should fail impossible casts", func() {
		_, err := NewCast(row.KindUInt64, NewLiteral(row.Int64(-1))).Eval(cols)
		Expect(errors.Is(err, ErrEval)).To(BeTrue())
	})
})

var _ = Describe("Programs", func() {
	It("should evaluate into independent rows", func() {
		p := NewProgram(NewColumn(1), NewColumn(0))
		b := row.NewBuilder()
		out, err := p.EvalInto([]row.Datum{row.Int64(1), row.Str("a")}, b)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(row.Row{row.Str("a"), row.Int64(1)}))

		out2, err := p.EvalInto([]row.Datum{row.Int64(2), row.Str("b")}, b)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(row.Row{row.Str("a"), row.Int64(1)}))
		Expect(out2).To(Equal(row.Row{row.Str("b"), row.Int64(2)}))
	})

	It("should report demand as the sorted column union", func() {
		plan := KeyValPlan{
			Key: NewProgram(NewColumn(3)),
			Val: NewProgram(NewBinary("@plus", NewColumn(1), NewColumn(3))),
		}
		Expect(plan.Demand()).To(Equal([]int{1, 3}))
	})

	It("should permute cloned programs without touching the original", func() {
		p := NewProgram(NewColumn(3))
		c := p.Clone()
		c.Permute(map[int]int{3: 0})

		out, err := c.EvalInto([]row.Datum{row.Int64(7)}, row.NewBuilder())
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(row.Row{row.Int64(7)}))

		_, err = p.EvalInto([]row.Datum{row.Int64(7)}, row.NewBuilder())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Expression parsing", func() {
	It("should parse column references", func() {
		e, err := ParseExpr([]byte(`"$2"`))
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(NewColumn(2)))
	})

	It("should parse literals", func() {
		e, err := ParseExpr([]byte(`42`))
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(NewLiteral(row.Int64(42))))

		e, err = ParseExpr([]byte(`1.5`))
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(NewLiteral(row.Float64(1.5))))

		e, err = ParseExpr([]byte(`"hello"`))
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(NewLiteral(row.Str("hello"))))
	})

	It("should parse operator maps", func() {
		e, err := ParseExpr([]byte(`{"@plus": ["$0", 1]}`))
		Expect(err).NotTo(HaveOccurred())
		d, err := e.Eval([]row.Datum{row.Int64(41)})
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(row.Int64(42)))
	})

	It("should parse casts", func() {
		e, err := ParseExpr([]byte(`{"@cast": ["float", "$0"]}`))
		Expect(err).NotTo(HaveOccurred())
		d, err := e.Eval([]row.Datum{row.Int64(2)})
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(row.Float64(2)))
	})

	It("should reject unknown operators", func() {
		_, err := ParseExpr([]byte(`{"@frobnicate": ["$0"]}`))
		Expect(err).To(HaveOccurred())
	})
})
