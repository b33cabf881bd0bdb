package flow_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/npudma/flow"
	"github.com/sarchlab/npudma/npu"
)

var _ = Describe("Array", func() {
	It("should index a grid by column then row", func() {
		g := flow.Grid(4, 6)
		Expect(g.Shape()).To(Equal([]int{4, 6}))
		Expect(g.At(2, 3)).To(Equal(npu.Tile(2, 3)))
	})

	It("should select rows and columns", func() {
		s, err := flow.Grid(4, 6).Select([]int{0, 1}, flow.Span(2, 6))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Shape()).To(Equal([]int{2, 4}))
		Expect(s.At(1, 0)).To(Equal(npu.Tile(1, 2)))
		Expect(s.At(0, 3)).To(Equal(npu.Tile(0, 5)))
	})

	It("should broadcast scalars and lower ranks", func() {
		b, err := flow.Scalar(7).Broadcast([]int{2, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Values()).To(Equal([]int{7, 7, 7, 7, 7, 7}))

		b, err = flow.Of(1, 2, 3).Broadcast([]int{2, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Values()).To(Equal([]int{1, 2, 3, 1, 2, 3}))

		col, err := flow.NewArray([]int{2, 1}, []int{1, 2})
		Expect(err).NotTo(HaveOccurred())
		b, err = col.Broadcast([]int{2, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Values()).To(Equal([]int{1, 1, 1, 2, 2, 2}))
	})

	It("should refuse to broadcast toward a lower rank", func() {
		a, err := flow.NewArray([]int{1, 2}, []int{1, 2})
		Expect(err).NotTo(HaveOccurred())

		_, err = a.Broadcast([]int{2})
		Expect(err).To(MatchError(flow.ErrShapeMismatch))
	})

	It("should refuse incompatible dimensions", func() {
		_, err := flow.Of(1, 2, 3).Broadcast([]int{2})
		Expect(err).To(MatchError(flow.ErrShapeMismatch))

		_, err = flow.NewArray([]int{2, 2}, []int{1, 2, 3})
		Expect(err).To(MatchError(flow.ErrShapeMismatch))
	})
})
