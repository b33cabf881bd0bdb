package bd_test

import (
	"slices"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/isa"
	"github.com/sarchlab/npudma/npu"
)

var _ = Describe("Pattern", func() {
	It("should walk a linear pattern", func() {
		p := bd.Linear(2, 4)
		Expect(slices.Collect(p.Addresses(0))).To(Equal([]int{2, 3, 4, 5}))
		Expect(p.IsLinear()).To(BeTrue())
	})

	It("should wrap inner dimensions", func() {
		// Transpose of a 2x3 row-major matrix.
		p := bd.Pattern{
			Length: 6,
			Dims:   [3]bd.Dim{{Size: 2, Stride: 3}, {Stride: 1}, {Stride: 1}},
		}
		Expect(slices.Collect(p.Addresses(0))).To(Equal([]int{0, 3, 1, 4, 2, 5}))
	})

	It("should use all three dimensions", func() {
		p := bd.Pattern{
			Length: 8,
			Dims:   [3]bd.Dim{{Size: 2, Stride: 1}, {Size: 2, Stride: 4}, {Stride: 2}},
		}
		Expect(slices.Collect(p.Addresses(0))).To(Equal([]int{0, 1, 4, 5, 2, 3, 6, 7}))
	})

	It("should repeat the block when dim 2 wraps", func() {
		p := bd.Pattern{
			Length: 12,
			Dims:   [3]bd.Dim{{Size: 2, Stride: 1}, {Size: 2, Stride: 4}, {Size: 2, Stride: 2}},
		}
		Expect(p.Validate()).To(Succeed())
		Expect(slices.Collect(p.Addresses(0))).To(Equal(
			[]int{0, 1, 4, 5, 2, 3, 6, 7, 0, 1, 4, 5}))
		Expect(p.Extent()).To(Equal(8))
	})

	It("should reject an outer wrap around a non-wrapping dimension", func() {
		p := bd.Linear(0, 4)
		p.Dims[0].Size = 2
		p.Dims[2].Size = 2
		Expect(p.Validate()).To(MatchError(bd.ErrInvalidPattern))
	})

	It("should offset repetitions by the iteration stride", func() {
		p := bd.Linear(0, 2)
		p.Iteration = bd.Iteration{Size: 3, Stride: 2}

		Expect(slices.Collect(p.Addresses(1))).To(Equal([]int{2, 3}))
		Expect(slices.Collect(p.Addresses(3))).To(Equal([]int{0, 1}))
		Expect(p.Extent()).To(Equal(6))
	})

	It("should reject bad strides", func() {
		p := bd.Linear(0, 4)
		p.Dims[1].Stride = 0
		Expect(p.Validate()).To(MatchError(bd.ErrInvalidPattern))
	})
})

var _ = Describe("BD", func() {
	var (
		locks *npu.LockTable
		tile  npu.TileID
		buf   *npu.Buffer
		in    *npu.Lock
		out   *npu.Lock
	)

	BeforeEach(func() {
		var err error

		locks = npu.NewLockTable(npu.NPU())
		tile = npu.Tile(0, 1)
		buf = npu.NewBuffer("buf", tile, npu.I32, 16)
		in, err = locks.NewLock(tile, 1, "in")
		Expect(err).NotTo(HaveOccurred())
		out, err = locks.NewLock(tile, 0, "out")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should pair acquire and release", func() {
		b := bd.ProcessBD(bd.Acquire(in), buf, bd.ReleaseOf(out))
		Expect(b.Acquire.Action).To(Equal(bd.AcquireGreaterEqual))
		Expect(b.Release.Amount()).To(Equal(1))
		Expect(b.Pattern.Length).To(Equal(16))
		Expect(b.Validate()).To(Succeed())
	})

	It("should refuse swapped lock uses", func() {
		Expect(func() { bd.ProcessBD(bd.ReleaseOf(out), buf, bd.ReleaseOf(in)) }).To(Panic())
		Expect(func() { bd.ProcessBD(bd.Acquire(in), buf, bd.AcquireEq(out)) }).To(Panic())
	})

	It("should reject patterns beyond the buffer", func() {
		b := bd.ProcessBD(bd.Acquire(in), buf, bd.ReleaseOf(out), bd.WithOffset(8), bd.WithLength(12))
		Expect(b.Validate()).To(MatchError(bd.ErrOutOfBuffer))
	})

	It("should reject locks of other tiles", func() {
		other, err := locks.NewLock(npu.Tile(0, 2), 0, "other")
		Expect(err).NotTo(HaveOccurred())

		b := bd.ProcessBD(bd.Acquire(other), buf, bd.ReleaseOf(out))
		Expect(b.Validate()).To(MatchError(bd.ErrForeignLock))
	})

	It("should link a looping chain back to its head", func() {
		p := &bd.Program{
			Tile: tile,
			BDs: []*bd.BD{
				bd.New(buf, bd.WithID(4)),
				bd.New(buf, bd.WithID(7)),
			},
			Loop: true,
		}
		Expect(p.Link()).To(Succeed())
		Expect(p.BDs[0].NextID).To(Equal(7))
		Expect(p.BDs[1].NextID).To(Equal(4))
		Expect(p.BDs[1].UseNext).To(BeTrue())
	})

	It("should refuse to link unassigned BDs", func() {
		p := &bd.Program{Tile: tile, BDs: []*bd.BD{bd.New(buf)}}
		Expect(p.Link()).To(MatchError(bd.ErrUnassignedBD))
	})

	It("should convert to shim BD parameters", func() {
		shim := npu.Tile(0, 0)
		host := npu.NewBuffer("host", shim, npu.I32, 64)
		l, err := locks.NewLock(shim, 0, "l")
		Expect(err).NotTo(HaveOccurred())

		b := bd.ProcessBD(bd.Acquire(l).WithValue(2), host, bd.ReleaseOf(l), bd.WithID(3))
		p := bd.ShimBD(b, 0)
		Expect(p.BDID).To(Equal(3))
		Expect(p.Length).To(Equal(64))
		Expect(p.LockAcqEnable).To(BeTrue())
		Expect(p.LockAcqVal).To(Equal(-2))
		Expect(p.LockRelVal).To(Equal(1))

		d := isa.DecodeShimBD(isa.WriteBDShimTile(p))
		action, value := bd.DecodeAcquire(d.LockAcqVal)
		Expect(action).To(Equal(bd.AcquireGreaterEqual))
		Expect(value).To(Equal(2))
	})

	It("should pack narrow elements into words", func() {
		host := npu.NewBuffer("bytes", npu.Tile(0, 0), npu.I8, 64)
		p := bd.ShimBD(bd.New(host, bd.WithID(0)), 0)
		Expect(p.Length).To(Equal(16))

		strided := bd.New(host, bd.WithID(0), bd.WithDims(bd.Dim{Size: 4, Stride: 2}))
		Expect(func() { bd.ShimBD(strided, 0) }).To(Panic())
	})

	It("should keep dim 2 wraps off shim BDs", func() {
		dims := []bd.Dim{{Size: 2, Stride: 1}, {Size: 2, Stride: 4}, {Size: 2, Stride: 2}}

		tiled := bd.New(buf, bd.WithID(0), bd.WithLength(12), bd.WithDims(dims...))
		Expect(tiled.Validate()).To(Succeed())

		host := npu.NewBuffer("host", npu.Tile(0, 0), npu.I32, 16)
		wrapped := bd.New(host, bd.WithID(0), bd.WithLength(12), bd.WithDims(dims...))
		Expect(wrapped.Validate()).To(Succeed())
		Expect(func() { bd.ShimBD(wrapped, 0) }).To(Panic())
	})
})
