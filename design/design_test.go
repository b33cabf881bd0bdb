package design_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/buffering"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/flow"
	"github.com/sarchlab/npudma/npu"
)

var _ = Describe("Design", func() {
	var (
		d    *design.Design
		shim npu.TileID
		mem  npu.TileID
		core npu.TileID
	)

	BeforeEach(func() {
		d = design.New("test", npu.NPU())
		shim, mem, core = npu.Tile(0, 0), npu.Tile(0, 1), npu.Tile(0, 2)
	})

	It("should declare buffers once", func() {
		_, err := d.Buffer("a", mem, npu.I32, 16)
		Expect(err).NotTo(HaveOccurred())

		_, err = d.Buffer("a", core, npu.I32, 16)
		Expect(err).To(MatchError(design.ErrDuplicateName))

		_, err = d.Buffer("b", shim, npu.I32, 16)
		Expect(err).To(MatchError(design.ErrWrongRole))

		b, ok := d.LookupBuffer("a")
		Expect(ok).To(BeTrue())
		Expect(b.Tile).To(Equal(mem))
	})

	It("should place BDs in free slots", func() {
		buf, err := d.Buffer("a", mem, npu.I32, 16)
		Expect(err).NotTo(HaveOccurred())

		recv, send, err := d.Forward(mem, buf, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(recv.BDs[0].ID).To(Equal(0))
		Expect(send.BDs[0].ID).To(Equal(1))
		Expect(d.Programs()).To(HaveLen(2))

		p, ok := d.Program(npu.Channel{Tile: mem, Direction: npu.MM2S, Index: 0})
		Expect(ok).To(BeTrue())
		Expect(p).To(BeIdenticalTo(send))
	})

	It("should refuse a second program on one channel", func() {
		buf, err := d.Buffer("a", mem, npu.I32, 16)
		Expect(err).NotTo(HaveOccurred())
		_, _, err = d.Forward(mem, buf, 0)
		Expect(err).NotTo(HaveOccurred())

		err = d.AddProgram(&bd.Program{Tile: mem, Direction: npu.S2MM, BDs: []*bd.BD{bd.New(buf)}})
		Expect(err).To(MatchError(design.ErrChannelBusy))
	})

	It("should refuse conflicting slots", func() {
		buf, err := d.Buffer("a", mem, npu.I32, 16)
		Expect(err).NotTo(HaveOccurred())

		Expect(d.AddProgram(&bd.Program{
			Tile: mem, Direction: npu.S2MM,
			BDs: []*bd.BD{bd.New(buf, bd.WithID(5))},
		})).To(Succeed())

		err = d.AddProgram(&bd.Program{
			Tile: mem, Direction: npu.MM2S,
			BDs: []*bd.BD{bd.New(buf, bd.WithID(5))},
		})
		Expect(err).To(MatchError(design.ErrBDConflict))
	})

	It("should leave the design unchanged when a forward fails", func() {
		buf, err := d.Buffer("a", mem, npu.I32, 16)
		Expect(err).NotTo(HaveOccurred())
		other, err := d.Buffer("b", mem, npu.I32, 16)
		Expect(err).NotTo(HaveOccurred())

		Expect(d.AddProgram(&bd.Program{
			Tile: mem, Direction: npu.MM2S, Channel: 3,
			BDs: []*bd.BD{bd.New(other)},
		})).To(Succeed())

		_, _, err = d.Forward(mem, buf, 0, buffering.WithMM2SChannel(3))
		Expect(err).To(MatchError(design.ErrChannelBusy))

		Expect(d.Programs()).To(HaveLen(1))
		Expect(d.Locks.Locks(mem)).To(BeEmpty())
		_, ok := d.Program(npu.Channel{Tile: mem, Direction: npu.S2MM, Index: 0})
		Expect(ok).To(BeFalse())

		recv, send, err := d.Forward(mem, buf, 0, buffering.WithMM2SChannel(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(recv.BDs[0].ID).To(Equal(1))
		Expect(send.BDs[0].ID).To(Equal(2))
		Expect(d.Locks.Locks(mem)).To(HaveLen(2))
		Expect(d.Locks.Locks(mem)[0].ID).To(Equal(0))
	})

	It("should run out of slots", func() {
		buf, err := d.Buffer("a", core, npu.I32, 16)
		Expect(err).NotTo(HaveOccurred())

		var bds []*bd.BD
		for i := 0; i <= npu.NPU().ComputeBDs; i++ {
			bds = append(bds, bd.New(buf))
		}

		err = d.AddProgram(&bd.Program{Tile: core, Direction: npu.S2MM, BDs: bds})
		Expect(err).To(MatchError(design.ErrBDExhausted))
		Expect(bds[0].ID).To(Equal(bd.Unassigned))
	})

	It("should leave shim BDs to the host", func() {
		buf := npu.NewBuffer("host", shim, npu.I32, 16)
		err := d.AddProgram(&bd.Program{Tile: shim, BDs: []*bd.BD{bd.New(buf)}})
		Expect(err).To(MatchError(design.ErrWrongRole))
	})

	It("should link flows through a memory tile", func() {
		in, err := d.Connect(shim, mem, "in", "in")
		Expect(err).NotTo(HaveOccurred())
		out, err := d.Connect(mem, core, "out", "out")
		Expect(err).NotTo(HaveOccurred())

		buf, err := d.Buffer("stage", mem, npu.I32, 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Link(mem, buf, in, out)).To(Succeed())
		Expect(d.Validate()).To(Succeed())
	})

	It("should refuse to link through a compute tile", func() {
		in, err := d.Connect(mem, core, "", "")
		Expect(err).NotTo(HaveOccurred())
		out, err := d.Connect(core, npu.Tile(0, 3), "", "")
		Expect(err).NotTo(HaveOccurred())

		buf, err := d.Buffer("x", core, npu.I32, 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Link(core, buf, in, out)).To(MatchError(design.ErrUnsupportedTopology))
		Expect(d.Programs()).To(BeEmpty())
	})

	It("should refuse flows that do not meet at the tile", func() {
		in, err := d.Connect(shim, npu.Tile(1, 1), "", "")
		Expect(err).NotTo(HaveOccurred())
		out, err := d.Connect(mem, core, "", "")
		Expect(err).NotTo(HaveOccurred())

		buf, err := d.Buffer("x", mem, npu.I32, 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Link(mem, buf, in, out)).To(MatchError(design.ErrNotEndpoint))
	})

	It("should keep flows created through it", func() {
		_, err := d.Flow(flow.Request{
			Source: flow.Scalar(mem),
			Dest:   flow.Of(npu.Tile(0, 2), npu.Tile(0, 3)),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Flows.Len()).To(Equal(2))
	})
})

var _ = Describe("CoreBody", func() {
	var (
		d    *design.Design
		tile npu.TileID
		in   *npu.Buffer
		out  *npu.Buffer
	)

	BeforeEach(func() {
		var err error

		d = design.New("test", npu.NPU())
		tile = npu.Tile(0, 2)
		in, err = d.Buffer("in", tile, npu.I32, 8)
		Expect(err).NotTo(HaveOccurred())
		out, err = d.Buffer("out", tile, npu.I32, 8)
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Kernel(design.Kernel{
			Name:   "copy",
			Binary: "copy.o",
			Args: []design.ArgType{
				{Elem: npu.I32, Shape: []int{8}},
				{Elem: npu.I32, Shape: []int{8}},
			},
		})).To(Succeed())
	})

	It("should record held locks around calls", func() {
		c, err := d.Core(tile)
		Expect(err).NotTo(HaveOccurred())

		a, err := d.Lock(tile, 0, "a")
		Expect(err).NotTo(HaveOccurred())
		b, err := d.Lock(tile, 1, "b")
		Expect(err).NotTo(HaveOccurred())

		err = c.Loop(0, func() error {
			return buffering.HoldLock(c, a, b, func() error {
				return c.Call("copy", in, out)
			})
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Ops).To(HaveLen(1))
		body := c.Ops[0].Body
		Expect(body).To(HaveLen(3))
		Expect(body[0].Kind).To(Equal(design.OpLock))
		Expect(body[1].Kind).To(Equal(design.OpCall))
		Expect(body[2].Lock.Action).To(Equal(bd.Release))
		Expect(c.Validate()).To(Succeed())
	})

	It("should check kernel calls", func() {
		c, err := d.Core(tile)
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Call("missing")).To(MatchError(design.ErrUnknownKernel))
		Expect(c.Call("copy", in)).To(MatchError(design.ErrKernelArgs))

		wide, err := d.Buffer("wide", tile, npu.I32, 16)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Call("copy", in, wide)).To(MatchError(design.ErrKernelArgs))
	})

	It("should only put cores on compute tiles", func() {
		_, err := d.Core(npu.Tile(0, 1))
		Expect(err).To(MatchError(design.ErrWrongRole))
	})

	It("should reject locks of other tiles", func() {
		c, err := d.Core(tile)
		Expect(err).NotTo(HaveOccurred())

		l, err := d.Lock(npu.Tile(0, 1), 0, "mem")
		Expect(err).NotTo(HaveOccurred())

		c.UseLock(bd.Acquire(l))
		Expect(c.Validate()).To(MatchError(bd.ErrForeignLock))
	})
})

var _ = Describe("Tiling", func() {
	It("should reject k that is not a multiple of s", func() {
		_, err := design.NewTiling(32, 64, 256)
		Expect(err).To(MatchError(design.ErrInvalidTiling))
	})

	It("should reject K that is not a multiple of k", func() {
		_, err := design.NewTiling(32, 60, 250)
		Expect(err).To(MatchError(design.ErrInvalidTiling))
	})

	It("should reject m that is not a multiple of r", func() {
		_, err := design.NewTiling(30, 60, 240)
		Expect(err).To(MatchError(design.ErrInvalidTiling))
	})

	It("should cover both buffers exactly", func() {
		t, err := design.NewTiling(32, 60, 240)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Blocks()).To(Equal(4))

		send := t.MemSendPattern()
		Expect(send.Validate()).To(Succeed())
		Expect(send.Extent()).To(Equal(32 * 240))

		recv := t.ComputeReceivePattern()
		Expect(recv.Validate()).To(Succeed())
		Expect(recv.Extent()).To(Equal(32 * 60))

		seen := map[int]bool{}
		for a := range recv.Addresses(0) {
			seen[a] = true
		}
		Expect(seen).To(HaveLen(32 * 60))
	})
})
