package seq_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/flow"
	"github.com/sarchlab/npudma/isa"
	"github.com/sarchlab/npudma/npu"
	"github.com/sarchlab/npudma/seq"
)

var _ = Describe("Sequence", func() {
	var (
		s       *seq.Sequence
		in, out *seq.Arg
	)

	BeforeEach(func() {
		var err error

		s = seq.New(npu.NPU())
		in, err = s.Arg("in", npu.I32, 64)
		Expect(err).NotTo(HaveOccurred())
		out, err = s.Arg("out", npu.I32, 64)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should lay tensors out aligned", func() {
		l := s.Layout()

		a, ok := l.Addr("in")
		Expect(ok).To(BeTrue())
		Expect(a).To(Equal(uint64(0)))

		b, _ := l.Addr("out")
		Expect(b).To(Equal(uint64(256)))
		Expect(l.Size()).To(Equal(uint64(512)))
		Expect(out.Index).To(Equal(1))
	})

	It("should place tensors at given addresses", func() {
		l := seq.Layout{}.Place("in", 0x1000, 256).Place("out", 0x40, 256)

		a, _ := l.Addr("in")
		Expect(a).To(Equal(uint64(0x1000)))
		Expect(l.Bytes("out")).To(Equal(256))
		Expect(l.Size()).To(Equal(uint64(0x1100)))

		words, err := s.Emit(l)
		Expect(err).NotTo(HaveOccurred())
		Expect(words).To(Equal(isa.Prolog()))
	})

	It("should reject duplicate arguments", func() {
		_, err := s.Arg("in", npu.I32, 4)
		Expect(err).To(MatchError(seq.ErrDuplicateArg))
	})

	It("should emit patched BDs, queue pushes and syncs", func() {
		Expect(s.Memcpy(npu.MM2S, 0, 0, in)).To(Succeed())
		Expect(s.Memcpy(npu.S2MM, 0, 0, out, seq.WithRepeats(1))).To(Succeed())
		Expect(s.Wait(npu.S2MM, 0, 0)).To(Succeed())

		words, err := s.Emit(s.Layout())
		Expect(err).NotTo(HaveOccurred())

		insts, err := isa.Parse(words)
		Expect(err).NotTo(HaveOccurred())
		Expect(insts).To(HaveLen(8 + 1 + 8 + 1 + 1))

		addrLow := isa.DecodeWrite32(insts[10].Words)
		Expect(addrLow.Address).To(Equal(isa.ShimBDAddress(1) + 4))
		Expect(addrLow.Value).To(Equal(uint32(0x80000000 + 256)))

		push := isa.DecodeWrite32(insts[17].Words)
		Expect(push.Address).To(Equal(isa.ShimS2MM0TaskQueue))
		Expect(push.Value).To(Equal(uint32(0x80010001)))

		Expect(insts[18].Op).To(Equal(isa.OpSync))
	})

	It("should fold BD offsets into the address", func() {
		Expect(s.Memcpy(npu.MM2S, 0, 0, in,
			seq.WithBDOptions(bd.WithOffset(16), bd.WithLength(16)))).To(Succeed())

		words, err := s.Emit(s.Layout())
		Expect(err).NotTo(HaveOccurred())

		insts, err := isa.Parse(words)
		Expect(err).NotTo(HaveOccurred())
		Expect(isa.DecodeWrite32(insts[0].Words).Value).To(Equal(uint32(16)))
		Expect(isa.DecodeWrite32(insts[1].Words).Value).To(Equal(uint32(0x80000000 + 64)))
	})

	It("should transfer over the shim end of a flow", func() {
		reg := flow.NewRegistry(npu.NPU())
		reg, f, err := flow.Connect(reg, npu.Tile(1, 1), npu.Tile(1, 0), "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.Len()).To(Equal(1))

		Expect(s.MemcpyFlow(f, out)).To(Succeed())
		Expect(s.WaitFlow(f)).To(Succeed())

		_, g, err := flow.Connect(reg, npu.Tile(1, 1), npu.Tile(1, 2), "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MemcpyFlow(g, out)).To(MatchError(seq.ErrNotShim))
	})

	It("should run out of shim BDs", func() {
		for i := 0; i < npu.NPU().ShimBDs; i++ {
			Expect(s.Memcpy(npu.MM2S, 0, 0, in)).To(Succeed())
		}

		Expect(s.Memcpy(npu.MM2S, 0, 0, in)).To(MatchError(seq.ErrBDExhausted))
		Expect(s.Memcpy(npu.MM2S, 1, 0, in)).To(Succeed())
	})

	It("should reject transfers that are not whole words", func() {
		b, err := s.Arg("bytes", npu.I8, 6)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Memcpy(npu.MM2S, 0, 1, b)).NotTo(Succeed())
	})

	It("should reject missing channels", func() {
		Expect(s.Memcpy(npu.MM2S, 0, 2, in)).To(MatchError(flow.ErrInvalidChannel))
		Expect(s.Wait(npu.S2MM, 9, 0)).NotTo(Succeed())
	})
})

var _ = Describe("NumRowsColsPerTile", func() {
	It("should grow rows and columns together", func() {
		rows, cols, err := seq.NumRowsColsPerTile(16, 16, 16, 4, 512<<10)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(Equal(cols))

		// 1024 bytes per row or column, 1024 per product: 2a + a^2 <= 512.
		Expect(rows).To(Equal(21))
	})

	It("should fail when nothing fits", func() {
		_, _, err := seq.NumRowsColsPerTile(256, 256, 256, 4, 64<<10)
		Expect(err).To(HaveOccurred())
	})
})
