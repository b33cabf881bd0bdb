package npu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/npu"
)

var _ = Describe("DeviceModel", func() {
	model := npu.NPU()

	It("should derive roles from rows", func() {
		Expect(model.Role(npu.Tile(2, 0))).To(Equal(npu.ShimRole))
		Expect(model.Role(npu.Tile(2, 1))).To(Equal(npu.MemRole))
		Expect(model.Role(npu.Tile(2, 5))).To(Equal(npu.ComputeRole))
	})

	It("should give channel counts per role", func() {
		Expect(model.Channels(npu.Tile(0, 0))).To(Equal(2))
		Expect(model.Channels(npu.Tile(0, 1))).To(Equal(6))
		Expect(model.Channels(npu.Tile(0, 3))).To(Equal(2))
	})

	It("should enumerate tiles column-major", func() {
		tiles := npu.NPU1Col1().Tiles()
		Expect(tiles).To(HaveLen(6))
		Expect(tiles[0]).To(Equal(npu.Tile(0, 0)))
		Expect(tiles[5]).To(Equal(npu.Tile(0, 5)))
	})

	It("should bound tiles", func() {
		Expect(model.Contains(npu.Tile(3, 5))).To(BeTrue())
		Expect(model.Contains(npu.Tile(4, 0))).To(BeFalse())
		Expect(model.Contains(npu.Tile(0, -1))).To(BeFalse())
	})
})

var _ = Describe("LockTable", func() {
	var table *npu.LockTable

	BeforeEach(func() {
		table = npu.NewLockTable(npu.NPU1Col1())
	})

	It("should hand out stable tile-scoped ids", func() {
		a, err := table.NewLock(npu.Tile(0, 1), 1, "a")
		Expect(err).NotTo(HaveOccurred())
		b, err := table.NewLock(npu.Tile(0, 1), 0, "b")
		Expect(err).NotTo(HaveOccurred())
		c, err := table.NewLock(npu.Tile(0, 2), 0, "c")
		Expect(err).NotTo(HaveOccurred())

		Expect(a.ID).To(Equal(0))
		Expect(b.ID).To(Equal(1))
		Expect(c.ID).To(Equal(0))
		Expect(table.Locks(npu.Tile(0, 1))).To(Equal([]*npu.Lock{a, b}))
		Expect(table.All()).To(Equal([]*npu.Lock{a, b, c}))
	})

	It("should reject init values above the hardware maximum", func() {
		_, err := table.NewLock(npu.Tile(0, 2), 16, "big")
		Expect(errors.Is(err, npu.ErrLockValue)).To(BeTrue())

		_, err = table.NewLock(npu.Tile(0, 2), -1, "neg")
		Expect(errors.Is(err, npu.ErrLockValue)).To(BeTrue())
	})

	It("should run out of locks", func() {
		tile := npu.Tile(0, 0)
		for i := 0; i < 16; i++ {
			_, err := table.NewLock(tile, 0, "")
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := table.NewLock(tile, 0, "")
		Expect(errors.Is(err, npu.ErrLockExhausted)).To(BeTrue())
	})

	It("should reuse truncated ids", func() {
		tile := npu.Tile(0, 1)
		a, _ := table.NewLock(tile, 1, "a")
		_, _ = table.NewLock(tile, 0, "b")

		table.Truncate(tile, 1)
		Expect(table.Locks(tile)).To(Equal([]*npu.Lock{a}))

		c, err := table.NewLock(tile, 0, "c")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.ID).To(Equal(1))

		table.Truncate(tile, 5)
		Expect(table.Locks(tile)).To(HaveLen(2))
	})

	It("should reject tiles outside the device", func() {
		_, err := table.NewLock(npu.Tile(1, 2), 0, "")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Buffer", func() {
	It("should compute sizes", func() {
		b := npu.NewBuffer("A", npu.Tile(0, 2), npu.I32, 32, 64)
		Expect(b.Len()).To(Equal(2048))
		Expect(b.Bytes()).To(Equal(8192))
	})

	It("should panic on empty dimensions", func() {
		Expect(func() { npu.NewBuffer("A", npu.Tile(0, 2), npu.I32, 0) }).To(Panic())
	})

	It("should parse element types", func() {
		e, ok := npu.ParseElemType("bf16")
		Expect(ok).To(BeTrue())
		Expect(e.Bytes()).To(Equal(2))

		_, ok = npu.ParseElemType("f64")
		Expect(ok).To(BeFalse())
	})
})
