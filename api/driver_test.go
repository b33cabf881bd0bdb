package api

import (
	"time"

	gomock "github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/emu"
	"github.com/sarchlab/npudma/npu"
	"github.com/sarchlab/npudma/seq"
)

func passthrough(n int, feed bool) (*design.Design, *seq.Sequence) {
	d := design.New("passthrough", npu.NPU())
	shim, mem := npu.Tile(0, 0), npu.Tile(0, 1)

	buf, err := d.Buffer("buf", mem, npu.I32, 16)
	Expect(err).NotTo(HaveOccurred())
	in, err := d.Connect(shim, mem, "in", "in")
	Expect(err).NotTo(HaveOccurred())
	out, err := d.Connect(mem, shim, "out", "out")
	Expect(err).NotTo(HaveOccurred())
	Expect(d.Link(mem, buf, in, out)).To(Succeed())

	s := seq.New(d.Model)
	a, err := s.Arg("a", npu.I32, n)
	Expect(err).NotTo(HaveOccurred())
	c, err := s.Arg("c", npu.I32, n)
	Expect(err).NotTo(HaveOccurred())
	if feed {
		Expect(s.MemcpyFlow(in, a)).To(Succeed())
	}
	Expect(s.MemcpyFlow(out, c)).To(Succeed())
	Expect(s.WaitFlow(out)).To(Succeed())

	return d, s
}

var _ = Describe("Driver", func() {
	var driver Driver

	BeforeEach(func() {
		driver = DriverBuilder{}.
			WithEngine(sim.NewSerialEngine()).
			WithFreq(1 * sim.GHz).
			Build("Driver")
	})

	It("should need an artifact", func() {
		_, err := driver.AllocBuffer("a", 64)
		Expect(err).To(MatchError(ErrNotLoaded))
		Expect(driver.Run(nil)).To(MatchError(ErrNotLoaded))
		Expect(driver.Wait(time.Millisecond)).To(MatchError(ErrNotRunning))
	})

	It("should allocate aligned buffers once", func() {
		d, _ := passthrough(64, true)
		Expect(driver.Load(NewArtifact(d))).To(Succeed())

		a, err := driver.AllocBuffer("a", 10)
		Expect(err).NotTo(HaveOccurred())
		b, err := driver.AllocBuffer("b", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Addr - a.Addr).To(Equal(uint64(64)))
		Expect(a.Data).To(HaveLen(3))

		_, err = driver.AllocBuffer("a", 4)
		Expect(err).To(MatchError(ErrDuplicateBuffer))
	})

	It("should execute a passthrough", func() {
		d, s := passthrough(64, true)

		in := make([]uint32, 64)
		for i := range in {
			in[i] = uint32(i * i)
		}

		out, err := Execute(driver, NewArtifact(d), s,
			map[string][]uint32{"a": in}, time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveKey("c"))
		Expect(out).NotTo(HaveKey("a"))
		Expect(out["c"]).To(Equal(in))
	})

	It("should refuse a driver name akita cannot use", func() {
		d, _ := passthrough(64, true)
		driver = DriverBuilder{}.
			WithEngine(sim.NewSerialEngine()).
			Build("driver")

		Expect(driver.Load(NewArtifact(d))).To(MatchError(emu.ErrInvalidName))
		_, err := driver.AllocBuffer("a", 64)
		Expect(err).To(MatchError(ErrNotLoaded))
	})

	It("should report a stalled device", func() {
		d, s := passthrough(64, false)

		_, err := Execute(driver, NewArtifact(d), s, nil, time.Millisecond)
		Expect(err).To(MatchError(ErrDeadlock))
	})
})

var _ = Describe("Execute", func() {
	var (
		mockCtrl   *gomock.Controller
		mockDriver *MockDriver
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		mockDriver = NewMockDriver(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should return a timeout without retrying", func() {
		d, s := passthrough(16, true)
		a := NewArtifact(d)

		mockDriver.EXPECT().Load(a).Return(nil)
		mockDriver.EXPECT().AllocBuffer("a", 64).
			Return(&BufferObject{Name: "a", Addr: 0, Bytes: 64, Data: make([]uint32, 16)}, nil)
		mockDriver.EXPECT().AllocBuffer("c", 64).
			Return(&BufferObject{Name: "c", Addr: 64, Bytes: 64, Data: make([]uint32, 16)}, nil)
		mockDriver.EXPECT().SyncToDevice(gomock.Any()).
			Do(func(bo *BufferObject) {
				Expect(bo.Name).To(Equal("a"))
				Expect(bo.Data[3]).To(Equal(uint32(7)))
			}).
			Return(nil)
		mockDriver.EXPECT().Run(gomock.Any()).Return(nil)
		mockDriver.EXPECT().Wait(time.Second).Return(ErrTimeout).Times(1)

		in := make([]uint32, 16)
		in[3] = 7

		_, err := Execute(mockDriver, a, s, map[string][]uint32{"a": in}, time.Second)
		Expect(err).To(MatchError(ErrTimeout))
	})

	It("should reject inputs the sequence does not take", func() {
		d, s := passthrough(16, true)
		a := NewArtifact(d)

		mockDriver.EXPECT().Load(a).Return(nil)

		_, err := Execute(mockDriver, a, s, map[string][]uint32{"x": {1}}, time.Second)
		Expect(err).To(MatchError(seq.ErrUnknownArg))
	})
})
