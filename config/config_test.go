package config_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/config"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/npu"
)

var _ = Describe("ParseDesign", func() {
	It("should load a linked passthrough", func() {
		p, err := config.LoadDesign("testdata/passthrough.yaml")
		Expect(err).NotTo(HaveOccurred())

		Expect(p.Design.Name).To(Equal("passthrough"))
		Expect(p.Design.Programs()).To(HaveLen(2))
		Expect(p.Flows["in"]).To(HaveLen(1))
		Expect(p.Flows["in"][0].Dest).To(Equal(npu.Tile(0, 1)))
		Expect(p.Sequence.Args()).To(HaveLen(2))
	})

	It("should accept a broadcast", func() {
		p, err := config.ParseDesign([]byte(`
name: bcast
flows:
  - {name: b, source: [0, 1], dest: [[0, 2], [0, 3], [0, 4]]}
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Flows["b"]).To(HaveLen(3))
		Expect(p.Design.Flows.Len()).To(Equal(3))
	})

	It("should reject unknown keys", func() {
		_, err := config.ParseDesign([]byte("name: x\nbufers: []\n"))
		Expect(err).To(MatchError(config.ErrInvalidDesign))
	})

	It("should reject references to undeclared names", func() {
		_, err := config.ParseDesign([]byte(`
buffers:
  - {name: buf, tile: [0, 1], type: i32, shape: [16]}
flows:
  - {name: in, source: [0, 0], dest: [0, 1]}
links:
  - {tile: [0, 1], buffer: buf, in: in, out: missing}
`))
		Expect(err).To(MatchError(config.ErrInvalidDesign))
	})

	It("should refuse to link through a compute tile", func() {
		_, err := config.ParseDesign([]byte(`
buffers:
  - {name: buf, tile: [0, 2], type: i32, shape: [16]}
flows:
  - {name: in, source: [0, 0], dest: [0, 2]}
  - {name: out, source: [0, 2], dest: [0, 0]}
links:
  - {tile: [0, 2], buffer: buf, in: in, out: out}
`))
		Expect(err).To(MatchError(design.ErrUnsupportedTopology))
	})

	It("should reject an unknown element type", func() {
		_, err := config.ParseDesign([]byte(`
buffers:
  - {name: buf, tile: [0, 1], type: u7, shape: [16]}
`))
		Expect(err).To(MatchError(config.ErrInvalidDesign))
	})
})

var _ = Describe("DeviceBuilder", func() {
	It("should build a device that runs a loaded design", func() {
		p, err := config.LoadDesign("testdata/increment.yaml")
		Expect(err).NotTo(HaveOccurred())

		l := p.Sequence.Layout()
		dev, err := config.DeviceBuilder{}.
			WithEngine(sim.NewSerialEngine()).
			WithFreq(1*sim.GHz).
			WithHostMemory(l.Size()).
			Build("Device", p.Design)
		Expect(err).NotTo(HaveOccurred())

		dev.BindKernel("inc", func(args [][]uint32) error {
			for i, v := range args[0] {
				args[1][i] = v + 1
			}

			return nil
		})

		insts, err := p.Sequence.Emit(l)
		Expect(err).NotTo(HaveOccurred())
		Expect(dev.Load(insts)).To(Succeed())

		addrA, _ := l.Addr("a")
		addrC, _ := l.Addr("c")
		in := make([]uint32, 48)
		for i := range in {
			in[i] = uint32(100 + i)
		}
		Expect(dev.Host().Write(addrA, in)).To(Succeed())

		Expect(dev.Run(time.Millisecond)).To(Succeed())

		out, err := dev.Host().Read(addrC, 48)
		Expect(err).NotTo(HaveOccurred())
		Expect(out[0]).To(Equal(uint32(101)))
		Expect(out[47]).To(Equal(uint32(148)))
	})
})
