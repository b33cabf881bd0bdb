package main

import (
	"fmt"
	"time"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/api"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/npu"
	"github.com/sarchlab/npudma/seq"
	"github.com/tebeka/atexit"
)

func passThrough(driver api.Driver) {
	length := 64

	d := design.New("passthrough", npu.NPU())
	shim, mem := npu.Tile(0, 0), npu.Tile(0, 1)

	buf, err := d.Buffer("buf", mem, npu.I32, 16)
	if err != nil {
		panic(err)
	}

	in, err := d.Connect(shim, mem, "in", "in")
	if err != nil {
		panic(err)
	}

	out, err := d.Connect(mem, shim, "out", "out")
	if err != nil {
		panic(err)
	}

	if err := d.Link(mem, buf, in, out); err != nil {
		panic(err)
	}

	s := seq.New(d.Model)
	a, _ := s.Arg("a", npu.I32, length)
	c, _ := s.Arg("c", npu.I32, length)

	if err := s.MemcpyFlow(in, a); err != nil {
		panic(err)
	}

	if err := s.MemcpyFlow(out, c); err != nil {
		panic(err)
	}

	if err := s.WaitFlow(out); err != nil {
		panic(err)
	}

	src := make([]uint32, length)
	for i := 0; i < length; i++ {
		src[i] = uint32(i)
	}

	outputs, err := api.Execute(driver, api.NewArtifact(d), s,
		map[string][]uint32{"a": src}, time.Millisecond)
	if err != nil {
		panic(err)
	}

	fmt.Println(src)
	fmt.Println(outputs["c"])
}

func main() {
	engine := sim.NewSerialEngine()

	driver := api.DriverBuilder{}.
		WithEngine(engine).
		WithFreq(1 * sim.GHz).
		Build("Driver")

	passThrough(driver)

	atexit.Exit(0)
}
