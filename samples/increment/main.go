package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/api"
	"github.com/sarchlab/npudma/config"
	"github.com/sarchlab/npudma/emu"
	"github.com/tebeka/atexit"
)

//go:embed increment.yaml
var incrementDesign []byte

// inc adds one to every element of its first argument.
func inc(args [][]uint32) error {
	for i, v := range args[0] {
		args[1][i] = v + 1
	}

	return nil
}

func increment(driver api.Driver) {
	p, err := config.ParseDesign(incrementDesign)
	if err != nil {
		panic(err)
	}

	a := p.Sequence.Args()[0]
	src := make([]uint32, a.Bytes()/4)
	for i := range src {
		src[i] = uint32(100 + i)
	}

	artifact := api.NewArtifact(p.Design).WithKernel("inc", inc)

	outputs, err := api.Execute(driver, artifact, p.Sequence,
		map[string][]uint32{a.Name: src}, time.Millisecond)
	if err != nil {
		panic(err)
	}

	fmt.Println(src)
	fmt.Println(outputs["c"])
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout,
		&slog.HandlerOptions{Level: emu.LevelTrace})))

	monitor := monitoring.NewMonitor()

	engine := sim.NewSerialEngine()
	monitor.RegisterEngine(engine)

	driver := api.DriverBuilder{}.
		WithEngine(engine).
		WithFreq(1 * sim.GHz).
		WithMonitor(monitor).
		Build("Driver")

	monitor.StartServer()

	increment(driver)

	atexit.Exit(0)
}
