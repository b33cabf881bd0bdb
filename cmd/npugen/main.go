// Command npugen lowers a YAML design into the instruction stream of its
// host sequence. It lints the design and can emulate the sequence.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/janpfeifer/must"
	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/api"
	"github.com/sarchlab/npudma/config"
	"github.com/sarchlab/npudma/emu"
	"github.com/sarchlab/npudma/isa"
	"github.com/sarchlab/npudma/verify"
	"github.com/tebeka/atexit"
)

var (
	designFile = flag.String("design", "", "YAML design to lower")
	output     = flag.String("o", "", "instruction stream file, stdout if empty")
	reportFile = flag.String("report", "", "also save the verification report to this file")
	run        = flag.Bool("run", false, "emulate the host sequence with zeroed inputs")
	timeout    = flag.Duration("timeout", time.Millisecond, "simulated time limit of -run")
	trace      = flag.Bool("trace", false, "log DMA and lock traces")
	useMonitor = flag.Bool("monitor", false, "serve the akita monitor during -run")
	showFlows  = flag.Bool("flows", false, "print the flow table")
)

func main() {
	flag.Parse()

	if *designFile == "" {
		fmt.Fprintln(os.Stderr, "npugen: -design is required")
		flag.Usage()
		atexit.Exit(2)
	}

	level := slog.LevelWarn
	if *trace {
		level = emu.LevelTrace
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level})))

	p := must.M1(config.LoadDesign(*designFile))

	if *showFlows {
		fmt.Fprintln(os.Stderr, p.Design.Flows.Table().Render())
	}

	if p.Sequence != nil {
		insts := must.M1(p.Sequence.Emit(p.Sequence.Layout()))
		must.M(writeStream(insts))
	}

	report := verify.GenerateReport(p.Design, nil, *timeout)
	if *run && p.Sequence != nil {
		report.Simulated = true
		report.SimulationErr = emulate(p)
		report.SimulationOK = report.SimulationErr == nil
	}

	report.WriteReport(os.Stderr)

	if *reportFile != "" {
		must.M(report.SaveReportToFile(*reportFile))
	}

	if !report.Passed() {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func writeStream(insts []uint32) error {
	var w io.Writer = os.Stdout

	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()

		w = f
	}

	return isa.WriteText(w, insts)
}

func emulate(p *config.Project) error {
	engine := sim.NewSerialEngine()

	builder := api.DriverBuilder{}.
		WithEngine(engine).
		WithFreq(1 * sim.GHz)

	if *useMonitor {
		monitor := monitoring.NewMonitor()
		monitor.RegisterEngine(engine)
		builder = builder.WithMonitor(monitor)
		monitor.StartServer()
	}

	driver := builder.Build("Driver")

	artifact := api.NewArtifact(p.Design)
	for _, k := range p.Design.Kernels() {
		artifact.WithKernel(k.Name, func([][]uint32) error { return nil })
	}

	outputs, err := api.Execute(driver, artifact, p.Sequence, nil, *timeout)
	if err != nil {
		return err
	}

	for _, arg := range p.Sequence.Args() {
		data := outputs[arg.Name]
		fmt.Fprintf(os.Stderr, "%s: %d words %v\n", arg.Name, len(data), head(data, 8))
	}

	return nil
}

func head(data []uint32, n int) []uint32 {
	if len(data) < n {
		return data
	}

	return data[:n]
}
