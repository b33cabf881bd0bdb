package verify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/config"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/npu"
	"github.com/sarchlab/npudma/seq"
)

// VerificationReport represents a complete verification report
type VerificationReport struct {
	Design        *design.Design
	LintIssues    []Issue
	StructIssues  []Issue
	LockIssues    []Issue
	Simulated     bool
	SimulationErr error
	SimulationOK  bool
}

// GenerateReport runs the lint and, if s is not nil, an emulation of the
// sequence limited to timeout of simulated time.
func GenerateReport(d *design.Design, s *seq.Sequence, timeout time.Duration) *VerificationReport {
	report := &VerificationReport{Design: d}

	report.LintIssues = RunLint(d)
	for _, issue := range report.LintIssues {
		if issue.Type == IssueStruct {
			report.StructIssues = append(report.StructIssues, issue)
		} else {
			report.LockIssues = append(report.LockIssues, issue)
		}
	}

	if s != nil {
		report.Simulated = true
		report.SimulationErr = Emulate(d, s, timeout)
		report.SimulationOK = report.SimulationErr == nil
	}

	return report
}

// Emulate runs the sequence with zeroed host memory. Every kernel is bound
// to a function that does nothing.
func Emulate(d *design.Design, s *seq.Sequence, timeout time.Duration) error {
	l := s.Layout()

	dev, err := config.DeviceBuilder{}.
		WithEngine(sim.NewSerialEngine()).
		WithFreq(1*sim.GHz).
		WithHostMemory(l.Size()).
		Build("Verify", d)
	if err != nil {
		return err
	}

	for _, k := range d.Kernels() {
		dev.BindKernel(k.Name, func([][]uint32) error { return nil })
	}

	insts, err := s.Emit(l)
	if err != nil {
		return err
	}

	if err := dev.Load(insts); err != nil {
		return err
	}

	return dev.Run(timeout)
}

func tileMemory(d *design.Design) table.Writer {
	bytes := make(map[npu.TileID]int)
	counts := make(map[npu.TileID]int)

	var tiles []npu.TileID
	for _, b := range d.Buffers() {
		if _, ok := bytes[b.Tile]; !ok {
			tiles = append(tiles, b.Tile)
		}

		bytes[b.Tile] += b.Bytes()
		counts[b.Tile]++
	}

	t := table.NewWriter()
	t.SetTitle("Tile Memory")
	t.AppendHeader(table.Row{"Tile", "Role", "Buffers", "Size", "Locks"})

	for _, tile := range tiles {
		t.AppendRow(table.Row{
			tile.String(),
			d.Model.Role(tile).Name(),
			counts[tile],
			humanize.IBytes(uint64(bytes[tile])),
			len(d.Locks.Locks(tile)),
		})
	}

	return t
}

func issueTable(title string, issues []Issue) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.AppendHeader(table.Row{"#", "Tile", "Message"})

	for i, issue := range issues {
		t.AppendRow(table.Row{i + 1, issue.Tile.String(), issue.Message})
	}

	return t
}

// WriteReport writes a formatted report to a writer
func (r *VerificationReport) WriteReport(w io.Writer) {
	separator := strings.Repeat("=", 60)

	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "DESIGN VERIFICATION REPORT: %s\n", r.Design.Name)
	fmt.Fprintln(w, separator)

	fmt.Fprintf(w, "\n%d flows, %d DMA programs, %d cores\n\n",
		r.Design.Flows.Len(), len(r.Design.Programs()), len(r.Design.Cores()))
	fmt.Fprintln(w, tileMemory(r.Design).Render())

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "STAGE 1: STATIC LINT CHECKS")
	fmt.Fprintln(w, separator)

	if len(r.LintIssues) == 0 {
		fmt.Fprintln(w, "No lint issues found")
	}

	if len(r.StructIssues) > 0 {
		fmt.Fprintln(w, issueTable(fmt.Sprintf("STRUCT ISSUES (%d)", len(r.StructIssues)), r.StructIssues).Render())
	}

	if len(r.LockIssues) > 0 {
		fmt.Fprintln(w, issueTable(fmt.Sprintf("LOCK ISSUES (%d)", len(r.LockIssues)), r.LockIssues).Render())
	}

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "STAGE 2: EMULATION")
	fmt.Fprintln(w, separator)

	switch {
	case !r.Simulated:
		fmt.Fprintln(w, "Skipped: no host sequence")
	case r.SimulationOK:
		fmt.Fprintln(w, "Emulation completed successfully")
	default:
		fmt.Fprintf(w, "Emulation error: %v\n", r.SimulationErr)
	}

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, separator)

	fmt.Fprintf(w, "Lint Result: %d issues detected (%d STRUCT, %d LOCK)\n",
		len(r.LintIssues), len(r.StructIssues), len(r.LockIssues))

	if r.Passed() {
		fmt.Fprintln(w, "DESIGN PASSED ALL CHECKS")
	} else {
		fmt.Fprintln(w, "DESIGN FAILED")
	}
}

// Passed reports whether the lint found nothing and the emulation, if run,
// succeeded.
func (r *VerificationReport) Passed() bool {
	return len(r.LintIssues) == 0 && (!r.Simulated || r.SimulationOK)
}

// SaveReportToFile saves the report to a file
func (r *VerificationReport) SaveReportToFile(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create report file")
	}
	defer file.Close()

	r.WriteReport(file)

	return nil
}
