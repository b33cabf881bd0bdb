// Package verify checks designs before they reach a device.
//
// Verification runs in two stages:
//
//  1. Static lint (lint.go) walks the design without running it.
//     - STRUCT checks: every programmed channel has a flow, every flow end
//     on a tile has a program, every buffer and kernel is used.
//     - LOCK checks: over one iteration of every loop, each lock is
//     acquired as much as it is released, and no acquire waits for more
//     than a lock can hold.
//
//  2. Emulation (report.go) runs the design and its host sequence on the
//     emulator with zeroed inputs and no-op kernels. It catches deadlocks
//     the lint cannot see, such as locks whose initial values never let a
//     chain start.
//
// # Usage Example
//
//	p, err := config.LoadDesign("passthrough.yaml")
//	if err != nil {
//	    return err
//	}
//
//	report := verify.GenerateReport(p.Design, p.Sequence, time.Millisecond)
//	report.WriteReport(os.Stdout)
//
// # Limitations
//
//   - Lock balance treats every participant as running once per iteration.
//     Sliding windows that consume several slots per step are reported even
//     when their rates match.
//   - Emulation does not run real kernels, so data-dependent behavior is not
//     covered.
package verify

import (
	"fmt"

	"github.com/sarchlab/npudma/npu"
)

// IssueType categorizes lint issues
type IssueType string

const (
	IssueStruct IssueType = "STRUCT" // Channel, flow or declaration problem
	IssueLock   IssueType = "LOCK"   // Lock balance problem
)

// Issue represents a single lint issue
type Issue struct {
	Type    IssueType
	Tile    npu.TileID
	Message string
	Details map[string]interface{}
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Type, i.Tile, i.Message)
}
