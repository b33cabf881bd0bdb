package emu

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/isa"
	"github.com/sarchlab/npudma/npu"
)

const shimBDRegs = 8

// controller executes the instruction stream against the shim tiles. A
// sync blocks it until the channel it names has issued a token.
type controller struct {
	*sim.TickingComponent

	dev   *Device
	insts []isa.Instruction
	pc    int
	regs  map[int][][shimBDRegs]uint32
}

func newController(dev *Device, freq sim.Freq) *controller {
	c := &controller{dev: dev, regs: make(map[int][][shimBDRegs]uint32)}
	c.TickingComponent = sim.NewTickingComponent(dev.name+".Controller", dev.engine, freq, c)

	return c
}

func (c *controller) done() bool {
	return c.pc == len(c.insts)
}

func (c *controller) busy() bool {
	return !c.done()
}

// Tick executes instructions until one blocks.
func (c *controller) Tick() bool {
	if c.dev.stopped() {
		return false
	}

	progress := false
	for !c.done() {
		ok, err := c.exec(c.insts[c.pc])
		if err != nil {
			c.dev.fail(errors.Wrapf(err, "instruction %d", c.pc))
			return false
		}

		if !ok {
			break
		}

		c.pc++
		progress = true
	}

	if progress {
		c.dev.wakeAll()
	}

	return progress
}

func (c *controller) exec(inst isa.Instruction) (bool, error) {
	switch inst.Op {
	case isa.OpWrite32:
		f := isa.DecodeWrite32(inst.Words)
		return true, c.write32(f)
	case isa.OpWriteBDShimTile:
		for _, w := range splitWrites(isa.ExtendShimBD(inst.Words)) {
			if err := c.write32(isa.DecodeWrite32(w)); err != nil {
				return false, err
			}
		}

		return true, nil
	case isa.OpSync:
		return c.sync(isa.DecodeSync(inst.Words)), nil
	default:
		return false, errors.Wrapf(isa.ErrUnknownOpcode, "%s", inst.Op)
	}
}

func splitWrites(words []uint32) [][]uint32 {
	n := isa.OpWrite32.Words()

	out := make([][]uint32, 0, len(words)/n)
	for i := 0; i+n <= len(words); i += n {
		out = append(out, words[i:i+n])
	}

	return out
}

func (c *controller) shimBDs(col int) ([][shimBDRegs]uint32, error) {
	tile := npu.Tile(col, 0)
	if !c.dev.model.Contains(tile) || c.dev.model.Role(tile) != npu.ShimRole {
		return nil, errors.Wrapf(ErrBadRegister, "column %d has no shim tile", col)
	}

	regs, ok := c.regs[col]
	if !ok {
		regs = make([][shimBDRegs]uint32, c.dev.model.BDs(tile))
		c.regs[col] = regs
	}

	return regs, nil
}

func (c *controller) write32(f isa.Write32Fields) error {
	if f.Row != 0 {
		return errors.Wrapf(ErrBadRegister, "0x%x on row %d", f.Address, f.Row)
	}

	regs, err := c.shimBDs(f.Col)
	if err != nil {
		return err
	}

	if f.Address >= isa.ShimDMABD0BaseAddr {
		off := f.Address - isa.ShimDMABD0BaseAddr
		id := int(off / isa.ShimBDOffset)
		if id < len(regs) {
			regs[id][off%isa.ShimBDOffset/4] = f.Value
			return nil
		}
	}

	for _, dir := range []npu.Direction{npu.MM2S, npu.S2MM} {
		for ch := 0; ch < c.dev.model.Channels(npu.Tile(f.Col, 0)); ch++ {
			if f.Address == isa.TaskQueueAddress(dir, ch) {
				return c.push(npu.Channel{Tile: npu.Tile(f.Col, 0), Direction: dir, Index: ch}, f.Value)
			}
		}
	}

	return errors.Wrapf(ErrBadRegister, "0x%x in column %d", f.Address, f.Col)
}

// push starts a task on a shim channel. The chain follows the next-BD
// registers as they are now.
func (c *controller) push(ch npu.Channel, value uint32) error {
	regs, err := c.shimBDs(ch.Tile.Col)
	if err != nil {
		return err
	}

	task := &chain{
		loopTo: -1,
		rounds: int(value>>16&0xFF) + 1,
		token:  value&isa.TaskQueueEnableTokenIssue != 0,
	}

	visited := make(map[int]int)
	for id := int(value & isa.TaskQueueStartBDIDMask); ; {
		if i, ok := visited[id]; ok {
			task.loopTo = i
			break
		}

		if id >= len(regs) || !isa.ValidBD(regs[id][shimBDRegs-1]) {
			return errors.Errorf("%s: BD %d is not valid", ch, id)
		}

		t, p, err := c.dev.shimTransfer(ch.Tile.Col, regs[id])
		if err != nil {
			return err
		}

		visited[id] = len(task.transfers)
		task.transfers = append(task.transfers, t)

		if !p.UseNextBD {
			break
		}

		id = p.NextBD
	}

	Trace("Task Push",
		slog.Float64("Time", c.dev.now()),
		slog.String("Channel", ch.String()),
		slog.Int("BDs", len(task.transfers)),
		slog.Int("Rounds", task.rounds),
	)

	c.dev.dmas[ch].enqueue(task)

	return nil
}

func (c *controller) syncChannels(f isa.SyncFields) []npu.Channel {
	var out []npu.Channel
	for col := f.Col; col < f.Col+max(f.ColNum, 1); col++ {
		for row := f.Row; row < f.Row+max(f.RowNum, 1); row++ {
			out = append(out, npu.Channel{
				Tile:      npu.Tile(col, row),
				Direction: f.Direction,
				Index:     f.Channel,
			})
		}
	}

	return out
}

func (c *controller) sync(f isa.SyncFields) bool {
	chs := c.syncChannels(f)
	for _, ch := range chs {
		if c.dev.tokens[ch] == 0 {
			return false
		}
	}

	for _, ch := range chs {
		c.dev.tokens[ch]--
	}

	Trace("Sync",
		slog.Float64("Time", c.dev.now()),
		slog.String("Channels", fmt.Sprint(chs)),
	)

	return true
}

// blockedOn describes what the stream waits for.
func (c *controller) blockedOn() string {
	if c.done() {
		return "nothing"
	}

	var sb strings.Builder

	inst := c.insts[c.pc]
	fmt.Fprintf(&sb, "instruction %d (%s)", c.pc, inst.Op)

	if inst.Op == isa.OpSync {
		fmt.Fprintf(&sb, " waits for %v", c.syncChannels(isa.DecodeSync(inst.Words)))
	}

	var busy []string
	for _, ch := range c.dev.channels() {
		if c.dev.dmas[ch].busy() {
			busy = append(busy, ch.String())
		}
	}

	if len(busy) > 0 {
		fmt.Fprintf(&sb, "; stalled channels: %s", strings.Join(busy, ", "))
	}

	return sb.String()
}
