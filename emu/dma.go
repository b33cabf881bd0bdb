package emu

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/isa"
	"github.com/sarchlab/npudma/npu"
)

type lockOp struct {
	tile   npu.TileID
	id     int
	action bd.LockAction
	value  int
	ok     bool
}

func lockOpOf(u bd.LockUse) lockOp {
	if u.IsZero() {
		return lockOp{}
	}

	return lockOp{
		tile:   u.Lock.Tile,
		id:     u.Lock.ID,
		action: u.Action,
		value:  u.Amount(),
		ok:     true,
	}
}

// transfer is one BD as the emulator runs it.
type transfer struct {
	name    string
	mem     storage
	pattern bd.Pattern
	acquire lockOp
	release lockOp

	// runs counts completed executions. It selects the iteration offset.
	runs int
}

// chain is a task of a DMA channel. After the last transfer it continues at
// loopTo, or starts a new round if loopTo is negative. rounds < 0 runs
// forever.
type chain struct {
	transfers []*transfer
	loopTo    int
	rounds    int
	token     bool
}

func (d *Device) programChain(p *bd.Program) (*chain, error) {
	c := &chain{loopTo: -1, rounds: p.RepeatCount + 1}
	if p.Loop {
		c.loopTo = 0
	}

	ch := p.ChannelID()
	if _, ok := d.outbox[ch]; !ok && p.Direction == npu.MM2S {
		return nil, errors.Wrapf(ErrNoFlow, "%s", ch)
	}

	if _, ok := d.inbox[ch]; !ok && p.Direction == npu.S2MM {
		return nil, errors.Wrapf(ErrNoFlow, "%s", ch)
	}

	for _, b := range p.BDs {
		c.transfers = append(c.transfers, &transfer{
			name:    b.String(),
			mem:     tileMem(d.tiles[b.Buffer]),
			pattern: b.Pattern,
			acquire: lockOpOf(b.Acquire),
			release: lockOpOf(b.Release),
		})
	}

	return c, nil
}

// shimTransfer builds a transfer from the registers of a shim BD.
func (d *Device) shimTransfer(col int, regs [8]uint32) (*transfer, isa.ShimBD, error) {
	p, addr := isa.DecodeShimBDRegisters(regs)
	if addr%4 != 0 {
		return nil, p, errors.Wrapf(ErrOutOfMemory, "shim BD address 0x%x is not word aligned", addr)
	}

	t := &transfer{
		name: fmt.Sprintf("ShimBD(%d, %d)@0x%x", col, p.BDID, addr),
		mem:  d.host,
		pattern: bd.Pattern{
			Offset: int(addr / 4),
			Length: p.Length,
			Dims: [3]bd.Dim{
				{Size: p.D0Size, Stride: p.D0Stride},
				{Size: p.D1Size, Stride: p.D1Stride},
				{Stride: p.D2Stride},
			},
			Iteration: bd.Iteration{
				Size:    p.IterationSize,
				Stride:  p.IterationStride,
				Current: p.IterationCurrent,
			},
		},
	}

	shim := npu.Tile(col, 0)
	if p.LockAcqEnable {
		action, v := bd.DecodeAcquire(p.LockAcqVal)
		if v > 0 {
			t.acquire = lockOp{tile: shim, id: p.LockAcqID, action: action, value: v, ok: true}
		}
	}

	if p.LockRelVal > 0 {
		t.release = lockOp{tile: shim, id: p.LockRelID, action: bd.Release, value: p.LockRelVal, ok: true}
	}

	return t, p, nil
}

type dmaPhase int

const (
	phaseAcquire dmaPhase = iota
	phaseTransfer
	phaseRelease
)

// dmaChannel moves one word per cycle between memory and a stream.
type dmaChannel struct {
	*sim.TickingComponent

	dev *Device
	id  npu.Channel

	queue []*chain
	cur   *chain
	idx   int
	round int
	phase dmaPhase
	addrs []int
	pos   int

	moved int
}

func newDMAChannel(dev *Device, id npu.Channel, freq sim.Freq) *dmaChannel {
	c := &dmaChannel{dev: dev, id: id}
	name := fmt.Sprintf("%s.Tile[%d][%d].%sCh[%d]",
		dev.name, id.Tile.Col, id.Tile.Row, id.Direction.Name(), id.Index)
	c.TickingComponent = sim.NewTickingComponent(name, dev.engine, freq, c)

	return c
}

func (c *dmaChannel) enqueue(ch *chain) {
	c.queue = append(c.queue, ch)
}

func (c *dmaChannel) busy() bool {
	return c.cur != nil || len(c.queue) > 0
}

// Tick moves the channel forward by one step.
func (c *dmaChannel) Tick() bool {
	if c.dev.stopped() {
		return false
	}

	progress := c.step()
	if progress {
		c.dev.wakeAll()
	}

	return progress
}

func (c *dmaChannel) step() bool {
	if c.cur == nil {
		if len(c.queue) == 0 {
			return false
		}

		c.cur = c.queue[0]
		c.queue = c.queue[1:]
		c.idx, c.round, c.phase = 0, 0, phaseAcquire
	}

	t := c.cur.transfers[c.idx]

	switch c.phase {
	case phaseAcquire:
		return c.acquire(t)
	case phaseTransfer:
		return c.move(t)
	default:
		return c.release(t)
	}
}

func (c *dmaChannel) acquire(t *transfer) bool {
	if t.acquire.ok {
		a := t.acquire
		ok, err := c.dev.locks.TryAcquire(c.Name(), a.tile, a.id, a.action, a.value)
		if err != nil {
			c.dev.fail(errors.Wrapf(err, "%s", c.Name()))
			return false
		}

		if !ok {
			return false
		}
	}

	c.addrs = slices.AppendSeq(c.addrs[:0], t.pattern.Addresses(t.runs))
	if n := len(t.mem.words()); len(c.addrs) > 0 && slices.Max(c.addrs) >= n {
		c.dev.fail(errors.Wrapf(ErrOutOfMemory, "%s: %s reaches word %d of %d",
			c.Name(), t.name, slices.Max(c.addrs), n))
		return false
	}

	Trace("DMA BD Start",
		slog.Float64("Time", c.dev.now()),
		slog.String("Channel", c.Name()),
		slog.String("BD", t.name),
	)

	c.pos = 0
	c.phase = phaseTransfer

	return true
}

func (c *dmaChannel) move(t *transfer) bool {
	if c.pos == len(c.addrs) {
		c.phase = phaseRelease
		return true
	}

	mem := t.mem.words()
	addr := c.addrs[c.pos]

	if c.id.Direction == npu.MM2S {
		out, ok := c.dev.outbox[c.id]
		if !ok {
			c.dev.fail(errors.Wrapf(ErrNoFlow, "%s", c.Name()))
			return false
		}

		if !out.canPush() {
			return false
		}

		out.push(mem[addr])
	} else {
		in, ok := c.dev.inbox[c.id]
		if !ok {
			c.dev.fail(errors.Wrapf(ErrNoFlow, "%s", c.Name()))
			return false
		}

		if in.empty() {
			return false
		}

		mem[addr] = in.pop()
	}

	c.pos++
	c.moved++
	if c.pos == len(c.addrs) {
		c.phase = phaseRelease
	}

	return true
}

func (c *dmaChannel) release(t *transfer) bool {
	if r := t.release; r.ok {
		if err := c.dev.locks.Release(c.Name(), r.tile, r.id, r.value); err != nil {
			c.dev.fail(err)
			return false
		}
	}

	t.runs++
	c.advance()

	return true
}

func (c *dmaChannel) advance() {
	c.phase = phaseAcquire
	c.idx++

	if c.idx < len(c.cur.transfers) {
		return
	}

	if c.cur.loopTo >= 0 {
		c.idx = c.cur.loopTo
		return
	}

	c.round++
	if c.cur.rounds < 0 || c.round < c.cur.rounds {
		c.idx = 0
		return
	}

	Trace("DMA Task Done",
		slog.Float64("Time", c.dev.now()),
		slog.String("Channel", c.Name()),
		slog.Bool("Token", c.cur.token),
	)

	if c.cur.token {
		c.dev.tokens[c.id]++
	}

	c.cur = nil
}
