package emu

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/design"
)

type frame struct {
	ops  []design.Op
	pc   int
	left int // iterations left including the current one; negative is forever
}

// coreUnit runs the body of one compute core, one operation per cycle.
// Kernel calls complete in a single cycle.
type coreUnit struct {
	*sim.TickingComponent

	dev   *Device
	body  *design.CoreBody
	stack []frame
	calls int
}

func newCoreUnit(dev *Device, body *design.CoreBody, freq sim.Freq) *coreUnit {
	c := &coreUnit{dev: dev, body: body}
	name := fmt.Sprintf("%s.Tile[%d][%d].Core", dev.name, body.Tile.Col, body.Tile.Row)
	c.TickingComponent = sim.NewTickingComponent(name, dev.engine, freq, c)
	c.stack = []frame{{ops: body.Ops, left: 1}}

	return c
}

func (c *coreUnit) bind() error {
	return c.bindOps(c.body.Ops)
}

func (c *coreUnit) bindOps(ops []design.Op) error {
	for _, o := range ops {
		switch o.Kind {
		case design.OpCall:
			if _, ok := c.dev.kernels[o.Kernel]; !ok {
				return errors.Wrapf(ErrUnboundKernel, "%s calls %s", c.Name(), o.Kernel)
			}
		case design.OpLoop:
			if err := c.bindOps(o.Body); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *coreUnit) busy() bool {
	return len(c.stack) > 0
}

// Tick runs the next operation.
func (c *coreUnit) Tick() bool {
	if c.dev.stopped() {
		return false
	}

	progress := c.step()
	if progress {
		c.dev.wakeAll()
	}

	return progress
}

// top unwinds finished frames and returns the frame to run, or nil when the
// body has finished.
func (c *coreUnit) top() *frame {
	for len(c.stack) > 0 {
		f := &c.stack[len(c.stack)-1]
		if f.pc < len(f.ops) {
			return f
		}

		if f.left > 0 {
			f.left--
		}

		if f.left != 0 {
			f.pc = 0
			continue
		}

		c.stack = c.stack[:len(c.stack)-1]
	}

	return nil
}

func (c *coreUnit) step() bool {
	f := c.top()
	if f == nil {
		return false
	}

	op := f.ops[f.pc]

	switch op.Kind {
	case design.OpLock:
		u := op.Lock
		if u.Action.IsAcquire() {
			ok, err := c.dev.locks.TryAcquire(c.Name(), u.Lock.Tile, u.Lock.ID, u.Action, u.Amount())
			if err != nil {
				c.dev.fail(err)
				return false
			}

			if !ok {
				return false
			}
		} else if err := c.dev.locks.Release(c.Name(), u.Lock.Tile, u.Lock.ID, u.Amount()); err != nil {
			c.dev.fail(err)
			return false
		}
	case design.OpCall:
		if err := c.call(op); err != nil {
			c.dev.fail(err)
			return false
		}
	case design.OpLoop:
		f.pc++
		if len(op.Body) > 0 {
			left := op.Count
			if left == 0 {
				left = -1
			}

			c.stack = append(c.stack, frame{ops: op.Body, left: left})
		}

		return true
	}

	f.pc++

	return true
}

func (c *coreUnit) call(op design.Op) error {
	fn, ok := c.dev.kernels[op.Kernel]
	if !ok {
		return errors.Wrapf(ErrUnboundKernel, "%s calls %s", c.Name(), op.Kernel)
	}

	args := make([][]uint32, len(op.Args))
	for i, b := range op.Args {
		args[i] = c.dev.tiles[b]
	}

	Trace("Core Call",
		slog.Float64("Time", c.dev.now()),
		slog.String("Core", c.Name()),
		slog.String("Kernel", op.Kernel),
	)

	c.calls++

	return errors.Wrapf(fn(args), "%s: kernel %s", c.Name(), op.Kernel)
}
