// Package emu emulates the data movement of a design on an akita engine.
//
// Every DMA channel, compute core and the shim instruction controller is a
// ticking component. Tile memory holds one 32-bit word per buffer element.
// Host memory is byte addressed and word aligned.
package emu

import (
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/isa"
	"github.com/sarchlab/npudma/npu"
)

var (
	// ErrTimeout is returned when the instruction stream did not finish
	// before the deadline.
	ErrTimeout = errors.New("timed out")

	// ErrDeadlock is returned when nothing can make progress and the
	// instruction stream has not finished.
	ErrDeadlock = errors.New("deadlock")

	// ErrLockOverflow is returned when a lock count would leave its range.
	ErrLockOverflow = errors.New("lock count out of range")

	// ErrNoFlow is returned when a channel moves data without a flow.
	ErrNoFlow = errors.New("channel has no flow")

	// ErrOutOfMemory is returned when a transfer leaves its memory.
	ErrOutOfMemory = errors.New("transfer out of memory")

	// ErrUnboundKernel is returned when a core calls a kernel without an
	// implementation.
	ErrUnboundKernel = errors.New("kernel has no implementation")

	// ErrBadRegister is returned for a write to a register the emulator does
	// not model.
	ErrBadRegister = errors.New("unknown register")

	// ErrInvalidName is returned when a device name does not follow the
	// akita naming convention, capitalized dot-separated elements.
	ErrInvalidName = errors.New("invalid device name")
)

// KernelFunc implements a kernel. Each argument is the storage of one buffer.
type KernelFunc func(args [][]uint32) error

// Builder creates devices.
type Builder struct {
	engine    sim.Engine
	freq      sim.Freq
	fifoDepth int
	hostBytes uint64
}

// WithEngine sets the engine.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of every component.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithFIFODepth sets how many words a receive channel buffers.
func (b Builder) WithFIFODepth(depth int) Builder {
	b.fifoDepth = depth
	return b
}

// WithHostMemory sets the size of host memory in bytes.
func (b Builder) WithHostMemory(bytes uint64) Builder {
	b.hostBytes = bytes
	return b
}

// Build creates a device running the design.
func (b Builder) Build(name string, d *design.Design) (*Device, error) {
	if b.engine == nil {
		return nil, errors.New("emu: no engine")
	}

	if msg := exceptions.TryCatch[string](func() { sim.NameMustBeValid(name) }); msg != "" {
		return nil, errors.Wrap(ErrInvalidName, msg)
	}

	if b.freq == 0 {
		b.freq = 1 * sim.GHz
	}

	if b.fifoDepth <= 0 {
		b.fifoDepth = 4
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	dev := &Device{
		name:    name,
		engine:  b.engine,
		design:  d,
		model:   d.Model,
		locks:   newLockBank(d.Model, d.Locks.All()),
		host:    NewHostMemory(b.hostBytes),
		tiles:   make(map[*npu.Buffer][]uint32),
		inbox:   make(map[npu.Channel]*fifo),
		outbox:  make(map[npu.Channel]*fanout),
		dmas:    make(map[npu.Channel]*dmaChannel),
		kernels: make(map[string]KernelFunc),
		tokens:  make(map[npu.Channel]int),
	}

	for _, buf := range d.Buffers() {
		dev.tiles[buf] = make([]uint32, buf.Len())
	}

	for _, f := range d.Flows.All() {
		in, ok := dev.inbox[f.DestEnd()]
		if !ok {
			in = &fifo{depth: b.fifoDepth}
			dev.inbox[f.DestEnd()] = in
		}

		out, ok := dev.outbox[f.SourceEnd()]
		if !ok {
			out = &fanout{}
			dev.outbox[f.SourceEnd()] = out
		}

		out.dests = append(out.dests, in)
	}

	for _, ch := range dev.channels() {
		dma := newDMAChannel(dev, ch, b.freq)
		dev.dmas[ch] = dma
		dev.components = append(dev.components, dma)
	}

	for _, p := range d.Programs() {
		c, err := dev.programChain(p)
		if err != nil {
			return nil, err
		}

		if len(c.transfers) > 0 {
			dev.dmas[p.ChannelID()].enqueue(c)
		}
	}

	for _, body := range d.Cores() {
		c := newCoreUnit(dev, body, b.freq)
		dev.cores = append(dev.cores, c)
		dev.components = append(dev.components, c)
	}

	dev.ctrl = newController(dev, b.freq)
	dev.components = append(dev.components, dev.ctrl)

	return dev, nil
}

// Device is an emulated device running one design.
type Device struct {
	name   string
	engine sim.Engine
	design *design.Design
	model  npu.DeviceModel

	locks   *LockBank
	host    *HostMemory
	tiles   map[*npu.Buffer][]uint32
	inbox   map[npu.Channel]*fifo
	outbox  map[npu.Channel]*fanout
	tokens  map[npu.Channel]int
	kernels map[string]KernelFunc

	dmas       map[npu.Channel]*dmaChannel
	cores      []*coreUnit
	ctrl       *controller
	components []sim.Component

	deadline sim.VTimeInSec
	err      error
}

// channels lists every DMA channel of the device in a fixed order.
func (d *Device) channels() []npu.Channel {
	var out []npu.Channel
	for _, t := range d.model.Tiles() {
		for _, dir := range []npu.Direction{npu.MM2S, npu.S2MM} {
			for i := 0; i < d.model.Channels(t); i++ {
				out = append(out, npu.Channel{Tile: t, Direction: dir, Index: i})
			}
		}
	}

	return out
}

// Name returns the name of the device.
func (d *Device) Name() string {
	return d.name
}

// Locks returns the lock bank.
func (d *Device) Locks() *LockBank {
	return d.locks
}

// Host returns host memory.
func (d *Device) Host() *HostMemory {
	return d.host
}

// Components returns every ticking component, for monitoring.
func (d *Device) Components() []sim.Component {
	return d.components
}

// Buffer returns the storage of a tile buffer.
func (d *Device) Buffer(name string) ([]uint32, bool) {
	buf, ok := d.design.LookupBuffer(name)
	if !ok {
		return nil, false
	}

	return d.tiles[buf], true
}

// BindKernel implements a kernel declared by the design.
func (d *Device) BindKernel(name string, fn KernelFunc) {
	d.kernels[name] = fn
}

// Load parses an instruction stream and queues it after anything loaded
// before.
func (d *Device) Load(stream []uint32) error {
	insts, err := isa.Parse(stream)
	if err != nil {
		return err
	}

	d.ctrl.insts = append(d.ctrl.insts, insts...)

	return nil
}

// Done reports whether every loaded instruction has completed.
func (d *Device) Done() bool {
	return d.ctrl.done()
}

// Run runs the engine until the loaded instructions complete, nothing can
// make progress, or timeout of simulated time passes.
func (d *Device) Run(timeout time.Duration) error {
	for _, c := range d.cores {
		if err := c.bind(); err != nil {
			return err
		}
	}

	d.deadline = d.engine.CurrentTime() + sim.VTimeInSec(timeout.Seconds())
	d.wakeAll()

	if err := d.engine.Run(); err != nil {
		return errors.Wrapf(err, "%s", d.name)
	}

	switch {
	case d.err != nil:
		return d.err
	case d.ctrl.done():
		return nil
	case d.expired():
		return errors.Wrapf(ErrTimeout, "%s after %s", d.name, timeout)
	default:
		Trace("Deadlock",
			"channels", "\n"+d.ChannelTable().Render(),
			"locks", "\n"+d.LockTable().Render())

		return errors.Wrapf(ErrDeadlock, "%s: %s", d.name, d.ctrl.blockedOn())
	}
}

func (d *Device) expired() bool {
	return d.engine.CurrentTime() > d.deadline
}

// stopped reports whether components should stop ticking.
func (d *Device) stopped() bool {
	return d.err != nil || d.expired()
}

func (d *Device) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

type waker interface {
	busy() bool
	TickLater()
}

// wakeAll schedules a tick of every component with work left. Components
// stop ticking when blocked and are woken by progress elsewhere.
func (d *Device) wakeAll() {
	for _, c := range d.components {
		if w := c.(waker); w.busy() {
			w.TickLater()
		}
	}
}

func (d *Device) now() float64 {
	return float64(d.engine.CurrentTime() * 1e9)
}
