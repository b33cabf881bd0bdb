// Package api defines the driver API that loads instruction streams onto a
// device and moves tensors between the host and the device.
package api

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/config"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/emu"
)

var (
	// ErrTimeout is returned by Wait when the device did not finish in time.
	// The driver never retries.
	ErrTimeout = emu.ErrTimeout

	// ErrDeadlock is returned by Wait when the device stalled before
	// finishing.
	ErrDeadlock = emu.ErrDeadlock

	// ErrNotLoaded is returned when no artifact has been loaded.
	ErrNotLoaded = errors.New("no artifact loaded")

	// ErrNotRunning is returned by Wait when nothing was started.
	ErrNotRunning = errors.New("nothing running")

	// ErrDuplicateBuffer is returned when a buffer name is allocated twice.
	ErrDuplicateBuffer = errors.New("buffer already allocated")
)

// Artifact is the packaged binary side of a program: the design it
// configures and the implementations of its kernels.
type Artifact struct {
	ID      uuid.UUID
	Design  *design.Design
	Kernels map[string]emu.KernelFunc
}

// NewArtifact packages a design.
func NewArtifact(d *design.Design) *Artifact {
	return &Artifact{
		ID:      uuid.New(),
		Design:  d,
		Kernels: make(map[string]emu.KernelFunc),
	}
}

// WithKernel adds a kernel implementation.
func (a *Artifact) WithKernel(name string, fn emu.KernelFunc) *Artifact {
	a.Kernels[name] = fn
	return a
}

// BufferObject is a host tensor the device can reach. Data is the host
// copy; the Sync calls of the driver move it.
type BufferObject struct {
	Name  string
	Addr  uint64
	Bytes int
	Data  []uint32
}

// Driver provides the interface to control an accelerator.
type Driver interface {
	// Session identifies the driver instance.
	Session() uuid.UUID

	// Load configures the device with an artifact. Buffers allocated before
	// are released.
	Load(a *Artifact) error

	// AllocBuffer reserves a device-visible host buffer.
	AllocBuffer(name string, bytes int) (*BufferObject, error)

	// SyncToDevice copies the host data of a buffer to the device.
	SyncToDevice(bo *BufferObject) error

	// SyncFromDevice copies the device data of a buffer to its host copy.
	SyncFromDevice(bo *BufferObject) error

	// Run starts an instruction stream.
	Run(insts []uint32) error

	// Wait blocks until the started streams finish or timeout passes.
	Wait(timeout time.Duration) error
}

type driverImpl struct {
	name      string
	session   uuid.UUID
	engine    sim.Engine
	freq      sim.Freq
	monitor   *monitoring.Monitor
	fifoDepth int

	artifact *Artifact
	device   *emu.Device
	bos      map[string]*BufferObject
	running  bool
}

func (d *driverImpl) Session() uuid.UUID {
	return d.session
}

func (d *driverImpl) Load(a *Artifact) error {
	dev, err := config.DeviceBuilder{}.
		WithEngine(d.engine).
		WithFreq(d.freq).
		WithMonitor(d.monitor).
		WithFIFODepth(d.fifoDepth).
		Build(d.name+".Device", a.Design)
	if err != nil {
		return errors.Wrapf(err, "load artifact %s", a.ID)
	}

	for name, fn := range a.Kernels {
		dev.BindKernel(name, fn)
	}

	d.artifact = a
	d.device = dev
	d.bos = make(map[string]*BufferObject)
	d.running = false

	slog.Info("Load",
		slog.String("Session", d.session.String()),
		slog.String("Artifact", a.ID.String()),
		slog.String("Design", a.Design.Name),
	)

	return nil
}

func (d *driverImpl) AllocBuffer(name string, bytes int) (*BufferObject, error) {
	if d.device == nil {
		return nil, ErrNotLoaded
	}

	if _, dup := d.bos[name]; dup {
		return nil, errors.Wrapf(ErrDuplicateBuffer, "%s", name)
	}

	bo := &BufferObject{
		Name:  name,
		Addr:  d.device.Host().Alloc(bytes),
		Bytes: bytes,
		Data:  make([]uint32, (bytes+3)/4),
	}
	d.bos[name] = bo

	slog.Debug("AllocBuffer",
		slog.String("Name", name),
		slog.String("Size", humanize.IBytes(uint64(bytes))),
		slog.Uint64("Addr", bo.Addr),
	)

	return bo, nil
}

func (d *driverImpl) SyncToDevice(bo *BufferObject) error {
	if d.device == nil {
		return ErrNotLoaded
	}

	return d.device.Host().Write(bo.Addr, bo.Data)
}

func (d *driverImpl) SyncFromDevice(bo *BufferObject) error {
	if d.device == nil {
		return ErrNotLoaded
	}

	data, err := d.device.Host().Read(bo.Addr, len(bo.Data))
	if err != nil {
		return err
	}

	copy(bo.Data, data)

	return nil
}

func (d *driverImpl) Run(insts []uint32) error {
	if d.device == nil {
		return ErrNotLoaded
	}

	if err := d.device.Load(insts); err != nil {
		return err
	}

	d.running = true

	return nil
}

func (d *driverImpl) Wait(timeout time.Duration) error {
	if !d.running {
		return ErrNotRunning
	}

	start := d.engine.CurrentTime()
	err := d.device.Run(timeout)
	d.running = false

	slog.Info("Wait",
		slog.String("Session", d.session.String()),
		slog.Float64("SimulatedNS", float64((d.engine.CurrentTime()-start)*1e9)),
		slog.Any("Error", err),
	)

	return err
}
