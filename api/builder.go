package api

import (
	"github.com/google/uuid"
	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"
)

// DriverBuilder creates a new instance of Driver.
type DriverBuilder struct {
	engine    sim.Engine
	freq      sim.Freq
	monitor   *monitoring.Monitor
	fifoDepth int
}

// WithEngine sets the engine.
func (b DriverBuilder) WithEngine(engine sim.Engine) DriverBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the emulated device.
func (b DriverBuilder) WithFreq(freq sim.Freq) DriverBuilder {
	b.freq = freq
	return b
}

// WithMonitor registers loaded devices with the monitor.
func (b DriverBuilder) WithMonitor(monitor *monitoring.Monitor) DriverBuilder {
	b.monitor = monitor
	return b
}

// WithFIFODepth sets the receive buffering of every DMA channel.
func (b DriverBuilder) WithFIFODepth(depth int) DriverBuilder {
	b.fifoDepth = depth
	return b
}

// Build create a driver.
func (b DriverBuilder) Build(name string) Driver {
	if b.engine == nil {
		b.engine = sim.NewSerialEngine()
	}

	return &driverImpl{
		name:      name,
		session:   uuid.New(),
		engine:    b.engine,
		freq:      b.freq,
		monitor:   b.monitor,
		fifoDepth: b.fifoDepth,
		bos:       make(map[string]*BufferObject),
	}
}
