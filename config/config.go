// Package config provides a default configuration for the emulated NPU and
// loads designs from YAML.
package config

import (
	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/emu"
)

// DeviceBuilder can build emulated devices.
type DeviceBuilder struct {
	engine    sim.Engine
	freq      sim.Freq
	monitor   *monitoring.Monitor
	fifoDepth int
	hostBytes uint64
}

// WithEngine sets the engine that drives the device simulation.
func (d DeviceBuilder) WithEngine(engine sim.Engine) DeviceBuilder {
	d.engine = engine
	return d
}

// WithFreq sets the frequency of the device.
func (d DeviceBuilder) WithFreq(freq sim.Freq) DeviceBuilder {
	d.freq = freq
	return d
}

// WithMonitor registers every component of the device with the monitor.
func (d DeviceBuilder) WithMonitor(monitor *monitoring.Monitor) DeviceBuilder {
	d.monitor = monitor
	return d
}

// WithFIFODepth sets how many words each receive channel buffers.
func (d DeviceBuilder) WithFIFODepth(depth int) DeviceBuilder {
	d.fifoDepth = depth
	return d
}

// WithHostMemory sets the initial host memory size in bytes.
func (d DeviceBuilder) WithHostMemory(bytes uint64) DeviceBuilder {
	d.hostBytes = bytes
	return d
}

// Build creates a device running the design.
func (d DeviceBuilder) Build(name string, des *design.Design) (*emu.Device, error) {
	freq := d.freq
	if freq == 0 {
		freq = 1 * sim.GHz
	}

	dev, err := emu.Builder{}.
		WithEngine(d.engine).
		WithFreq(freq).
		WithFIFODepth(d.fifoDepth).
		WithHostMemory(d.hostBytes).
		Build(name, des)
	if err != nil {
		return nil, err
	}

	if d.monitor != nil {
		for _, c := range dev.Components() {
			d.monitor.RegisterComponent(c)
		}
	}

	return dev, nil
}
