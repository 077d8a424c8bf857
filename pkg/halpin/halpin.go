// Package halpin exposes probes as reef-pi analog input pins.
//
// The phx daemon does not use it. A reef-pi host embeds the probes by
// building a sampler.Runner and a calib.Calibrator and registering the
// Driver returned by New.
package halpin

import (
	"context"
	"fmt"
	"time"

	"github.com/itohio/phx/pkg/calib"
	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/sampler"
	"github.com/reef-pi/hal"
)

const (
	driverName     = "phx"
	measureTimeout = 30 * time.Second
)

// Runner is the part of sampler.Runner the driver uses.
type Runner interface {
	Names() []string
	Probe(name string) (sampler.Probe, bool)
	Latest(name string) (sampler.Reading, bool)
	DoIdle(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
}

// TemperatureSetter is implemented by pins accepting the water temperature
// used for pH compensation.
type TemperatureSetter interface {
	SetTemperatureC(tempC float64) error
}

var (
	_ hal.AnalogInputDriver = (*Driver)(nil)
	_ hal.AnalogInputPin    = (*Pin)(nil)
	_ TemperatureSetter     = (*Pin)(nil)
)

// Driver provides one analog input pin per probe.
type Driver struct {
	meta hal.Metadata
	pins []*Pin
}

// New builds the driver over every probe of r. Calibrations go through cal.
func New(r Runner, cal *calib.Calibrator) *Driver {
	d := &Driver{
		meta: hal.Metadata{
			Name:         driverName,
			Description:  "ADS1015 pH/ORP probes",
			Capabilities: []hal.Capability{hal.AnalogInput},
		},
	}
	for i, name := range r.Names() {
		p, _ := r.Probe(name)
		d.pins = append(d.pins, &Pin{
			runner: r,
			cal:    cal,
			name:   name,
			number: i,
			req:    p.Request,
			meta:   d.meta,
		})
	}
	return d
}

func (d *Driver) Name() string           { return driverName }
func (d *Driver) Metadata() hal.Metadata { return d.meta }
func (d *Driver) Close() error           { return nil }

// Pins returns pins for the requested capability.
func (d *Driver) Pins(cap hal.Capability) ([]hal.Pin, error) {
	if cap != hal.AnalogInput {
		return nil, fmt.Errorf("unsupported capability: %s", cap.String())
	}
	pins := make([]hal.Pin, len(d.pins))
	for i, p := range d.pins {
		pins[i] = p
	}
	return pins, nil
}

func (d *Driver) AnalogInputPins() []hal.AnalogInputPin {
	pins := make([]hal.AnalogInputPin, len(d.pins))
	for i, p := range d.pins {
		pins[i] = p
	}
	return pins
}

// AnalogInputPin returns pin n.
func (d *Driver) AnalogInputPin(n int) (hal.AnalogInputPin, error) {
	if n < 0 || n >= len(d.pins) {
		return nil, fmt.Errorf("%s: no analog input pin %d", driverName, n)
	}
	return d.pins[n], nil
}

// Pin is one probe.
type Pin struct {
	runner Runner
	cal    *calib.Calibrator
	name   string
	number int
	req    phx.Request
	meta   hal.Metadata
}

func (p *Pin) Name() string           { return p.name }
func (p *Pin) Number() int            { return p.number }
func (p *Pin) Close() error           { return nil }
func (p *Pin) Metadata() hal.Metadata { return p.meta }

// Value returns the latest scheduled reading, measuring one if none exists.
func (p *Pin) Value() (float64, error) {
	if r, ok := p.runner.Latest(p.name); ok {
		return r.Value, nil
	}
	return p.Measure()
}

// Measure runs one cycle with the probe's request.
func (p *Pin) Measure() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), measureTimeout)
	defer cancel()

	var v float64
	err := p.runner.DoIdle(ctx, p.name, func(ch *phx.Channel) error {
		var err error
		v, _, err = ch.Measure(ctx, p.req)
		return err
	})
	return v, err
}

// Calibrate takes exactly two measurements, Observed in mV and Expected in
// the probe's unit, and installs them as the two-point calibration.
func (p *Pin) Calibrate(ms []hal.Measurement) error {
	if len(ms) != 2 {
		return fmt.Errorf("%s: two point calibration needs 2 measurements, got %d", p.name, len(ms))
	}
	cal := phx.Calibration{
		Ref1: phx.Point{Millivolts: ms[0].Observed, Value: ms[0].Expected},
		Ref2: phx.Point{Millivolts: ms[1].Observed, Value: ms[1].Expected},
	}
	ctx, cancel := context.WithTimeout(context.Background(), measureTimeout)
	defer cancel()
	return p.cal.Apply(ctx, p.name, cal)
}

// SetTemperatureC updates the compensation temperature of the probe.
func (p *Pin) SetTemperatureC(tempC float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), measureTimeout)
	defer cancel()
	return p.runner.DoIdle(ctx, p.name, func(ch *phx.Channel) error {
		ch.SetTemperature(tempC)
		if ch.LastError() == phx.TemperatureInvalid {
			return fmt.Errorf("%s: invalid temperature %g", p.name, tempC)
		}
		return nil
	})
}
