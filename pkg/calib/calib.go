// Package calib runs the two-point calibration workflow shared by the HTTP
// API, the console and the reef-pi pins.
package calib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/itohio/phx/pkg/calstore"
	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/sampler"
)

var ErrPoint = errors.New("calibration point must be 1 or 2")

// Runner is the part of sampler.Runner the calibrator uses.
type Runner interface {
	Probe(name string) (sampler.Probe, bool)
	Do(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
	DoIdle(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
}

// Store persists records. *calstore.Store implements it.
type Store interface {
	Save(probe string, k phx.Kind, cal phx.Calibration) error
	Delete(probe string, k phx.Kind) error
}

// Pending holds the points captured so far for a probe.
type Pending struct {
	Points   [2]phx.Point `json:"points"`
	Captured [2]bool      `json:"captured"`
}

// Calibrator captures reference points and installs completed records.
type Calibrator struct {
	runner Runner
	store  Store

	mu      sync.Mutex
	pending map[string]*Pending
}

// New creates a calibrator. store may be nil, in which case records are only
// applied to the channels.
func New(r Runner, store Store) *Calibrator {
	return &Calibrator{
		runner:  r,
		store:   store,
		pending: make(map[string]*Pending),
	}
}

func (c *Calibrator) kind(probe string) (phx.Kind, error) {
	p, ok := c.runner.Probe(probe)
	if !ok {
		return 0, fmt.Errorf("%s: %w", probe, sampler.ErrUnknownProbe)
	}
	return p.Request.Kind, nil
}

// Capture waits for the probe to settle in a reference solution and records
// the voltage as point 1 or 2 with the given value. When both points are
// captured the record is applied and done is true.
func (c *Calibrator) Capture(ctx context.Context, probe string, point int, value float64) (p phx.Point, done bool, err error) {
	if point != 1 && point != 2 {
		return p, false, ErrPoint
	}
	k, err := c.kind(probe)
	if err != nil {
		return p, false, err
	}

	var mV float64
	err = c.runner.DoIdle(ctx, probe, func(ch *phx.Channel) error {
		var err error
		mV, err = ch.CaptureStablePoint(ctx, k)
		return err
	})
	if err != nil {
		return p, false, fmt.Errorf("%s: point %d: %w", probe, point, err)
	}
	p = phx.Point{Millivolts: mV, Value: value}
	log.Printf("calib: %s point %d: %.2f mV = %g %s", probe, point, mV, value, k.Unit())

	c.mu.Lock()
	pend, ok := c.pending[probe]
	if !ok {
		pend = &Pending{}
		c.pending[probe] = pend
	}
	pend.Points[point-1] = p
	pend.Captured[point-1] = true
	complete := pend.Captured[0] && pend.Captured[1]
	cal := phx.Calibration{Ref1: pend.Points[0], Ref2: pend.Points[1]}
	c.mu.Unlock()

	if !complete {
		return p, false, nil
	}
	if err := c.Apply(ctx, probe, cal); err != nil {
		return p, false, err
	}
	c.mu.Lock()
	delete(c.pending, probe)
	c.mu.Unlock()
	return p, true, nil
}

// Pending returns the points captured so far for probe.
func (c *Calibrator) Pending(probe string) Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[probe]; ok {
		return *p
	}
	return Pending{}
}

// Apply validates cal, installs it on the probe and persists it.
func (c *Calibrator) Apply(ctx context.Context, probe string, cal phx.Calibration) error {
	k, err := c.kind(probe)
	if err != nil {
		return err
	}
	if err := calstore.Validate(k, cal); err != nil {
		return fmt.Errorf("%s: %w", probe, err)
	}
	err = c.runner.DoIdle(ctx, probe, func(ch *phx.Channel) error {
		ch.SetCalibration(k, cal)
		return nil
	})
	if err != nil {
		return err
	}
	if c.store != nil {
		if err := c.store.Save(probe, k, cal); err != nil {
			return fmt.Errorf("%s: save calibration: %w", probe, err)
		}
	}
	log.Printf("calib: %s: %+v applied", probe, cal)
	return nil
}

// Get returns the record in use by probe.
func (c *Calibrator) Get(ctx context.Context, probe string) (phx.Calibration, error) {
	k, err := c.kind(probe)
	if err != nil {
		return phx.Calibration{}, err
	}
	var cal phx.Calibration
	err = c.runner.Do(ctx, probe, func(ch *phx.Channel) error {
		cal = ch.Calibration(k)
		return nil
	})
	return cal, err
}

// Reset drops pending points and the stored record and restores the default
// calibration.
func (c *Calibrator) Reset(ctx context.Context, probe string) error {
	k, err := c.kind(probe)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.pending, probe)
	c.mu.Unlock()

	err = c.runner.DoIdle(ctx, probe, func(ch *phx.Channel) error {
		ch.SetCalibration(k, phx.DefaultCalibration(k))
		return nil
	})
	if err != nil {
		return err
	}
	if c.store != nil {
		return c.store.Delete(probe, k)
	}
	return nil
}
