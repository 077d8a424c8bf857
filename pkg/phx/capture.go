package phx

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrBusy is returned by the blocking helpers when a cycle is in flight.
	ErrBusy = errors.New("phx: channel busy")
	// ErrCalibrationTimeout is returned when no stable pair of readings was
	// found within the attempt budget.
	ErrCalibrationTimeout = errors.New("phx: calibration timeout")
)

// CaptureOptions tunes CaptureStablePoint.
type CaptureOptions struct {
	Samples   int           `yaml:"samples"`
	Delay     time.Duration `yaml:"delay"`
	Settle    time.Duration `yaml:"settle"`
	Threshold float64       `yaml:"threshold"`
	// MaxAttempts bounds the number of reading pairs. Zero selects the
	// default of 20. A negative value leaves the context as the only limit.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultCaptureOptions returns 100 samples 10 ms apart, 500 ms settle time
// and a 0.5 mV stability threshold, giving up after 20 pairs.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		Samples:     100,
		Delay:       10 * time.Millisecond,
		Settle:      500 * time.Millisecond,
		Threshold:   0.5,
		MaxAttempts: 20,
	}
}

func (o CaptureOptions) withDefaults() CaptureOptions {
	d := DefaultCaptureOptions()
	if o == (CaptureOptions{}) {
		return d
	}
	if o.Samples <= 0 {
		o.Samples = d.Samples
	}
	if o.Delay <= 0 {
		o.Delay = d.Delay
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.Threshold <= 0 {
		o.Threshold = d.Threshold
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	return o
}

// CaptureOptions returns the effective capture settings.
func (c *Channel) CaptureOptions() CaptureOptions { return c.capture }

// pauseStep bounds a single sleep so cancellation is noticed promptly.
const pauseStep = 10 * time.Millisecond

func (c *Channel) pause(ctx context.Context, d time.Duration) error {
	for d > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := min(d, pauseStep)
		c.sleep(step)
		d -= step
	}
	return ctx.Err()
}

// Measure runs one cycle to completion and returns its output.
func (c *Channel) Measure(ctx context.Context, req Request) (float64, ErrorKind, error) {
	if c.state != Idle {
		return 0, None, ErrBusy
	}
	c.StartCycle(req)
	for c.state != Idle {
		if err := ctx.Err(); err != nil {
			c.Cancel()
			return 0, None, err
		}
		c.Advance()
		if wait := c.untilDue(); wait > 0 {
			if err := c.pause(ctx, wait); err != nil {
				c.Cancel()
				return 0, None, err
			}
		}
	}
	return c.lastValue, c.lastError, nil
}

// CaptureStablePoint measures the probe voltage of kind until two readings
// taken one settle period apart agree within the threshold, and returns their
// mean in mV. Calibration is bypassed so an already calibrated probe can be
// recalibrated.
func (c *Channel) CaptureStablePoint(ctx context.Context, kind Kind) (float64, error) {
	if c.state != Idle {
		return 0, ErrBusy
	}
	opts := c.capture
	req := Request{Kind: kind, Samples: opts.Samples, Delay: opts.Delay, AvgDepth: 1, Raw: true}

	for attempt := 0; opts.MaxAttempts < 0 || attempt < opts.MaxAttempts; attempt++ {
		first, _, err := c.Measure(ctx, req)
		if err != nil {
			return 0, err
		}
		if err := c.pause(ctx, opts.Settle); err != nil {
			return 0, err
		}
		second, _, err := c.Measure(ctx, req)
		if err != nil {
			return 0, err
		}
		mean := (first + second) / 2
		if math.Abs(first-mean) < opts.Threshold && math.Abs(second-mean) < opts.Threshold {
			return mean, nil
		}
	}
	c.lastError = CalibrationTimeout
	return 0, ErrCalibrationTimeout
}
