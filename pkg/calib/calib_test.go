package calib

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itohio/phx/pkg/calstore"
	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probeVolts is a reader whose level can be changed while the runner runs.
type probeVolts struct{ bits atomic.Uint64 }

func (p *probeVolts) set(mV float64) { p.bits.Store(uint64(mV * 1000)) }

func (p *probeVolts) ReadChannel(int) float64 { return float64(p.bits.Load()) / 1e6 }

var fastCapture = phx.CaptureOptions{Samples: 2, Delay: time.Millisecond, Threshold: 0.5, MaxAttempts: 3}

func setup(t *testing.T) (*Calibrator, *probeVolts, *calstore.Store) {
	t.Helper()
	volts := &probeVolts{}
	r, err := sampler.New([]sampler.Probe{{
		Name:    "tank",
		Channel: phx.New(volts, phx.Config{Capture: fastCapture}),
		Request: phx.Request{Kind: phx.Acidity, Samples: 2},
	}}, sampler.Options{Tick: time.Millisecond})
	require.NoError(t, err)

	store, err := calstore.Open(filepath.Join(t.TempDir(), "cal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(cancel)
	return New(r, store), volts, store
}

func TestCapture_TwoPoints(t *testing.T) {
	c, volts, store := setup(t)
	ctx := context.Background()

	volts.set(170)
	p, done, err := c.Capture(ctx, "tank", 1, 7)
	require.NoError(t, err)
	assert.False(t, done)
	assert.InDelta(t, 170, p.Millivolts, 1e-6)

	pend := c.Pending("tank")
	assert.Equal(t, [2]bool{true, false}, pend.Captured)

	volts.set(0)
	_, done, err = c.Capture(ctx, "tank", 2, 4)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, Pending{}, c.Pending("tank"))

	cal, err := c.Get(ctx, "tank")
	require.NoError(t, err)
	assert.InDelta(t, 170, cal.Ref1.Millivolts, 1e-6)
	assert.Equal(t, 4.0, cal.Ref2.Value)

	saved, err := store.Load("tank", phx.Acidity)
	require.NoError(t, err)
	assert.InDelta(t, 170, saved.Ref1.Millivolts, 1e-3)
}

func TestCapture_Rejects(t *testing.T) {
	c, volts, _ := setup(t)
	ctx := context.Background()

	_, _, err := c.Capture(ctx, "tank", 3, 7)
	assert.ErrorIs(t, err, ErrPoint)
	_, _, err = c.Capture(ctx, "nope", 1, 7)
	assert.ErrorIs(t, err, sampler.ErrUnknownProbe)

	// both points at the same voltage cannot form a record
	volts.set(100)
	_, _, err = c.Capture(ctx, "tank", 1, 7)
	require.NoError(t, err)
	_, done, err := c.Capture(ctx, "tank", 2, 4)
	assert.ErrorIs(t, err, calstore.ErrInvalid)
	assert.False(t, done)
	assert.Equal(t, [2]bool{true, true}, c.Pending("tank").Captured)
}

func TestApplyAndReset(t *testing.T) {
	c, _, store := setup(t)
	ctx := context.Background()

	cal := phx.Calibration{Ref1: phx.Point{Millivolts: 0, Value: 4}, Ref2: phx.Point{Millivolts: 100, Value: 7}}
	require.NoError(t, c.Apply(ctx, "tank", cal))
	_, err := store.Load("tank", phx.Acidity)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Apply(ctx, "tank", phx.Calibration{}), calstore.ErrInvalid)

	require.NoError(t, c.Reset(ctx, "tank"))
	got, err := c.Get(ctx, "tank")
	require.NoError(t, err)
	assert.Equal(t, phx.DefaultCalibration(phx.Acidity), got)
	_, err = store.Load("tank", phx.Acidity)
	assert.ErrorIs(t, err, calstore.ErrNotFound)
}
