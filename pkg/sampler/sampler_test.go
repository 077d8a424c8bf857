package sampler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itohio/phx/pkg/phx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constReader struct {
	mu    sync.Mutex
	volts float64
}

func (r *constReader) ReadChannel(int) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volts
}

func newProbe(name string, volts float64, interval time.Duration) Probe {
	return Probe{
		Name:     name,
		Channel:  phx.New(&constReader{volts: volts}, phx.Config{}),
		Request:  phx.Request{Kind: phx.Acidity, Samples: 4, AvgDepth: 2},
		Interval: interval,
	}
}

func start(t *testing.T, r *Runner) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return func() {
		cancelCtx()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("runner did not stop")
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]Probe{newProbe("a", 0, 0), newProbe("a", 0, 0)}, Options{})
	assert.Error(t, err)

	_, err = New([]Probe{{Name: "x"}}, Options{})
	assert.Error(t, err)

	r, err := New([]Probe{newProbe("a", 0, 0), newProbe("b", 0, 0)}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	p, ok := r.Probe("b")
	assert.True(t, ok)
	assert.Equal(t, "b", p.Name)
}

func TestRunner_Trigger(t *testing.T) {
	r, err := New([]Probe{newProbe("tank", 0.42, 0)}, Options{Tick: time.Millisecond})
	require.NoError(t, err)

	var got []Reading
	var mu sync.Mutex
	r.OnReading(func(rd Reading) {
		mu.Lock()
		got = append(got, rd)
		mu.Unlock()
	})

	stop := start(t, r)
	defer stop()

	time.Sleep(20 * time.Millisecond)
	_, ok := r.Latest("tank")
	assert.False(t, ok, "no interval, no trigger, no reading")

	require.NoError(t, r.Trigger("tank"))
	assert.Eventually(t, func() bool {
		_, ok := r.Latest("tank")
		return ok
	}, time.Second, 5*time.Millisecond)

	rd, _ := r.Latest("tank")
	assert.Equal(t, "tank", rd.Probe)
	assert.Equal(t, phx.Acidity, rd.Kind)
	assert.InDelta(t, 420.0, rd.Value, 1e-9)
	assert.InDelta(t, 420.0, rd.Smoothed, 1e-9)
	assert.False(t, rd.Ready)
	assert.Equal(t, phx.None, rd.Error)

	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()

	assert.ErrorIs(t, r.Trigger("nope"), ErrUnknownProbe)
}

func TestRunner_Interval(t *testing.T) {
	r, err := New([]Probe{newProbe("a", 0.1, 10*time.Millisecond), newProbe("b", 0.2, 0)}, Options{Tick: time.Millisecond})
	require.NoError(t, err)

	var count atomic.Int32
	r.OnReading(func(rd Reading) {
		if rd.Probe == "a" {
			count.Add(1)
		}
	})

	stop := start(t, r)
	defer stop()

	assert.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, len(r.History("a")), 3)
	assert.Empty(t, r.History("b"))
}

func TestRunner_Do(t *testing.T) {
	r, err := New([]Probe{newProbe("tank", 0.25, 0)}, Options{Tick: time.Millisecond})
	require.NoError(t, err)
	stop := start(t, r)
	defer stop()

	var v float64
	err = r.Do(context.Background(), "tank", func(ch *phx.Channel) error {
		var err error
		v, _, err = ch.Measure(context.Background(), phx.Request{Kind: phx.RedoxPotential, Samples: 3})
		return err
	})
	require.NoError(t, err)
	assert.InDelta(t, 250.0, v, 1e-9)

	sentinel := errors.New("boom")
	err = r.Do(context.Background(), "tank", func(*phx.Channel) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	err = r.Do(context.Background(), "nope", func(*phx.Channel) error { return nil })
	assert.ErrorIs(t, err, ErrUnknownProbe)
}

func TestRunner_DoPreemptsScheduledCycle(t *testing.T) {
	p := newProbe("tank", 0.1, 0)
	p.Request.Delay = time.Hour
	r, err := New([]Probe{p}, Options{Tick: time.Millisecond})
	require.NoError(t, err)
	stop := start(t, r)
	defer stop()

	require.NoError(t, r.Trigger("tank"))
	time.Sleep(20 * time.Millisecond)

	err = r.Do(context.Background(), "tank", func(ch *phx.Channel) error {
		_, _, err := ch.Measure(context.Background(), phx.Request{Samples: 1})
		return err
	})
	assert.ErrorIs(t, err, phx.ErrBusy)

	err = r.DoIdle(context.Background(), "tank", func(ch *phx.Channel) error {
		assert.Equal(t, phx.Idle, ch.State())
		_, _, err := ch.Measure(context.Background(), phx.Request{Samples: 1})
		return err
	})
	assert.NoError(t, err)
}

func TestRunner_Each(t *testing.T) {
	r, err := New([]Probe{newProbe("a", 0, 0), newProbe("b", 0, 0)}, Options{Tick: time.Millisecond})
	require.NoError(t, err)
	stop := start(t, r)
	defer stop()

	require.NoError(t, r.Each(context.Background(), func(_ string, ch *phx.Channel) error {
		ch.SetTemperature(30)
		return nil
	}))

	var temps []float64
	require.NoError(t, r.Each(context.Background(), func(_ string, ch *phx.Channel) error {
		temps = append(temps, ch.Temperature())
		return nil
	}))
	assert.Equal(t, []float64{30, 30}, temps)

	err = r.Each(context.Background(), func(name string, _ *phx.Channel) error {
		return errors.New("fail " + name)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: fail a")
}

func TestRunner_StopCancelsCycles(t *testing.T) {
	p := newProbe("tank", 0.1, time.Millisecond)
	p.Request.Delay = time.Hour
	r, err := New([]Probe{p}, Options{Tick: time.Millisecond})
	require.NoError(t, err)

	var count atomic.Int32
	r.OnReading(func(Reading) { count.Add(1) })

	stop := start(t, r)
	assert.Eventually(t, func() bool {
		var collecting bool
		_ = r.Do(context.Background(), "tank", func(ch *phx.Channel) error {
			collecting = ch.State() == phx.Collecting
			return nil
		})
		return collecting
	}, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, phx.Idle, p.Channel.State())
	assert.Equal(t, int32(0), count.Load())

	err = r.Do(context.Background(), "tank", func(*phx.Channel) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunner_HistoryWindow(t *testing.T) {
	p := newProbe("tank", 0.1, 0)
	r, err := New([]Probe{p}, Options{Window: time.Minute})
	require.NoError(t, err)
	ps := r.byName["tank"]

	t0 := time.Now()
	r.emit(ps, t0)
	r.emit(ps, t0.Add(30*time.Second))
	assert.Len(t, r.History("tank"), 2)

	r.emit(ps, t0.Add(75*time.Second))
	h := r.History("tank")
	require.Len(t, h, 2)
	assert.Equal(t, t0.Add(30*time.Second), h[0].Time)
}
