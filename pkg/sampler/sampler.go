// Package sampler drives a set of probe channels from a single goroutine.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/phx/pkg/phx"
)

const (
	// DefaultTick is the period of the acquisition loop.
	DefaultTick = 5 * time.Millisecond
	// DefaultWindow is how long readings are kept in History.
	DefaultWindow = 10 * time.Minute
)

var (
	ErrUnknownProbe = errors.New("unknown probe")
	ErrStopped      = errors.New("sampler stopped")
)

var _ Sampler = (*Runner)(nil)

// Probe binds a named channel to the request it runs.
type Probe struct {
	Name     string
	Channel  *phx.Channel
	Request  phx.Request
	Interval time.Duration // 0 runs cycles only when triggered
}

// Reading is the outcome of one completed cycle.
type Reading struct {
	Probe    string        `json:"probe"`
	Kind     phx.Kind      `json:"kind"`
	Value    float64       `json:"value"`
	Smoothed float64       `json:"smoothed"`
	Ready    bool          `json:"ready"` // smoothing ring is full
	Error    phx.ErrorKind `json:"error"`
	Time     time.Time     `json:"ts"`
}

// Sampler runs acquisition cycles and reports readings.
type Sampler interface {
	Run(ctx context.Context) error
	Names() []string
	Trigger(name string) error
	Latest(name string) (Reading, bool)
	History(name string) []Reading
	Do(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
	DoIdle(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
	Each(ctx context.Context, fn func(name string, ch *phx.Channel) error) error
	OnReading(func(Reading))
}

// Options tunes a Runner.
type Options struct {
	Tick   time.Duration
	Window time.Duration
}

type probeState struct {
	Probe
	next     time.Time
	inFlight bool
}

type job struct {
	fn   func() error
	done chan error
}

// Runner owns every channel. Channels are only touched from the Run
// goroutine; other goroutines reach them through Do and Each.
type Runner struct {
	probes []*probeState
	byName map[string]*probeState
	tick   time.Duration
	window time.Duration

	jobs    chan job
	stopped chan struct{}

	mu       sync.RWMutex
	pending  map[string]bool
	latest   map[string]Reading
	history  map[string][]Reading
	shutdown bool

	callbacks []func(Reading)
	cbMu      sync.RWMutex
}

// New creates a Runner for probes.
func New(probes []Probe, opts Options) (*Runner, error) {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	r := &Runner{
		byName:  make(map[string]*probeState, len(probes)),
		tick:    opts.Tick,
		window:  opts.Window,
		jobs:    make(chan job),
		stopped: make(chan struct{}),
		pending: make(map[string]bool),
		latest:  make(map[string]Reading),
		history: make(map[string][]Reading),
	}
	for _, p := range probes {
		if p.Name == "" || p.Channel == nil {
			return nil, fmt.Errorf("probe %q: missing name or channel", p.Name)
		}
		if _, ok := r.byName[p.Name]; ok {
			return nil, fmt.Errorf("probe %q: duplicate name", p.Name)
		}
		ps := &probeState{Probe: p}
		r.probes = append(r.probes, ps)
		r.byName[p.Name] = ps
	}
	return r, nil
}

// Run drives the channels until ctx is done. In-flight cycles are cancelled
// on exit and no callbacks are invoked afterwards.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	defer close(r.stopped)

	now := time.Now()
	for _, p := range r.probes {
		p.next = now
	}

	for {
		select {
		case <-ctx.Done():
			r.stop()
			return ctx.Err()
		case j := <-r.jobs:
			j.done <- j.fn()
		case <-ticker.C:
			r.step(time.Now())
		}
	}
}

func (r *Runner) stop() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()

	for _, p := range r.probes {
		if p.inFlight {
			p.Channel.Cancel()
			p.inFlight = false
		}
	}
}

func (r *Runner) step(now time.Time) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]bool)
	r.mu.Unlock()

	for _, p := range r.probes {
		ch := p.Channel
		due := p.Interval > 0 && !now.Before(p.next)
		if !p.inFlight && (pending[p.Name] || due) {
			if ch.State() != phx.Idle {
				// left busy by a Do callback; try again later
				if pending[p.Name] {
					r.Trigger(p.Name)
				}
				continue
			}
			ch.StartCycle(p.Request)
			p.inFlight = true
			if p.Interval > 0 {
				p.next = now.Add(p.Interval)
			}
		}
		if p.inFlight {
			r.advance(p, now)
		}
	}
}

// advance runs the channel for as long as it makes progress without waiting.
func (r *Runner) advance(p *probeState, now time.Time) {
	ch := p.Channel
	for {
		collected, state := ch.Collected(), ch.State()
		ch.Advance()
		if ch.State() == phx.Idle {
			p.inFlight = false
			if ch.IsComplete() {
				r.emit(p, now)
			}
			return
		}
		if ch.Collected() == collected && ch.State() == state {
			return
		}
	}
}

func (r *Runner) emit(p *probeState, now time.Time) {
	smoothed, ready := p.Channel.Smoothed()
	reading := Reading{
		Probe:    p.Name,
		Kind:     p.Request.Kind,
		Value:    p.Channel.LastValue(),
		Smoothed: smoothed,
		Ready:    ready,
		Error:    p.Channel.LastError(),
		Time:     now,
	}

	r.mu.Lock()
	r.latest[p.Name] = reading
	h := append(r.history[p.Name], reading)
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(h) && h[i].Time.Before(cutoff) {
		i++
	}
	r.history[p.Name] = h[i:]
	shouldNotify := !r.shutdown
	r.mu.Unlock()

	if shouldNotify {
		r.notifyCallbacks(reading)
	}
}

// Names returns the probe names in configuration order.
func (r *Runner) Names() []string {
	names := make([]string, len(r.probes))
	for i, p := range r.probes {
		names[i] = p.Name
	}
	return names
}

// Probe returns the configuration of a probe.
func (r *Runner) Probe(name string) (Probe, bool) {
	p, ok := r.byName[name]
	if !ok {
		return Probe{}, false
	}
	return p.Probe, true
}

// Trigger requests a cycle on the next tick.
func (r *Runner) Trigger(name string) error {
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownProbe)
	}
	r.mu.Lock()
	r.pending[name] = true
	r.mu.Unlock()
	return nil
}

// Latest returns the most recent reading of a probe.
func (r *Runner) Latest(name string) (Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.latest[name]
	return v, ok
}

// History returns a copy of the readings within the window, oldest first.
func (r *Runner) History(name string) []Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.history[name]
	result := make([]Reading, len(h))
	copy(result, h)
	return result
}

// Do runs fn on the loop goroutine with exclusive access to the channel.
func (r *Runner) Do(ctx context.Context, name string, fn func(ch *phx.Channel) error) error {
	p, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownProbe)
	}
	return r.submit(ctx, func() error { return fn(p.Channel) })
}

// DoIdle is like Do but first cancels a scheduled cycle in flight on the
// channel, which is retried on the next tick.
func (r *Runner) DoIdle(ctx context.Context, name string, fn func(ch *phx.Channel) error) error {
	p, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownProbe)
	}
	return r.submit(ctx, func() error {
		r.preempt(p)
		return fn(p.Channel)
	})
}

// Each runs fn for every channel on the loop goroutine, stopping at the first
// error.
func (r *Runner) Each(ctx context.Context, fn func(name string, ch *phx.Channel) error) error {
	return r.submit(ctx, func() error {
		for _, p := range r.probes {
			if err := fn(p.Name, p.Channel); err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
		}
		return nil
	})
}

func (r *Runner) preempt(p *probeState) {
	if !p.inFlight {
		return
	}
	p.Channel.Cancel()
	p.inFlight = false
	r.mu.Lock()
	r.pending[p.Name] = true
	r.mu.Unlock()
}

func (r *Runner) submit(ctx context.Context, fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case r.jobs <- j:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// the loop always answers an accepted job
	return <-j.done
}

// OnReading registers a callback invoked after every completed cycle. The
// callback runs on the loop goroutine and should return quickly.
func (r *Runner) OnReading(callback func(Reading)) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

func (r *Runner) notifyCallbacks(reading Reading) {
	r.cbMu.RLock()
	callbacks := make([]func(Reading), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(reading)
		}
	}
}
