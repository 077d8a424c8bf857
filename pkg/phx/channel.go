// Package phx implements a cooperative acquisition state machine for pH and
// ORP probes read through an ADS1015 converter.
//
// A Channel never blocks inside Advance beyond a single conversion. Callers
// drive it from their own loop; Measure and CaptureStablePoint are blocking
// conveniences built on the same state machine.
package phx

import (
	"math"
	"time"
)

const (
	// MaxSamples is the capacity of the per-channel sample arena.
	MaxSamples = 512
	// MaxAvgDepth is the capacity of the rolling average ring.
	MaxAvgDepth = 10
)

// VoltageReader reads one single-ended input in volts. Implementations return
// NaN for a failed transaction and 0 for an input they do not have.
type VoltageReader interface {
	ReadChannel(input int) float64
}

// State is the acquisition state of a channel.
type State uint8

const (
	Idle State = iota
	Collecting
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// Request describes one acquisition cycle.
type Request struct {
	Kind     Kind          `json:"kind" yaml:"kind"`
	Samples  int           `json:"samples" yaml:"samples"`
	Delay    time.Duration `json:"delay" yaml:"delay"`
	AvgDepth int           `json:"avg_depth" yaml:"avg_depth"`
	// Raw skips calibration and reports the averaged probe voltage in mV.
	Raw bool `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Config holds the per-channel settings injected at construction.
type Config struct {
	// Input is the converter input the probe is wired to.
	Input int
	// Clock defaults to a SystemClock.
	Clock Clock
	// Sleep is used by the blocking helpers. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// Capture configures CaptureStablePoint.
	Capture CaptureOptions
}

// Channel is one probe: its reader, calibration records, temperature state and
// the live acquisition cycle.
type Channel struct {
	reader  VoltageReader
	input   int
	clock   Clock
	sleep   func(time.Duration)
	capture CaptureOptions

	cal  [numKinds]Calibration
	temp TemperatureState

	state     State
	req       Request
	delayMs   uint32
	target    int
	collected int
	lastAt    uint32
	samples   [MaxSamples]float64

	complete  bool
	lastValue float64
	lastError ErrorKind

	ring      [MaxAvgDepth]float64
	ringDepth int
	ringNext  int
	ringFill  int
}

// New returns an idle channel reading r.
func New(r VoltageReader, cfg Config) *Channel {
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	c := &Channel{
		reader:    r,
		input:     cfg.Input,
		clock:     cfg.Clock,
		sleep:     cfg.Sleep,
		capture:   cfg.Capture.withDefaults(),
		temp:      TemperatureState{Celsius: DefaultTemperature},
		ringDepth: 1,
	}
	for _, k := range Kinds {
		c.cal[k] = DefaultCalibration(k)
	}
	return c
}

// Input returns the converter input of the probe.
func (c *Channel) Input() int { return c.input }

// StartCycle begins a cycle. It is ignored unless the channel is idle.
func (c *Channel) StartCycle(req Request) {
	if c.state != Idle {
		return
	}
	if req.Kind >= numKinds {
		req.Kind = Acidity
	}
	c.req = req
	c.target = clampInt(req.Samples, 1, MaxSamples)
	c.delayMs = uint32(max(req.Delay, 0) / time.Millisecond)
	c.collected = 0
	c.complete = false
	c.lastError = None

	// Raw cycles leave the ring alone; it only holds measurement outputs.
	if depth := clampInt(req.AvgDepth, 1, MaxAvgDepth); !req.Raw && depth != c.ringDepth {
		c.resetRing(depth)
	}
	c.state = Collecting
}

// Advance performs at most one step of the cycle.
func (c *Channel) Advance() {
	switch c.state {
	case Collecting:
		now := c.clock.Millis()
		if c.collected > 0 && now-c.lastAt < c.delayMs {
			return
		}
		c.samples[c.collected] = c.reader.ReadChannel(c.input)
		c.collected++
		c.lastAt = now
		if c.collected >= c.target {
			c.state = Processing
		}
	case Processing:
		c.finish()
	}
}

func (c *Channel) finish() {
	sum, n := 0.0, 0
	for _, v := range c.samples[:c.collected] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}

	value, errKind := 0.0, None
	if n > 0 {
		mV := sum / float64(n) * 1000
		if c.req.Raw {
			value = mV
		} else {
			value, errKind = Convert(c.req.Kind, mV, c.cal[c.req.Kind], c.temp)
		}
	}

	c.lastValue = value
	c.lastError = errKind
	if !c.req.Raw {
		c.pushRing(value)
	}
	c.complete = true
	c.release()
}

// Cancel aborts any cycle and clears the completion flag and last error.
func (c *Channel) Cancel() {
	c.release()
	c.complete = false
	c.lastError = None
}

func (c *Channel) release() {
	c.collected = 0
	c.target = 0
	c.state = Idle
}

// State returns the acquisition state.
func (c *Channel) State() State { return c.state }

// IsComplete reports whether the last cycle finished and was not cancelled.
func (c *Channel) IsComplete() bool { return c.complete }

// LastValue returns the output of the last completed cycle.
func (c *Channel) LastValue() float64 { return c.lastValue }

// LastError returns the error of the last cycle or setter call.
func (c *Channel) LastError() ErrorKind { return c.lastError }

// Collected returns the number of samples taken in the current cycle.
func (c *Channel) Collected() int { return c.collected }

// Request returns the request of the current or last cycle.
func (c *Channel) Request() Request { return c.req }

// Smoothed returns the mean of the last AvgDepth cycle outputs. ready is false
// until the ring holds AvgDepth values.
func (c *Channel) Smoothed() (v float64, ready bool) {
	if c.ringFill == 0 {
		return 0, false
	}
	sum := 0.0
	for _, x := range c.ring[:c.ringFill] {
		sum += x
	}
	return sum / float64(c.ringFill), c.ringFill == c.ringDepth
}

func (c *Channel) resetRing(depth int) {
	c.ringDepth = depth
	c.ringNext = 0
	c.ringFill = 0
}

func (c *Channel) pushRing(v float64) {
	c.ring[c.ringNext] = v
	c.ringNext = (c.ringNext + 1) % c.ringDepth
	if c.ringFill < c.ringDepth {
		c.ringFill++
	}
}

// EnableTemperatureCompensation switches pH temperature compensation.
func (c *Channel) EnableTemperatureCompensation(on bool) { c.temp.Enabled = on }

// TemperatureCompensationEnabled reports whether compensation is on.
func (c *Channel) TemperatureCompensationEnabled() bool { return c.temp.Enabled }

// SetTemperature sets the solution temperature. Values outside 0..50 °C are
// rejected with TemperatureInvalid and the previous value is kept.
func (c *Channel) SetTemperature(celsius float64) {
	if math.IsNaN(celsius) || !ValidTemperature(celsius) {
		c.lastError = TemperatureInvalid
		return
	}
	c.temp.Celsius = celsius
	if c.lastError == TemperatureInvalid {
		c.lastError = None
	}
}

// Temperature returns the solution temperature in °C.
func (c *Channel) Temperature() float64 { return c.temp.Celsius }

// SetCalibration replaces the calibration record for k.
func (c *Channel) SetCalibration(k Kind, cal Calibration) {
	if k >= numKinds {
		return
	}
	c.cal[k] = cal
}

// Calibration returns the calibration record for k.
func (c *Channel) Calibration(k Kind) Calibration {
	if k >= numKinds {
		return Calibration{}
	}
	return c.cal[k]
}

// untilDue returns how long until the next sample may be taken.
func (c *Channel) untilDue() time.Duration {
	if c.state != Collecting || c.collected == 0 {
		return 0
	}
	elapsed := c.clock.Millis() - c.lastAt
	if elapsed >= c.delayMs {
		return 0
	}
	return time.Duration(c.delayMs-elapsed) * time.Millisecond
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
