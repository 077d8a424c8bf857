// Package ads1015 reads single-ended voltages from a TI ADS1015 12-bit ADC.
//
// The package only knows about registers and codes. Transport is provided by
// a Bus implementation (see pkg/bus), so several readers with different
// addresses can share one physical bus.
package ads1015

import (
	"fmt"
	"math"
	"time"
)

// I2C addresses selectable with the ADDR pin.
const (
	AddressGND Address = 0x48
	AddressVDD Address = 0x49
	AddressSDA Address = 0x4A
	AddressSCL Address = 0x4B
)

// Register pointers.
const (
	RegConversion uint8 = 0x00
	RegConfig     uint8 = 0x01
)

// Config register bits.
const (
	configOSSingle       uint16 = 0x8000
	configMuxSingle0     uint16 = 0x4000
	configMuxStep        uint16 = 0x1000
	configMuxMask        uint16 = 0x7000
	configModeContinuous uint16 = 0x0000
	configDataRate1600   uint16 = 0x0080
	configGainMask       uint16 = 0x0E00
)

// NumInputs is the number of single-ended inputs (AIN0..AIN3).
const NumInputs = 4

// ConversionDelay is the settle time between starting a conversion and
// reading the result at 1600 SPS.
const ConversionDelay = time.Millisecond

// Bus is the transport the reader needs. Registers are 16 bits wide and
// transferred most significant byte first.
type Bus interface {
	Begin() error
	WriteRegister(addr, reg uint8, value uint16) error
	ReadRegister(addr, reg uint8) (uint16, error)
}

// Address is a 7-bit I2C device address.
type Address uint8

// Reader reads voltages from one ADS1015.
type Reader struct {
	bus   Bus
	addr  Address
	gain  Gain
	sleep func(time.Duration)
}

// New returns a Reader for the device at addr. The default gain is ±6.144 V.
func New(bus Bus, addr Address) *Reader {
	return &Reader{
		bus:   bus,
		addr:  addr,
		gain:  Gain6144,
		sleep: time.Sleep,
	}
}

// WithSleep replaces the function used to wait for a conversion.
func (r *Reader) WithSleep(sleep func(time.Duration)) *Reader {
	if sleep != nil {
		r.sleep = sleep
	}
	return r
}

// Begin initializes the underlying bus.
func (r *Reader) Begin() error {
	return r.bus.Begin()
}

// Address returns the device address.
func (r *Reader) Address() Address { return r.addr }

// Gain returns the configured gain.
func (r *Reader) Gain() Gain { return r.gain }

// SetGain selects the full-scale input range.
func (r *Reader) SetGain(g Gain) { r.gain = g }

// ConfigWord returns the config register value that starts a conversion on input.
func (r *Reader) ConfigWord(input int) uint16 {
	cfg := uint16(r.gain)&configGainMask | configModeContinuous | configDataRate1600
	cfg |= configMuxSingle0 + uint16(input)*configMuxStep
	cfg |= configOSSingle
	return cfg
}

// Raw starts a conversion on input and returns the signed 12-bit code.
func (r *Reader) Raw(input int) (int16, error) {
	if input < 0 || input >= NumInputs {
		return 0, fmt.Errorf("ads1015: input %d out of range", input)
	}
	if err := r.bus.WriteRegister(uint8(r.addr), RegConfig, r.ConfigWord(input)); err != nil {
		return 0, fmt.Errorf("ads1015: write config: %w", err)
	}
	r.sleep(ConversionDelay)
	v, err := r.bus.ReadRegister(uint8(r.addr), RegConversion)
	if err != nil {
		return 0, fmt.Errorf("ads1015: read conversion: %w", err)
	}
	// Result is left aligned two's complement.
	return int16(v) >> 4, nil
}

// ReadChannel returns the voltage on input. An input outside 0..3 yields 0.
// A transport failure yields NaN so callers averaging samples can drop it.
func (r *Reader) ReadChannel(input int) float64 {
	if input < 0 || input >= NumInputs {
		return 0
	}
	code, err := r.Raw(input)
	if err != nil {
		return math.NaN()
	}
	return CodeToVolts(code, r.gain)
}

// CodeToVolts converts a 12-bit code into volts for gain g.
func CodeToVolts(code int16, g Gain) float64 {
	return float64(code) * g.VoltageRange() / 2048.0
}

// InputFromConfig returns the single-ended input selected by a config word,
// or -1 for a differential mux setting.
func InputFromConfig(cfg uint16) int {
	mux := cfg & configMuxMask
	if mux < configMuxSingle0 {
		return -1
	}
	return int((mux - configMuxSingle0) / configMuxStep)
}

// GainFromConfig returns the gain bits of a config word.
func GainFromConfig(cfg uint16) Gain {
	return Gain(cfg & configGainMask)
}
