package phx

import (
	"fmt"
	"strings"
)

// Kind selects what a cycle measures.
type Kind uint8

const (
	// Acidity is pH, valid 0..14.
	Acidity Kind = iota
	// RedoxPotential is ORP in millivolts, valid 0..1000.
	RedoxPotential

	numKinds
)

type kindInfo struct {
	name     string
	unit     string
	min, max float64
	low      ErrorKind
	high     ErrorKind
	defaults Calibration
}

var kinds = [numKinds]kindInfo{
	Acidity: {
		name: "ph",
		unit: "pH",
		min:  0,
		max:  14,
		low:  AcidityLow,
		high: AcidityHigh,
		defaults: Calibration{
			Ref1: Point{Millivolts: 0, Value: 4.0},
			Ref2: Point{Millivolts: 0, Value: 7.0},
		},
	},
	RedoxPotential: {
		name: "orp",
		unit: "mV",
		min:  0,
		max:  1000,
		low:  RedoxLow,
		high: RedoxHigh,
		defaults: Calibration{
			Ref1: Point{Millivolts: 0, Value: 475.0},
			Ref2: Point{Millivolts: 0, Value: 650.0},
		},
	},
}

// Kinds lists every measurement kind.
var Kinds = []Kind{Acidity, RedoxPotential}

func (k Kind) info() kindInfo {
	if k >= numKinds {
		return kinds[Acidity]
	}
	return kinds[k]
}

func (k Kind) String() string {
	if k >= numKinds {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kinds[k].name
}

// Unit returns the display unit of a converted value.
func (k Kind) Unit() string { return k.info().unit }

// Bounds returns the valid output domain.
func (k Kind) Bounds() (min, max float64) {
	i := k.info()
	return i.min, i.max
}

// RangeErrors returns the errors reported when a value is clamped at the
// lower and upper bound.
func (k Kind) RangeErrors() (low, high ErrorKind) {
	i := k.info()
	return i.low, i.high
}

// ParseKind accepts "ph"/"acidity" and "orp"/"rx"/"redox".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ph", "acidity":
		return Acidity, nil
	case "orp", "rx", "redox":
		return RedoxPotential, nil
	default:
		return 0, fmt.Errorf("unknown measurement kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k >= numKinds {
		return nil, fmt.Errorf("invalid kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ErrorKind classifies the outcome of the last cycle or setter call.
type ErrorKind uint8

const (
	None ErrorKind = iota
	AcidityLow
	AcidityHigh
	RedoxLow
	RedoxHigh
	TemperatureInvalid
	CalibrationTimeout
)

var errorNames = [...]string{
	None:               "none",
	AcidityLow:         "ph_low",
	AcidityHigh:        "ph_high",
	RedoxLow:           "orp_low",
	RedoxHigh:          "orp_high",
	TemperatureInvalid: "temperature_invalid",
	CalibrationTimeout: "calibration_timeout",
}

func (e ErrorKind) String() string {
	if int(e) < len(errorNames) {
		return errorNames[e]
	}
	return fmt.Sprintf("error(%d)", uint8(e))
}

// MarshalText implements encoding.TextMarshaler.
func (e ErrorKind) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}
