package phx

import "math"

// Engine constants.
const (
	// CalibrationEpsilon is the smallest reference voltage spread, in mV,
	// that counts as a usable calibration.
	CalibrationEpsilon = 0.001

	MinTemperature       = 0.0
	MaxTemperature       = 50.0
	ReferenceTemperature = 25.0
	DefaultTemperature   = ReferenceTemperature

	kelvinOffset = 273.15
	neutralPH    = 7.0
)

// Point is one calibration reference: a probe voltage and the physical value
// it represents.
type Point struct {
	Millivolts float64 `json:"mv" yaml:"mv"`
	Value      float64 `json:"value" yaml:"value"`
}

// Calibration is a two-point linear calibration record.
type Calibration struct {
	Ref1 Point `json:"ref1" yaml:"ref1"`
	Ref2 Point `json:"ref2" yaml:"ref2"`
}

// DefaultCalibration returns the uncalibrated record for k.
func DefaultCalibration(k Kind) Calibration {
	return k.info().defaults
}

// Usable reports whether the reference voltages are far enough apart to
// define a line.
func (c Calibration) Usable() bool {
	return math.Abs(c.Ref2.Millivolts-c.Ref1.Millivolts) > CalibrationEpsilon
}

// Apply maps mV onto the calibration line. Values outside the calibrated span
// are extrapolated. ok is false when the record is not usable.
func (c Calibration) Apply(mV float64) (v float64, ok bool) {
	if !c.Usable() {
		return mV, false
	}
	v = c.Ref1.Value + (c.Ref2.Value-c.Ref1.Value)*(mV-c.Ref1.Millivolts)/(c.Ref2.Millivolts-c.Ref1.Millivolts)
	return v, true
}

// TemperatureState is the compensation input of a channel.
type TemperatureState struct {
	Celsius float64 `json:"celsius"`
	Enabled bool    `json:"enabled"`
}

// ValidTemperature reports whether c lies in the compensable range.
func ValidTemperature(c float64) bool {
	return c >= MinTemperature && c <= MaxTemperature
}

// CompensatePH normalizes a pH reading taken at celsius to the 25 °C
// reference, pivoting on neutral pH (Pasco 2001).
func CompensatePH(ph, celsius float64) float64 {
	return (ph-neutralPH)*(kelvinOffset+celsius)/(kelvinOffset+ReferenceTemperature) + neutralPH
}

// Clamp limits v to the domain of k and reports which bound was hit.
func Clamp(k Kind, v float64) (float64, ErrorKind) {
	min, max := k.Bounds()
	low, high := k.RangeErrors()
	switch {
	case v < min:
		return min, low
	case v > max:
		return max, high
	default:
		return v, None
	}
}

// Convert turns an averaged probe voltage into a range checked value.
// Calibration runs first, then temperature compensation (pH only), then the
// clamp. Without a usable calibration mV is returned unchanged.
func Convert(k Kind, mV float64, cal Calibration, temp TemperatureState) (float64, ErrorKind) {
	v, ok := cal.Apply(mV)
	if !ok {
		return mV, None
	}
	if k == Acidity && temp.Enabled && ValidTemperature(temp.Celsius) {
		v = CompensatePH(v, temp.Celsius)
	}
	return Clamp(k, v)
}
