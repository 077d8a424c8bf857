package ads1015

import (
	"fmt"
	"strings"
)

// Gain is the programmable gain amplifier setting, stored as config register bits.
type Gain uint16

// Full-scale ranges.
const (
	Gain6144 Gain = 0x0000 // ±6.144 V, gain 2/3
	Gain4096 Gain = 0x0200 // ±4.096 V, gain 1
	Gain2048 Gain = 0x0400 // ±2.048 V, gain 2
	Gain1024 Gain = 0x0600 // ±1.024 V, gain 4
	Gain512  Gain = 0x0800 // ±0.512 V, gain 8
	Gain256  Gain = 0x0A00 // ±0.256 V, gain 16
)

// Gains lists every supported gain, widest range first.
var Gains = []Gain{Gain6144, Gain4096, Gain2048, Gain1024, Gain512, Gain256}

// VoltageRange returns the full-scale voltage for g. Unknown values map to
// the widest range.
func (g Gain) VoltageRange() float64 {
	switch g {
	case Gain6144:
		return 6.144
	case Gain4096:
		return 4.096
	case Gain2048:
		return 2.048
	case Gain1024:
		return 1.024
	case Gain512:
		return 0.512
	case Gain256:
		return 0.256
	default:
		return 6.144
	}
}

func (g Gain) String() string {
	switch g {
	case Gain6144:
		return "6.144V"
	case Gain4096:
		return "4.096V"
	case Gain2048:
		return "2.048V"
	case Gain1024:
		return "1.024V"
	case Gain512:
		return "0.512V"
	case Gain256:
		return "0.256V"
	default:
		return fmt.Sprintf("0x%04X", uint16(g))
	}
}

// ParseGain accepts the labels produced by Gain.String, with or without the
// trailing "V". An empty label selects Gain6144.
func ParseGain(s string) (Gain, error) {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "V")
	if s == "" {
		return Gain6144, nil
	}
	for _, g := range Gains {
		if strings.TrimSuffix(g.String(), "V") == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("ads1015: unknown gain %q", s)
}
