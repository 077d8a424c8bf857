package bus

import (
	"fmt"
	"math"
	"sync"

	"github.com/itohio/phx/pkg/ads1015"
	"github.com/itohio/phx/pkg/config"
)

// Mock simulates one or more ADS1015 devices at register level for testing
// and development.
type Mock struct {
	mu  sync.Mutex
	cfg config.MockConfig

	configs map[uint8]uint16
	ticks   uint64
	writes  int
	reads   int
	fail    error
	closed  bool
}

// NewMock creates a simulated bus.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	c := *cfg
	c.Millivolts = make([]float64, ads1015.NumInputs)
	copy(c.Millivolts, cfg.Millivolts)

	return &Mock{
		cfg:     c,
		configs: make(map[uint8]uint16),
	}
}

// SetMillivolts sets the simulated level of an input.
func (m *Mock) SetMillivolts(input int, mV float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if input >= 0 && input < len(m.cfg.Millivolts) {
		m.cfg.Millivolts[input] = mV
	}
}

// SetNoise sets the simulated peak noise in mV.
func (m *Mock) SetNoise(mV float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Noise = mV
}

// Fail makes every following transaction return err. A nil err restores
// normal operation.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Transactions returns the number of register writes and reads served.
func (m *Mock) Transactions() (writes, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes, m.reads
}

// Begin implements ads1015.Bus.
func (m *Mock) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock bus closed")
	}
	return m.fail
}

// WriteRegister implements ads1015.Bus.
func (m *Mock) WriteRegister(addr, reg uint8, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.writes++
	if reg == ads1015.RegConfig {
		m.configs[addr] = value
	}
	return nil
}

// ReadRegister implements ads1015.Bus.
func (m *Mock) ReadRegister(addr, reg uint8) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	m.reads++

	cfg, ok := m.configs[addr]
	switch {
	case !ok:
		return 0, fmt.Errorf("i2c 0x%02X: no device", addr)
	case reg == ads1015.RegConfig:
		return cfg, nil
	case reg != ads1015.RegConversion:
		return 0, fmt.Errorf("i2c 0x%02X: unknown register 0x%02X", addr, reg)
	}

	input := ads1015.InputFromConfig(cfg)
	if input < 0 {
		return 0, nil
	}
	m.ticks++
	mV := m.cfg.Millivolts[input] + m.noise()
	return encode(mV, ads1015.GainFromConfig(cfg)), nil
}

// noise is a deterministic pseudo noise within ±Noise.
func (m *Mock) noise() float64 {
	t := float64(m.ticks)
	return (math.Sin(t*0.7) + math.Cos(t*1.3)) * m.cfg.Noise * 0.5
}

func (m *Mock) check() error {
	if m.closed {
		return fmt.Errorf("mock bus closed")
	}
	return m.fail
}

// Close implements Bus.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// encode converts mV into a left aligned, saturated 12-bit conversion code.
func encode(mV float64, g ads1015.Gain) uint16 {
	code := math.Round(mV / 1000 * 2048 / g.VoltageRange())
	code = math.Max(-2048, math.Min(2047, code))
	return uint16(int16(code) << 4)
}
