package bus

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/reef-pi/rpi/i2c"
)

// ReefPi adapts a reef-pi i2c.Bus.
type ReefPi struct {
	mu  sync.Mutex
	bus i2c.Bus
}

// NewReefPi wraps an open reef-pi bus.
func NewReefPi(b i2c.Bus) *ReefPi {
	return &ReefPi{bus: b}
}

// OpenReefPi opens the Raspberry Pi I2C bus.
func OpenReefPi() (*ReefPi, error) {
	b, err := i2c.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open reef-pi i2c bus: %w", err)
	}
	return NewReefPi(b), nil
}

// Begin is a no-op; the bus is ready once opened.
func (r *ReefPi) Begin() error { return nil }

// WriteRegister writes a big-endian 16-bit register.
func (r *ReefPi) WriteRegister(addr, reg uint8, value uint16) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, value)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.bus.WriteToReg(addr, reg, buf); err != nil {
		return fmt.Errorf("i2c 0x%02X write reg 0x%02X: %w", addr, reg, err)
	}
	return nil
}

// ReadRegister reads a big-endian 16-bit register.
func (r *ReefPi) ReadRegister(addr, reg uint8) (uint16, error) {
	buf := make([]byte, 2)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.bus.ReadFromReg(addr, reg, buf); err != nil {
		return 0, fmt.Errorf("i2c 0x%02X read reg 0x%02X: %w", addr, reg, err)
	}
	return binary.BigEndian.Uint16(buf), nil
}

// Close closes the underlying bus.
func (r *ReefPi) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bus.Close()
}
