package bus

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Periph talks to the bus through periph.io. One i2c.Dev is kept per
// device address.
type Periph struct {
	mu     sync.Mutex
	bus    i2c.Bus
	closer func() error
	devs   map[uint8]*i2c.Dev
}

// NewPeriph wraps an already opened periph bus.
func NewPeriph(b i2c.Bus) *Periph {
	return &Periph{
		bus:  b,
		devs: make(map[uint8]*i2c.Dev),
	}
}

// OpenPeriph initializes the host drivers and opens the named bus. An empty
// name selects the first available bus.
func OpenPeriph(name string) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", name, err)
	}
	p := NewPeriph(b)
	p.closer = b.Close
	return p, nil
}

func (p *Periph) dev(addr uint8) *i2c.Dev {
	d, ok := p.devs[addr]
	if !ok {
		d = &i2c.Dev{Addr: uint16(addr), Bus: p.bus}
		p.devs[addr] = d
	}
	return d
}

// Begin is a no-op; the bus is ready once opened.
func (p *Periph) Begin() error { return nil }

// WriteRegister writes a big-endian 16-bit register.
func (p *Periph) WriteRegister(addr, reg uint8, value uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.dev(addr).Tx([]byte{reg, byte(value >> 8), byte(value)}, nil); err != nil {
		return fmt.Errorf("i2c 0x%02X write reg 0x%02X: %w", addr, reg, err)
	}
	return nil
}

// ReadRegister reads a big-endian 16-bit register.
func (p *Periph) ReadRegister(addr, reg uint8) (uint16, error) {
	buf := make([]byte, 2)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.dev(addr).Tx([]byte{reg}, buf); err != nil {
		return 0, fmt.Errorf("i2c 0x%02X read reg 0x%02X: %w", addr, reg, err)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// Close releases the bus if it was opened by OpenPeriph.
func (p *Periph) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
