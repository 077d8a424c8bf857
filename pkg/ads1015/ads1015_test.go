package ads1015

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus records register traffic and returns a fixed conversion value.
type fakeBus struct {
	writes     []uint16
	conversion uint16
	readErr    error
	writeErr   error
	reads      int
}

func (b *fakeBus) Begin() error { return nil }

func (b *fakeBus) WriteRegister(addr, reg uint8, value uint16) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	b.writes = append(b.writes, value)
	return nil
}

func (b *fakeBus) ReadRegister(addr, reg uint8) (uint16, error) {
	b.reads++
	return b.conversion, b.readErr
}

func noSleep(time.Duration) {}

func TestVoltageRange(t *testing.T) {
	tests := []struct {
		gain Gain
		want float64
	}{
		{Gain6144, 6.144},
		{Gain4096, 4.096},
		{Gain2048, 2.048},
		{Gain1024, 1.024},
		{Gain512, 0.512},
		{Gain256, 0.256},
		{Gain(0x0C00), 6.144},
		{Gain(0xFFFF), 6.144},
	}
	for _, tt := range tests {
		t.Run(tt.gain.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.gain.VoltageRange())
		})
	}
}

func TestVoltageRange_AlwaysDocumented(t *testing.T) {
	documented := map[float64]bool{6.144: true, 4.096: true, 2.048: true, 1.024: true, 0.512: true, 0.256: true}
	for g := 0; g <= 0xFFFF; g += 0x0100 {
		assert.True(t, documented[Gain(g).VoltageRange()], "gain 0x%04X", g)
	}
}

func TestParseGain(t *testing.T) {
	g, err := ParseGain("4.096V")
	require.NoError(t, err)
	assert.Equal(t, Gain4096, g)

	g, err = ParseGain(" 0.256 ")
	require.NoError(t, err)
	assert.Equal(t, Gain256, g)

	g, err = ParseGain("")
	require.NoError(t, err)
	assert.Equal(t, Gain6144, g)

	_, err = ParseGain("3.3V")
	assert.Error(t, err)
}

func TestConfigWord(t *testing.T) {
	r := New(&fakeBus{}, AddressVDD)
	r.SetGain(Gain4096)

	for input := 0; input < NumInputs; input++ {
		cfg := r.ConfigWord(input)
		assert.Equal(t, uint16(0x8000), cfg&0x8000, "OS bit")
		assert.Equal(t, input, InputFromConfig(cfg))
		assert.Equal(t, Gain4096, GainFromConfig(cfg))
		assert.Equal(t, uint16(0x0080), cfg&0x00E0, "data rate")
	}
	assert.Equal(t, -1, InputFromConfig(0x0000))
}

func TestReadChannel(t *testing.T) {
	// 1000 << 4 left aligned
	bus := &fakeBus{conversion: 1000 << 4}
	r := New(bus, AddressGND).WithSleep(noSleep)
	r.SetGain(Gain2048)

	v := r.ReadChannel(2)
	assert.InDelta(t, 1000*2.048/2048.0, v, 1e-9)
	require.Len(t, bus.writes, 1)
	assert.Equal(t, 2, InputFromConfig(bus.writes[0]))
	assert.Equal(t, 1, bus.reads)
}

func TestReadChannel_NegativeCode(t *testing.T) {
	bus := &fakeBus{conversion: uint16(0xFFF0)} // -1 in 12-bit left aligned
	r := New(bus, AddressGND).WithSleep(noSleep)

	assert.InDelta(t, -6.144/2048.0, r.ReadChannel(0), 1e-12)
}

func TestReadChannel_InputOutOfRange(t *testing.T) {
	bus := &fakeBus{conversion: 2000 << 4}
	r := New(bus, AddressGND).WithSleep(noSleep)

	assert.Equal(t, 0.0, r.ReadChannel(4))
	assert.Equal(t, 0.0, r.ReadChannel(-1))
	assert.Empty(t, bus.writes)
	assert.Equal(t, 0, bus.reads)
}

func TestReadChannel_TransportFailure(t *testing.T) {
	bus := &fakeBus{readErr: errors.New("nack")}
	r := New(bus, AddressGND).WithSleep(noSleep)

	assert.True(t, math.IsNaN(r.ReadChannel(0)))

	_, err := r.Raw(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read conversion")
}

func TestRaw_WaitsForConversion(t *testing.T) {
	var waited time.Duration
	bus := &fakeBus{conversion: 16}
	r := New(bus, AddressGND).WithSleep(func(d time.Duration) { waited += d })

	code, err := r.Raw(1)
	require.NoError(t, err)
	assert.Equal(t, int16(1), code)
	assert.Equal(t, ConversionDelay, waited)
}
