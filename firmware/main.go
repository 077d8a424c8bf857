//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"context"
	"machine"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/phx/pkg/ads1015"
	"github.com/itohio/phx/pkg/phx"
)

// i2cBus adapts machine.I2C to the ADS1015 register interface.
type i2cBus struct {
	i2c *machine.I2C
}

func (b i2cBus) Begin() error {
	return b.i2c.Configure(machine.I2CConfig{Frequency: I2C_FREQUENCY, SDA: PIN_SDA, SCL: PIN_SCL})
}

func (b i2cBus) WriteRegister(addr, reg uint8, value uint16) error {
	return b.i2c.Tx(uint16(addr), []byte{reg, byte(value >> 8), byte(value)}, nil)
}

func (b i2cBus) ReadRegister(addr, reg uint8) (uint16, error) {
	var buf [2]byte
	if err := b.i2c.Tx(uint16(addr), []byte{reg}, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

var (
	uart = machine.UART0

	channel   *phx.Channel
	request   = phx.Request{Kind: PROBE_KIND, Samples: NUM_SAMPLES, Delay: SAMPLE_INTERVAL_MS * time.Millisecond, AvgDepth: AVG_DEPTH}
	lastCycle time.Time

	// Calibration points captured so far
	points   [2]phx.Point
	captured [2]bool

	// Serial buffer for reading lines
	serialBuffer [32]byte
	serialPos    int
)

func main() {
	uart.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	bus := i2cBus{i2c: machine.I2C0}
	reader := ads1015.New(bus, ADS_ADDRESS)
	reader.SetGain(ADS_GAIN)
	if err := reader.Begin(); err != nil {
		println("ERR i2c:", err.Error())
	}
	channel = phx.New(reader, phx.Config{Input: ADS_INPUT})

	for {
		now := time.Now()

		// Check for serial input (non-blocking)
		processSerial()

		if channel.State() == phx.Idle && now.Sub(lastCycle) >= CYCLE_INTERVAL_MS*time.Millisecond {
			channel.StartCycle(request)
			lastCycle = now
		}

		channel.Advance()
		if channel.IsComplete() {
			outputReading()
			channel.Cancel()
		}

		// Small delay to prevent tight loop
		time.Sleep(100 * time.Microsecond)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// outputReading prints "value,smoothed,error".
func outputReading() {
	smoothed, _ := channel.Smoothed()
	println(formatFloat(channel.LastValue()) + "," + formatFloat(smoothed) + "," + channel.LastError().String())
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				println(execute(string(serialBuffer[:serialPos])))
			}
			serialPos = 0
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Line too long - drop it
			serialPos = 0
		}
	}
}

// execute handles: temp <C> | tc on|off | cal <1|2> <value> | cal clear | cal show
func execute(line string) string {
	args := strings.Fields(line)
	if len(args) == 0 {
		return "ERR empty"
	}

	switch {
	case args[0] == "temp" && len(args) == 2:
		c, err := strconv.ParseFloat(args[1], 64)
		if err != nil || !phx.ValidTemperature(c) {
			return "ERR temperature"
		}
		channel.SetTemperature(c)
		return "OK " + formatFloat(c)

	case args[0] == "tc" && len(args) == 2:
		channel.EnableTemperatureCompensation(args[1] == "on")
		return "OK tc=" + args[1]

	case args[0] == "cal" && len(args) == 2 && args[1] == "show":
		cal := channel.Calibration(PROBE_KIND)
		return "OK " + formatFloat(cal.Ref1.Millivolts) + "=" + formatFloat(cal.Ref1.Value) +
			" " + formatFloat(cal.Ref2.Millivolts) + "=" + formatFloat(cal.Ref2.Value)

	case args[0] == "cal" && len(args) == 2 && args[1] == "clear":
		channel.SetCalibration(PROBE_KIND, phx.DefaultCalibration(PROBE_KIND))
		captured = [2]bool{}
		return "OK cleared"

	case args[0] == "cal" && len(args) == 3:
		return capturePoint(args[1], args[2])
	}
	return "ERR unknown command"
}

func capturePoint(pointArg, valueArg string) string {
	point, err := strconv.Atoi(pointArg)
	if err != nil || point < 1 || point > 2 {
		return "ERR point"
	}
	value, err := strconv.ParseFloat(valueArg, 64)
	if err != nil {
		return "ERR value"
	}

	channel.Cancel()
	mV, err := channel.CaptureStablePoint(context.Background(), PROBE_KIND)
	if err != nil {
		return "ERR " + err.Error()
	}
	points[point-1] = phx.Point{Millivolts: mV, Value: value}
	captured[point-1] = true

	if !captured[0] || !captured[1] {
		return "OK point " + pointArg + " " + formatFloat(mV)
	}
	cal := phx.Calibration{Ref1: points[0], Ref2: points[1]}
	if !cal.Usable() {
		return "ERR references too close"
	}
	channel.SetCalibration(PROBE_KIND, cal)
	captured = [2]bool{}
	return "OK calibrated"
}
