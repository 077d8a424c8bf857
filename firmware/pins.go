//go:build tinygo

package main

import (
	"machine"

	"github.com/itohio/phx/pkg/ads1015"
	"github.com/itohio/phx/pkg/phx"
)

const (
	// Probe configuration
	PROBE_KIND  = phx.Acidity
	ADS_ADDRESS = ads1015.AddressGND
	ADS_INPUT   = 0
	ADS_GAIN    = ads1015.Gain6144

	// Sampling configuration
	NUM_SAMPLES        = 20   // Samples averaged per cycle
	SAMPLE_INTERVAL_MS = 10   // Delay between samples in milliseconds
	AVG_DEPTH          = 5    // Cycles in the rolling average
	CYCLE_INTERVAL_MS  = 1000 // Start a cycle this often

	// I2C configuration
	I2C_FREQUENCY = 400 * machine.KHz

	// Serial configuration
	// Output format: "value,smoothed,error\n", about 24 bytes once per second.
	UART_BAUD_RATE = 115200
)

var (
	PIN_SDA = machine.SDA_PIN
	PIN_SCL = machine.SCL_PIN
)
