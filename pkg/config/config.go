package config

import (
	"fmt"
	"os"
	"time"

	"github.com/itohio/phx/pkg/ads1015"
	"github.com/itohio/phx/pkg/phx"
	"gopkg.in/yaml.v3"
)

// Bus drivers.
const (
	DriverReefPi = "reefpi"
	DriverPeriph = "periph"
	DriverMock   = "mock"
)

// Config represents the application configuration.
type Config struct {
	Bus         BusConfig          `yaml:"bus"`
	Probes      []ProbeConfig      `yaml:"probes"`
	Temperature TemperatureConfig  `yaml:"temperature"`
	Capture     phx.CaptureOptions `yaml:"capture"`
	Store       StoreConfig        `yaml:"store"`
	MQTT        MQTTConfig         `yaml:"mqtt"`
	HTTP        HTTPConfig         `yaml:"http"`
	Console     ConsoleConfig      `yaml:"console"`
	Mock        MockConfig         `yaml:"mock"`
}

// BusConfig selects the I2C transport.
type BusConfig struct {
	Driver string `yaml:"driver"` // reefpi, periph or mock
	Device string `yaml:"device"` // periph bus name, empty for the first bus
}

// ProbeConfig describes one probe wired to an ADS1015 input.
type ProbeConfig struct {
	Name     string        `yaml:"name"`
	Kind     string        `yaml:"kind"` // ph or orp
	Address  uint8         `yaml:"address"`
	Input    int           `yaml:"input"`
	Gain     string        `yaml:"gain"`
	Samples  int           `yaml:"samples"`
	Delay    time.Duration `yaml:"delay"`
	AvgDepth int           `yaml:"avg_depth"`
	Interval time.Duration `yaml:"interval"` // 0 disables periodic cycles
	Schedule string        `yaml:"schedule"` // optional cron spec
}

// TemperatureConfig holds the initial compensation state.
type TemperatureConfig struct {
	Compensation bool    `yaml:"compensation"`
	Celsius      float64 `yaml:"celsius"`
}

// StoreConfig locates the calibration database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig configures reading publication. Publishing is disabled when
// Broker is empty.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// HTTPConfig configures the REST API and metrics endpoint.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// ConsoleConfig configures the serial command console. Disabled when Port is
// empty.
type ConsoleConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// MockConfig contains mock bus configuration.
type MockConfig struct {
	Millivolts []float64 `yaml:"millivolts"` // level per input (mV)
	Noise      float64   `yaml:"noise"`      // peak noise (mV)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Driver: DriverReefPi,
		},
		Probes: []ProbeConfig{
			{
				Name:     "ph",
				Kind:     "ph",
				Address:  uint8(ads1015.AddressGND),
				Input:    0,
				Gain:     ads1015.Gain6144.String(),
				Samples:  20,
				Delay:    10 * time.Millisecond,
				AvgDepth: 5,
				Interval: 10 * time.Second,
			},
			{
				Name:     "orp",
				Kind:     "orp",
				Address:  uint8(ads1015.AddressGND),
				Input:    1,
				Gain:     ads1015.Gain6144.String(),
				Samples:  20,
				Delay:    10 * time.Millisecond,
				AvgDepth: 5,
				Interval: 10 * time.Second,
			},
		},
		Temperature: TemperatureConfig{
			Compensation: false,
			Celsius:      phx.DefaultTemperature,
		},
		Capture: phx.DefaultCaptureOptions(),
		Store: StoreConfig{
			Path: "phx.db",
		},
		MQTT: MQTTConfig{
			ClientID: "phx",
			Topic:    "phx",
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Console: ConsoleConfig{
			Baud: 115200,
		},
		Mock: MockConfig{
			Millivolts: []float64{1750, 400, 0, 0},
			Noise:      0.5,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the probe table and bus driver.
func (c *Config) Validate() error {
	switch c.Bus.Driver {
	case DriverReefPi, DriverPeriph, DriverMock:
	default:
		return fmt.Errorf("unknown bus driver %q", c.Bus.Driver)
	}

	seen := make(map[string]bool, len(c.Probes))
	for i, p := range c.Probes {
		if p.Name == "" {
			return fmt.Errorf("probe %d: missing name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("probe %q: duplicate name", p.Name)
		}
		seen[p.Name] = true

		if _, err := phx.ParseKind(p.Kind); err != nil {
			return fmt.Errorf("probe %q: %w", p.Name, err)
		}
		if _, err := ads1015.ParseGain(p.Gain); err != nil {
			return fmt.Errorf("probe %q: %w", p.Name, err)
		}
		if p.Input < 0 || p.Input >= ads1015.NumInputs {
			return fmt.Errorf("probe %q: input %d out of range", p.Name, p.Input)
		}
		if p.Address < uint8(ads1015.AddressGND) || p.Address > uint8(ads1015.AddressSCL) {
			return fmt.Errorf("probe %q: address 0x%02X is not an ADS1015 address", p.Name, p.Address)
		}
	}
	return nil
}

// Request builds the acquisition request of the probe.
func (p ProbeConfig) Request() (phx.Request, error) {
	kind, err := phx.ParseKind(p.Kind)
	if err != nil {
		return phx.Request{}, err
	}
	return phx.Request{
		Kind:     kind,
		Samples:  p.Samples,
		Delay:    p.Delay,
		AvgDepth: p.AvgDepth,
	}, nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Bus.Driver == "" {
		c.Bus.Driver = def.Bus.Driver
	}

	if len(c.Probes) == 0 {
		c.Probes = def.Probes
	}
	ref := def.Probes[0]
	for i := range c.Probes {
		p := &c.Probes[i]
		if p.Kind == "" {
			p.Kind = ref.Kind
		}
		if p.Address == 0 {
			p.Address = ref.Address
		}
		if p.Gain == "" {
			p.Gain = ref.Gain
		}
		if p.Samples == 0 {
			p.Samples = ref.Samples
		}
		if p.AvgDepth == 0 {
			p.AvgDepth = ref.AvgDepth
		}
	}

	if c.Temperature.Celsius == 0 {
		c.Temperature.Celsius = def.Temperature.Celsius
	}

	if c.Capture.Samples == 0 {
		c.Capture.Samples = def.Capture.Samples
	}
	if c.Capture.Delay == 0 {
		c.Capture.Delay = def.Capture.Delay
	}
	if c.Capture.Settle == 0 {
		c.Capture.Settle = def.Capture.Settle
	}
	if c.Capture.Threshold == 0 {
		c.Capture.Threshold = def.Capture.Threshold
	}
	// Zero selects the default; a negative max_attempts means unbounded.
	if c.Capture.MaxAttempts == 0 {
		c.Capture.MaxAttempts = def.Capture.MaxAttempts
	}

	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = def.MQTT.Topic
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = def.HTTP.Listen
	}
	if c.Console.Baud == 0 {
		c.Console.Baud = def.Console.Baud
	}
	if len(c.Mock.Millivolts) == 0 {
		c.Mock.Millivolts = def.Mock.Millivolts
	}
}
