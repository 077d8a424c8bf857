// Package bus provides I2C transports for the ADS1015 reader.
package bus

import (
	"fmt"

	"github.com/itohio/phx/pkg/ads1015"
	"github.com/itohio/phx/pkg/config"
)

// Bus is an ADS1015 transport that owns an OS resource.
type Bus interface {
	ads1015.Bus
	Close() error
}

var (
	_ Bus = (*ReefPi)(nil)
	_ Bus = (*Periph)(nil)
	_ Bus = (*Mock)(nil)
)

// Open returns the transport selected by cfg.Driver. mock configures the
// simulated bus and may be nil.
func Open(cfg config.BusConfig, mock *config.MockConfig) (Bus, error) {
	switch cfg.Driver {
	case config.DriverReefPi:
		return OpenReefPi()
	case config.DriverPeriph:
		return OpenPeriph(cfg.Device)
	case config.DriverMock:
		return NewMock(mock), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}
