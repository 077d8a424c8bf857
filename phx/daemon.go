package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/itohio/phx/pkg/ads1015"
	"github.com/itohio/phx/pkg/api"
	"github.com/itohio/phx/pkg/bus"
	"github.com/itohio/phx/pkg/calib"
	"github.com/itohio/phx/pkg/calstore"
	"github.com/itohio/phx/pkg/config"
	"github.com/itohio/phx/pkg/console"
	"github.com/itohio/phx/pkg/metrics"
	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/publish"
	"github.com/itohio/phx/pkg/sampler"
	"github.com/itohio/phx/pkg/schedule"
)

// publishBuffer is the number of readings queued for MQTT before new ones
// are dropped.
const publishBuffer = 100

// daemon holds every component of a running instance.
type daemon struct {
	cfg       *config.Config
	bus       bus.Bus
	store     *calstore.Store
	runner    *sampler.Runner
	cal       *calib.Calibrator
	metrics   *metrics.Collector
	publisher *publish.Publisher
	scheduler *schedule.Scheduler
	api       *api.Server
	console   *console.Console
}

// build opens the bus and the store and assembles the probes. Nothing runs
// until run is called.
func build(cfg *config.Config) (*daemon, error) {
	b, err := bus.Open(cfg.Bus, &cfg.Mock)
	if err != nil {
		return nil, fmt.Errorf("failed to open bus: %w", err)
	}
	if err := b.Begin(); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start bus: %w", err)
	}
	d := &daemon{cfg: cfg, bus: b}

	if cfg.Store.Path != "" {
		d.store, err = calstore.Open(cfg.Store.Path)
		if err != nil {
			d.close()
			return nil, err
		}
	}

	probes := make([]sampler.Probe, 0, len(cfg.Probes))
	for _, pc := range cfg.Probes {
		p, err := d.probe(pc)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("probe %q: %w", pc.Name, err)
		}
		probes = append(probes, p)
	}
	d.runner, err = sampler.New(probes, sampler.Options{})
	if err != nil {
		d.close()
		return nil, err
	}

	var store calib.Store
	if d.store != nil {
		store = d.store
	}
	d.cal = calib.New(d.runner, store)
	d.metrics = metrics.New()
	d.runner.OnReading(d.metrics.Observe)

	d.scheduler = schedule.New(d.runner)
	for _, pc := range cfg.Probes {
		if err := d.scheduler.Add(pc.Name, pc.Schedule); err != nil {
			d.close()
			return nil, err
		}
	}

	d.api = api.New(d.runner, d.cal, d.metrics.Handler())
	d.console = console.New(d.runner, d.cal)
	return d, nil
}

// probe builds the channel of one configured probe and restores its stored
// calibration.
func (d *daemon) probe(pc config.ProbeConfig) (sampler.Probe, error) {
	req, err := pc.Request()
	if err != nil {
		return sampler.Probe{}, err
	}
	gain, err := ads1015.ParseGain(pc.Gain)
	if err != nil {
		return sampler.Probe{}, err
	}
	reader := ads1015.New(d.bus, ads1015.Address(pc.Address))
	reader.SetGain(gain)

	ch := phx.New(reader, phx.Config{Input: pc.Input, Capture: d.cfg.Capture})
	ch.EnableTemperatureCompensation(d.cfg.Temperature.Compensation)
	ch.SetTemperature(d.cfg.Temperature.Celsius)
	if ch.LastError() == phx.TemperatureInvalid {
		log.Printf("probe %s: ignoring temperature %.1f C", pc.Name, d.cfg.Temperature.Celsius)
	}

	if d.store != nil {
		cal, err := d.store.Load(pc.Name, req.Kind)
		switch {
		case err == nil:
			ch.SetCalibration(req.Kind, cal)
			log.Printf("probe %s: restored calibration %+v", pc.Name, cal)
		case errors.Is(err, calstore.ErrNotFound):
		default:
			log.Printf("probe %s: %v, using defaults", pc.Name, err)
		}
	}

	return sampler.Probe{
		Name:     pc.Name,
		Channel:  ch,
		Request:  req,
		Interval: pc.Interval,
	}, nil
}

// run starts every component and blocks until ctx is done, then shuts them
// down in reverse order.
func (d *daemon) run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer d.close()

	if d.cfg.MQTT.Broker != "" {
		p, err := publish.Connect(d.cfg.MQTT)
		if err != nil {
			log.Printf("mqtt disabled: %v", err)
		} else {
			d.publisher = p
			readings := make(chan sampler.Reading, publishBuffer)
			d.runner.OnReading(func(r sampler.Reading) {
				select {
				case readings <- r:
				default:
					log.Printf("mqtt: queue full, dropping %s reading", r.Probe)
				}
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case r := <-readings:
						p.Observe(r)
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	runnerDone := make(chan error, 1)
	go func() { runnerDone <- d.runner.Run(ctx) }()

	d.scheduler.Start()

	var srv *http.Server
	if d.cfg.HTTP.Listen != "" {
		srv = &http.Server{Addr: d.cfg.HTTP.Listen, Handler: d.api.Handler()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("http: listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http: %v", err)
			}
		}()
	}

	var port io.Closer
	if d.cfg.Console.Port != "" {
		conn, err := console.Open(d.cfg.Console.Port, d.cfg.Console.Baud)
		if err != nil {
			log.Printf("console disabled: %v", err)
		} else {
			port = conn
			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Printf("console: serving on %s", d.cfg.Console.Port)
				if err := d.console.Serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("console: %v", err)
				}
			}()
		}
	}

	<-ctx.Done()
	log.Printf("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http: shutdown: %v", err)
		}
		cancel()
	}
	if port != nil {
		if err := port.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
	}
	d.scheduler.Stop()
	<-runnerDone
	wg.Wait()
	return nil
}

// close releases the resources opened by build.
func (d *daemon) close() {
	if d.publisher != nil {
		d.publisher.Close()
		d.publisher = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Printf("store: %v", err)
		}
		d.store = nil
	}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			log.Printf("bus: %v", err)
		}
		d.bus = nil
	}
}
