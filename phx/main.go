package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/phx/pkg/config"
	"github.com/itohio/phx/pkg/console"
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use the simulated ADS1015 instead of I2C")
		portFlag   = flag.String("port", "", "Serial console port override (e.g., COM3 or /dev/ttyACM0)")
		listenFlag = flag.String("listen", "", "HTTP listen address override (e.g., :8080)")
		portsFlag  = flag.Bool("ports", false, "List serial ports and exit")
		saveFlag   = flag.Bool("save-config", false, "Write the effective configuration back and exit")
	)
	flag.Parse()

	if *portsFlag {
		ports, err := console.Ports()
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range ports {
			log.Printf("%s\t%s", p.Name, p.Description)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *mockFlag {
		cfg.Bus.Driver = config.DriverMock
	}
	if *portFlag != "" {
		cfg.Console.Port = *portFlag
	}
	if *listenFlag != "" {
		cfg.HTTP.Listen = *listenFlag
	}

	if *saveFlag {
		if err := cfg.Save(*configFlag); err != nil {
			log.Fatal(err)
		}
		return
	}

	d, err := build(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.run(ctx); err != nil {
		log.Fatal(err)
	}
}
