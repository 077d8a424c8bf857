// Package console implements a line oriented command interface to the
// probes. Every command produces one reply line starting with OK or ERR.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/itohio/phx/pkg/calib"
	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/sampler"
)

const help = "commands: help | ports | status | read <probe> | temp [C] | tc on|off | " +
	"cal <probe> <1|2> <value> | cal <probe> show | cal <probe> clear | cancel <probe>"

// Runner is the part of sampler.Runner the console uses.
type Runner interface {
	Probe(name string) (sampler.Probe, bool)
	Latest(name string) (sampler.Reading, bool)
	Do(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
	DoIdle(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
	Each(ctx context.Context, fn func(name string, ch *phx.Channel) error) error
}

// Console executes commands against the runner.
type Console struct {
	runner Runner
	cal    *calib.Calibrator
	ports  func() ([]Port, error)
}

// New creates a console.
func New(r Runner, cal *calib.Calibrator) *Console {
	return &Console{runner: r, cal: cal, ports: Ports}
}

// Serve reads commands from rw and writes replies until the reader ends or
// ctx is done.
func (c *Console) Serve(ctx context.Context, rw io.ReadWriter) error {
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := io.WriteString(rw, c.Execute(ctx, line)+"\n"); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return ctx.Err()
}

func okReply(format string, args ...any) string { return "OK " + fmt.Sprintf(format, args...) }

func errReply(err error) string { return "ERR " + err.Error() }

// Execute runs a single command line and returns the reply.
func (c *Console) Execute(ctx context.Context, line string) string {
	args := strings.Fields(line)
	if len(args) == 0 {
		return errReply(fmt.Errorf("empty command"))
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	var reply string
	switch cmd {
	case "help", "?":
		reply = okReply("%s", help)
	case "ports":
		reply = c.listPorts()
	case "status":
		reply = c.status(ctx)
	case "read":
		reply = c.read(ctx, args)
	case "temp":
		reply = c.temperature(ctx, args)
	case "tc":
		reply = c.compensation(ctx, args)
	case "cal":
		reply = c.calibrate(ctx, args)
	case "cancel":
		reply = c.cancel(ctx, args)
	default:
		reply = errReply(fmt.Errorf("unknown command %q", cmd))
	}
	if strings.HasPrefix(reply, "ERR") {
		log.Printf("console: %s: %s", line, reply)
	}
	return reply
}

func (c *Console) listPorts() string {
	ports, err := c.ports()
	if err != nil {
		return errReply(err)
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return okReply("%s", strings.Join(names, " "))
}

// status reports every probe as name=value unit/error/state.
func (c *Console) status(ctx context.Context) string {
	var parts []string
	err := c.runner.Each(ctx, func(name string, ch *phx.Channel) error {
		entry := fmt.Sprintf("%s=-/%s", name, ch.State())
		if r, ok := c.runner.Latest(name); ok {
			entry = fmt.Sprintf("%s=%.2f%s/%s/%s", name, r.Value, r.Kind.Unit(), r.Error, ch.State())
		}
		parts = append(parts, entry)
		return nil
	})
	if err != nil {
		return errReply(err)
	}
	return okReply("%s", strings.Join(parts, " "))
}

func (c *Console) probe(args []string, n int) (sampler.Probe, error) {
	if len(args) < n {
		return sampler.Probe{}, fmt.Errorf("missing argument")
	}
	p, found := c.runner.Probe(args[0])
	if !found {
		return p, fmt.Errorf("%s: %w", args[0], sampler.ErrUnknownProbe)
	}
	return p, nil
}

func (c *Console) read(ctx context.Context, args []string) string {
	p, err := c.probe(args, 1)
	if err != nil {
		return errReply(err)
	}
	var (
		v  float64
		ek phx.ErrorKind
	)
	err = c.runner.DoIdle(ctx, p.Name, func(ch *phx.Channel) error {
		var err error
		v, ek, err = ch.Measure(ctx, p.Request)
		return err
	})
	if err != nil {
		return errReply(err)
	}
	return okReply("%s %.2f %s %s", p.Name, v, p.Request.Kind.Unit(), ek)
}

func (c *Console) temperature(ctx context.Context, args []string) string {
	if len(args) == 0 {
		var t phx.TemperatureState
		err := c.runner.Each(ctx, func(_ string, ch *phx.Channel) error {
			t = phx.TemperatureState{Celsius: ch.Temperature(), Enabled: ch.TemperatureCompensationEnabled()}
			return nil
		})
		if err != nil {
			return errReply(err)
		}
		return okReply("%.1f C tc=%s", t.Celsius, onOff(t.Enabled))
	}

	celsius, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return errReply(fmt.Errorf("invalid temperature %q", args[0]))
	}
	if !phx.ValidTemperature(celsius) {
		return errReply(fmt.Errorf("temperature %.1f C out of range", celsius))
	}
	err = c.runner.Each(ctx, func(_ string, ch *phx.Channel) error {
		ch.SetTemperature(celsius)
		return nil
	})
	if err != nil {
		return errReply(err)
	}
	return okReply("%.1f C", celsius)
}

func (c *Console) compensation(ctx context.Context, args []string) string {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errReply(fmt.Errorf("usage: tc on|off"))
	}
	on := args[0] == "on"
	err := c.runner.Each(ctx, func(_ string, ch *phx.Channel) error {
		ch.EnableTemperatureCompensation(on)
		return nil
	})
	if err != nil {
		return errReply(err)
	}
	return okReply("tc=%s", onOff(on))
}

func (c *Console) calibrate(ctx context.Context, args []string) string {
	p, err := c.probe(args, 2)
	if err != nil {
		return errReply(err)
	}
	switch args[1] {
	case "show":
		cal, err := c.cal.Get(ctx, p.Name)
		if err != nil {
			return errReply(err)
		}
		return okReply("%s %.2fmV=%g %.2fmV=%g", p.Name, cal.Ref1.Millivolts, cal.Ref1.Value, cal.Ref2.Millivolts, cal.Ref2.Value)
	case "clear":
		if err := c.cal.Reset(ctx, p.Name); err != nil {
			return errReply(err)
		}
		return okReply("%s cleared", p.Name)
	}

	if len(args) != 3 {
		return errReply(fmt.Errorf("usage: cal <probe> <1|2> <value>"))
	}
	point, err := strconv.Atoi(args[1])
	if err != nil {
		return errReply(calib.ErrPoint)
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return errReply(fmt.Errorf("invalid value %q", args[2]))
	}
	pt, done, err := c.cal.Capture(ctx, p.Name, point, value)
	if err != nil {
		return errReply(err)
	}
	if done {
		return okReply("%s point %d %.2fmV calibrated", p.Name, point, pt.Millivolts)
	}
	return okReply("%s point %d %.2fmV", p.Name, point, pt.Millivolts)
}

func (c *Console) cancel(ctx context.Context, args []string) string {
	p, err := c.probe(args, 1)
	if err != nil {
		return errReply(err)
	}
	err = c.runner.Do(ctx, p.Name, func(ch *phx.Channel) error {
		ch.Cancel()
		return nil
	})
	if err != nil {
		return errReply(err)
	}
	return okReply("%s cancelled", p.Name)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
