package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/itohio/phx/pkg/calstore"
	"github.com/itohio/phx/pkg/config"
	"github.com/itohio/phx/pkg/phx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Bus.Driver = config.DriverMock
	cfg.Store.Path = filepath.Join(t.TempDir(), "phx.db")
	cfg.HTTP.Listen = ""
	cfg.Mock.Noise = 0
	for i := range cfg.Probes {
		cfg.Probes[i].Samples = 4
		cfg.Probes[i].Delay = time.Millisecond
	}
	cfg.Probes[1].Schedule = "@every 1h"
	return cfg
}

func TestDaemon_RestoresCalibration(t *testing.T) {
	cfg := testConfig(t)
	want := phx.Calibration{Ref1: phx.Point{Millivolts: 1500, Value: 7}, Ref2: phx.Point{Millivolts: 2000, Value: 4}}

	store, err := calstore.Open(cfg.Store.Path)
	require.NoError(t, err)
	require.NoError(t, store.Save("ph", phx.Acidity, want))
	require.NoError(t, store.Close())

	d, err := build(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, d.scheduler.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	got, err := d.cal.Get(ctx, "ph")
	require.NoError(t, err)
	assert.InDelta(t, want.Ref1.Millivolts, got.Ref1.Millivolts, 1e-3)
	assert.Equal(t, want.Ref2.Value, got.Ref2.Value)

	// probes run a cycle as soon as the loop starts
	assert.Eventually(t, func() bool {
		_, ph := d.runner.Latest("ph")
		_, orp := d.runner.Latest("orp")
		return ph && orp
	}, 2*time.Second, 10*time.Millisecond)

	ph, _ := d.runner.Latest("ph")
	// 1750 mV lies halfway between the references
	assert.InDelta(t, 5.5, ph.Value, 0.05)
	orp, _ := d.runner.Latest("orp")
	assert.InDelta(t, 400, orp.Value, 3)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Nil(t, d.bus)
	assert.Nil(t, d.store)
}

func TestDaemon_BuildErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Probes[0].Schedule = "whenever"
	_, err := build(cfg)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Bus.Driver = "spi"
	_, err = build(cfg)
	assert.Error(t, err)
}
