package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/sampler"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Observe(t *testing.T) {
	c := New()

	c.Observe(sampler.Reading{Probe: "tank", Kind: phx.Acidity, Value: 8.1, Smoothed: 8.05, Time: time.Now()})
	c.Observe(sampler.Reading{Probe: "tank", Kind: phx.Acidity, Value: 14, Smoothed: 11, Error: phx.AcidityHigh, Time: time.Now()})

	assert.Equal(t, 14.0, testutil.ToFloat64(c.value.WithLabelValues("tank", "ph")))
	assert.Equal(t, 11.0, testutil.ToFloat64(c.smoothed.WithLabelValues("tank", "ph")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles.WithLabelValues("tank")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("tank", "ph_high")))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Observe(sampler.Reading{Probe: "sump", Kind: phx.RedoxPotential, Value: 350})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `phx_reading_value{kind="orp",probe="sump"} 350`)
	assert.Contains(t, string(body), `phx_cycles_total{probe="sump"} 1`)
}
