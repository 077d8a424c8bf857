package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/phx/pkg/config"
	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	msgs         []published
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestPublish(t *testing.T) {
	client := &fakeClient{}
	p := New(client, config.MQTTConfig{Topic: "aquarium/phx", QoS: 1, Retained: true})

	ts := time.UnixMilli(1700000000123)
	require.NoError(t, p.Publish(sampler.Reading{
		Probe: "tank", Kind: phx.Acidity, Value: 8.12, Smoothed: 8.1, Error: phx.None, Time: ts,
	}))

	require.Len(t, client.msgs, 1)
	msg := client.msgs[0]
	assert.Equal(t, "aquarium/phx/tank", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, "tank", body["probe"])
	assert.Equal(t, "ph", body["kind"])
	assert.Equal(t, 8.12, body["value"])
	assert.Equal(t, 8.1, body["smoothed"])
	assert.Equal(t, "none", body["error"])
	assert.Equal(t, float64(1700000000123), body["ts"])

	p.Close()
	assert.True(t, client.disconnected)
}

func TestPublish_Error(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := New(client, config.MQTTConfig{Topic: "phx"})

	err := p.Publish(sampler.Reading{Probe: "sump", Kind: phx.RedoxPotential, Error: phx.RedoxLow})
	assert.ErrorIs(t, err, client.err)

	// logged, not returned
	p.Observe(sampler.Reading{Probe: "sump"})
	assert.Len(t, client.msgs, 2)
}
