package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
mqtt {
  broker = "tls://broker.example:8883"
  client_id = "gw01"
  password = "secret"
  keepalive_sec = 15
  network_timeout_sec = 10
}
sparkplug {
  group = "Energy"
  edge_node = "Gateway01"
}
node {
  scan_interval_sec = 2
}
monitor {
  sweep_interval_sec = 3
  wake_backoff_base_sec = 5
  wake_backoff_cap_sec = 60
}
log_debug = true
`

func TestReadConfig(t *testing.T) {
	t.Parallel()
	c, err := ReadConfig(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "tls://broker.example:8883", c.Mqtt.Broker)
	assert.Equal(t, "gw01", c.Mqtt.ClientID)
	assert.Equal(t, "Energy", c.Sparkplug.Group)
	assert.Equal(t, "Gateway01", c.Sparkplug.EdgeNode)
	assert.Equal(t, 10*time.Second, c.NetworkTimeout())
	assert.Equal(t, 2*time.Second, c.ScanInterval())
	assert.Equal(t, 3*time.Second, c.SweepInterval())
	assert.True(t, c.LogDebug)
}

func TestReadConfigDefaults(t *testing.T) {
	t.Parallel()
	c, err := ReadConfig(strings.NewReader(`
mqtt { broker = "tcp://localhost:1883" }
sparkplug { group = "g" }
`))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.NetworkTimeout())
	assert.Equal(t, 5*time.Second, c.ScanInterval())
	assert.Equal(t, 1*time.Second, c.SweepInterval())
}

func TestReadConfigInvalid(t *testing.T) {
	t.Parallel()
	_, err := ReadConfig(strings.NewReader(`sparkplug { group = "g" }`))
	require.Error(t, err)

	_, err = ReadConfig(strings.NewReader(`mqtt { broker = `))
	require.Error(t, err)
}
