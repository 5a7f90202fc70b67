package option

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromArgs(t *testing.T) {
	o := FromArgs([]string{"--conf", "./configs", "--metrics-addr", ":9102", "--properties", "container.port=9000"})
	assert.Equal(t, "./configs", o.ConfigDir)
	assert.Equal(t, ":9102", o.MetricsAddr)
	assert.Equal(t, "yaml", o.ConfigType)
	assert.Equal(t, "info", o.LogLevel)
	assert.Equal(t, 10*time.Second, o.ShutdownTimeout)
}

func TestPropertiesAsMap(t *testing.T) {
	o := Option{Properties: "container.port=9000, container.home = /tmp/cargo,broken,=x"}
	assert.Equal(t, map[string]any{
		"container.port": "9000",
		"container.home": "/tmp/cargo",
	}, o.PropertiesAsMap())

	assert.Empty(t, (&Option{}).PropertiesAsMap())
}

func TestEnsureDefaults(t *testing.T) {
	o := Option{ID: "node-1"}
	o.EnsureDefaults()
	assert.Equal(t, "node-1", o.ID)
	assert.Equal(t, 10*time.Second, o.ShutdownTimeout)
}
