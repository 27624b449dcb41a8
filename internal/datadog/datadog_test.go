package datadog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/ec-fan-controller/internal/config"
	"github.com/thatsimonsguy/ec-fan-controller/internal/env"
)

func TestInitMetrics_Disabled(t *testing.T) {
	env.Cfg = &config.Config{EnableDatadog: false, DDAgentAddr: "127.0.0.1:8125"}
	t.Cleanup(func() { env.Cfg = nil; Close() })

	InitMetrics()
	assert.Nil(t, dogstatsd)

	// no client, no panic
	Gauge("temperature", 61, "fan:cpu")
	Incr("fan.step_change", "fan:cpu")
}

func TestInitMetrics_Enabled(t *testing.T) {
	env.Cfg = &config.Config{EnableDatadog: true, DDAgentAddr: "127.0.0.1:8125", DDNamespace: "ecfan.", DDTags: []string{"host:test"}}
	t.Cleanup(func() { env.Cfg = nil; Close() })

	InitMetrics()
	if assert.NotNil(t, dogstatsd) {
		assert.Equal(t, "ecfan.", dogstatsd.Namespace)
		assert.Equal(t, []string{"host:test"}, dogstatsd.Tags)
	}
	Gauge("temperature", 61, "fan:cpu")
}
