package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/pulsestim/pkg/config"
	"github.com/ericogr/pulsestim/pkg/control"
	"github.com/ericogr/pulsestim/pkg/mode"
)

func TestDiscoveryTopicFor(t *testing.T) {
	assert.Equal(t, "homeassistant/sensor/stim_delay/config", discoveryTopicFor("homeassistant/sensor/stim_%s/config", "delay"))
	assert.Equal(t, "homeassistant/sensor/stim/mode/config", discoveryTopicFor("homeassistant/sensor/stim/", "mode"))
}

func TestDiscoveryPayloads(t *testing.T) {
	cfg := config.MQTTConfig{ClientID: "lab1", DiscoveryTopic: "ha/sensor/stim_%s/config"}
	got := discoveryPayloads(cfg, "pulsestim/state")
	require.Len(t, got, 4)

	amp := got["ha/sensor/stim_amplitude/config"]
	require.NotNil(t, amp)
	assert.Equal(t, "Pulse Stimulator lab1 Amplitude", amp[keyName])
	assert.Equal(t, "V", amp[keyUnitOfMeasurement])
	assert.Equal(t, "voltage", amp[keyDeviceClass])
	assert.Equal(t, "lab1_amplitude", amp[keyUniqueID])
	assert.Equal(t, "pulsestim/state", amp[keyStateTopic])

	m := got["ha/sensor/stim_mode/config"]
	require.NotNil(t, m)
	_, hasUnit := m[keyUnitOfMeasurement]
	assert.False(t, hasUnit)
}

func TestDiscoveryNameOverride(t *testing.T) {
	cfg := config.MQTTConfig{DiscoveryName: "Bench", DiscoveryUniqueID: "u"}
	f := sensorFields[3]
	assert.Equal(t, "Bench Delay", discoveryName(cfg, f))
	assert.Equal(t, "u_delay", discoveryUniqueID(cfg, f))
	assert.Equal(t, "", discoveryUniqueID(config.MQTTConfig{}, f))
}

func TestStatePayloadShape(t *testing.T) {
	s := control.Snapshot{
		Tick:      7,
		Timestamp: time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC),
		Mode:      mode.FunctionGenerator,
		Amplitude: "2.50",
		OnTime:    "1.00",
		Delay:     "2.00",
		Flagged:   mode.Fields{Amplitude: true},
	}
	b, err := json.Marshal(s)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "function_gen", got["mode"])
	assert.Equal(t, "2.50", got["amplitude"])
	assert.Equal(t, "1.00", got["on_time"])
	assert.Equal(t, "2.00", got["delay"])
	assert.Equal(t, true, got["flagged"].(map[string]interface{})["amplitude"])
}
