package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ericogr/pulsestim/pkg/config"
	"github.com/ericogr/pulsestim/pkg/control"
	"github.com/ericogr/pulsestim/pkg/output"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "pulsestim-client"
	DefaultStateTopic = "pulsestim/state"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
)

// sensorField describes one Home Assistant sensor derived from the state payload.
type sensorField struct {
	key         string
	label       string
	unit        string
	deviceClass string
	template    string
}

var sensorFields = []sensorField{
	{key: "mode", label: "Mode", template: "{{ value_json.mode }}"},
	{key: "amplitude", label: "Amplitude", unit: "V", deviceClass: "voltage", template: "{{ value_json.amplitude | float }}"},
	{key: "on_time", label: "On Time", unit: "ms", deviceClass: "duration", template: "{{ value_json.on_time | float }}"},
	{key: "delay", label: "Delay", unit: "s", deviceClass: "duration", template: "{{ value_json.delay | float }}"},
}

type MQTTOutput struct {
	client         mqtt.Client
	stateTopic     string
	discoveryTopic string
}

func NewMQTT(cfg config.MQTTConfig) (output.Output, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	st := cfg.StateTopic
	if st == "" {
		st = DefaultStateTopic
	}
	m := &MQTTOutput{client: client, stateTopic: st, discoveryTopic: cfg.DiscoveryTopic}

	// Publish Home Assistant discovery payloads if requested
	if m.discoveryTopic != "" {
		for topic, payload := range discoveryPayloads(cfg, m.stateTopic) {
			if err := publishJSON(client, topic, true, payload); err != nil {
				log.Printf("mqtt discovery publish error: %v", err)
			}
		}
	}

	return m, nil
}

func (m *MQTTOutput) Publish(s control.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.stateTopic, 0, false, b)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// discoveryPayloads returns one discovery entry per sensor field keyed by its
// config topic. A discovery topic with a %s formatter gets the field key;
// otherwise the key is appended as a path segment.
func discoveryPayloads(cfg config.MQTTConfig, stateTopic string) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(sensorFields))
	for _, f := range sensorFields {
		out[discoveryTopicFor(cfg.DiscoveryTopic, f.key)] = baseDiscoveryPayload(f, discoveryName(cfg, f), stateTopic, discoveryUniqueID(cfg, f))
	}
	return out
}

func discoveryTopicFor(base, key string) string {
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, key)
	}
	return strings.TrimSuffix(base, "/") + "/" + key + "/config"
}

// helper: build a human-friendly discovery name
func discoveryName(cfg config.MQTTConfig, f sensorField) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("Pulse Stimulator %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, f.label)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, f sensorField) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s", uid, f.key)
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(f sensorField, name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyValueTemplate:       f.template,
		keyJSONAttributesTopic: stateTopic,
	}
	if f.unit != "" {
		payload[keyUnitOfMeasurement] = f.unit
		payload[keyStateClass] = stateClassMeasurement
	}
	if f.deviceClass != "" {
		payload[keyDeviceClass] = f.deviceClass
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
