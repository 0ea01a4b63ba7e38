package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	HardwareReal       = "real"
	HardwareSimulation = "simulation"
)

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty" yaml:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty" yaml:"discovery_unique_id,omitempty"`
}

type SerialConfig struct {
	Device   string `json:"device" yaml:"device"`
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
}

type OutputConfig struct {
	Type       string        `json:"type" yaml:"type"`
	IntervalMs int           `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig   `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Serial     *SerialConfig `json:"serial,omitempty" yaml:"serial,omitempty"`
}

type SPIConfig struct {
	Port       string `json:"port" yaml:"port"`
	ADCClockHz int    `json:"adc_clock_hz" yaml:"adc_clock_hz"`
	PotClockHz int    `json:"pot_clock_hz" yaml:"pot_clock_hz"`
	TimeoutMs  int    `json:"timeout_ms" yaml:"timeout_ms"`
}

// PinsConfig names the gpio lines as understood by periph (e.g. "GPIO24").
type PinsConfig struct {
	ADCChipSelect       string `json:"adc_cs" yaml:"adc_cs"`
	OnTimeChipSelect    string `json:"on_time_cs" yaml:"on_time_cs"`
	AmplitudeChipSelect string `json:"amplitude_cs" yaml:"amplitude_cs"`
	Pulse               string `json:"pulse" yaml:"pulse"`
	Mux                 string `json:"mux" yaml:"mux"`
	Up                  string `json:"up" yaml:"up"`
	Down                string `json:"down" yaml:"down"`
}

type ChannelsConfig struct {
	Delay     int `json:"delay" yaml:"delay"`
	OnTime    int `json:"on_time" yaml:"on_time"`
	Amplitude int `json:"amplitude" yaml:"amplitude"`
}

type PulseConfig struct {
	FrequencyHz float64 `json:"frequency_hz" yaml:"frequency_hz"`
	DutyCycle   float64 `json:"duty_cycle" yaml:"duty_cycle"`
}

// SimulationConfig drives the simulated front panel.
type SimulationConfig struct {
	Raw    map[int]int `json:"raw" yaml:"raw"`
	Jitter int         `json:"jitter" yaml:"jitter"`
	// Switch is one of pi_pulse, standby, function_gen or undefined.
	Switch string `json:"switch" yaml:"switch"`
}

type Config struct {
	HardwareType string           `json:"hardware_type" yaml:"hardware_type"`
	TickMs       int              `json:"tick_ms" yaml:"tick_ms"`
	SPI          SPIConfig        `json:"spi" yaml:"spi"`
	Pins         PinsConfig       `json:"pins" yaml:"pins"`
	Channels     ChannelsConfig   `json:"channels" yaml:"channels"`
	Pulse        PulseConfig      `json:"pulse" yaml:"pulse"`
	Simulation   SimulationConfig `json:"simulation" yaml:"simulation"`
	Outputs      []OutputConfig   `json:"outputs" yaml:"outputs"`
	IntervalMs   int              `json:"interval_ms" yaml:"interval_ms"`
}

func DefaultConfig() Config {
	return Config{
		HardwareType: HardwareReal,
		TickMs:       1,
		SPI: SPIConfig{
			Port:       "/dev/spidev0.0",
			ADCClockHz: 1350000,
			PotClockHz: 976000,
			TimeoutMs:  5,
		},
		Pins: PinsConfig{
			ADCChipSelect:       "GPIO24",
			OnTimeChipSelect:    "GPIO23",
			AmplitudeChipSelect: "GPIO25",
			Pulse:               "GPIO12",
			Mux:                 "GPIO22",
			Up:                  "GPIO17",
			Down:                "GPIO27",
		},
		Channels: ChannelsConfig{Delay: 0, OnTime: 1, Amplitude: 2},
		Pulse:    PulseConfig{FrequencyHz: 100, DutyCycle: 99},
		Simulation: SimulationConfig{
			Raw:    map[int]int{0: 512, 1: 512, 2: 512},
			Jitter: 2,
			Switch: "pi_pulse",
		},
		Outputs:    []OutputConfig{{Type: "console", IntervalMs: 1000}},
		IntervalMs: 1000,
	}
}

// LoadFromFlags loads configuration from a JSON or YAML file (optional) and
// the process flags. Flags override values present in the file.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load is LoadFromFlags for an explicit argument list.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("pulsestim", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagHardware := fs.String("hardware", "", "hardware type: real|simulation")
	flagTick := fs.Int("tick-ms", -1, "Control loop period in ms")
	flagSPIPort := fs.String("spi-port", "", "SPI port (e.g. /dev/spidev0.0)")
	flagADCClock := fs.String("adc-clock", "", "ADC SPI clock in Hz (decimal or 0x hex)")
	flagPotClock := fs.String("pot-clock", "", "Potentiometer SPI clock in Hz (decimal or 0x hex)")
	flagBusTimeout := fs.Int("bus-timeout-ms", -1, "Per transaction SPI timeout in ms (0 disables)")
	flagPulseHz := fs.Float64("pulse-hz", math.NaN(), "Initial pulse timer frequency in Hz")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,serial)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic")
	flagDiscovery := fs.String("mqtt-discovery-topic", "", "Home Assistant discovery topic, %s is replaced by the field")
	flagSerialDevice := fs.String("serial-device", "", "Serial display device (e.g. /dev/ttyUSB0)")
	flagSerialBaud := fs.Int("serial-baud", -1, "Serial display baud rate")
	flagSimRaw := fs.String("sim-raw", "", "Simulated ADC codes e.g. 0=512,1=100,2=900")
	flagSimSwitch := fs.String("sim-switch", "", "Simulated switch: pi_pulse|standby|function_gen|undefined")
	flagInterval := fs.Int("interval-ms", -1, "Default output interval in ms")

	if err := fs.Parse(args); err != nil {
		return DefaultConfig(), err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decode(*cfgPath, b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if *flagHardware != "" {
		cfg.HardwareType = *flagHardware
	}
	if *flagTick != -1 {
		cfg.TickMs = *flagTick
	}
	if *flagSPIPort != "" {
		cfg.SPI.Port = *flagSPIPort
	}
	if *flagADCClock != "" {
		v, err := parseIntOrHex(*flagADCClock)
		if err != nil {
			return cfg, fmt.Errorf("adc-clock: %w", err)
		}
		cfg.SPI.ADCClockHz = v
	}
	if *flagPotClock != "" {
		v, err := parseIntOrHex(*flagPotClock)
		if err != nil {
			return cfg, fmt.Errorf("pot-clock: %w", err)
		}
		cfg.SPI.PotClockHz = v
	}
	if *flagBusTimeout != -1 {
		cfg.SPI.TimeoutMs = *flagBusTimeout
	}
	if !math.IsNaN(*flagPulseHz) {
		cfg.Pulse.FrequencyHz = *flagPulseHz
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p), IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		intervals, err := parseNamedIntMap(*flagOutputIntervals)
		if err != nil {
			return cfg, fmt.Errorf("output-intervals: %w", err)
		}
		for i := range cfg.Outputs {
			if v, ok := intervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	// Apply MQTT flags to all mqtt outputs; if none exist, create one.
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" || *flagDiscovery != "" {
		apply := func(m *MQTTConfig) {
			if *flagMQTTServer != "" {
				m.Server = *flagMQTTServer
			}
			if *flagMQTTUser != "" {
				m.Username = *flagMQTTUser
			}
			if *flagMQTTPass != "" {
				m.Password = *flagMQTTPass
			}
			if *flagClientID != "" {
				m.ClientID = *flagClientID
			}
			if *flagTopic != "" {
				m.StateTopic = *flagTopic
			}
			if *flagDiscovery != "" {
				m.DiscoveryTopic = *flagDiscovery
			}
		}
		if !forEachOutput(cfg.Outputs, "mqtt", func(o *OutputConfig) {
			if o.MQTT == nil {
				o.MQTT = &MQTTConfig{}
			}
			apply(o.MQTT)
		}) {
			o := OutputConfig{Type: "mqtt", IntervalMs: cfg.IntervalMs, MQTT: &MQTTConfig{}}
			apply(o.MQTT)
			cfg.Outputs = append(cfg.Outputs, o)
		}
	}
	if *flagSerialDevice != "" || *flagSerialBaud != -1 {
		apply := func(s *SerialConfig) {
			if *flagSerialDevice != "" {
				s.Device = *flagSerialDevice
			}
			if *flagSerialBaud != -1 {
				s.BaudRate = *flagSerialBaud
			}
		}
		if !forEachOutput(cfg.Outputs, "serial", func(o *OutputConfig) {
			if o.Serial == nil {
				o.Serial = &SerialConfig{}
			}
			apply(o.Serial)
		}) {
			o := OutputConfig{Type: "serial", IntervalMs: cfg.IntervalMs, Serial: &SerialConfig{}}
			apply(o.Serial)
			cfg.Outputs = append(cfg.Outputs, o)
		}
	}
	if *flagSimRaw != "" {
		raw, err := parseKeyIntMap(*flagSimRaw)
		if err != nil {
			return cfg, fmt.Errorf("sim-raw: %w", err)
		}
		if cfg.Simulation.Raw == nil {
			cfg.Simulation.Raw = map[int]int{}
		}
		for k, v := range raw {
			cfg.Simulation.Raw[k] = v
		}
	}
	if *flagSimSwitch != "" {
		cfg.Simulation.Switch = *flagSimSwitch
	}
	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.HardwareType {
	case HardwareReal, HardwareSimulation:
	default:
		return fmt.Errorf("hardware type %q: must be %s or %s", c.HardwareType, HardwareReal, HardwareSimulation)
	}
	if c.TickMs <= 0 {
		return errors.New("tick-ms must be > 0")
	}
	if c.SPI.ADCClockHz <= 0 || c.SPI.PotClockHz <= 0 {
		return errors.New("spi clocks must be > 0")
	}
	if c.SPI.TimeoutMs < 0 {
		return errors.New("bus-timeout-ms must be >= 0")
	}
	if c.Pulse.FrequencyHz <= 0 {
		return errors.New("pulse frequency must be > 0")
	}
	seen := map[int]string{}
	for name, ch := range map[string]int{"delay": c.Channels.Delay, "on_time": c.Channels.OnTime, "amplitude": c.Channels.Amplitude} {
		if ch < 0 || ch > 7 {
			return fmt.Errorf("channel %s=%d: must be 0..7", name, ch)
		}
		if other, ok := seen[ch]; ok {
			return fmt.Errorf("channel %d used by both %s and %s", ch, other, name)
		}
		seen[ch] = name
	}
	for _, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case "console":
		case "mqtt":
			if o.MQTT == nil || o.MQTT.Server == "" {
				return errors.New("mqtt output requires a server")
			}
		case "serial":
			if o.Serial == nil || o.Serial.Device == "" {
				return errors.New("serial output requires a device")
			}
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

func decode(path string, b []byte, cfg *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return err
	}
	for i := range cfg.Outputs {
		cfg.Outputs[i].Type = strings.ToLower(strings.TrimSpace(cfg.Outputs[i].Type))
	}
	return nil
}

func forEachOutput(outs []OutputConfig, typ string, f func(*OutputConfig)) bool {
	found := false
	for i := range outs {
		if strings.ToLower(outs[i].Type) == typ {
			f(&outs[i])
			found = true
		}
	}
	return found
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKeyIntMap parses "0=128,1=250".
func parseKeyIntMap(s string) (map[int]int, error) {
	out := map[int]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry '%s'", p)
		}
		k, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid key '%s': %w", kv[0], err)
		}
		v, err := parseIntOrHex(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value '%s': %w", kv[1], err)
		}
		out[k] = v
	}
	return out, nil
}

// parseNamedIntMap parses "console=1000,mqtt=5000".
func parseNamedIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry '%s'", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value '%s': %w", kv[1], err)
		}
		out[strings.ToLower(strings.TrimSpace(kv[0]))] = v
	}
	return out, nil
}
