package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/norasector/vnacore/pkg/instrument"
	"github.com/norasector/vnacore/pkg/types"
	"gopkg.in/yaml.v2"
)

type Config struct {
	// Device is the serial or compound device name to connect to. Empty selects
	// the first available device.
	Device             string                          `yaml:"device" toml:"device"`
	AckTimeout         time.Duration                   `yaml:"ack_timeout" toml:"ack_timeout"`
	EventBuffer        int                             `yaml:"event_buffer" toml:"event_buffer"`
	RequiredProtocol   int                             `yaml:"required_protocol" toml:"required_protocol"`
	RecordLocation     string                          `yaml:"record_location" toml:"record_location"`
	PlaybackLocation   string                          `yaml:"playback_location" toml:"playback_location"`
	PlaybackInterval   time.Duration                   `yaml:"playback_interval" toml:"playback_interval"`
	SimDevices         []SimDevice                     `yaml:"sim_devices" toml:"sim_devices"`
	CompoundDevices    []instrument.CompoundDefinition `yaml:"compound_devices" toml:"compound_devices"`
	Sweep              Sweep                           `yaml:"sweep" toml:"sweep"`
	OutputDestinations []OutputDestination             `yaml:"output_destinations" toml:"output_destinations"`
	MonitorServer      struct {
		Port int `yaml:"port" toml:"port"`
	} `yaml:"monitor_server" toml:"monitor_server"`
	InfluxDB struct {
		Host         string `yaml:"host" toml:"host"`
		Organization string `yaml:"organization" toml:"organization"`
		Bucket       string `yaml:"bucket" toml:"bucket"`
	} `yaml:"influxdb" toml:"influxdb"`
}

type SimDevice struct {
	Serial           string        `yaml:"serial" toml:"serial"`
	Ports            int           `yaml:"ports" toml:"ports"`
	Interval         time.Duration `yaml:"interval" toml:"interval"`
	FrequencyOffset  float64       `yaml:"frequency_offset" toml:"frequency_offset"`
	ProtocolVersion  int           `yaml:"protocol_version" toml:"protocol_version"`
	RejectCommands   int           `yaml:"reject_commands" toml:"reject_commands"`
	ToneFrequency    float64       `yaml:"tone_freq" toml:"tone_freq"`
	ToneLevel        float64       `yaml:"tone_dbm" toml:"tone_dbm"`
	AcknowledgeDelay time.Duration `yaml:"ack_delay" toml:"ack_delay"`
}

// Sweep is the configuration applied once the device is connected.
type Sweep struct {
	Mode string             `yaml:"mode" toml:"mode"`
	VNA  *types.VNASettings `yaml:"vna" toml:"vna"`
	SA   *types.SASettings  `yaml:"sa" toml:"sa"`
	SG   *types.SGSettings  `yaml:"sg" toml:"sg"`
}

type OutputDestination struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// Load reads a YAML or TOML file, chosen by extension.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", filepath.Ext(path))
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AckTimeout == 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 256
	}
	if c.PlaybackInterval == 0 {
		c.PlaybackInterval = time.Millisecond
	}
	if c.Sweep.Mode == "" {
		c.Sweep.Mode = instrument.ModeIdle.String()
	}
	c.Sweep.Mode = strings.ToLower(c.Sweep.Mode)
	for i := range c.SimDevices {
		sd := &c.SimDevices[i]
		if sd.Ports == 0 {
			sd.Ports = 2
		}
		if sd.Interval == 0 {
			sd.Interval = time.Millisecond
		}
	}
}

func (c *Config) validate() error {
	if c.AckTimeout < 0 {
		return fmt.Errorf("ack_timeout must be positive")
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1")
	}
	if c.RecordLocation != "" && c.PlaybackLocation != "" {
		return fmt.Errorf("record_location and playback_location are exclusive")
	}

	serials := make(map[string]struct{})
	for i, sd := range c.SimDevices {
		if sd.Serial == "" {
			continue
		}
		if _, ok := serials[sd.Serial]; ok {
			return fmt.Errorf("sim_devices[%d]: duplicate serial %s", i, sd.Serial)
		}
		serials[sd.Serial] = struct{}{}
	}

	names := make(map[string]struct{})
	for i, def := range c.CompoundDevices {
		if def.Name == "" {
			return fmt.Errorf("compound_devices[%d]: name is required", i)
		}
		if _, ok := names[def.Name]; ok {
			return fmt.Errorf("compound_devices[%d]: duplicate name %s", i, def.Name)
		}
		names[def.Name] = struct{}{}
		if len(def.Serials) == 0 {
			return fmt.Errorf("compound device %s: serials are required", def.Name)
		}
	}

	switch c.Sweep.Mode {
	case instrument.ModeIdle.String():
	case instrument.ModeVNA.String():
		if c.Sweep.VNA == nil {
			return fmt.Errorf("sweep.vna is required in mode %s", c.Sweep.Mode)
		}
	case instrument.ModeSA.String():
		if c.Sweep.SA == nil {
			return fmt.Errorf("sweep.sa is required in mode %s", c.Sweep.Mode)
		}
	case instrument.ModeSG.String():
		if c.Sweep.SG == nil {
			return fmt.Errorf("sweep.sg is required in mode %s", c.Sweep.Mode)
		}
	default:
		return fmt.Errorf("unknown sweep mode %q", c.Sweep.Mode)
	}

	for i, dest := range c.OutputDestinations {
		if dest.Host == "" || dest.Port <= 0 || dest.Port > 65535 {
			return fmt.Errorf("output_destinations[%d]: invalid destination %s:%d", i, dest.Host, dest.Port)
		}
	}
	if c.MonitorServer.Port < 0 || c.MonitorServer.Port > 65535 {
		return fmt.Errorf("monitor_server.port %d out of range", c.MonitorServer.Port)
	}
	return nil
}
