package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/norasector/vnacore/pkg/types"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const yamlConfig = `
device: pair
ack_timeout: 500ms
required_protocol: 12
sim_devices:
  - serial: SIM-A
    ports: 2
    frequency_offset: 1000
  - serial: SIM-B
    tone_freq: 1e9
    tone_dbm: -30
compound_devices:
  - name: pair
    serials: [SIM-A, SIM-B]
    sync: USB
    port_mapping:
      - global: 1
        candidates:
          - device: 1
            port: 1
sweep:
  mode: VNA
  vna:
    freq_start: 1e6
    freq_stop: 6e9
    dbm_start: -10
    dbm_stop: -10
    ifbw: 1000
    points: 201
    excited_ports: [1, 2, 3, 4]
output_destinations:
  - host: 127.0.0.1
    port: 9000
monitor_server:
  port: 8080
`

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "vnacore.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device != "pair" || cfg.AckTimeout != 500*time.Millisecond || cfg.RequiredProtocol != 12 {
		t.Errorf("device %q, ack timeout %s, protocol %d", cfg.Device, cfg.AckTimeout, cfg.RequiredProtocol)
	}
	if len(cfg.SimDevices) != 2 {
		t.Fatalf("got %d sim devices", len(cfg.SimDevices))
	}
	if sd := cfg.SimDevices[1]; sd.Ports != 2 || sd.Interval != time.Millisecond || sd.ToneFrequency != 1e9 || sd.ToneLevel != -30 {
		t.Errorf("SimDevices[1] = %+v", sd)
	}
	if cfg.SimDevices[0].FrequencyOffset != 1000 {
		t.Errorf("FrequencyOffset = %v", cfg.SimDevices[0].FrequencyOffset)
	}

	if len(cfg.CompoundDevices) != 1 {
		t.Fatalf("got %d compound devices", len(cfg.CompoundDevices))
	}
	def := cfg.CompoundDevices[0]
	if def.Name != "pair" || !reflect.DeepEqual(def.Serials, []string{"SIM-A", "SIM-B"}) || def.Sync != "USB" {
		t.Errorf("CompoundDevices[0] = %+v", def)
	}
	if len(def.PortMapping) != 1 || def.PortMapping[0].Candidates[0].Device != 1 {
		t.Errorf("PortMapping = %+v", def.PortMapping)
	}

	if cfg.Sweep.Mode != "vna" || cfg.Sweep.VNA == nil {
		t.Fatalf("Sweep = %+v", cfg.Sweep)
	}
	want := types.VNASettings{FreqStart: 1e6, FreqStop: 6e9, DBmStart: -10, DBmStop: -10, IFBW: 1000, Points: 201, ExcitedPorts: []int{1, 2, 3, 4}}
	if !reflect.DeepEqual(*cfg.Sweep.VNA, want) {
		t.Errorf("Sweep.VNA = %+v, want %+v", *cfg.Sweep.VNA, want)
	}
	if len(cfg.OutputDestinations) != 1 || cfg.OutputDestinations[0].Port != 9000 || cfg.MonitorServer.Port != 8080 {
		t.Errorf("outputs %+v, monitor %d", cfg.OutputDestinations, cfg.MonitorServer.Port)
	}
}

const tomlConfig = `
event_buffer = 32

[[sim_devices]]
serial = "SIM-A"
ports = 4
interval = "5ms"

[sweep]
mode = "sa"

[sweep.sa]
freq_start = 1e6
freq_stop = 1e9
rbw = 1000.0
points = 101
window = 2

[influxdb]
host = "http://localhost:8086"
bucket = "vna"
`

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "vnacore.toml", tomlConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EventBuffer != 32 || cfg.AckTimeout != 2*time.Second {
		t.Errorf("event buffer %d, ack timeout %s", cfg.EventBuffer, cfg.AckTimeout)
	}
	if len(cfg.SimDevices) != 1 || cfg.SimDevices[0].Ports != 4 || cfg.SimDevices[0].Interval != 5*time.Millisecond {
		t.Errorf("SimDevices = %+v", cfg.SimDevices)
	}
	if cfg.Sweep.SA == nil || cfg.Sweep.SA.Window != types.WindowHann || cfg.Sweep.SA.Points != 101 {
		t.Errorf("Sweep.SA = %+v", cfg.Sweep.SA)
	}
	if cfg.InfluxDB.Host != "http://localhost:8086" || cfg.InfluxDB.Bucket != "vna" {
		t.Errorf("InfluxDB = %+v", cfg.InfluxDB)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "empty.yml", "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sweep.Mode != "idle" || cfg.EventBuffer != 256 || cfg.PlaybackInterval != time.Millisecond {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unknown extension", "config.json", "{}", "unknown config format"},
		{"bad yaml", "config.yaml", "sweep: [", "parsing"},
		{"record and playback", "config.yaml", "record_location: a\nplayback_location: b\n", "exclusive"},
		{"duplicate sim serial", "config.yaml", "sim_devices:\n  - serial: A\n  - serial: A\n", "duplicate serial"},
		{"compound without name", "config.yaml", "compound_devices:\n  - serials: [A]\n", "name is required"},
		{"compound without serials", "config.yaml", "compound_devices:\n  - name: x\n", "serials are required"},
		{"missing sweep settings", "config.yaml", "sweep:\n  mode: sa\n", "sweep.sa is required"},
		{"unknown mode", "config.yaml", "sweep:\n  mode: tdr\n", "unknown sweep mode"},
		{"bad destination", "config.yaml", "output_destinations:\n  - host: localhost\n", "invalid destination"},
		{"monitor port", "config.yaml", "monitor_server:\n  port: 70000\n", "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Load() of a missing file succeeded")
	}
}
