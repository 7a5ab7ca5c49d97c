package types

import "fmt"

type VNASettings struct {
	FreqStart float64 `yaml:"freq_start" toml:"freq_start" json:"freq_start"`
	FreqStop  float64 `yaml:"freq_stop" toml:"freq_stop" json:"freq_stop"`
	DBmStart  float64 `yaml:"dbm_start" toml:"dbm_start" json:"dbm_start"`
	DBmStop   float64 `yaml:"dbm_stop" toml:"dbm_stop" json:"dbm_stop"`
	IFBW      float64 `yaml:"ifbw" toml:"ifbw" json:"ifbw"`
	Points    int     `yaml:"points" toml:"points" json:"points"`
	LogSweep  bool    `yaml:"log_sweep" toml:"log_sweep" json:"log_sweep"`
	// ExcitedPorts are 1-based global port numbers.
	ExcitedPorts []int `yaml:"excited_ports,flow" toml:"excited_ports" json:"excited_ports"`
}

// ZeroSpan reports a sweep over time at a fixed frequency and power.
func (s VNASettings) ZeroSpan() bool {
	return s.FreqStart == s.FreqStop && s.DBmStart == s.DBmStop
}

// PowerSweep reports a sweep over output power at a fixed frequency.
func (s VNASettings) PowerSweep() bool {
	return s.FreqStart == s.FreqStop && s.DBmStart != s.DBmStop
}

type Window int

const (
	WindowNone Window = iota
	WindowKaiser
	WindowHann
	WindowFlatTop
	WindowLast
)

func (w Window) String() string {
	switch w {
	case WindowNone:
		return "None"
	case WindowKaiser:
		return "Kaiser"
	case WindowHann:
		return "Hann"
	case WindowFlatTop:
		return "FlatTop"
	}
	return fmt.Sprintf("Window(%d)", int(w))
}

type Detector int

const (
	DetectorPPeak Detector = iota
	DetectorNPeak
	DetectorSample
	DetectorNormal
	DetectorAverage
	DetectorLast
)

func (d Detector) String() string {
	switch d {
	case DetectorPPeak:
		return "+Peak"
	case DetectorNPeak:
		return "-Peak"
	case DetectorSample:
		return "Sample"
	case DetectorNormal:
		return "Normal"
	case DetectorAverage:
		return "Average"
	}
	return fmt.Sprintf("Detector(%d)", int(d))
}

type SASettings struct {
	FreqStart         float64  `yaml:"freq_start" toml:"freq_start" json:"freq_start"`
	FreqStop          float64  `yaml:"freq_stop" toml:"freq_stop" json:"freq_stop"`
	RBW               float64  `yaml:"rbw" toml:"rbw" json:"rbw"`
	Points            int      `yaml:"points" toml:"points" json:"points"`
	Window            Window   `yaml:"window" toml:"window" json:"window"`
	Detector          Detector `yaml:"detector" toml:"detector" json:"detector"`
	SignalID          bool     `yaml:"signal_id" toml:"signal_id" json:"signal_id"`
	TrackingGenerator bool     `yaml:"tracking_generator" toml:"tracking_generator" json:"tracking_generator"`
	TrackingPort      int      `yaml:"tracking_port" toml:"tracking_port" json:"tracking_port"`
	TrackingOffset    float64  `yaml:"tracking_offset" toml:"tracking_offset" json:"tracking_offset"`
	TrackingPower     float64  `yaml:"tracking_power" toml:"tracking_power" json:"tracking_power"`
}

func (s SASettings) ZeroSpan() bool {
	return s.FreqStart == s.FreqStop
}

type SGSettings struct {
	Freq float64 `yaml:"freq" toml:"freq" json:"freq"`
	DBm  float64 `yaml:"dbm" toml:"dbm" json:"dbm"`
	// Port 0 disables the output.
	Port int `yaml:"port" toml:"port" json:"port"`
}
