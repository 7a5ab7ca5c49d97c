package instrument

import (
	"errors"
	"testing"

	"github.com/norasector/vnacore/pkg/types"
)

func TestValidateVNA(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(s *types.VNASettings, info *types.Info)
		wantErr error
	}{
		{"valid", func(s *types.VNASettings, info *types.Info) {}, nil},
		{"start below minimum", func(s *types.VNASettings, info *types.Info) { s.FreqStart = 10e3 }, ErrConfigurationRejected},
		{"stop above maximum", func(s *types.VNASettings, info *types.Info) { s.FreqStop = 7e9 }, ErrConfigurationRejected},
		{"start above stop", func(s *types.VNASettings, info *types.Info) { s.FreqStart, s.FreqStop = 2e9, 1e9 }, ErrConfigurationRejected},
		{"ifbw", func(s *types.VNASettings, info *types.Info) { s.IFBW = 1e6 }, ErrConfigurationRejected},
		{"no points", func(s *types.VNASettings, info *types.Info) { s.Points = 0 }, ErrConfigurationRejected},
		{"too many points", func(s *types.VNASettings, info *types.Info) { s.Points = 5000 }, ErrConfigurationRejected},
		{"power", func(s *types.VNASettings, info *types.Info) { s.DBmStop = 5 }, ErrConfigurationRejected},
		{"zero span", func(s *types.VNASettings, info *types.Info) { s.FreqStop = s.FreqStart }, nil},
		{"unsupported", func(s *types.VNASettings, info *types.Info) { info.SupportsVNA = false }, ErrUnsupportedMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, info := vnaSettings(1, 2), testInfo(2)
			tt.modify(&s, &info)
			err := validateVNA(info, s)
			if tt.wantErr == nil && err != nil {
				t.Errorf("validateVNA() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("validateVNA() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSA(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(s *types.SASettings)
		wantErr bool
	}{
		{"valid", func(s *types.SASettings) {}, false},
		{"rbw", func(s *types.SASettings) { s.RBW = 1 }, true},
		{"window", func(s *types.SASettings) { s.Window = types.WindowLast }, true},
		{"detector", func(s *types.SASettings) { s.Detector = -1 }, true},
		{"tracking port", func(s *types.SASettings) { s.TrackingGenerator, s.TrackingPort = true, 3 }, true},
		{"tracking power", func(s *types.SASettings) { s.TrackingGenerator, s.TrackingPort, s.TrackingPower = true, 1, -60 }, true},
		{"tracking", func(s *types.SASettings) { s.TrackingGenerator, s.TrackingPort, s.TrackingPower = true, 2, -20 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := saSettings()
			tt.modify(&s)
			err := validateSA(testInfo(2), s)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSA() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfigurationRejected) {
				t.Errorf("validateSA() error = %v does not wrap ErrConfigurationRejected", err)
			}
		})
	}
}

func TestValidateSG(t *testing.T) {
	tests := []struct {
		name    string
		s       types.SGSettings
		wantErr bool
	}{
		{"valid", types.SGSettings{Freq: 1e9, DBm: -10, Port: 1}, false},
		{"off ignores limits", types.SGSettings{Freq: 0, DBm: 100, Port: 0}, false},
		{"port", types.SGSettings{Freq: 1e9, DBm: -10, Port: 3}, true},
		{"frequency", types.SGSettings{Freq: 10e9, DBm: -10, Port: 2}, true},
		{"power", types.SGSettings{Freq: 1e9, DBm: -50, Port: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateSG(testInfo(2), tt.s); (err != nil) != tt.wantErr {
				t.Errorf("validateSG() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
