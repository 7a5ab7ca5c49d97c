package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/norasector/vnacore/pkg/instrument"
	"github.com/norasector/vnacore/pkg/instrument/config"
	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/instrument/device/record"
	"github.com/norasector/vnacore/pkg/instrument/device/sim"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newSimDevice(sd config.SimDevice) (*sim.Device, error) {
	info := sim.DefaultInfo()
	if sd.ProtocolVersion != 0 {
		info.ProtocolVersion = sd.ProtocolVersion
	}
	opts := []sim.Option{
		sim.WithInfo(info),
		sim.WithPorts(sd.Ports),
		sim.WithInterval(sd.Interval),
		sim.WithFrequencyOffset(sd.FrequencyOffset),
		sim.WithRejectCommands(sd.RejectCommands),
		sim.WithAckDelay(sd.AcknowledgeDelay),
		sim.WithLogger(log.Logger),
	}
	if sd.Serial != "" {
		opts = append(opts, sim.WithSerial(sd.Serial))
	}
	if sd.ToneFrequency != 0 {
		opts = append(opts, sim.WithTone(sd.ToneFrequency, sd.ToneLevel))
	}
	return sim.New(opts...)
}

// recordPath gives every recorded device its own file when there are several.
func recordPath(location, serial string, devices int) string {
	if devices == 1 {
		return location
	}
	ext := filepath.Ext(location)
	return strings.TrimSuffix(location, ext) + "-" + serial + ext
}

// newManager builds the drivers described by cfg.
func newManager(cfg *config.Config, opts ...instrument.Option) (*instrument.Manager, error) {
	var drivers []device.Driver

	if cfg.PlaybackLocation != "" {
		log.Info().Str("device", "playback").Str("playback_location", cfg.PlaybackLocation).Msg("initializing device...")
		player, err := record.NewPlayer(cfg.PlaybackLocation, record.WithTimeBetween(cfg.PlaybackInterval))
		if err != nil {
			return nil, fmt.Errorf("failed to open recording: %w", err)
		}
		drivers = append(drivers, device.NewStaticDriver("playback", player))
	}

	simDevices := make([]device.Device, 0, len(cfg.SimDevices))
	for _, sd := range cfg.SimDevices {
		dev, err := newSimDevice(sd)
		if err != nil {
			return nil, fmt.Errorf("failed to create simulated device: %w", err)
		}
		log.Info().Str("device", "sim").Str("serial", dev.Serial()).Int("ports", dev.Info().Ports).Msg("initializing device...")
		if cfg.RecordLocation == "" {
			simDevices = append(simDevices, dev)
			continue
		}
		rec, err := record.NewRecorder(dev, recordPath(cfg.RecordLocation, dev.Serial(), len(cfg.SimDevices)))
		if err != nil {
			return nil, fmt.Errorf("failed to create recording: %w", err)
		}
		simDevices = append(simDevices, rec)
	}
	if len(simDevices) > 0 {
		drivers = append(drivers, device.NewStaticDriver("sim", simDevices...))
	}

	return instrument.NewManager(
		instrument.WithDrivers(drivers...),
		instrument.WithCompoundDevices(cfg.CompoundDevices...),
		instrument.WithDeviceOptions(opts...),
		instrument.WithManagerLogger(log.Logger),
	), nil
}
