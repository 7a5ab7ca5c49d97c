package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/vnacore/pkg/instrument"
	"github.com/norasector/vnacore/pkg/instrument/config"
	"github.com/norasector/vnacore/pkg/instrument/monitor"
	"github.com/norasector/vnacore/pkg/instrument/output"
	"github.com/norasector/vnacore/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a device and stream fused measurements",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	runCmd.Flags().Bool("print", false, "write measurements to stdout")
	runCmd.Flags().StringSlice("params", nil, "parameters to print, e.g. S11,S21 (default all)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if cfg.InfluxDB.Host != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.Host, "")
		defer client.Close()
		writeAPI = client.WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
	}

	var outputs []instrument.MeasurementOutput
	if len(cfg.OutputDestinations) > 0 {
		outputs = append(outputs, output.NewMeasurementUDPOutput(cfg.OutputDestinations, writeAPI))
	}
	if printOut, _ := cmd.Flags().GetBool("print"); printOut {
		params, _ := cmd.Flags().GetStringSlice("params")
		outputs = append(outputs, output.NewSimpleOutput(cmd.OutOrStdout(), params))
	}

	manager, err := newManager(cfg,
		instrument.WithLogger(log.Logger),
		instrument.WithInfluxDB(writeAPI),
		instrument.WithAckTimeout(cfg.AckTimeout),
		instrument.WithEventBuffer(cfg.EventBuffer),
		instrument.WithRequiredProtocol(cfg.RequiredProtocol),
		instrument.WithOutputs(outputs...),
	)
	if err != nil {
		return err
	}

	id := cfg.Device
	if id == "" {
		ids, err := manager.ListAvailableDevices(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return errors.New("no devices available")
		}
		id = ids[0]
	}

	vd, err := manager.ConnectTo(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", id, err)
	}

	// an outdated firmware is reported through the event stream
	if err := applySweep(vd, cfg.Sweep); err != nil && !errors.Is(err, instrument.ErrFirmwareMismatch) {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
		case <-ctx.Done():
		}
		return vd.Stop()
	})

	eg.Go(func() error {
		defer cancel()
		return vd.Run(ctx)
	})

	eg.Go(func() error {
		logEvents(vd.Events())
		return nil
	})

	if cfg.MonitorServer.Port != 0 {
		srv := monitor.NewServer(cfg.MonitorServer.Port, vd)
		eg.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("exited program")
		return err
	}
	return nil
}

func applySweep(vd *instrument.VirtualDevice, sweep config.Sweep) error {
	done := func(err error) {
		if err != nil {
			log.Error().Err(err).Str("mode", sweep.Mode).Msg("sweep configuration failed")
			return
		}
		log.Info().Str("mode", sweep.Mode).Msg("sweep configured")
	}

	switch sweep.Mode {
	case instrument.ModeVNA.String():
		return vd.SetVNA(*sweep.VNA, done)
	case instrument.ModeSA.String():
		return vd.SetSA(*sweep.SA, done)
	case instrument.ModeSG.String():
		return vd.SetSG(*sweep.SG)
	default:
		return vd.SetIdle(done)
	}
}

func logEvents(events <-chan instrument.Event) {
	for ev := range events {
		switch ev.Kind {
		case instrument.EventStatus:
			log.Debug().
				Str("status", ev.Status.StatusString).
				Bool("overload", ev.Status.Overload).
				Bool("unlocked", ev.Status.Unlocked).
				Bool("unlevel", ev.Status.Unlevel).
				Msg("status updated")
		case instrument.EventInfo:
			log.Info().
				Str("serial", ev.Serial).
				Int("ports", ev.Info.Ports).
				Int("protocol", ev.Info.ProtocolVersion).
				Msg("info updated")
		case instrument.EventLogLine:
			log.Debug().Str("serial", ev.Serial).Msg(ev.Line)
		case instrument.EventNeedsFirmwareUpdate:
			log.Warn().
				Int("used_protocol", ev.UsedProtocol).
				Int("required_protocol", ev.RequiredProtocol).
				Msg("firmware update needed")
		case instrument.EventConnectionLost:
			log.Error().Err(ev.Err).Str("serial", ev.Serial).Msg("connection lost")
		}
	}
}
