package record

import (
	"bufio"
	"context"
	"os"
	"sync"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Recorder wraps a device and writes every frame it produces to a file that a
// Player can replay later.
type Recorder struct {
	device.Device
	recordLocation string
	logger         zerolog.Logger

	mu         sync.Mutex
	outputFile *os.File
	buf        *bufio.Writer
	enc        *msgpack.Encoder
	frames     int
}

func NewRecorder(dev device.Device, recordLocation string) (*Recorder, error) {
	outFile, err := os.Create(recordLocation)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(outFile)
	r := &Recorder{
		Device:         dev,
		recordLocation: recordLocation,
		logger:         log.Logger.With().Str("serial", dev.Serial()).Str("record_location", recordLocation).Logger(),
		outputFile:     outFile,
		buf:            buf,
		enc:            msgpack.NewEncoder(buf),
	}

	info := dev.Info()
	if err := r.enc.Encode(&record{Kind: kindHeader, Serial: dev.Serial(), Info: &info}); err != nil {
		outFile.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) Start(ctx context.Context, events chan<- device.Event) error {
	inner := make(chan device.Event, cap(events))
	errc := make(chan error, 1)
	go func() {
		errc <- r.Device.Start(ctx, inner)
		close(inner)
	}()

	for ev := range inner {
		if ev.Kind == device.EventFrame {
			r.write(&ev.Frame)
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	return <-errc
}

func (r *Recorder) write(f *device.RawFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return
	}
	if err := r.enc.Encode(&record{Kind: kindFrame, Frame: fromRaw(f)}); err != nil {
		r.logger.Warn().Err(err).Msg("error recording frame")
		return
	}
	r.frames++
}

// Frames returns the number of frames recorded so far.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Recorder) Stop() error {
	err := r.Device.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return err
	}
	r.enc = nil
	if ferr := r.buf.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if cerr := r.outputFile.Close(); cerr != nil && err == nil {
		err = cerr
	}
	r.logger.Info().Int("frames", r.frames).Msg("recording closed")
	return err
}
