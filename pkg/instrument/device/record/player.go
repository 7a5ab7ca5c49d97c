package record

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const defaultTimeBetween = time.Millisecond

// Player replays a recording as if it were the recorded device. Commands are
// acknowledged but do not change what is replayed.
type Player struct {
	readFile    *os.File
	dec         *msgpack.Decoder
	serial      string
	info        types.Info
	timeBetween time.Duration
	loop        bool
	logger      zerolog.Logger

	mu       sync.Mutex
	commands []device.Command
	stop     chan struct{}
	stopOnce sync.Once
}

type PlayerOption func(p *Player)

// WithTimeBetween sets the delay between two replayed frames.
func WithTimeBetween(d time.Duration) PlayerOption {
	return func(p *Player) {
		p.timeBetween = d
	}
}

// WithLoop restarts the recording when its end is reached.
func WithLoop(loop bool) PlayerOption {
	return func(p *Player) {
		p.loop = loop
	}
}

func NewPlayer(playbackLocation string, opts ...PlayerOption) (*Player, error) {
	f, err := os.Open(playbackLocation)
	if err != nil {
		return nil, err
	}
	p := &Player{
		readFile:    f,
		timeBetween: defaultTimeBetween,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	hdr, err := p.rewind()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", playbackLocation, err)
	}
	p.serial = hdr.Serial
	p.info = *hdr.Info
	p.logger = log.Logger.With().Str("serial", p.serial).Str("playback_location", playbackLocation).Logger()
	return p, nil
}

// rewind positions the decoder on the first frame and returns the header.
func (p *Player) rewind() (*record, error) {
	if _, err := p.readFile.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	p.dec = msgpack.NewDecoder(bufio.NewReader(p.readFile))
	var hdr record
	if err := p.dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.Kind != kindHeader || hdr.Info == nil {
		return nil, errors.New("recording does not start with a header")
	}
	return &hdr, nil
}

func (p *Player) Serial() string {
	return p.serial
}

func (p *Player) Info() types.Info {
	return p.info
}

func (p *Player) Send(ctx context.Context, cmd device.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
	return nil
}

// Commands returns every command received, oldest first.
func (p *Player) Commands() []device.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]device.Command(nil), p.commands...)
}

func (p *Player) Start(ctx context.Context, events chan<- device.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- device.Event{Kind: device.EventInfo, Info: p.info}:
	}

	tick := time.NewTicker(p.timeBetween)
	defer tick.Stop()
	finished := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		case <-tick.C:
			if finished {
				continue
			}
			var rec record
			err := p.dec.Decode(&rec)
			if errors.Is(err, io.EOF) {
				if p.loop {
					if _, err := p.rewind(); err != nil {
						return err
					}
					continue
				}
				finished = true
				p.logger.Info().Msg("end of recording")
				ev := device.Event{Kind: device.EventLog, Line: "end of recording"}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case events <- ev:
				}
				continue
			}
			if err != nil {
				return err
			}
			if rec.Kind != kindFrame || rec.Frame == nil {
				continue
			}

			ev := device.Event{Kind: device.EventFrame, Frame: rec.Frame.toRaw()}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case events <- ev:
			}
		}
	}
}

func (p *Player) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stop)
		err = p.readFile.Close()
	})
	return err
}
