package instrument

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/rs/zerolog"
)

type queuedCommand struct {
	gen uint64
	// cfg is the configuration the device runs once it accepts cmd.
	cfg uint64
	cmd device.Command
}

// ackResult travels through the event stream of its device so that it stays
// ordered with the frames. A begin result is posted before the command goes
// out; frames between begin and the acknowledgement belong to no configuration.
type ackResult struct {
	gen   uint64
	cfg   uint64
	dev   int
	kind  device.CommandKind
	err   error
	begin bool
	// delivered is closed once the result is queued behind every earlier frame.
	delivered chan struct{}
}

// changesSweep reports whether the command replaces what the device measures.
func (a ackResult) changesSweep() bool {
	return a.kind != device.CommandReference
}

// commander serializes the commands sent to one device so that a newer
// configuration can never overtake an older one. Queueing never blocks the
// coordination loop; the acknowledgement is posted back to it.
type commander struct {
	idx     int
	dev     device.Device
	timeout time.Duration
	acks    chan<- ackResult
	logger  zerolog.Logger

	mu     sync.Mutex
	queue  []queuedCommand
	signal chan struct{}
}

func newCommander(idx int, dev device.Device, timeout time.Duration, acks chan<- ackResult, logger zerolog.Logger) *commander {
	return &commander{
		idx:     idx,
		dev:     dev,
		timeout: timeout,
		acks:    acks,
		logger:  logger.With().Str("serial", dev.Serial()).Logger(),
		signal:  make(chan struct{}, 1),
	}
}

func (c *commander) enqueue(gen, cfg uint64, cmd device.Command) {
	c.mu.Lock()
	c.queue = append(c.queue, queuedCommand{gen: gen, cfg: cfg, cmd: cmd})
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *commander) take() []queuedCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

func (c *commander) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.signal:
		}

		for _, qc := range c.take() {
			res := ackResult{gen: qc.gen, cfg: qc.cfg, dev: c.idx, kind: qc.cmd.Kind}
			if res.changesSweep() {
				begin := res
				begin.begin = true
				begin.delivered = make(chan struct{})
				if !c.post(ctx, begin) {
					return nil
				}
			}

			res.err = c.send(ctx, qc.cmd)
			c.logger.Debug().
				Uint64("generation", qc.gen).
				Stringer("command", qc.cmd.Kind).
				Err(res.err).
				Msg("command sent")
			if !c.post(ctx, res) {
				return nil
			}
		}
	}
}

// post hands a result to the event forwarder and, for begin results, waits
// until every frame received before it has been queued ahead of it.
func (c *commander) post(ctx context.Context, res ackResult) bool {
	select {
	case c.acks <- res:
	case <-ctx.Done():
		return false
	}
	if res.delivered == nil {
		return true
	}
	select {
	case <-res.delivered:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *commander) send(ctx context.Context, cmd device.Command) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.dev.Send(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", c.dev.Serial(), err)
	}
	return nil
}
