package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/instrument/fusion"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	maxPorts        = 8
	defaultInterval = time.Millisecond
	defaultDelay    = 1e-9 // s
	noiseFloor      = -120.0
)

var ErrRejected = errors.New("command rejected by simulated device")

// DefaultInfo describes a two port instrument with LibreVNA like limits.
func DefaultInfo() types.Info {
	return types.Info{
		ProtocolVersion: 13,
		FWMajor:         1,
		FWMinor:         5,
		FWPatch:         0,
		HardwareVersion: 1,
		HWRevision:      "B",
		Ports:           2,
		SupportsVNA:     true,
		SupportsSA:      true,
		SupportsSG:      true,
		SupportsExtRef:  true,
		Limits: types.Limits{
			MinFreq:         100e3,
			MaxFreq:         6e9,
			MaxFreqHarmonic: 18e9,
			MinIFBW:         10,
			MaxIFBW:         50e3,
			MaxPoints:       4501,
			MinDBm:          -40,
			MaxDBm:          0,
			MinRBW:          10,
			MaxRBW:          1e6,
		},
	}
}

// NewSerial returns a random serial for a simulated device.
func NewSerial() string {
	return "SIM-" + strings.ToUpper(uuid.NewString()[:8])
}

// Device is a simulated instrument. It sweeps the configured command on a timer
// and reports the response of a fixed model: a matched line of constant delay
// between every pair of ports and a single tone for the spectrum analyzer.
type Device struct {
	serial     string
	info       types.Info
	interval   time.Duration
	freqOffset float64
	delay      float64
	ackDelay   time.Duration
	toneFreq   float64
	toneDBm    float64
	logger     zerolog.Logger

	mu       sync.Mutex
	cmd      device.Command
	point    uint32
	freqs    fusion.Grid
	powers   fusion.Grid
	shape    []float64
	rejects  int
	commands []device.Command
	changed  chan device.CommandKind

	lost     chan error
	stop     chan struct{}
	stopOnce sync.Once
}

type Option func(d *Device) error

func WithSerial(serial string) Option {
	return func(d *Device) error {
		d.serial = serial
		return nil
	}
}

func WithInfo(info types.Info) Option {
	return func(d *Device) error {
		d.info = info
		return nil
	}
}

func WithPorts(ports int) Option {
	return func(d *Device) error {
		if ports < 1 || ports > maxPorts {
			return fmt.Errorf("ports must be within 1..%d, got %d", maxPorts, ports)
		}
		d.info.Ports = ports
		return nil
	}
}

// WithInterval sets the time between two sweep points.
func WithInterval(interval time.Duration) Option {
	return func(d *Device) error {
		if interval <= 0 {
			return fmt.Errorf("interval must be positive, got %s", interval)
		}
		d.interval = interval
		return nil
	}
}

// WithFrequencyOffset shifts every measured frequency away from the sweep grid.
func WithFrequencyOffset(hz float64) Option {
	return func(d *Device) error {
		d.freqOffset = hz
		return nil
	}
}

// WithAckDelay delays every acknowledgement. Commands time out when the delay
// exceeds the deadline of the sender.
func WithAckDelay(delay time.Duration) Option {
	return func(d *Device) error {
		d.ackDelay = delay
		return nil
	}
}

// WithRejectCommands makes the device refuse its next n commands.
func WithRejectCommands(n int) Option {
	return func(d *Device) error {
		d.rejects = n
		return nil
	}
}

func WithTone(freq, dbm float64) Option {
	return func(d *Device) error {
		d.toneFreq = freq
		d.toneDBm = dbm
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Device) error {
		d.logger = logger
		return nil
	}
}

func New(opts ...Option) (*Device, error) {
	d := &Device{
		serial:   NewSerial(),
		info:     DefaultInfo(),
		interval: defaultInterval,
		delay:    defaultDelay,
		toneFreq: 1e9,
		toneDBm:  -30,
		logger:   log.Logger,
		cmd:      device.IdleCommand(),
		changed:  make(chan device.CommandKind, 1),
		lost:     make(chan error, 1),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With().Str("serial", d.serial).Logger()
	return d, nil
}

func (d *Device) Serial() string {
	return d.serial
}

func (d *Device) Info() types.Info {
	return d.info
}

// Commands returns every command the device accepted, oldest first.
func (d *Device) Commands() []device.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.Command(nil), d.commands...)
}

// Current returns the command the device is executing.
func (d *Device) Current() device.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cmd
}

// Disconnect simulates a dropped connection: Start reports it and returns err.
func (d *Device) Disconnect(err error) {
	select {
	case d.lost <- err:
	default:
	}
}

func (d *Device) Send(ctx context.Context, cmd device.Command) error {
	if d.ackDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.ackDelay):
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rejects > 0 {
		d.rejects--
		return fmt.Errorf("%w: %s", ErrRejected, cmd.Kind)
	}
	if cmd.Kind == device.CommandReference {
		d.commands = append(d.commands, cmd)
		return nil
	}

	d.cmd = cmd
	d.point = 0
	d.freqs, d.powers, d.shape = nil, nil, nil
	switch cmd.Kind {
	case device.CommandVNA:
		c := cmd.VNA
		if c.LogSweep {
			d.freqs = fusion.LogGrid(c.FreqStart, c.FreqStop, int(c.Points))
		} else {
			d.freqs = fusion.LinearGrid(c.FreqStart, c.FreqStop, int(c.Points))
		}
		d.powers = fusion.LinearGrid(c.DBmStart, c.DBmStop, int(c.Points))
	case device.CommandSA:
		c := cmd.SA
		d.freqs = fusion.LinearGrid(c.FreqStart, c.FreqStop, int(c.Points))
		d.shape = windowShape(c.Window)
	}
	d.commands = append(d.commands, cmd)

	select {
	case d.changed <- cmd.Kind:
	default:
	}
	return nil
}

func (d *Device) Start(ctx context.Context, events chan<- device.Event) error {
	if !d.emit(ctx, events, device.Event{Kind: device.EventInfo, Info: d.info}) {
		return ctx.Err()
	}
	if !d.emit(ctx, events, device.Event{Kind: device.EventStatus, Status: types.Status{StatusString: "Ready"}}) {
		return ctx.Err()
	}

	tick := time.NewTicker(d.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stop:
			return nil
		case err := <-d.lost:
			d.emit(ctx, events, device.Event{Kind: device.EventConnectionLost, Err: err})
			return err
		case kind := <-d.changed:
			d.emit(ctx, events, device.Event{Kind: device.EventLog, Line: "configured " + kind.String()})
			d.emit(ctx, events, device.Event{Kind: device.EventStatus, Status: types.Status{StatusString: strings.ToUpper(kind.String())}})
		case <-tick.C:
			f, ok := d.next()
			if !ok {
				continue
			}
			if !d.emit(ctx, events, device.Event{Kind: device.EventFrame, Frame: f}) {
				return ctx.Err()
			}
		}
	}
}

func (d *Device) Stop() error {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	return nil
}

func (d *Device) emit(ctx context.Context, events chan<- device.Event, ev device.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- ev:
		return true
	}
}

// next produces the frame of the current point and advances the sweep.
func (d *Device) next() (device.RawFrame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var f device.RawFrame
	switch d.cmd.Kind {
	case device.CommandVNA:
		f = d.vnaFrame(d.cmd.VNA)
	case device.CommandSA:
		f = d.saFrame(d.cmd.SA)
	default:
		return f, false
	}
	if n := uint32(len(d.freqs)); n > 0 {
		d.point = (d.point + 1) % n
	}
	return f, true
}

func (d *Device) vnaFrame(c *device.VNACommand) device.RawFrame {
	freq, _ := d.freqs.At(d.point)
	dbm, _ := d.powers.At(d.point)
	f := device.RawFrame{
		PointNum:  d.point,
		Frequency: freq + d.freqOffset,
		DBm:       dbm,
		Us:        float64(d.point) * float64(d.interval.Microseconds()),
	}
	for _, e := range c.Excitations {
		for rx := 1; rx <= d.info.Ports; rx++ {
			reflection := e.Stage == c.Stage && int(e.Port) == rx
			v := device.RawValue{Stage: e.Stage, Source: e.Port, Receiver: uint8(rx), Value: d.response(f.Frequency, reflection)}
			if !f.Add(v) {
				d.logger.Warn().Uint32("point", d.point).Msg("frame full, dropping values")
				return f
			}
		}
	}
	return f
}

// response models a line with delay d.delay: reflections travel it twice and are
// attenuated, transmissions travel it once.
func (d *Device) response(freq float64, reflection bool) complex128 {
	phase := -2 * math.Pi * freq * d.delay
	if reflection {
		return complex(0.1, 0) * cmplx.Exp(complex(0, 2*phase))
	}
	return complex(0.8, 0) * cmplx.Exp(complex(0, phase))
}

func (d *Device) saFrame(c *device.SACommand) device.RawFrame {
	freq, _ := d.freqs.At(d.point)
	f := device.RawFrame{
		PointNum:  d.point,
		Frequency: freq,
		Us:        float64(d.point) * float64(d.interval.Microseconds()),
	}
	for rx := 1; rx <= d.info.Ports; rx++ {
		level := d.level(freq, c.RBW, d.toneFreq, d.toneDBm)
		if c.TrackingGenerator && int(c.TrackingPort) == rx {
			level = math.Max(level, d.level(freq, c.RBW, freq+c.TrackingOffset, c.TrackingPower))
		}
		f.Add(device.RawValue{Receiver: uint8(rx), Value: complex(level, 0)})
	}
	return f
}

// level is the power seen at freq through the RBW filter from a tone at toneFreq.
func (d *Device) level(freq, rbw, toneFreq, toneDBm float64) float64 {
	if rbw <= 0 || len(d.shape) == 0 {
		return noiseFloor
	}
	idx := int(math.Abs(freq-toneFreq) / rbw * shapeOversampling)
	if idx >= len(d.shape) {
		return noiseFloor
	}
	return math.Max(noiseFloor, toneDBm+d.shape[idx])
}
