package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/instrument/fusion"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/norasector/vnacore/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAckTimeout  = 2 * time.Second
	defaultEventBuffer = 256
	deviceEventBuffer  = 64
	requestBuffer      = 16
)

type EventKind int

const (
	EventVNAMeasurement EventKind = iota
	EventSAMeasurement
	EventStatus
	EventInfo
	EventConnectionLost
	EventLogLine
	EventNeedsFirmwareUpdate
)

func (k EventKind) String() string {
	switch k {
	case EventVNAMeasurement:
		return "vna_measurement"
	case EventSAMeasurement:
		return "sa_measurement"
	case EventStatus:
		return "status"
	case EventInfo:
		return "info"
	case EventConnectionLost:
		return "connection_lost"
	case EventLogLine:
		return "log_line"
	case EventNeedsFirmwareUpdate:
		return "needs_firmware_update"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a notification of a virtual device. Only the fields belonging to Kind are set.
type Event struct {
	Kind EventKind
	// Serial is the physical device a log line, info or connection loss originates from.
	Serial string
	VNA    *types.VNAMeasurement
	SA     *types.SAMeasurement
	Status types.Status
	Info   types.Info
	Line   string

	UsedProtocol     int
	RequiredProtocol int
	Err              error
}

type Stats struct {
	Generation          uint64 `json:"generation"`
	Fused               uint64 `json:"fused"`
	Abandoned           uint64 `json:"abandoned"`
	Violations          uint64 `json:"violations"`
	ConfigsApplied      uint64 `json:"configs_applied"`
	ConfigsFailed       uint64 `json:"configs_failed"`
	DroppedEvents       uint64 `json:"dropped_events"`
	// DroppedMeasurements counts the fused points among DroppedEvents.
	DroppedMeasurements uint64 `json:"dropped_measurements"`
	DroppedOutputs      uint64 `json:"dropped_outputs"`
	// DiscardedFrames counts frames measured under a configuration other than the committed one.
	DiscardedFrames     uint64 `json:"discarded_frames"`
}

type counters struct {
	generation     atomic.Uint64
	fused          atomic.Uint64
	abandoned      atomic.Uint64
	violations     atomic.Uint64
	configsApplied atomic.Uint64
	configsFailed  atomic.Uint64
	droppedEvents  atomic.Uint64
	droppedMeas    atomic.Uint64
	droppedOutputs atomic.Uint64
	discarded      atomic.Uint64
}

// deviceEvent is either an event of the device or the result of a command sent to it.
type deviceEvent struct {
	dev int
	ev  device.Event
	ack *ackResult
}

type request struct {
	plan *plan
	cb   func(error)
	// ref is sent to the first device without tracking an acknowledgement.
	ref *device.Command
}

// pendingConfig is a configuration sent to the devices and not yet committed.
type pendingConfig struct {
	gen         uint64
	plan        *plan
	cb          func(error)
	acked       []bool
	outstanding int
	failed      bool
	superseded  bool
}

// VirtualDevice is the single instrument callers talk to, backed by one physical
// device or a compound device. Device events are processed on one coordination
// goroutine started by Run; getters read snapshots and never block.
type VirtualDevice struct {
	id               uuid.UUID
	devices          []device.Device
	core             *CompoundDevice
	compound         bool
	logger           zerolog.Logger
	writeAPI         api.WriteAPI
	ackTimeout       time.Duration
	eventBuffer      int
	requiredProtocol int
	outputs          []MeasurementOutput

	events       chan Event
	requests     chan request
	results      []chan ackResult
	deviceEvents chan deviceEvent
	commanders   []*commander
	done         chan struct{}
	running      atomic.Bool
	outdated     atomic.Bool
	stats        counters

	// owned by the coordination goroutine
	gen       uint64
	latest    uint64
	committed uint64
	inflight  map[uint64]*pendingConfig
	lost      bool
	// suspended stops fusion while a newer configuration waits for its acks.
	suspended bool
	// configs holds the configuration each device runs; switching is set while
	// a device has a command outstanding.
	configs   []uint64
	switching []bool

	mu     sync.RWMutex
	info   types.Info
	status types.Status
	mode   Mode
	last   *types.TaggedMeasurement
	cancel context.CancelFunc
}

type Option func(v *VirtualDevice) error

func WithLogger(logger zerolog.Logger) Option {
	return func(v *VirtualDevice) error {
		v.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) Option {
	return func(v *VirtualDevice) error {
		v.writeAPI = writeAPI
		return nil
	}
}

// WithAckTimeout bounds how long a device may take to acknowledge a command.
func WithAckTimeout(d time.Duration) Option {
	return func(v *VirtualDevice) error {
		if d <= 0 {
			return fmt.Errorf("ack timeout must be positive, got %s", d)
		}
		v.ackTimeout = d
		return nil
	}
}

// WithEventBuffer sets the capacity of the event channel. Events are dropped when it is full.
func WithEventBuffer(n int) Option {
	return func(v *VirtualDevice) error {
		if n < 1 {
			return fmt.Errorf("event buffer must hold at least one event, got %d", n)
		}
		v.eventBuffer = n
		return nil
	}
}

func WithOutputs(outputs ...MeasurementOutput) Option {
	return func(v *VirtualDevice) error {
		v.outputs = append(v.outputs, outputs...)
		return nil
	}
}

// WithRequiredProtocol sets the lowest device protocol version accepted for mode changes.
func WithRequiredProtocol(version int) Option {
	return func(v *VirtualDevice) error {
		v.requiredProtocol = version
		return nil
	}
}

// NewVirtualDevice wraps a single physical device.
func NewVirtualDevice(dev device.Device, opts ...Option) (*VirtualDevice, error) {
	def := CompoundDefinition{Name: dev.Serial(), Serials: []string{dev.Serial()}}
	return newVirtualDevice(def, []device.Device{dev}, false, opts...)
}

// NewCompoundVirtualDevice combines the devices, ordered as in def.Serials, into one instrument.
func NewCompoundVirtualDevice(def CompoundDefinition, devs []device.Device, opts ...Option) (*VirtualDevice, error) {
	if len(devs) != len(def.Serials) {
		return nil, fmt.Errorf("compound device %q expects %d devices, got %d", def.Name, len(def.Serials), len(devs))
	}
	for i, dev := range devs {
		if dev.Serial() != def.Serials[i] {
			return nil, fmt.Errorf("compound device %q expects %s at position %d, got %s", def.Name, def.Serials[i], i, dev.Serial())
		}
	}
	return newVirtualDevice(def, devs, true, opts...)
}

func newVirtualDevice(def CompoundDefinition, devs []device.Device, compound bool, opts ...Option) (*VirtualDevice, error) {
	v := &VirtualDevice{
		id:          uuid.New(),
		devices:     devs,
		compound:    compound,
		logger:      log.Logger,
		writeAPI:    &util.MockWriteAPI{}, // overwritten with option
		ackTimeout:  defaultAckTimeout,
		eventBuffer: defaultEventBuffer,
		requests:    make(chan request, requestBuffer),
		configs:     make([]uint64, len(devs)),
		switching:   make([]bool, len(devs)),
		inflight:    make(map[uint64]*pendingConfig),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	v.logger = v.logger.With().Str("session", v.id.String()).Str("instrument", def.Name).Logger()
	v.events = make(chan Event, v.eventBuffer)
	v.deviceEvents = make(chan deviceEvent, deviceEventBuffer*len(devs))

	core, err := newCompoundDevice(def, devs, v.logger)
	if err != nil {
		return nil, err
	}
	v.core = core
	for i, dev := range devs {
		results := make(chan ackResult)
		v.results = append(v.results, results)
		v.commanders = append(v.commanders, newCommander(i, dev, v.ackTimeout, results, v.logger))
	}
	v.info = core.Info()
	v.status = core.Status()
	v.outdated.Store(v.firmwareOutdated())
	return v, nil
}

// Run drives the devices and processes their events until ctx is done or a
// device is lost, in which case ErrConnectionLost is returned. The event channel
// is closed when Run returns.
func (v *VirtualDevice) Run(ctx context.Context) error {
	if !v.running.CompareAndSwap(false, true) {
		return fmt.Errorf("virtual device %s already started", v.Serial())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	v.mu.Lock()
	v.cancel = cancel
	v.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	for i := range v.devices {
		idx := i
		eg.Go(func() error {
			return v.forward(ctx, idx)
		})
		eg.Go(func() error {
			return v.commanders[idx].run(ctx)
		})
	}
	for _, output := range v.outputs {
		thisOutput := output
		eg.Go(func() error {
			return thisOutput.Start(ctx)
		})
	}
	eg.Go(func() error {
		return v.loop(ctx)
	})

	v.logger.Info().
		Bool("compound", v.compound).
		Int("devices", len(v.devices)).
		Int("ports", v.Info().Ports).
		Msg("starting virtual device")

	err := eg.Wait()
	v.running.Store(false)
	close(v.done)
	close(v.events)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop ends Run and stops the physical devices.
func (v *VirtualDevice) Stop() error {
	v.mu.RLock()
	cancel := v.cancel
	v.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	var errs []error
	for _, dev := range v.devices {
		if err := dev.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dev.Serial(), err))
		}
	}
	return errors.Join(errs...)
}

// forward hands the events of one device and the results of the commands sent
// to it to the coordination goroutine, in the order they happened. A device
// that stops on its own without reporting it is treated as lost.
func (v *VirtualDevice) forward(ctx context.Context, idx int) error {
	dev := v.devices[idx]
	results := v.results[idx]
	evs := make(chan device.Event, deviceEventBuffer)
	errc := make(chan error, 1)
	go func() {
		errc <- dev.Start(ctx, evs)
		close(evs)
	}()

	reported := false
	send := func(de deviceEvent) {
		if de.ack == nil && de.ev.Kind == device.EventConnectionLost {
			reported = true
		}
		select {
		case v.deviceEvents <- de:
		case <-ctx.Done():
		}
	}
	for evs != nil {
		select {
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			send(deviceEvent{dev: idx, ev: ev})
		case res := <-results:
			// everything the device reported before the result goes first
		drain:
			for {
				select {
				case ev, ok := <-evs:
					if !ok {
						evs = nil
						break drain
					}
					send(deviceEvent{dev: idx, ev: ev})
				default:
					break drain
				}
			}
			send(deviceEvent{dev: idx, ack: &res})
			if res.delivered != nil {
				close(res.delivered)
			}
		}
	}

	err := <-errc
	if ctx.Err() != nil || reported {
		return nil
	}
	if err == nil {
		err = errors.New("device stopped")
	}
	send(deviceEvent{dev: idx, ev: device.Event{Kind: device.EventConnectionLost, Err: err}})
	return nil
}

func (v *VirtualDevice) loop(ctx context.Context) error {
	if v.outdated.Load() {
		v.publishFirmware()
	}
	for {
		select {
		case <-ctx.Done():
			v.finishAll(ErrNotRunning)
			return nil
		case req := <-v.requests:
			v.apply(req)
		case de := <-v.deviceEvents:
			if err := v.handleDeviceEvent(de); err != nil {
				return err
			}
		}
	}
}

func (v *VirtualDevice) apply(req request) {
	if req.ref != nil {
		v.commanders[0].enqueue(0, 0, *req.ref)
		return
	}

	v.gen++
	v.latest = v.gen
	v.stats.generation.Store(v.gen)
	for _, old := range v.inflight {
		if !old.failed && !old.superseded {
			old.superseded = true
			v.finish(old, ErrSuperseded)
		}
	}

	p := &pendingConfig{
		gen:         v.gen,
		plan:        req.plan,
		cb:          req.cb,
		acked:       make([]bool, len(v.devices)),
		outstanding: len(v.devices),
	}
	v.inflight[p.gen] = p
	v.suspended = true
	abandoned := v.core.abandon()
	v.stats.abandoned.Add(uint64(abandoned))
	for i, cmd := range req.plan.commands {
		v.commanders[i].enqueue(p.gen, p.gen, cmd)
	}
	v.logger.Debug().
		Uint64("generation", p.gen).
		Stringer("mode", req.plan.mode).
		Int("abandoned", abandoned).
		Msg("configuration sent")
}

// handleResult tracks which configuration the device measures under, then
// settles the configuration the command belongs to.
func (v *VirtualDevice) handleResult(a ackResult) {
	if a.changesSweep() {
		if a.begin {
			v.switching[a.dev] = true
			return
		}
		v.switching[a.dev] = false
		if a.err == nil {
			v.configs[a.dev] = a.cfg
		}
	}
	v.handleAck(a)
}

func (v *VirtualDevice) handleAck(a ackResult) {
	if a.gen == 0 {
		if a.err != nil {
			v.logger.Warn().Err(a.err).Msg("device did not accept command")
		}
		return
	}
	p, ok := v.inflight[a.gen]
	if !ok {
		return
	}
	p.outstanding--
	if p.outstanding == 0 {
		delete(v.inflight, a.gen)
	}

	switch {
	case p.superseded:
		// a newer configuration is queued behind this one on every device
	case p.failed:
		if a.err == nil && p.gen == v.latest {
			v.revert(a.dev)
		}
	case a.err != nil:
		p.failed = true
		if p.gen == v.latest {
			// back to the committed configuration
			v.suspended = false
		}
		for dev, acked := range p.acked {
			if acked {
				v.revert(dev)
			}
		}
		v.stats.configsFailed.Add(1)
		err := fmt.Errorf("%w: %w", ErrDeviceAck, a.err)
		v.logger.Error().
			Err(err).
			Uint64("generation", p.gen).
			Stringer("mode", p.plan.mode).
			Msg("configuration failed")
		go v.writeAPI.WritePoint(influxdb2.NewPoint("vna.config.failed",
			map[string]string{
				"session": v.id.String(),
				"mode":    p.plan.mode.String(),
				"serial":  v.devices[a.dev].Serial(),
			},
			map[string]interface{}{
				"generation": p.gen,
			}, time.Now()))
		v.finish(p, err)
	default:
		p.acked[a.dev] = true
		for _, acked := range p.acked {
			if !acked {
				return
			}
		}
		v.commit(p)
	}
}

func (v *VirtualDevice) revert(dev int) {
	cmd := v.core.revertCommand(dev)
	v.logger.Info().
		Str("serial", v.devices[dev].Serial()).
		Stringer("command", cmd.Kind).
		Msg("reverting device")
	v.commanders[dev].enqueue(0, v.committed, cmd)
}

func (v *VirtualDevice) commit(p *pendingConfig) {
	abandoned := v.core.commit(p.plan)
	v.stats.abandoned.Add(uint64(abandoned))
	v.committed = p.gen
	v.suspended = false
	v.stats.configsApplied.Add(1)

	v.mu.Lock()
	v.mode = p.plan.mode
	v.mu.Unlock()

	v.logger.Info().
		Uint64("generation", p.gen).
		Stringer("mode", p.plan.mode).
		Int("abandoned", abandoned).
		Msg("configuration applied")
	go v.writeAPI.WritePoint(influxdb2.NewPoint("vna.config.applied",
		map[string]string{
			"session": v.id.String(),
			"mode":    p.plan.mode.String(),
		},
		map[string]interface{}{
			"generation": p.gen,
			"abandoned":  abandoned,
		}, time.Now()))
	v.finish(p, nil)
}

func (v *VirtualDevice) finish(p *pendingConfig, err error) {
	if p.cb == nil {
		return
	}
	cb := p.cb
	p.cb = nil
	cb(err)
}

func (v *VirtualDevice) finishAll(err error) {
	for _, p := range v.inflight {
		if !p.failed && !p.superseded {
			p.failed = true
			v.finish(p, err)
		}
	}
}

func (v *VirtualDevice) handleDeviceEvent(de deviceEvent) error {
	if v.lost {
		return nil
	}
	if de.ack != nil {
		v.handleResult(*de.ack)
		return nil
	}
	dev := v.devices[de.dev]
	ev := de.ev
	switch ev.Kind {
	case device.EventFrame:
		if v.suspended || v.switching[de.dev] || v.configs[de.dev] != v.committed {
			v.stats.discarded.Add(1)
			return nil
		}
		var res fusion.Result
		var err error
		fuseUs := util.TimeOperationMicroseconds(func() {
			res, err = v.core.receive(de.dev, &ev.Frame)
		})
		v.stats.abandoned.Add(uint64(res.Abandoned))
		if err != nil {
			v.stats.violations.Add(1)
			v.logger.Warn().
				Err(err).
				Str("serial", dev.Serial()).
				Uint32("point", ev.Frame.PointNum).
				Msg("frame discarded")
			go v.writeAPI.WritePoint(influxdb2.NewPoint("vna.frame.violation",
				map[string]string{
					"session": v.id.String(),
					"serial":  dev.Serial(),
				},
				map[string]interface{}{
					"point": ev.Frame.PointNum,
				}, time.Now()))
			return nil
		}
		if res.Earlier != nil {
			v.emit(*res.Earlier, fuseUs)
		}
		if res.Fused() {
			v.emit(res, fuseUs)
		}

	case device.EventStatus:
		v.core.statuses[de.dev] = ev.Status
		status := v.core.Status()
		v.mu.Lock()
		v.status = status
		v.mu.Unlock()
		v.publish(Event{Kind: EventStatus, Serial: dev.Serial(), Status: status})

	case device.EventInfo:
		v.core.infos[de.dev] = ev.Info
		info := v.core.Info()
		v.mu.Lock()
		v.info = info
		v.mu.Unlock()
		outdated := v.firmwareOutdated()
		wasOutdated := v.outdated.Swap(outdated)
		v.publish(Event{Kind: EventInfo, Serial: dev.Serial(), Info: info})
		if outdated && !wasOutdated {
			v.publishFirmware()
		}

	case device.EventLog:
		v.logger.Debug().Str("serial", dev.Serial()).Msg(ev.Line)
		v.publish(Event{Kind: EventLogLine, Serial: dev.Serial(), Line: ev.Line})

	case device.EventConnectionLost:
		v.lost = true
		abandoned := v.core.abandon()
		v.stats.abandoned.Add(uint64(abandoned))
		err := fmt.Errorf("%w: %s", ErrConnectionLost, dev.Serial())
		if ev.Err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrConnectionLost, dev.Serial(), ev.Err)
		}
		v.logger.Error().
			Err(err).
			Int("abandoned", abandoned).
			Msg("device connection lost")
		v.finishAll(err)
		v.publish(Event{Kind: EventConnectionLost, Serial: dev.Serial(), Err: err})
		return err
	}
	return nil
}

func (v *VirtualDevice) emit(res fusion.Result, fuseUs int64) {
	v.stats.fused.Add(1)
	tagged := &types.TaggedMeasurement{Serial: v.Serial(), VNA: res.VNA, SA: res.SA}
	v.mu.Lock()
	v.last = tagged
	v.mu.Unlock()

	var ev Event
	var point uint32
	if res.SA != nil {
		ev = Event{Kind: EventSAMeasurement, SA: res.SA}
		point = res.SA.PointNum
	} else {
		ev = Event{Kind: EventVNAMeasurement, VNA: res.VNA}
		point = res.VNA.PointNum
	}
	v.publish(ev)

	skippedOutputs := 0
	for _, output := range v.outputs {
		select {
		case output.Receive() <- tagged:
			// We will not wait on blocked channels.
		default:
			skippedOutputs++
		}
	}
	v.stats.droppedOutputs.Add(uint64(skippedOutputs))

	go v.writeAPI.WritePoint(influxdb2.NewPoint("vna.point.fused",
		map[string]string{
			"session": v.id.String(),
			"kind":    ev.Kind.String(),
		},
		map[string]interface{}{
			"point":           point,
			"latency_us":      res.Latency.Microseconds(),
			"fuse_us":         fuseUs,
			"abandoned":       res.Abandoned,
			"skipped_outputs": skippedOutputs,
		}, time.Now()))
}

func (v *VirtualDevice) publish(ev Event) {
	select {
	case v.events <- ev:
	default:
		v.stats.droppedEvents.Add(1)
		if ev.Kind == EventVNAMeasurement || ev.Kind == EventSAMeasurement {
			v.stats.droppedMeas.Add(1)
		}
	}
}

func (v *VirtualDevice) firmwareOutdated() bool {
	return v.requiredProtocol > 0 && v.Info().ProtocolVersion < v.requiredProtocol
}

func (v *VirtualDevice) publishFirmware() {
	used := v.Info().ProtocolVersion
	v.logger.Warn().
		Int("used_protocol", used).
		Int("required_protocol", v.requiredProtocol).
		Msg("firmware update required")
	v.publish(Event{
		Kind:             EventNeedsFirmwareUpdate,
		UsedProtocol:     used,
		RequiredProtocol: v.requiredProtocol,
		Err:              ErrFirmwareMismatch,
	})
}

// Events returns the notification stream. It is closed when Run returns.
// Measurements share the stream with status and log events; whatever does not
// fit into the buffer (WithEventBuffer) is dropped and counted in
// Stats.DroppedEvents and Stats.DroppedMeasurements.
func (v *VirtualDevice) Events() <-chan Event {
	return v.events
}

func (v *VirtualDevice) Info() types.Info {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.info
}

func (v *VirtualDevice) Status() types.Status {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.status
}

// Mode returns the last committed mode.
func (v *VirtualDevice) Mode() Mode {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mode
}

// Latest returns the most recently fused measurement, or nil.
func (v *VirtualDevice) Latest() *types.TaggedMeasurement {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.last
}

func (v *VirtualDevice) Stats() Stats {
	return Stats{
		Generation:          v.stats.generation.Load(),
		Fused:               v.stats.fused.Load(),
		Abandoned:           v.stats.abandoned.Load(),
		Violations:          v.stats.violations.Load(),
		ConfigsApplied:      v.stats.configsApplied.Load(),
		ConfigsFailed:       v.stats.configsFailed.Load(),
		DroppedEvents:       v.stats.droppedEvents.Load(),
		DroppedMeasurements: v.stats.droppedMeas.Load(),
		DroppedOutputs:      v.stats.droppedOutputs.Load(),
		DiscardedFrames:     v.stats.discarded.Load(),
	}
}

func (v *VirtualDevice) SessionID() uuid.UUID {
	return v.id
}

// Serial is the device serial, or the compound device name.
func (v *VirtualDevice) Serial() string {
	return v.core.Name()
}

func (v *VirtualDevice) IsCompoundDevice() bool {
	return v.compound
}

// Device returns the physical device of a non-compound virtual device.
func (v *VirtualDevice) Device() device.Device {
	if v.compound {
		return nil
	}
	return v.devices[0]
}

func (v *VirtualDevice) CompoundDevice() *CompoundDevice {
	if !v.compound {
		return nil
	}
	return v.core
}

func (v *VirtualDevice) Devices() []device.Device {
	return v.devices
}
