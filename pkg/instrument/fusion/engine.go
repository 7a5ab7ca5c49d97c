package fusion

import (
	"errors"
	"fmt"
	"time"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/instrument/stage"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrUnknownStage      = errors.New("unknown stage")
)

const (
	defaultZ0         = 50.0
	defaultTolerance  = 1.0 // Hz
	defaultMaxPending = 1024
)

type Mode int

const (
	ModeVNA Mode = iota
	ModeSA
)

func (m Mode) String() string {
	if m == ModeSA {
		return "sa"
	}
	return "vna"
}

// Result is what a single push produced.
type Result struct {
	VNA *types.VNAMeasurement
	SA  *types.SAMeasurement
	// Abandoned is the number of buffered points dropped because they can no longer complete.
	Abandoned int
	// Latency is the time between the first and last stage of the fused point.
	Latency time.Duration
	// Earlier is a point completed by the same push ahead of this one. It happens
	// when a held stage frame is resolved by its successor and the successor
	// completes its own point as well.
	Earlier *Result
}

// Fused reports whether the push completed a point.
func (r Result) Fused() bool {
	return r.VNA != nil || r.SA != nil
}

type Stats struct {
	Fused      uint64
	Abandoned  uint64
	Violations uint64
}

// entry buffers the frames received so far for one point.
type entry struct {
	point   uint32
	seq     uint64
	first   time.Time
	count   int
	present []bool
	frames  []device.RawFrame
}

type cursor struct {
	seen bool
	last uint32
	prev device.RawFrame
	// held is a frame measured below its canonical frequency, waiting for the
	// next frame of the stage to interpolate against.
	held    device.RawFrame
	holding bool
}

// Engine reassembles raw per-stage frames into fused measurements. It is not safe
// for concurrent use; the owner drives it from a single goroutine.
type Engine struct {
	mode       Mode
	m          *stage.Map
	grid       Grid
	zeroSpan   bool
	z0         float64
	tolerance  float64
	maxPending int
	maxAge     time.Duration
	logger     zerolog.Logger

	stages  int
	entries map[uint32]*entry
	free    []*entry
	cursors []cursor
	seq     uint64
	stats   Stats
	now     func() time.Time
}

type Option func(e *Engine)

// WithGrid sets the canonical sweep grid used for cross-stage alignment.
func WithGrid(g Grid) Option {
	return func(e *Engine) {
		e.grid = g
	}
}

// WithZeroSpan marks the sweep as time based; frames are never interpolated.
func WithZeroSpan(zeroSpan bool) Option {
	return func(e *Engine) {
		e.zeroSpan = zeroSpan
	}
}

func WithZ0(z0 float64) Option {
	return func(e *Engine) {
		e.z0 = z0
	}
}

// WithTolerance sets how far (Hz) a stage frequency may deviate before it is interpolated.
func WithTolerance(hz float64) Option {
	return func(e *Engine) {
		e.tolerance = hz
	}
}

// WithMaxPending bounds the number of points collecting at once; the oldest is
// abandoned when the bound is hit.
func WithMaxPending(n int) Option {
	return func(e *Engine) {
		e.maxPending = n
	}
}

// WithMaxAge abandons points that are still collecting this long after their
// first stage frame. Zero disables the limit.
func WithMaxAge(d time.Duration) Option {
	return func(e *Engine) {
		e.maxAge = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func New(mode Mode, m *stage.Map, opts ...Option) *Engine {
	e := &Engine{
		mode:       mode,
		m:          m,
		z0:         defaultZ0,
		tolerance:  defaultTolerance,
		maxPending: defaultMaxPending,
		logger:     log.Logger,
		stages:     m.NumStages(),
		entries:    make(map[uint32]*entry),
		cursors:    make([]cursor, m.NumStages()),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.zeroSpan {
		e.grid = nil
	}
	return e
}

func (e *Engine) Mode() Mode {
	return e.mode
}

func (e *Engine) Map() *stage.Map {
	return e.m
}

func (e *Engine) Stats() Stats {
	return e.stats
}

// Pending returns the number of points still collecting.
func (e *Engine) Pending() int {
	return len(e.entries)
}

// Reset abandons every collecting point and forgets the stage positions.
func (e *Engine) Reset() int {
	n := len(e.entries)
	for p, en := range e.entries {
		e.release(p, en)
	}
	for i := range e.cursors {
		e.cursors[i] = cursor{}
	}
	e.stats.Abandoned += uint64(n)
	return n
}

// Push hands over the frame a stage produced. Frames violating the ordering of
// their stage are discarded and reported with ErrProtocolViolation.
func (e *Engine) Push(st int, f *device.RawFrame) (Result, error) {
	var res Result
	if st < 0 || st >= e.stages {
		e.stats.Violations++
		return res, fmt.Errorf("%w: %w %d", ErrProtocolViolation, ErrUnknownStage, st)
	}

	cur := &e.cursors[st]
	wrapped := false
	if cur.seen {
		switch {
		case f.PointNum == cur.last:
			e.stats.Violations++
			return res, fmt.Errorf("%w: duplicate point %d from stage %d", ErrProtocolViolation, f.PointNum, st)
		case f.PointNum < cur.last && f.PointNum != 0:
			e.stats.Violations++
			return res, fmt.Errorf("%w: point %d after %d from stage %d", ErrProtocolViolation, f.PointNum, cur.last, st)
		case f.PointNum < cur.last:
			wrapped = true
		}
	}

	var prev *device.RawFrame
	if cur.seen && !wrapped {
		last := cur.prev
		prev = &last
	}
	held, holding := cur.held, cur.holding
	cur.seen = true
	cur.last = f.PointNum
	cur.prev = *f
	cur.held = device.RawFrame{}
	cur.holding = false

	res.Abandoned += e.expire()

	if holding {
		frame := held
		if !wrapped {
			canonical, _ := e.grid.At(held.PointNum)
			frame = e.interpolate(&held, f, canonical)
		}
		res = merge(res, e.collect(st, frame))
	}

	frame, hold := e.align(prev, f)
	if hold {
		cur.held = *f
		cur.holding = true
		e.stats.Abandoned += uint64(res.Abandoned)
		return res, nil
	}
	res = merge(res, e.collect(st, frame))
	e.stats.Abandoned += uint64(res.Abandoned)
	return res, nil
}

// collect stores the contribution of stage st to the point of frame and fuses
// the point once every stage contributed.
func (e *Engine) collect(st int, frame device.RawFrame) Result {
	var res Result
	en, ok := e.entries[frame.PointNum]
	if ok && en.present[st] {
		// this stage already contributed in an earlier sweep; the old entry is stale
		e.release(frame.PointNum, en)
		res.Abandoned++
		ok = false
	}
	if !ok {
		if len(e.entries) >= e.maxPending {
			res.Abandoned += e.dropOldest()
		}
		en = e.acquire(frame.PointNum)
	}
	en.frames[st] = frame
	en.present[st] = true
	en.count++

	if en.count < e.stages {
		return res
	}

	res.Latency = e.now().Sub(en.first)
	switch e.mode {
	case ModeSA:
		res.SA = e.fuseSA(en)
	default:
		res.VNA = e.fuseVNA(en)
	}
	seq := en.seq
	e.release(frame.PointNum, en)
	e.stats.Fused++

	// every stage delivered this point, so points buffered before it can never complete
	for p, other := range e.entries {
		if other.seq < seq {
			e.release(p, other)
			res.Abandoned++
		}
	}
	return res
}

// merge combines the results of two contributions made by one push.
func merge(first, next Result) Result {
	switch {
	case !first.Fused():
		next.Abandoned += first.Abandoned
		return next
	case !next.Fused():
		first.Abandoned += next.Abandoned
		return first
	}
	next.Abandoned += first.Abandoned
	first.Abandoned = 0
	next.Earlier = &first
	return next
}

// expire abandons the points collecting for longer than the maximum age.
func (e *Engine) expire() int {
	if e.maxAge <= 0 {
		return 0
	}
	n := 0
	deadline := e.now().Add(-e.maxAge)
	for p, en := range e.entries {
		if en.first.Before(deadline) {
			e.release(p, en)
			n++
		}
	}
	return n
}

func (e *Engine) acquire(point uint32) *entry {
	var en *entry
	if n := len(e.free); n > 0 {
		en = e.free[n-1]
		e.free = e.free[:n-1]
	} else {
		en = &entry{
			present: make([]bool, e.stages),
			frames:  make([]device.RawFrame, e.stages),
		}
	}
	e.seq++
	en.point = point
	en.seq = e.seq
	en.first = e.now()
	en.count = 0
	e.entries[point] = en
	return en
}

func (e *Engine) release(point uint32, en *entry) {
	delete(e.entries, point)
	for i := range en.present {
		en.present[i] = false
		en.frames[i] = device.RawFrame{}
	}
	e.free = append(e.free, en)
}

func (e *Engine) dropOldest() int {
	var oldest *entry
	for _, en := range e.entries {
		if oldest == nil || en.seq < oldest.seq {
			oldest = en
		}
	}
	if oldest == nil {
		return 0
	}
	e.release(oldest.point, oldest)
	return 1
}
