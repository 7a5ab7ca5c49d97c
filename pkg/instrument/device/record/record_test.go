package record

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/types"
)

// scripted emits a fixed list of frames and then idles.
type scripted struct {
	frames []device.RawFrame
}

func (s *scripted) Serial() string { return "REC-1" }

func (s *scripted) Info() types.Info {
	return types.Info{ProtocolVersion: 13, Ports: 2, SupportsVNA: true, Limits: types.Limits{MaxPoints: 101}}
}

func (s *scripted) Start(ctx context.Context, events chan<- device.Event) error {
	for _, f := range s.frames {
		select {
		case events <- device.Event{Kind: device.EventFrame, Frame: f}:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func (s *scripted) Send(ctx context.Context, cmd device.Command) error { return nil }
func (s *scripted) Stop() error                                        { return nil }

func testFrames() []device.RawFrame {
	var frames []device.RawFrame
	for p := uint32(0); p < 3; p++ {
		f := device.RawFrame{PointNum: p, Frequency: 1e9 + float64(p)*1e6, DBm: -10, Us: float64(p) * 1000}
		f.Add(device.RawValue{Stage: 0, Source: 1, Receiver: 1, Value: complex(0.1, -0.2)})
		f.Add(device.RawValue{Stage: 0, Source: 1, Receiver: 2, Value: complex(0.8, float64(p))})
		frames = append(frames, f)
	}
	return frames
}

func recordFrames(t *testing.T, path string, frames []device.RawFrame) {
	t.Helper()
	rec, err := NewRecorder(&scripted{frames: frames}, path)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan device.Event, len(frames))
	errc := make(chan error, 1)
	go func() {
		errc <- rec.Start(ctx, events)
	}()
	for range frames {
		select {
		case <-events:
		case <-time.After(2 * time.Second):
			t.Fatalf("recorder did not forward frames")
		}
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Start() error = %v", err)
	}
	if rec.Frames() != len(frames) {
		t.Errorf("Frames() = %d, want %d", rec.Frames(), len(frames))
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func nextEvent(t *testing.T, events <-chan device.Event) device.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event from player")
	}
	return device.Event{}
}

func TestRecordAndPlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.rec")
	frames := testFrames()
	recordFrames(t, path, frames)

	p, err := NewPlayer(path, WithTimeBetween(time.Millisecond))
	if err != nil {
		t.Fatalf("NewPlayer() error = %v", err)
	}
	defer p.Stop()
	if p.Serial() != "REC-1" || !reflect.DeepEqual(p.Info(), (&scripted{}).Info()) {
		t.Errorf("player %s, info %+v", p.Serial(), p.Info())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan device.Event, 8)
	go p.Start(ctx, events)

	if ev := nextEvent(t, events); ev.Kind != device.EventInfo {
		t.Fatalf("first event = %s, want info", ev.Kind)
	}
	for _, want := range frames {
		ev := nextEvent(t, events)
		if ev.Kind != device.EventFrame || !reflect.DeepEqual(ev.Frame, want) {
			t.Errorf("replayed %+v, want %+v", ev.Frame, want)
		}
	}
	if ev := nextEvent(t, events); ev.Kind != device.EventLog || ev.Line != "end of recording" {
		t.Errorf("after the last frame got %+v", ev)
	}

	if err := p.Send(ctx, device.IdleCommand()); err != nil || len(p.Commands()) != 1 {
		t.Errorf("Send() = %v, commands %v", err, p.Commands())
	}
}

func TestPlayLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.rec")
	frames := testFrames()
	recordFrames(t, path, frames)

	p, err := NewPlayer(path, WithTimeBetween(time.Millisecond), WithLoop(true))
	if err != nil {
		t.Fatalf("NewPlayer() error = %v", err)
	}
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan device.Event, 8)
	go p.Start(ctx, events)

	nextEvent(t, events)
	var points []uint32
	for len(points) < 2*len(frames) {
		ev := nextEvent(t, events)
		if ev.Kind == device.EventFrame {
			points = append(points, ev.Frame.PointNum)
		}
	}
	if want := []uint32{0, 1, 2, 0, 1, 2}; !reflect.DeepEqual(points, want) {
		t.Errorf("points = %v, want %v", points, want)
	}
}

func TestNewPlayerErrors(t *testing.T) {
	if _, err := NewPlayer(filepath.Join(t.TempDir(), "missing.rec")); err == nil {
		t.Errorf("NewPlayer() of a missing file succeeded")
	}

	empty := filepath.Join(t.TempDir(), "empty.rec")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPlayer(empty); err == nil {
		t.Errorf("NewPlayer() without header succeeded")
	}
}
