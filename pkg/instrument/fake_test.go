package instrument

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/rs/zerolog"
)

const waitTimeout = 2 * time.Second

func testInfo(ports int) types.Info {
	return types.Info{
		ProtocolVersion: 13,
		FWMajor:         1,
		FWMinor:         5,
		HWRevision:      "B",
		Ports:           ports,
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

// fakeDevice replays the events a test feeds it and records the commands it is sent.
type fakeDevice struct {
	serial string
	info   types.Info
	events chan device.Event
	frames chan fakeFrame

	mu      sync.Mutex
	send    func(ctx context.Context, cmd device.Command) error
	sent    []device.Command
	stopped bool
}

func newFakeDevice(serial string, ports int) *fakeDevice {
	return &fakeDevice{
		serial: serial,
		info:   testInfo(ports),
		events: make(chan device.Event, 16),
		frames: make(chan fakeFrame),
	}
}

func (f *fakeDevice) Serial() string {
	return f.serial
}

func (f *fakeDevice) Info() types.Info {
	return f.info
}

func (f *fakeDevice) Start(ctx context.Context, out chan<- device.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ff := <-f.frames:
			select {
			case out <- device.Event{Kind: device.EventFrame, Frame: ff.frame}:
				close(ff.delivered)
			case <-ctx.Done():
				return nil
			}
		case ev := <-f.events:
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
			if ev.Kind == device.EventConnectionLost {
				return ev.Err
			}
		}
	}
}

func (f *fakeDevice) Send(ctx context.Context, cmd device.Command) error {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	hook := f.send
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, cmd)
	}
	return nil
}

func (f *fakeDevice) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeDevice) onSend(hook func(ctx context.Context, cmd device.Command) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.send = hook
}

func (f *fakeDevice) commands() []device.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Command(nil), f.sent...)
}

// waitCommands polls until the device was sent at least n commands.
func (f *fakeDevice) waitCommands(t *testing.T, n int) []device.Command {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cmds := f.commands(); len(cmds) >= n {
			return cmds
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: got %d commands, want %d", f.serial, len(f.commands()), n)
	return nil
}

type fakeFrame struct {
	frame     device.RawFrame
	delivered chan struct{}
}

// frame returns once the frame sits in the event channel given to Start, like a
// device that reports everything it measured before answering a command.
func (f *fakeDevice) frame(fr device.RawFrame) {
	ff := fakeFrame{frame: fr, delivered: make(chan struct{})}
	f.frames <- ff
	<-ff.delivered
}

func quiet() Option {
	return WithLogger(zerolog.Nop())
}

// start runs v until the test ends.
func start(t *testing.T, v *VirtualDevice) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- v.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(waitTimeout):
			t.Errorf("Run() did not return")
		}
	})
}

func callback() (func(error), <-chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("callback not called")
	}
	return nil
}

func waitEvent(t *testing.T, v *VirtualDevice, kind EventKind) Event {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-v.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}
