package device

import (
	"context"

	"github.com/norasector/vnacore/pkg/types"
)

// Device is one physical instrument connection. Transport details live behind it.
type Device interface {
	Serial() string
	// Info returns the capabilities last reported by the device.
	Info() types.Info
	// Start runs the device until ctx is done or the connection is lost. Results,
	// status updates and log lines are pushed onto events; a lost connection is
	// reported as EventConnectionLost before Start returns.
	Start(ctx context.Context, events chan<- Event) error
	// Send delivers a command and waits for the acknowledgement. A nil error is an ack.
	// Everything measured under the previous configuration has been pushed onto
	// the events channel of Start by the time Send is called or returns.
	Send(ctx context.Context, cmd Command) error
	Stop() error
}

// Driver enumerates and opens devices of one kind.
type Driver interface {
	Name() string
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, serial string) (Device, error)
}
