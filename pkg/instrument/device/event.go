package device

import (
	"fmt"

	"github.com/norasector/vnacore/pkg/types"
)

type EventKind int

const (
	EventFrame EventKind = iota
	EventStatus
	EventInfo
	EventLog
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventStatus:
		return "status"
	case EventInfo:
		return "info"
	case EventLog:
		return "log"
	case EventConnectionLost:
		return "connection_lost"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is emitted by a device. Frames are passed by value so that the receiver
// owns its copy.
type Event struct {
	Kind   EventKind
	Frame  RawFrame
	Status types.Status
	Info   types.Info
	Line   string
	Err    error
}
