package device

import (
	"fmt"

	"github.com/norasector/vnacore/pkg/types"
)

type CommandKind int

const (
	CommandIdle CommandKind = iota
	CommandVNA
	CommandSA
	CommandSG
	CommandReference
)

func (k CommandKind) String() string {
	switch k {
	case CommandIdle:
		return "idle"
	case CommandVNA:
		return "vna"
	case CommandSA:
		return "sa"
	case CommandSG:
		return "sg"
	case CommandReference:
		return "reference"
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Excitation is one port driven during a compound sweep. Port is local to the
// device executing Stage.
type Excitation struct {
	Stage uint8
	Port  uint8
}

type VNACommand struct {
	FreqStart float64
	FreqStop  float64
	DBmStart  float64
	DBmStop   float64
	IFBW      float64
	Points    uint16
	LogSweep  bool
	// Stage executed by the receiving device.
	Stage uint8
	// Stages is the number of stages in the whole sweep.
	Stages uint8
	// Excitations lists every port excited in the sweep, across all stages, in
	// execution order. The receiving device reports its receivers for each of them.
	Excitations []Excitation
}

// LocalPorts returns the ports the receiving device has to excite itself.
func (c *VNACommand) LocalPorts() []int {
	var ret []int
	for _, e := range c.Excitations {
		if e.Stage == c.Stage {
			ret = append(ret, int(e.Port))
		}
	}
	return ret
}

type SACommand struct {
	FreqStart         float64
	FreqStop          float64
	RBW               float64
	Points            uint16
	Window            types.Window
	Detector          types.Detector
	SignalID          bool
	TrackingGenerator bool
	// TrackingPort is local to the receiving device, 0 when it does not drive the generator.
	TrackingPort   uint8
	TrackingOffset float64
	TrackingPower  float64
}

type SGCommand struct {
	Freq float64
	DBm  float64
	// Port is local to the receiving device, 0 disables the output.
	Port uint8
}

type ReferenceCommand struct {
	In  string
	Out string
}

// Command is sent to a single physical device. Exactly one payload matches Kind.
type Command struct {
	Kind      CommandKind
	VNA       *VNACommand
	SA        *SACommand
	SG        *SGCommand
	Reference *ReferenceCommand
}

func IdleCommand() Command {
	return Command{Kind: CommandIdle}
}
