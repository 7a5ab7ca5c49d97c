package instrument

import "fmt"

type Mode int

const (
	ModeIdle Mode = iota
	ModeVNA
	ModeSA
	ModeSG
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeVNA:
		return "vna"
	case ModeSA:
		return "sa"
	case ModeSG:
		return "sg"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}
