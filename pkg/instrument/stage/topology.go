package stage

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPort   = errors.New("unknown port")
	ErrDuplicatePort = errors.New("duplicate port")
	ErrNoPorts       = errors.New("no ports requested")
	ErrTopology      = errors.New("invalid topology")
)

// Location is a physical port: a device index within the topology and a 1-based
// port number local to that device.
type Location struct {
	Device int `yaml:"device" toml:"device" json:"device"`
	Port   int `yaml:"port" toml:"port" json:"port"`
}

func (l Location) String() string {
	return fmt.Sprintf("dev%d:%d", l.Device, l.Port)
}

// PortAssignment lists the physical ports that can serve one global port. Usually
// there is exactly one candidate.
type PortAssignment struct {
	Global     int        `yaml:"global" toml:"global" json:"global"`
	Candidates []Location `yaml:"candidates" toml:"candidates" json:"candidates"`
}

// Topology describes how the ports of several physical devices form one virtual instrument.
type Topology struct {
	DevicePorts []int
	Ports       []PortAssignment
}

// SequentialTopology numbers the ports of each device one after the other:
// device 0 provides global ports 1..n0, device 1 the following n1 and so on.
func SequentialTopology(devicePorts ...int) Topology {
	t := Topology{DevicePorts: append([]int(nil), devicePorts...)}
	global := 1
	for dev, n := range devicePorts {
		for p := 1; p <= n; p++ {
			t.Ports = append(t.Ports, PortAssignment{
				Global:     global,
				Candidates: []Location{{Device: dev, Port: p}},
			})
			global++
		}
	}
	return t
}

// NumPorts returns the number of global ports.
func (t Topology) NumPorts() int {
	return len(t.Ports)
}

// GlobalPorts returns every global port number in ascending order of assignment.
func (t Topology) GlobalPorts() []int {
	ret := make([]int, 0, len(t.Ports))
	for _, pa := range t.Ports {
		ret = append(ret, pa.Global)
	}
	return ret
}

func (t Topology) Validate() error {
	if len(t.DevicePorts) == 0 {
		return fmt.Errorf("%w: no devices", ErrTopology)
	}
	if len(t.Ports) == 0 {
		return fmt.Errorf("%w: no ports", ErrTopology)
	}
	globals := make(map[int]struct{}, len(t.Ports))
	owners := make(map[Location]int)
	for _, pa := range t.Ports {
		if pa.Global < 1 {
			return fmt.Errorf("%w: global port %d must be positive", ErrTopology, pa.Global)
		}
		if _, ok := globals[pa.Global]; ok {
			return fmt.Errorf("%w: global port %d assigned twice", ErrTopology, pa.Global)
		}
		globals[pa.Global] = struct{}{}
		if len(pa.Candidates) == 0 {
			return fmt.Errorf("%w: global port %d has no physical port", ErrTopology, pa.Global)
		}
		devs := make(map[int]struct{}, len(pa.Candidates))
		for _, loc := range pa.Candidates {
			if loc.Device < 0 || loc.Device >= len(t.DevicePorts) {
				return fmt.Errorf("%w: global port %d refers to device %d", ErrTopology, pa.Global, loc.Device)
			}
			if loc.Port < 1 || loc.Port > t.DevicePorts[loc.Device] {
				return fmt.Errorf("%w: global port %d refers to %s", ErrTopology, pa.Global, loc)
			}
			if _, ok := devs[loc.Device]; ok {
				return fmt.Errorf("%w: global port %d has two candidates on device %d", ErrTopology, pa.Global, loc.Device)
			}
			devs[loc.Device] = struct{}{}
			if other, ok := owners[loc]; ok {
				return fmt.Errorf("%w: %s serves global ports %d and %d", ErrTopology, loc, other, pa.Global)
			}
			owners[loc] = pa.Global
		}
	}
	return nil
}

// Locate returns the first physical port serving a global port.
func (t Topology) Locate(global int) (Location, bool) {
	for _, pa := range t.Ports {
		if pa.Global == global && len(pa.Candidates) > 0 {
			return pa.Candidates[0], true
		}
	}
	return Location{}, false
}
