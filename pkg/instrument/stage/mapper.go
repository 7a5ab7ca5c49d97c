package stage

import (
	"fmt"
	"sort"
)

// Link ties a global port to the local port of the device executing a stage.
type Link struct {
	Global int
	Local  int
}

// Stage is one excitation step, executed by a single device.
type Stage struct {
	Index  int
	Device int
	// Ports are sorted by global port number.
	Ports []Link
}

// Map is the result of mapping a set of excited ports onto stages. It is
// read-only once built.
type Map struct {
	topo      Topology
	stages    []Stage
	portStage map[int]int
	devStage  map[int]int
	receivers map[Location]int
}

// New computes the stages required to excite the given global ports.
//
// Every device holding at least one selected port runs exactly one stage in which
// it excites all of its selected ports. Ports with a single candidate decide the
// mandatory devices first. A port with several candidates is placed on a device
// that already runs a stage when possible; otherwise the device covering most of
// the remaining ports is activated, the lowest device index winning ties. Stages
// are ordered by device index.
func New(topo Topology, excited []int) (*Map, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	if len(excited) == 0 {
		return nil, ErrNoPorts
	}

	assignments := make(map[int]PortAssignment, len(topo.Ports))
	for _, pa := range topo.Ports {
		assignments[pa.Global] = pa
	}

	remaining := make(map[int]PortAssignment, len(excited))
	for _, port := range excited {
		pa, ok := assignments[port]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownPort, port)
		}
		if _, dup := remaining[port]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePort, port)
		}
		remaining[port] = pa
	}

	active := make(map[int][]Link)
	assign := func(port int, dev int) {
		pa := remaining[port]
		for _, loc := range pa.Candidates {
			if loc.Device == dev {
				active[dev] = append(active[dev], Link{Global: port, Local: loc.Port})
			}
		}
		delete(remaining, port)
	}

	for _, port := range sortedKeys(remaining) {
		if pa := remaining[port]; len(pa.Candidates) == 1 {
			assign(port, pa.Candidates[0].Device)
		}
	}

	for len(remaining) > 0 {
		placed := false
		for _, port := range sortedKeys(remaining) {
			dev, ok := lowestActive(remaining[port], active)
			if ok {
				assign(port, dev)
				placed = true
			}
		}
		if placed {
			continue
		}

		coverage := make(map[int]int)
		for _, pa := range remaining {
			for _, loc := range pa.Candidates {
				coverage[loc.Device]++
			}
		}
		best, bestCount := -1, 0
		for dev := 0; dev < len(topo.DevicePorts); dev++ {
			if coverage[dev] > bestCount {
				best, bestCount = dev, coverage[dev]
			}
		}
		// activate without ports; the next round fills it
		active[best] = []Link{}
	}

	m := &Map{
		topo:      topo,
		portStage: make(map[int]int, len(excited)),
		devStage:  make(map[int]int, len(active)),
		receivers: make(map[Location]int),
	}
	devs := make([]int, 0, len(active))
	for dev := range active {
		devs = append(devs, dev)
	}
	sort.Ints(devs)
	for idx, dev := range devs {
		links := active[dev]
		sort.Slice(links, func(i, j int) bool { return links[i].Global < links[j].Global })
		m.stages = append(m.stages, Stage{Index: idx, Device: dev, Ports: links})
		m.devStage[dev] = idx
		for _, l := range links {
			m.portStage[l.Global] = idx
		}
	}

	// receivers: the first candidate of a global port is where it is measured
	// unless the port is excited through another candidate
	for _, pa := range topo.Ports {
		loc := pa.Candidates[0]
		if st, ok := m.portStage[pa.Global]; ok {
			for _, l := range m.stages[st].Ports {
				if l.Global == pa.Global {
					loc = Location{Device: m.stages[st].Device, Port: l.Local}
				}
			}
		}
		m.receivers[loc] = pa.Global
	}

	return m, nil
}

func lowestActive(pa PortAssignment, active map[int][]Link) (int, bool) {
	best := -1
	for _, loc := range pa.Candidates {
		if _, ok := active[loc.Device]; ok && (best < 0 || loc.Device < best) {
			best = loc.Device
		}
	}
	return best, best >= 0
}

func sortedKeys(m map[int]PortAssignment) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (m *Map) Topology() Topology {
	return m.topo
}

func (m *Map) NumStages() int {
	return len(m.stages)
}

func (m *Map) Stage(i int) Stage {
	return m.stages[i]
}

func (m *Map) Stages() []Stage {
	return m.stages
}

// StageForPort returns the stage exciting a global port.
func (m *Map) StageForPort(global int) (int, bool) {
	st, ok := m.portStage[global]
	return st, ok
}

// StageForDevice returns the stage executed by a device.
func (m *Map) StageForDevice(dev int) (int, bool) {
	st, ok := m.devStage[dev]
	return st, ok
}

// GlobalPort translates a port local to the device of a stage into its global number,
// considering only the ports excited in that stage.
func (m *Map) GlobalPort(stage, local int) (int, bool) {
	if stage < 0 || stage >= len(m.stages) {
		return 0, false
	}
	for _, l := range m.stages[stage].Ports {
		if l.Local == local {
			return l.Global, true
		}
	}
	return 0, false
}

// Receiver translates a physical receiver port into its global number.
func (m *Map) Receiver(dev, local int) (int, bool) {
	g, ok := m.receivers[Location{Device: dev, Port: local}]
	return g, ok
}

// Ports returns the excited global ports in ascending order.
func (m *Map) Ports() []int {
	ret := make([]int, 0, len(m.portStage))
	for p := range m.portStage {
		ret = append(ret, p)
	}
	sort.Ints(ret)
	return ret
}
