package instrument

import (
	"fmt"
	"time"

	"fortio.org/safecast"
	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/instrument/fusion"
	"github.com/norasector/vnacore/pkg/instrument/stage"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/rs/zerolog"
)

// maxPointAge is how long a point may wait for its slowest stage.
const maxPointAge = 10 * time.Second

// CompoundDefinition names a set of physical devices that act as one instrument.
type CompoundDefinition struct {
	Name    string   `yaml:"name" toml:"name"`
	Serials []string `yaml:"serials,flow" toml:"serials"`
	// Sync describes how the devices share trigger and reference (e.g. "USB", "ExtRef").
	Sync string `yaml:"sync" toml:"sync"`
	// PortMapping overrides the sequential numbering of global ports.
	PortMapping []stage.PortAssignment `yaml:"port_mapping" toml:"port_mapping"`
}

// CompoundDevice makes several physical devices behave as one instrument with
// more ports. All of its state is owned by the coordination loop of the virtual
// device wrapping it.
type CompoundDevice struct {
	def      CompoundDefinition
	devices  []device.Device
	topology stage.Topology
	infos    []types.Info
	statuses []types.Status
	logger   zerolog.Logger

	mode   Mode
	engine *fusion.Engine
	active []*device.Command
}

// plan is a configuration computed but not yet acknowledged by the devices.
type plan struct {
	mode     Mode
	commands []device.Command
	engine   *fusion.Engine
}

func newCompoundDevice(def CompoundDefinition, devices []device.Device, logger zerolog.Logger) (*CompoundDevice, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("compound device %q has no devices", def.Name)
	}
	c := &CompoundDevice{
		def:      def,
		devices:  devices,
		infos:    make([]types.Info, len(devices)),
		statuses: make([]types.Status, len(devices)),
		active:   make([]*device.Command, len(devices)),
		logger:   logger,
	}
	ports := make([]int, len(devices))
	for i, dev := range devices {
		c.infos[i] = dev.Info()
		ports[i] = c.infos[i].Ports
	}
	c.topology = stage.SequentialTopology(ports...)
	if len(def.PortMapping) > 0 {
		c.topology.Ports = def.PortMapping
	}
	if err := c.topology.Validate(); err != nil {
		return nil, fmt.Errorf("compound device %q: %w", def.Name, err)
	}
	return c, nil
}

func (c *CompoundDevice) Name() string {
	return c.def.Name
}

func (c *CompoundDevice) Definition() CompoundDefinition {
	return c.def
}

func (c *CompoundDevice) Devices() []device.Device {
	return c.devices
}

func (c *CompoundDevice) Topology() stage.Topology {
	return c.topology
}

// Info aggregates the capabilities of all devices: ranges are intersected, modes
// must be supported by every device and the port count comes from the topology.
func (c *CompoundDevice) Info() types.Info {
	ret := c.infos[0]
	for _, info := range c.infos[1:] {
		if info.ProtocolVersion < ret.ProtocolVersion {
			ret.ProtocolVersion = info.ProtocolVersion
		}
		ret.SupportsVNA = ret.SupportsVNA && info.SupportsVNA
		ret.SupportsSA = ret.SupportsSA && info.SupportsSA
		ret.SupportsSG = ret.SupportsSG && info.SupportsSG
		ret.SupportsExtRef = ret.SupportsExtRef && info.SupportsExtRef
		ret.Limits = types.IntersectLimits(ret.Limits, info.Limits)
	}
	ret.Ports = c.topology.NumPorts()
	return ret
}

func (c *CompoundDevice) Status() types.Status {
	return types.CombineStatus(c.statuses...)
}

func (c *CompoundDevice) deviceIndex(serial string) int {
	for i, dev := range c.devices {
		if dev.Serial() == serial {
			return i
		}
	}
	return -1
}

func (c *CompoundDevice) planVNA(s types.VNASettings, logger zerolog.Logger) (*plan, error) {
	m, err := stage.New(c.topology, s.ExcitedPorts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationRejected, err)
	}
	points, err := safecast.Conv[uint16](s.Points)
	if err != nil {
		return nil, fmt.Errorf("%w: points: %w", ErrConfigurationRejected, err)
	}
	stages, err := safecast.Conv[uint8](m.NumStages())
	if err != nil {
		return nil, fmt.Errorf("%w: stages: %w", ErrConfigurationRejected, err)
	}

	var excitations []device.Excitation
	for _, st := range m.Stages() {
		idx, err := safecast.Conv[uint8](st.Index)
		if err != nil {
			return nil, fmt.Errorf("%w: stage: %w", ErrConfigurationRejected, err)
		}
		for _, l := range st.Ports {
			port, err := safecast.Conv[uint8](l.Local)
			if err != nil {
				return nil, fmt.Errorf("%w: port: %w", ErrConfigurationRejected, err)
			}
			excitations = append(excitations, device.Excitation{Stage: idx, Port: port})
		}
	}

	p := &plan{mode: ModeVNA, commands: make([]device.Command, len(c.devices))}
	for i := range c.devices {
		st, ok := m.StageForDevice(i)
		if !ok {
			p.commands[i] = device.IdleCommand()
			continue
		}
		p.commands[i] = device.Command{
			Kind: device.CommandVNA,
			VNA: &device.VNACommand{
				FreqStart:   s.FreqStart,
				FreqStop:    s.FreqStop,
				DBmStart:    s.DBmStart,
				DBmStop:     s.DBmStop,
				IFBW:        s.IFBW,
				Points:      points,
				LogSweep:    s.LogSweep,
				Stage:       uint8(st),
				Stages:      stages,
				Excitations: excitations,
			},
		}
	}

	var grid fusion.Grid
	switch {
	case len(c.devices) == 1, s.ZeroSpan(), s.PowerSweep():
	case s.LogSweep:
		grid = fusion.LogGrid(s.FreqStart, s.FreqStop, s.Points)
	default:
		grid = fusion.LinearGrid(s.FreqStart, s.FreqStop, s.Points)
	}
	p.engine = fusion.New(fusion.ModeVNA, m,
		fusion.WithGrid(grid),
		fusion.WithZeroSpan(s.ZeroSpan()),
		fusion.WithMaxAge(maxPointAge),
		fusion.WithLogger(logger),
	)
	return p, nil
}

func (c *CompoundDevice) planSA(s types.SASettings, logger zerolog.Logger) (*plan, error) {
	m, err := stage.New(c.topology, c.topology.GlobalPorts())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationRejected, err)
	}
	points, err := safecast.Conv[uint16](s.Points)
	if err != nil {
		return nil, fmt.Errorf("%w: points: %w", ErrConfigurationRejected, err)
	}

	tracking := stage.Location{Device: -1}
	if s.TrackingGenerator {
		loc, ok := c.topology.Locate(s.TrackingPort)
		if !ok {
			return nil, fmt.Errorf("%w: tracking port %d", ErrConfigurationRejected, s.TrackingPort)
		}
		tracking = loc
	}

	p := &plan{mode: ModeSA, commands: make([]device.Command, len(c.devices))}
	for i := range c.devices {
		if _, ok := m.StageForDevice(i); !ok {
			p.commands[i] = device.IdleCommand()
			continue
		}
		cmd := &device.SACommand{
			FreqStart: s.FreqStart,
			FreqStop:  s.FreqStop,
			RBW:       s.RBW,
			Points:    points,
			Window:    s.Window,
			Detector:  s.Detector,
			SignalID:  s.SignalID,
		}
		if tracking.Device == i {
			port, err := safecast.Conv[uint8](tracking.Port)
			if err != nil {
				return nil, fmt.Errorf("%w: tracking port: %w", ErrConfigurationRejected, err)
			}
			cmd.TrackingGenerator = true
			cmd.TrackingPort = port
			cmd.TrackingOffset = s.TrackingOffset
			cmd.TrackingPower = s.TrackingPower
		}
		p.commands[i] = device.Command{Kind: device.CommandSA, SA: cmd}
	}

	var grid fusion.Grid
	if len(c.devices) > 1 && !s.ZeroSpan() {
		grid = fusion.LinearGrid(s.FreqStart, s.FreqStop, s.Points)
	}
	p.engine = fusion.New(fusion.ModeSA, m,
		fusion.WithGrid(grid),
		fusion.WithZeroSpan(s.ZeroSpan()),
		fusion.WithMaxAge(maxPointAge),
		fusion.WithLogger(logger),
	)
	return p, nil
}

func (c *CompoundDevice) planSG(s types.SGSettings) (*plan, error) {
	p := &plan{mode: ModeSG, commands: make([]device.Command, len(c.devices))}
	if s.Port == 0 {
		for i := range c.devices {
			p.commands[i] = device.Command{Kind: device.CommandSG, SG: &device.SGCommand{Freq: s.Freq, DBm: s.DBm}}
		}
		return p, nil
	}
	loc, ok := c.topology.Locate(s.Port)
	if !ok {
		return nil, fmt.Errorf("%w: port %d", ErrConfigurationRejected, s.Port)
	}
	port, err := safecast.Conv[uint8](loc.Port)
	if err != nil {
		return nil, fmt.Errorf("%w: port: %w", ErrConfigurationRejected, err)
	}
	for i := range c.devices {
		if i != loc.Device {
			p.commands[i] = device.IdleCommand()
			continue
		}
		p.commands[i] = device.Command{Kind: device.CommandSG, SG: &device.SGCommand{Freq: s.Freq, DBm: s.DBm, Port: port}}
	}
	return p, nil
}

func (c *CompoundDevice) planIdle() *plan {
	p := &plan{mode: ModeIdle, commands: make([]device.Command, len(c.devices))}
	for i := range c.devices {
		p.commands[i] = device.IdleCommand()
	}
	return p
}

// commit makes an acknowledged plan the active configuration. Points still
// collecting under the previous configuration are abandoned; the count is returned.
func (c *CompoundDevice) commit(p *plan) int {
	abandoned := 0
	if c.engine != nil {
		abandoned = c.engine.Reset()
	}
	c.mode = p.mode
	c.engine = p.engine
	for i := range p.commands {
		cmd := p.commands[i]
		c.active[i] = &cmd
	}
	return abandoned
}

// revertCommand is what a device is told when a configuration it acknowledged
// is rolled back: the last committed command, or idle.
func (c *CompoundDevice) revertCommand(dev int) device.Command {
	if cmd := c.active[dev]; cmd != nil {
		return *cmd
	}
	return device.IdleCommand()
}

// abandon drops every point in flight.
func (c *CompoundDevice) abandon() int {
	if c.engine == nil {
		return 0
	}
	return c.engine.Reset()
}

// receive routes a raw frame of device dev into the fusion engine.
func (c *CompoundDevice) receive(dev int, f *device.RawFrame) (fusion.Result, error) {
	if c.engine == nil {
		return fusion.Result{}, nil
	}
	st, ok := c.engine.Map().StageForDevice(dev)
	if !ok {
		return fusion.Result{}, fmt.Errorf("%w: device %s does not take part in the sweep", fusion.ErrProtocolViolation, c.devices[dev].Serial())
	}
	return c.engine.Push(st, f)
}

func (c *CompoundDevice) pending() int {
	if c.engine == nil {
		return 0
	}
	return c.engine.Pending()
}
