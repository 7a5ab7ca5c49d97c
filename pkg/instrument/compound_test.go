package instrument

import (
	"errors"
	"testing"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/instrument/stage"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/rs/zerolog"
)

func newTestCompound(t *testing.T, def CompoundDefinition, devs ...device.Device) *CompoundDevice {
	t.Helper()
	c, err := newCompoundDevice(def, devs, zerolog.Nop())
	if err != nil {
		t.Fatalf("newCompoundDevice() error = %v", err)
	}
	return c
}

func TestCompoundInfo(t *testing.T) {
	a, b := newFakeDevice("A", 2), newFakeDevice("B", 4)
	b.info.ProtocolVersion = 12
	b.info.SupportsSG = false
	b.info.Limits.MaxFreq = 3e9
	b.info.Limits.MaxPoints = 1001

	c := newTestCompound(t, CompoundDefinition{Name: "pair", Serials: []string{"A", "B"}}, a, b)
	info := c.Info()
	if info.Ports != 6 {
		t.Errorf("Ports = %d, want 6", info.Ports)
	}
	if info.ProtocolVersion != 12 {
		t.Errorf("ProtocolVersion = %d, want 12", info.ProtocolVersion)
	}
	if !info.SupportsVNA || info.SupportsSG {
		t.Errorf("supports vna %v, sg %v", info.SupportsVNA, info.SupportsSG)
	}
	if info.Limits.MaxFreq != 3e9 || info.Limits.MaxPoints != 1001 || info.Limits.MinFreq != 100e3 {
		t.Errorf("Limits = %+v", info.Limits)
	}

	c.statuses[0] = types.Status{StatusString: "Ready", ExtRef: true}
	c.statuses[1] = types.Status{StatusString: "Ready", Overload: true, ExtRef: true}
	if got := c.Status(); !got.Overload || !got.ExtRef {
		t.Errorf("Status() = %+v", got)
	}
}

func TestCompoundPortMapping(t *testing.T) {
	def := CompoundDefinition{
		Name:    "crossed",
		Serials: []string{"A", "B"},
		PortMapping: []stage.PortAssignment{
			{Global: 1, Candidates: []stage.Location{{Device: 1, Port: 1}}},
			{Global: 2, Candidates: []stage.Location{{Device: 0, Port: 1}}},
		},
	}
	c := newTestCompound(t, def, newFakeDevice("A", 1), newFakeDevice("B", 1))
	p, err := c.planVNA(vnaSettings(1), zerolog.Nop())
	if err != nil {
		t.Fatalf("planVNA() error = %v", err)
	}
	if p.commands[0].Kind != device.CommandIdle || p.commands[1].Kind != device.CommandVNA {
		t.Errorf("commands = %s, %s, want idle, vna", p.commands[0].Kind, p.commands[1].Kind)
	}

	def.PortMapping = append(def.PortMapping, stage.PortAssignment{Global: 3, Candidates: []stage.Location{{Device: 0, Port: 1}}})
	if _, err := newCompoundDevice(def, []device.Device{newFakeDevice("A", 1), newFakeDevice("B", 1)}, zerolog.Nop()); !errors.Is(err, stage.ErrTopology) {
		t.Errorf("newCompoundDevice() error = %v, want ErrTopology", err)
	}
}

func TestPlanVNA(t *testing.T) {
	c := newTestCompound(t, CompoundDefinition{Name: "trio", Serials: []string{"A", "B", "C"}},
		newFakeDevice("A", 2), newFakeDevice("B", 2), newFakeDevice("C", 2))

	p, err := c.planVNA(vnaSettings(2, 5), zerolog.Nop())
	if err != nil {
		t.Fatalf("planVNA() error = %v", err)
	}
	if p.commands[1].Kind != device.CommandIdle {
		t.Errorf("B = %s, want idle", p.commands[1].Kind)
	}
	a, cc := p.commands[0].VNA, p.commands[2].VNA
	if a == nil || cc == nil {
		t.Fatalf("commands = %+v", p.commands)
	}
	if a.Stage != 0 || cc.Stage != 1 || a.Stages != 2 {
		t.Errorf("stages: A %d, C %d of %d", a.Stage, cc.Stage, a.Stages)
	}
	if got := a.LocalPorts(); len(got) != 1 || got[0] != 2 {
		t.Errorf("A excites %v, want [2]", got)
	}
	if got := cc.LocalPorts(); len(got) != 1 || got[0] != 1 {
		t.Errorf("C excites %v, want [1]", got)
	}

	if _, err := c.planVNA(vnaSettings(7), zerolog.Nop()); !errors.Is(err, ErrConfigurationRejected) || !errors.Is(err, stage.ErrUnknownPort) {
		t.Errorf("planVNA() error = %v, want rejected unknown port", err)
	}
}

func TestPlanSA(t *testing.T) {
	c := newTestCompound(t, CompoundDefinition{Name: "pair", Serials: []string{"A", "B"}},
		newFakeDevice("A", 2), newFakeDevice("B", 2))

	s := saSettings()
	s.TrackingGenerator = true
	s.TrackingPort = 4
	s.TrackingPower = -20
	p, err := c.planSA(s, zerolog.Nop())
	if err != nil {
		t.Fatalf("planSA() error = %v", err)
	}
	a, b := p.commands[0].SA, p.commands[1].SA
	if a == nil || b == nil {
		t.Fatalf("commands = %+v", p.commands)
	}
	if a.TrackingGenerator {
		t.Errorf("A drives the tracking generator")
	}
	if !b.TrackingGenerator || b.TrackingPort != 2 || b.TrackingPower != -20 {
		t.Errorf("B = %+v, want tracking on local port 2", b)
	}
}

func TestPlanSG(t *testing.T) {
	c := newTestCompound(t, CompoundDefinition{Name: "pair", Serials: []string{"A", "B"}},
		newFakeDevice("A", 2), newFakeDevice("B", 2))

	tests := []struct {
		name string
		port int
		want [2]device.SGCommand
		idle [2]bool
	}{
		{
			name: "off",
			port: 0,
			want: [2]device.SGCommand{{Freq: 1e9, DBm: -10}, {Freq: 1e9, DBm: -10}},
		},
		{
			name: "port on second device",
			port: 3,
			want: [2]device.SGCommand{{}, {Freq: 1e9, DBm: -10, Port: 1}},
			idle: [2]bool{true, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := c.planSG(types.SGSettings{Freq: 1e9, DBm: -10, Port: tt.port})
			if err != nil {
				t.Fatalf("planSG() error = %v", err)
			}
			for i, cmd := range p.commands {
				if tt.idle[i] {
					if cmd.Kind != device.CommandIdle {
						t.Errorf("device %d = %s, want idle", i, cmd.Kind)
					}
					continue
				}
				if cmd.Kind != device.CommandSG || *cmd.SG != tt.want[i] {
					t.Errorf("device %d = %+v, want %+v", i, cmd.SG, tt.want[i])
				}
			}
		})
	}
}

func TestCommitAndRevert(t *testing.T) {
	c := newTestCompound(t, CompoundDefinition{Name: "pair", Serials: []string{"A", "B"}},
		newFakeDevice("A", 2), newFakeDevice("B", 2))

	if cmd := c.revertCommand(0); cmd.Kind != device.CommandIdle {
		t.Errorf("revertCommand() before commit = %s, want idle", cmd.Kind)
	}

	p, err := c.planVNA(vnaSettings(1, 2, 3, 4), zerolog.Nop())
	if err != nil {
		t.Fatalf("planVNA() error = %v", err)
	}
	if n := c.commit(p); n != 0 {
		t.Errorf("commit() abandoned %d", n)
	}
	if cmd := c.revertCommand(1); cmd.Kind != device.CommandVNA {
		t.Errorf("revertCommand() = %s, want vna", cmd.Kind)
	}

	f := vnaFrame(p.commands[0].VNA, 0, 1e9, 2, func(device.Excitation, int) complex128 { return 0 })
	if res, err := c.receive(0, &f); err != nil || res.Fused() {
		t.Fatalf("receive() = %+v, %v", res, err)
	}
	if c.pending() != 1 {
		t.Errorf("pending() = %d, want 1", c.pending())
	}
	if n := c.commit(c.planIdle()); n != 1 {
		t.Errorf("commit() abandoned %d, want 1", n)
	}
	if res, err := c.receive(0, &f); err != nil || res.Fused() {
		t.Errorf("receive() while idle = %+v, %v", res, err)
	}
}

func TestReceiveFromIdleDevice(t *testing.T) {
	c := newTestCompound(t, CompoundDefinition{Name: "pair", Serials: []string{"A", "B"}},
		newFakeDevice("A", 2), newFakeDevice("B", 2))
	p, err := c.planVNA(vnaSettings(1), zerolog.Nop())
	if err != nil {
		t.Fatalf("planVNA() error = %v", err)
	}
	c.commit(p)

	f := device.RawFrame{PointNum: 0, Frequency: 1e9}
	if _, err := c.receive(1, &f); err == nil {
		t.Errorf("frame from a device outside the sweep accepted")
	}
}
