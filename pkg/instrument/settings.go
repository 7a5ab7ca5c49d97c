package instrument

import (
	"fmt"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/types"
)

var (
	extRefInOptions  = []string{"Internal", "External", "Auto"}
	extRefOutOptions = []string{"Off", "10 MHz", "100 MHz"}
)

// SetVNA validates s and starts a VNA sweep. A rejected configuration is returned
// and passed to cb without touching the devices. Otherwise cb is called on the
// coordination goroutine once every device acknowledged, one refused, or a newer
// configuration superseded this one. cb may be nil and must not block.
func (v *VirtualDevice) SetVNA(s types.VNASettings, cb func(error)) error {
	if err := v.ready(); err != nil {
		return reject(cb, err)
	}
	if err := validateVNA(v.Info(), s); err != nil {
		return reject(cb, err)
	}
	p, err := v.core.planVNA(s, v.logger)
	if err != nil {
		return reject(cb, err)
	}
	return v.submit(request{plan: p, cb: cb})
}

// SetSA validates s and starts a spectrum analyzer sweep. Callback semantics are those of SetVNA.
func (v *VirtualDevice) SetSA(s types.SASettings, cb func(error)) error {
	if err := v.ready(); err != nil {
		return reject(cb, err)
	}
	if err := validateSA(v.Info(), s); err != nil {
		return reject(cb, err)
	}
	p, err := v.core.planSA(s, v.logger)
	if err != nil {
		return reject(cb, err)
	}
	return v.submit(request{plan: p, cb: cb})
}

// SetSG switches to signal generator mode. Port 0 turns the output off.
func (v *VirtualDevice) SetSG(s types.SGSettings) error {
	if err := v.ready(); err != nil {
		return err
	}
	if err := validateSG(v.Info(), s); err != nil {
		return err
	}
	p, err := v.core.planSG(s)
	if err != nil {
		return err
	}
	return v.submit(request{plan: p})
}

func (v *VirtualDevice) SetIdle(cb func(error)) error {
	if err := v.ready(); err != nil {
		return reject(cb, err)
	}
	return v.submit(request{plan: v.core.planIdle(), cb: cb})
}

// SetExtRef routes the reference clock. Options must be taken from
// AvailableExtRefInSettings and AvailableExtRefOutSettings.
func (v *VirtualDevice) SetExtRef(in, out string) error {
	if err := v.ready(); err != nil {
		return err
	}
	if !contains(v.AvailableExtRefInSettings(), in) {
		return rejectf("reference input option %q not available", in)
	}
	if !contains(v.AvailableExtRefOutSettings(), out) {
		return rejectf("reference output option %q not available", out)
	}
	cmd := device.Command{
		Kind:      device.CommandReference,
		Reference: &device.ReferenceCommand{In: in, Out: out},
	}
	return v.submit(request{ref: &cmd})
}

// ready rejects mode changes after shutdown and while the firmware is outdated.
// Requests made before Run are queued and processed once it starts.
func (v *VirtualDevice) ready() error {
	select {
	case <-v.done:
		return ErrNotRunning
	default:
	}
	if v.outdated.Load() {
		return fmt.Errorf("%w: protocol %d, need %d", ErrFirmwareMismatch, v.Info().ProtocolVersion, v.requiredProtocol)
	}
	return nil
}

func (v *VirtualDevice) submit(req request) error {
	select {
	case v.requests <- req:
		return nil
	case <-v.done:
		return reject(req.cb, ErrNotRunning)
	}
}

func reject(cb func(error), err error) error {
	if cb != nil {
		cb(err)
	}
	return err
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}

// AvailableVNAMeasurements lists the parameter names a full sweep over every port produces.
func (v *VirtualDevice) AvailableVNAMeasurements() []string {
	info := v.Info()
	if !info.SupportsVNA {
		return nil
	}
	ret := make([]string, 0, info.Ports*info.Ports)
	for rx := 1; rx <= info.Ports; rx++ {
		for src := 1; src <= info.Ports; src++ {
			ret = append(ret, types.ParamName(rx, src))
		}
	}
	return ret
}

func (v *VirtualDevice) AvailableSAMeasurements() []string {
	info := v.Info()
	if !info.SupportsSA {
		return nil
	}
	ret := make([]string, 0, info.Ports)
	for port := 1; port <= info.Ports; port++ {
		ret = append(ret, types.PortName(port))
	}
	return ret
}

// AvailableSGPorts lists the ports the signal generator can drive.
func (v *VirtualDevice) AvailableSGPorts() []int {
	info := v.Info()
	if !info.SupportsSG {
		return nil
	}
	ret := make([]int, 0, info.Ports)
	for port := 1; port <= info.Ports; port++ {
		ret = append(ret, port)
	}
	return ret
}

// AvailableExtRefInSettings is empty for compound devices; their reference
// routing is fixed by the sync setup.
func (v *VirtualDevice) AvailableExtRefInSettings() []string {
	if v.compound || !v.Info().SupportsExtRef {
		return nil
	}
	return append([]string(nil), extRefInOptions...)
}

func (v *VirtualDevice) AvailableExtRefOutSettings() []string {
	if v.compound || !v.Info().SupportsExtRef {
		return nil
	}
	return append([]string(nil), extRefOutOptions...)
}
