package instrument

import (
	"context"
	"fmt"
	"sort"

	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager discovers physical devices through its drivers and connects virtual
// devices to them, by serial or by compound device name.
type Manager struct {
	drivers   []device.Driver
	compounds []CompoundDefinition
	opts      []Option
	logger    zerolog.Logger
}

type ManagerOption func(m *Manager)

func WithDrivers(drivers ...device.Driver) ManagerOption {
	return func(m *Manager) {
		m.drivers = append(m.drivers, drivers...)
	}
}

func WithCompoundDevices(defs ...CompoundDefinition) ManagerOption {
	return func(m *Manager) {
		m.compounds = append(m.compounds, defs...)
	}
}

// WithDeviceOptions sets the options every connected virtual device is created with.
func WithDeviceOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.opts = append(m.opts, opts...)
	}
}

func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{logger: log.Logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// serials maps every reachable serial to the driver that reported it.
func (m *Manager) serials(ctx context.Context) (map[string]device.Driver, error) {
	ret := make(map[string]device.Driver)
	for _, drv := range m.drivers {
		serials, err := drv.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s devices: %w", drv.Name(), err)
		}
		for _, serial := range serials {
			if _, ok := ret[serial]; ok {
				m.logger.Warn().Str("serial", serial).Str("driver", drv.Name()).Msg("serial reported twice, ignoring")
				continue
			}
			ret[serial] = drv
		}
	}
	return ret, nil
}

// ListAvailableDevices returns the serials of all reachable devices followed by the
// names of compound devices whose members are all reachable.
func (m *Manager) ListAvailableDevices(ctx context.Context) ([]string, error) {
	found, err := m.serials(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(found))
	for serial := range found {
		ret = append(ret, serial)
	}
	sort.Strings(ret)

	for _, def := range m.compounds {
		complete := len(def.Serials) > 0
		for _, serial := range def.Serials {
			if _, ok := found[serial]; !ok {
				complete = false
				break
			}
		}
		if complete {
			ret = append(ret, def.Name)
		}
	}
	return ret, nil
}

// ConnectTo opens the device or compound device identified by id.
func (m *Manager) ConnectTo(ctx context.Context, id string) (*VirtualDevice, error) {
	found, err := m.serials(ctx)
	if err != nil {
		return nil, err
	}

	if drv, ok := found[id]; ok {
		dev, err := drv.Open(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", id, err)
		}
		m.logger.Info().Str("serial", id).Str("driver", drv.Name()).Msg("connected")
		return NewVirtualDevice(dev, m.opts...)
	}

	for _, def := range m.compounds {
		if def.Name != id {
			continue
		}
		devs := make([]device.Device, 0, len(def.Serials))
		for _, serial := range def.Serials {
			drv, ok := found[serial]
			if !ok {
				closeAll(devs)
				return nil, fmt.Errorf("%w: %s (member of %s)", ErrNotFound, serial, id)
			}
			dev, err := drv.Open(ctx, serial)
			if err != nil {
				closeAll(devs)
				return nil, fmt.Errorf("opening %s (member of %s): %w", serial, id, err)
			}
			devs = append(devs, dev)
		}
		vd, err := NewCompoundVirtualDevice(def, devs, m.opts...)
		if err != nil {
			closeAll(devs)
			return nil, err
		}
		m.logger.Info().Str("compound", id).Strs("serials", def.Serials).Msg("connected")
		return vd, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func closeAll(devs []device.Device) {
	for _, dev := range devs {
		_ = dev.Stop()
	}
}
