package device

import (
	"context"
	"fmt"
	"sort"
)

// StaticDriver hands out a fixed set of already constructed devices, such as
// simulated devices or recordings.
type StaticDriver struct {
	name    string
	devices map[string]Device
}

func NewStaticDriver(name string, devices ...Device) *StaticDriver {
	d := &StaticDriver{name: name, devices: make(map[string]Device)}
	for _, dev := range devices {
		d.devices[dev.Serial()] = dev
	}
	return d
}

func (d *StaticDriver) Name() string {
	return d.name
}

func (d *StaticDriver) List(ctx context.Context) ([]string, error) {
	ret := make([]string, 0, len(d.devices))
	for serial := range d.devices {
		ret = append(ret, serial)
	}
	sort.Strings(ret)
	return ret, nil
}

func (d *StaticDriver) Open(ctx context.Context, serial string) (Device, error) {
	dev, ok := d.devices[serial]
	if !ok {
		return nil, fmt.Errorf("no %s device %s", d.name, serial)
	}
	return dev, nil
}
