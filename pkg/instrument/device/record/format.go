package record

import (
	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/types"
)

type recordKind uint8

const (
	kindHeader recordKind = iota + 1
	kindFrame
)

// record is one msgpack encoded entry of a recording. The first entry of every
// recording is a header carrying the serial and info of the recorded device.
type record struct {
	Kind   recordKind  `msgpack:"k"`
	Serial string      `msgpack:"s,omitempty"`
	Info   *types.Info `msgpack:"i,omitempty"`
	Frame  *frame      `msgpack:"f,omitempty"`
}

type frame struct {
	PointNum  uint32  `msgpack:"p"`
	Frequency float64 `msgpack:"f"`
	DBm       float64 `msgpack:"dbm"`
	Us        float64 `msgpack:"us"`
	Values    []value `msgpack:"v"`
}

type value struct {
	Stage    uint8   `msgpack:"st"`
	Source   uint8   `msgpack:"src"`
	Receiver uint8   `msgpack:"rx"`
	Re       float64 `msgpack:"re"`
	Im       float64 `msgpack:"im"`
}

func fromRaw(f *device.RawFrame) *frame {
	ret := &frame{
		PointNum:  f.PointNum,
		Frequency: f.Frequency,
		DBm:       f.DBm,
		Us:        f.Us,
		Values:    make([]value, 0, f.Count),
	}
	for _, v := range f.Used() {
		ret.Values = append(ret.Values, value{
			Stage:    v.Stage,
			Source:   v.Source,
			Receiver: v.Receiver,
			Re:       real(v.Value),
			Im:       imag(v.Value),
		})
	}
	return ret
}

func (f *frame) toRaw() device.RawFrame {
	ret := device.RawFrame{
		PointNum:  f.PointNum,
		Frequency: f.Frequency,
		DBm:       f.DBm,
		Us:        f.Us,
	}
	for _, v := range f.Values {
		if !ret.Add(device.RawValue{Stage: v.Stage, Source: v.Source, Receiver: v.Receiver, Value: complex(v.Re, v.Im)}) {
			break
		}
	}
	return ret
}
