package fusion

import (
	"github.com/norasector/vnacore/pkg/instrument/device"
	"github.com/norasector/vnacore/pkg/types"
)

type valueKey struct {
	stage, source, receiver uint8
}

// align moves a frame onto the canonical frequency of its point. A frame above
// the canonical frequency is interpolated against the previous frame of its
// stage. A frame below it needs the next frame of the stage, so hold is returned
// and the caller resolves it with interpolate once that frame arrives; on the
// last point of the grid there is no next frame and the measured value stands.
func (e *Engine) align(prev *device.RawFrame, f *device.RawFrame) (frame device.RawFrame, hold bool) {
	canonical, ok := e.grid.At(f.PointNum)
	if !ok || aligned(f.Frequency, canonical, e.tolerance) {
		return *f, false
	}
	if f.Frequency < canonical {
		if _, more := e.grid.At(f.PointNum + 1); more {
			return device.RawFrame{}, true
		}
		return *f, false
	}
	if prev == nil || prev.PointNum >= f.PointNum {
		return *f, false
	}
	return e.interpolate(f, prev, canonical), false
}

// interpolate moves base to the canonical frequency along the line through base
// and other, the neighbouring raw sample of the same stage. The factor is
// clamped so that the result never leaves the span of the two samples.
func (e *Engine) interpolate(base, other *device.RawFrame, canonical float64) device.RawFrame {
	out := *base
	if other.Frequency == base.Frequency {
		return out
	}
	a := (canonical - base.Frequency) / (other.Frequency - base.Frequency)
	if a < 0 {
		a = 0
	} else if a > 1 {
		a = 1
	}

	neighbour := make(map[valueKey]complex128, other.Count)
	for _, v := range other.Used() {
		neighbour[valueKey{v.Stage, v.Source, v.Receiver}] = v.Value
	}
	for i := range out.Values[:out.Count] {
		v := &out.Values[i]
		if nv, ok := neighbour[valueKey{v.Stage, v.Source, v.Receiver}]; ok {
			v.Value = types.Lerp(v.Value, nv, a)
		}
	}
	out.Frequency = base.Frequency*(1-a) + other.Frequency*a
	out.DBm = base.DBm*(1-a) + other.DBm*a

	e.logger.Trace().
		Uint32("point", base.PointNum).
		Float64("measured", base.Frequency).
		Float64("neighbour", other.Frequency).
		Float64("canonical", canonical).
		Float64("a", a).
		Msg("interpolated stage frame")
	return out
}

func (e *Engine) fuseVNA(en *entry) *types.VNAMeasurement {
	ref := &en.frames[0]
	m := &types.VNAMeasurement{
		PointNum:     en.point,
		Z0:           e.z0,
		Frequency:    ref.Frequency,
		DBm:          ref.DBm,
		Us:           ref.Us,
		Measurements: make(map[string]complex128),
	}
	if c, ok := e.grid.At(en.point); ok {
		m.Frequency = c
	}

	for st := 0; st < e.stages; st++ {
		dev := e.m.Stage(st).Device
		for _, v := range en.frames[st].Used() {
			src, ok := e.m.GlobalPort(int(v.Stage), int(v.Source))
			if !ok {
				continue
			}
			rx, ok := e.m.Receiver(dev, int(v.Receiver))
			if !ok {
				continue
			}
			m.Measurements[types.ParamName(rx, src)] = v.Value
		}
	}
	return m
}

func (e *Engine) fuseSA(en *entry) *types.SAMeasurement {
	ref := &en.frames[0]
	m := &types.SAMeasurement{
		PointNum:     en.point,
		Frequency:    ref.Frequency,
		Us:           ref.Us,
		Measurements: make(map[string]float64),
	}
	if c, ok := e.grid.At(en.point); ok {
		m.Frequency = c
	}

	for st := 0; st < e.stages; st++ {
		dev := e.m.Stage(st).Device
		for _, v := range en.frames[st].Used() {
			rx, ok := e.m.Receiver(dev, int(v.Receiver))
			if !ok {
				continue
			}
			m.Measurements[types.PortName(rx)] = real(v.Value)
		}
	}
	return m
}
