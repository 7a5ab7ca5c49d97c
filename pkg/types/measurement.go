package types

import "fmt"

// Sparam is the 2x2 scattering matrix between two ports.
type Sparam struct {
	M11, M12, M21, M22 complex128
}

// VNAMeasurement is one fused sweep point. For zero-span sweeps Us holds the
// time since the first point and Frequency/DBm are constant.
type VNAMeasurement struct {
	PointNum     uint32                `json:"point"`
	Z0           float64               `json:"z0"`
	Frequency    float64               `json:"frequency"`
	DBm          float64               `json:"dbm"`
	Us           float64               `json:"us"`
	Measurements map[string]complex128 `json:"-"`
}

// ParamName returns the parameter key for a wave received at port rx while port src is excited.
func ParamName(rx, src int) string {
	return fmt.Sprintf("S%d%d", rx, src)
}

func (m *VNAMeasurement) ToSparam(port1, port2 int) Sparam {
	return Sparam{
		M11: m.Measurements[ParamName(port1, port1)],
		M12: m.Measurements[ParamName(port1, port2)],
		M21: m.Measurements[ParamName(port2, port1)],
		M22: m.Measurements[ParamName(port2, port2)],
	}
}

func (m *VNAMeasurement) FromSparam(s Sparam, port1, port2 int) {
	if m.Measurements == nil {
		m.Measurements = make(map[string]complex128)
	}
	m.Measurements[ParamName(port1, port1)] = s.M11
	m.Measurements[ParamName(port1, port2)] = s.M12
	m.Measurements[ParamName(port2, port1)] = s.M21
	m.Measurements[ParamName(port2, port2)] = s.M22
}

// InterpolateTo returns the linear interpolation between m (a = 0) and to (a = 1).
// Only parameters present in both measurements are kept.
func (m *VNAMeasurement) InterpolateTo(to *VNAMeasurement, a float64) VNAMeasurement {
	ret := VNAMeasurement{
		PointNum:     m.PointNum,
		Z0:           m.Z0,
		Frequency:    m.Frequency*(1-a) + to.Frequency*a,
		DBm:          m.DBm*(1-a) + to.DBm*a,
		Us:           m.Us*(1-a) + to.Us*a,
		Measurements: make(map[string]complex128, len(m.Measurements)),
	}
	for k, v := range m.Measurements {
		w, ok := to.Measurements[k]
		if !ok {
			continue
		}
		ret.Measurements[k] = Lerp(v, w, a)
	}
	return ret
}

// Lerp interpolates linearly between two complex values.
func Lerp(from, to complex128, a float64) complex128 {
	return from*complex(1-a, 0) + to*complex(a, 0)
}

type SAMeasurement struct {
	PointNum     uint32             `json:"point"`
	Frequency    float64            `json:"frequency"`
	Us           float64            `json:"us"`
	Measurements map[string]float64 `json:"measurements"`
}

// PortName returns the spectrum analyzer parameter key for a port.
func PortName(port int) string {
	return fmt.Sprintf("PORT%d", port)
}

// TaggedMeasurement carries either a VNA or an SA point together with the serial
// of the virtual device that produced it.
type TaggedMeasurement struct {
	Serial string
	VNA    *VNAMeasurement
	SA     *SAMeasurement
}
