package device

// MaxRawValues is the capacity of a raw frame.
const MaxRawValues = 32

// RawValue is one sub-measurement of a device. For VNA sweeps Stage and Source
// identify the excited port (Source is local to the device executing Stage) and
// Receiver is the local port of the reporting device. Spectrum analyzer values
// leave Stage and Source at zero and carry dBm in the real part.
type RawValue struct {
	Stage    uint8
	Source   uint8
	Receiver uint8
	Value    complex128
}

// RawFrame is one device's view of one sweep point.
type RawFrame struct {
	PointNum  uint32
	Frequency float64
	DBm       float64
	Us        float64
	Count     uint8
	Values    [MaxRawValues]RawValue
}

// Add appends a value. It returns false once the frame is full.
func (f *RawFrame) Add(v RawValue) bool {
	if int(f.Count) >= MaxRawValues {
		return false
	}
	f.Values[f.Count] = v
	f.Count++
	return true
}

// Used returns the populated part of Values.
func (f *RawFrame) Used() []RawValue {
	return f.Values[:f.Count]
}
