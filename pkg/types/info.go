package types

// Limits are the numeric bounds a sweep configuration must respect.
type Limits struct {
	MinFreq         float64 `json:"min_freq"`
	MaxFreq         float64 `json:"max_freq"`
	MaxFreqHarmonic float64 `json:"max_freq_harmonic"`
	MinIFBW         float64 `json:"min_ifbw"`
	MaxIFBW         float64 `json:"max_ifbw"`
	MaxPoints       int     `json:"max_points"`
	MinDBm          float64 `json:"min_dbm"`
	MaxDBm          float64 `json:"max_dbm"`
	MinRBW          float64 `json:"min_rbw"`
	MaxRBW          float64 `json:"max_rbw"`
}

// Info describes what an instrument can do. It does not change during a session.
type Info struct {
	ProtocolVersion int    `json:"protocol_version"`
	FWMajor         int    `json:"fw_major"`
	FWMinor         int    `json:"fw_minor"`
	FWPatch         int    `json:"fw_patch"`
	HardwareVersion int    `json:"hardware_version"`
	HWRevision      string `json:"hw_revision"`
	Ports           int    `json:"ports"`
	SupportsVNA     bool   `json:"supports_vna"`
	SupportsSA      bool   `json:"supports_sa"`
	SupportsSG      bool   `json:"supports_sg"`
	SupportsExtRef  bool   `json:"supports_ext_ref"`
	Limits          Limits `json:"limits"`
}

// IntersectLimits narrows a to the range also supported by b.
func IntersectLimits(a, b Limits) Limits {
	return Limits{
		MinFreq:         maxFloat(a.MinFreq, b.MinFreq),
		MaxFreq:         minFloat(a.MaxFreq, b.MaxFreq),
		MaxFreqHarmonic: minFloat(a.MaxFreqHarmonic, b.MaxFreqHarmonic),
		MinIFBW:         maxFloat(a.MinIFBW, b.MinIFBW),
		MaxIFBW:         minFloat(a.MaxIFBW, b.MaxIFBW),
		MaxPoints:       minInt(a.MaxPoints, b.MaxPoints),
		MinDBm:          maxFloat(a.MinDBm, b.MinDBm),
		MaxDBm:          minFloat(a.MaxDBm, b.MaxDBm),
		MinRBW:          maxFloat(a.MinRBW, b.MinRBW),
		MaxRBW:          minFloat(a.MaxRBW, b.MaxRBW),
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
