package instrument

import (
	"fmt"

	"github.com/norasector/vnacore/pkg/types"
	"github.com/norasector/vnacore/pkg/util"
)

func rejectf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfigurationRejected, fmt.Sprintf(format, args...))
}

func checkFrequency(name string, freq float64, l types.Limits) error {
	if freq < l.MinFreq {
		return rejectf("%s %s below minimum %s", name, util.MHzToString(freq), util.MHzToString(l.MinFreq))
	}
	if freq > l.MaxFreq {
		return rejectf("%s %s above maximum %s", name, util.MHzToString(freq), util.MHzToString(l.MaxFreq))
	}
	return nil
}

func checkPower(name string, dbm float64, l types.Limits) error {
	if dbm < l.MinDBm || dbm > l.MaxDBm {
		return rejectf("%s %.2f dBm outside %.2f..%.2f dBm", name, dbm, l.MinDBm, l.MaxDBm)
	}
	return nil
}

func checkPoints(points int, l types.Limits) error {
	if points < 1 || points > l.MaxPoints {
		return rejectf("%d points outside 1..%d", points, l.MaxPoints)
	}
	return nil
}

func validateVNA(info types.Info, s types.VNASettings) error {
	if !info.SupportsVNA {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, ModeVNA)
	}
	l := info.Limits
	if err := checkFrequency("start frequency", s.FreqStart, l); err != nil {
		return err
	}
	if err := checkFrequency("stop frequency", s.FreqStop, l); err != nil {
		return err
	}
	if s.FreqStart > s.FreqStop {
		return rejectf("start frequency %s above stop frequency %s", util.MHzToString(s.FreqStart), util.MHzToString(s.FreqStop))
	}
	if s.LogSweep && s.FreqStart <= 0 {
		return rejectf("logarithmic sweep needs a positive start frequency")
	}
	if s.IFBW < l.MinIFBW || s.IFBW > l.MaxIFBW {
		return rejectf("IF bandwidth %.0f Hz outside %.0f..%.0f Hz", s.IFBW, l.MinIFBW, l.MaxIFBW)
	}
	if err := checkPoints(s.Points, l); err != nil {
		return err
	}
	if err := checkPower("start power", s.DBmStart, l); err != nil {
		return err
	}
	return checkPower("stop power", s.DBmStop, l)
}

func validateSA(info types.Info, s types.SASettings) error {
	if !info.SupportsSA {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, ModeSA)
	}
	l := info.Limits
	if err := checkFrequency("start frequency", s.FreqStart, l); err != nil {
		return err
	}
	if err := checkFrequency("stop frequency", s.FreqStop, l); err != nil {
		return err
	}
	if s.FreqStart > s.FreqStop {
		return rejectf("start frequency %s above stop frequency %s", util.MHzToString(s.FreqStart), util.MHzToString(s.FreqStop))
	}
	if s.RBW < l.MinRBW || s.RBW > l.MaxRBW {
		return rejectf("RBW %.0f Hz outside %.0f..%.0f Hz", s.RBW, l.MinRBW, l.MaxRBW)
	}
	if err := checkPoints(s.Points, l); err != nil {
		return err
	}
	if s.Window < 0 || s.Window >= types.WindowLast {
		return rejectf("unknown window %s", s.Window)
	}
	if s.Detector < 0 || s.Detector >= types.DetectorLast {
		return rejectf("unknown detector %s", s.Detector)
	}
	if s.TrackingGenerator {
		if s.TrackingPort < 1 || s.TrackingPort > info.Ports {
			return rejectf("tracking generator port %d outside 1..%d", s.TrackingPort, info.Ports)
		}
		if err := checkPower("tracking power", s.TrackingPower, l); err != nil {
			return err
		}
	}
	return nil
}

func validateSG(info types.Info, s types.SGSettings) error {
	if !info.SupportsSG {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, ModeSG)
	}
	if s.Port < 0 || s.Port > info.Ports {
		return rejectf("port %d outside 0..%d", s.Port, info.Ports)
	}
	if s.Port == 0 {
		return nil
	}
	if err := checkFrequency("frequency", s.Freq, info.Limits); err != nil {
		return err
	}
	return checkPower("power", s.DBm, info.Limits)
}
