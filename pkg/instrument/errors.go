package instrument

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationRejected is returned synchronously when settings violate the
	// instrument limits. Nothing is sent to the devices.
	ErrConfigurationRejected = errors.New("configuration rejected")
	// ErrUnsupportedMode wraps ErrConfigurationRejected for modes the topology cannot run.
	ErrUnsupportedMode = fmt.Errorf("%w: unsupported mode", ErrConfigurationRejected)
	// ErrDeviceAck reports a device that refused or did not acknowledge a configuration.
	ErrDeviceAck = errors.New("device did not acknowledge configuration")
	// ErrConnectionLost is fatal for the whole virtual device.
	ErrConnectionLost = errors.New("connection lost")
	// ErrFirmwareMismatch blocks every mode change until the firmware is updated.
	ErrFirmwareMismatch = errors.New("firmware protocol version too old")
	// ErrSuperseded is passed to the callback of a request replaced by a newer one.
	ErrSuperseded = errors.New("superseded by a newer configuration")
	ErrNotRunning = errors.New("virtual device is not running")
	ErrNotFound   = errors.New("device not found")
)
