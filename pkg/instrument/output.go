package instrument

import (
	"context"

	"github.com/norasector/vnacore/pkg/types"
)

// MeasurementOutput handles fused measurements of a virtual device.
type MeasurementOutput interface {
	// Start receives a context and should run in a loop, terminating upon ctx closing or on any errors.
	Start(ctx context.Context) error
	// Receive returns a channel that receives tagged measurements. Sends never block;
	// a full channel drops the measurement.
	Receive() chan<- *types.TaggedMeasurement
}
