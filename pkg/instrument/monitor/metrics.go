package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

func newCollectors(inst Instrument) []prometheus.Collector {
	labels := prometheus.Labels{"instrument": inst.Serial()}
	counter := func(name, help string, value func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 {
			return float64(value())
		})
	}

	return []prometheus.Collector{
		counter("vnacore_points_fused_total", "Measurement points fused and delivered.",
			func() uint64 { return inst.Stats().Fused }),
		counter("vnacore_points_abandoned_total", "Points dropped before every stage arrived.",
			func() uint64 { return inst.Stats().Abandoned }),
		counter("vnacore_frame_violations_total", "Device frames discarded for breaking point order.",
			func() uint64 { return inst.Stats().Violations }),
		counter("vnacore_configs_applied_total", "Configurations acknowledged by every device.",
			func() uint64 { return inst.Stats().ConfigsApplied }),
		counter("vnacore_configs_failed_total", "Configurations rolled back after a device refused them.",
			func() uint64 { return inst.Stats().ConfigsFailed }),
		counter("vnacore_events_dropped_total", "Events dropped because the subscriber fell behind.",
			func() uint64 { return inst.Stats().DroppedEvents }),
		counter("vnacore_outputs_dropped_total", "Measurements not handed to a busy output.",
			func() uint64 { return inst.Stats().DroppedOutputs }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "vnacore_config_generation",
			Help:        "Generation of the most recent configuration request.",
			ConstLabels: labels,
		}, func() float64 {
			return float64(inst.Stats().Generation)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "vnacore_status_fault",
			Help:        "1 while the instrument reports overload, unlocked or unlevel.",
			ConstLabels: labels,
		}, func() float64 {
			st := inst.Status()
			if st.Overload || st.Unlocked || st.Unlevel {
				return 1
			}
			return 0
		}),
	}
}
