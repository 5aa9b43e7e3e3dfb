package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/resonate-home/resonate/pkg/models"
)

// Metrics holds the sync engine's Prometheus counters. Construct one per
// registry; components receive it by injection rather than through
// package-level state.
type Metrics struct {
	DevicesDiscovered prometheus.Counter
	DevicesSynced     prometheus.Counter
	DevicesFailed     prometheus.Counter
	SyncPasses        prometheus.Counter
}

// NewMetrics registers the sync counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DevicesDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "resonate",
			Subsystem: "sync",
			Name:      "devices_discovered_total",
			Help:      "Devices seen by discovery across all sync passes.",
		}),
		DevicesSynced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "resonate",
			Subsystem: "sync",
			Name:      "devices_synced_total",
			Help:      "Devices successfully merged into the registry.",
		}),
		DevicesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "resonate",
			Subsystem: "sync",
			Name:      "devices_failed_total",
			Help:      "Per-device sync failures.",
		}),
		SyncPasses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "resonate",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Completed sync passes.",
		}),
	}
}

func (m *Metrics) observeSync(result models.SyncResult) {
	m.DevicesDiscovered.Add(float64(result.Discovered))
	m.DevicesSynced.Add(float64(result.Synced))
	m.DevicesFailed.Add(float64(result.Failed))
	m.SyncPasses.Inc()
}
