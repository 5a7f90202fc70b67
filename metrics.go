package cargo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records orchestrator activity. A nil *Metrics records nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
	operations  *prometheus.CounterVec
	handlers    *prometheus.GaugeVec
}

// NewMetrics registers the orchestrator collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cargo_lifecycle_transitions_total",
				Help: "Lifecycle state transitions by container driver and target state",
			},
			[]string{"driver", "state"},
		),
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cargo_operations_total",
				Help: "Deploy and undeploy operations by container driver, operation and result",
			},
			[]string{"driver", "op", "result"}, // result: "ok", "error"
		),
		handlers: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cargo_deployed_handlers",
				Help: "Handlers currently deployed in the container",
			},
			[]string{"driver"},
		),
	}
}

func (m *Metrics) recordTransition(driver string, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(driver, to.String()).Inc()
}

func (m *Metrics) recordOperation(driver, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(driver, op, result).Inc()
}

func (m *Metrics) setHandlers(driver string, n int) {
	if m == nil {
		return
	}
	m.handlers.WithLabelValues(driver).Set(float64(n))
}
