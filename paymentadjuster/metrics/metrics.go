// Package metrics collects the prometheus instrumentation for adjustment
// runs, alongside the automap-core Collector in automap/metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the adjuster's instrumentation. A nil *Collector is
// not valid; use NewCollector or Disabled.
type Collector struct {
	Runs             prometheus.Counter      // total adjustment runs
	AccountsPaid     prometheus.Counter      // accounts included in an OutgoingPaymentInstructions, summed across runs
	Disqualifications prometheus.Counter     // accounts excluded for falling below 50% of original balance
	GateRejections   *prometheus.CounterVec  // FeeGate fatal errors, by kind
	Adjustments      *prometheus.CounterVec  // runs by FeeGate verdict kind
}

// NewCollector builds a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "adjuster",
			Name:      "runs_total",
			Help:      "Count of adjuster runs.",
		}),
		AccountsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "adjuster",
			Name:      "accounts_paid_total",
			Help:      "Count of accounts included in an outgoing payment batch, summed across runs.",
		}),
		Disqualifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "adjuster",
			Name:      "disqualifications_total",
			Help:      "Count of accounts excluded for falling below half their original balance.",
		}),
		GateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "adjuster",
			Name:      "gate_rejections_total",
			Help:      "Count of fatal FeeGate errors, by kind.",
		}, []string{"kind"}),
		Adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "adjuster",
			Name:      "adjustments_total",
			Help:      "Count of runs by FeeGate verdict kind (none, transaction_fee_first, service_fee).",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.Runs, c.AccountsPaid, c.Disqualifications, c.GateRejections, c.Adjustments)
	return c
}

// Disabled returns a Collector wired to an unregistered, private registry.
func Disabled() *Collector {
	return NewCollector(prometheus.NewRegistry())
}
