// Package metrics collects prometheus counters and gauges shared by the
// pcp, pmp, and upnp transactors and exposed alongside the payment
// adjuster's own metrics (see paymentadjuster/metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/masqproject/masq-automap/automap"
)

// Collector bundles the automap-core instrumentation. A nil *Collector is
// not valid; use NewCollector or Disabled.
type Collector struct {
	MappingsAdded   *prometheus.CounterVec // labeled by protocol
	MappingsDeleted *prometheus.CounterVec
	Remaps          *prometheus.CounterVec
	RemapFailures   *prometheus.CounterVec
	PublicIP        *prometheus.GaugeVec // 1 if the router's public IP changed on the last remap
}

// NewCollector builds a Collector and registers it with reg. Pass
// prometheus.NewRegistry() in production, or a throwaway registry in tests
// that don't care about collisions with the default global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		MappingsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "automap",
			Name:      "mappings_added_total",
			Help:      "Count of successful AddMapping/AddPermanentMapping calls, by protocol.",
		}, []string{"protocol"}),
		MappingsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "automap",
			Name:      "mappings_deleted_total",
			Help:      "Count of successful DeleteMapping calls, by protocol.",
		}, []string{"protocol"}),
		Remaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "automap",
			Name:      "remaps_total",
			Help:      "Count of housekeeping-loop remap attempts, by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		RemapFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masq",
			Subsystem: "automap",
			Name:      "remap_failures_total",
			Help:      "Count of remap failures, by protocol and error classification.",
		}, []string{"protocol", "classification"}),
		PublicIP: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "masq",
			Subsystem: "automap",
			Name:      "public_ip_change",
			Help:      "1 during the remap cycle in which the router's public IP was observed to change, by protocol.",
		}, []string{"protocol"}),
	}
	reg.MustRegister(c.MappingsAdded, c.MappingsDeleted, c.Remaps, c.RemapFailures, c.PublicIP)
	return c
}

// Disabled returns a Collector wired to an unregistered, private registry,
// for callers (tests, one-shot CLI invocations) that want the same
// interface without touching the process's default registry.
func Disabled() *Collector {
	return NewCollector(prometheus.NewRegistry())
}

// ObserveChange records a housekeeping-loop outcome: success (newIP may be
// nil if unchanged) or failure classified as permanent or temporary.
func (c *Collector) ObserveChange(protocol string, newIPChanged bool, err error) {
	if err != nil {
		c.Remaps.WithLabelValues(protocol, "failure").Inc()
		classification := "temporary"
		if isPermanent(err) {
			classification = "permanent"
		}
		c.RemapFailures.WithLabelValues(protocol, classification).Inc()
		return
	}
	c.Remaps.WithLabelValues(protocol, "success").Inc()
	if newIPChanged {
		c.PublicIP.WithLabelValues(protocol).Set(1)
	} else {
		c.PublicIP.WithLabelValues(protocol).Set(0)
	}
}

func isPermanent(err error) bool {
	_, ok := err.(automap.PermanentMappingError)
	return ok
}
