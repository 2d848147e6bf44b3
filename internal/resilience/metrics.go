package resilience

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// BreakerState reports 0=closed, 1=open, 2=half-open per target.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts state changes per target.
	BreakerTransitions *prometheus.CounterVec
	// OutboundRequests counts outbound HTTP calls per target and outcome.
	OutboundRequests *prometheus.CounterVec
)

// MustRegisterMetrics registers the breaker and outbound collectors once.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed, 1=open, 2=half-open.",
		}, []string{"target"})
		BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Breaker state transitions.",
		}, []string{"target", "from", "to"})
		OutboundRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_request_total",
			Help:      "Outbound HTTP requests by target and result.",
		}, []string{"target", "result"})
		reg.MustRegister(BreakerState, BreakerTransitions, OutboundRequests)
	})
}

func setStateGauge(target string, s State) {
	if BreakerState == nil {
		return
	}
	v := float64(s)
	BreakerState.WithLabelValues(target).Set(v)
}

func recordTransition(target string, from, to State) {
	if BreakerTransitions == nil {
		return
	}
	BreakerTransitions.WithLabelValues(target, from.String(), to.String()).Inc()
}

func recordOutbound(target, result string) {
	if OutboundRequests == nil {
		return
	}
	OutboundRequests.WithLabelValues(target, result).Inc()
}
