package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "scripto"

type metrics struct {
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	rejections  *prometheus.CounterVec
	invocations *prometheus.CounterVec
	costUnits   prometheus.Counter
}

// newMetrics creates the engine collectors and registers them on reg when
// it is not nil. It fails if a collector cannot be registered.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Instrumentation requests served from the code cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_misses_total",
			Help:      "Instrumentation requests that validated and instrumented a module",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "prepare_rejections_total",
			Help:      "Modules rejected during preparation, by error kind",
		}, []string{"kind"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invocations_total",
			Help:      "Export invocations, by outcome",
		}, []string{"outcome"}),
		costUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cost_units_consumed_total",
			Help:      "Cost units consumed by invocations",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.cacheHits, m.cacheMisses, m.rejections, m.invocations, m.costUnits} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
