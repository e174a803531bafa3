package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics is shared by every cache in a process; each cache reports under
// its own "cache" label.
type Metrics struct {
	requests *prometheus.CounterVec
	loads    *prometheus.CounterVec
}

// NewMetrics creates the cache counters and registers them with reg when it
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "integrationgw",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by outcome (hit, miss, stale).",
		}, []string{"cache", "result"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "integrationgw",
			Subsystem: "cache",
			Name:      "loads_total",
			Help:      "Upstream loads by outcome (success, error).",
		}, []string{"cache", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.loads)
	}
	return m
}

func (m *Metrics) request(cache, result string) {
	if m != nil {
		m.requests.WithLabelValues(cache, result).Inc()
	}
}

func (m *Metrics) load(cache string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(cache, result).Inc()
}
