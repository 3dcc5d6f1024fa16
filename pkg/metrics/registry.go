// Package metrics owns the process-wide Prometheus registry and the
// constructors consumers use to obtain metric implementations.
//
// Metrics are opt-in: until InitRegistry is called, every constructor
// returns nil and consumers run with zero collection overhead (all metric
// interfaces in this module treat nil as disabled). The Prometheus
// implementations live in pkg/metrics/prometheus and register their
// constructors at init time, which keeps this package free of a direct
// dependency on the implementation details.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process registry with the standard Go and
// process collectors. Calling it again is a no-op.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler returns the HTTP handler serving the /metrics endpoint. With
// metrics disabled it serves 404.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
