// Package metrics provides Prometheus metrics collection for dittomount.
//
// Metrics are optional. Until InitRegistry is called every constructor hands
// out a no-op implementation, so the mounter client runs identically with or
// without a scrape endpoint.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics for the mounter client
//	m := prometheus.NewMounterMetrics()
//	client, err := mounter.Connect(ctx, provider, m)
//
//	// Or pass nil for no-op behavior
//	client, err := mounter.Connect(ctx, provider, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// It must run before any metrics instance is created. Repeated calls are
// ignored. Go runtime and process collectors are registered alongside the
// mounter metrics.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry, or nil when metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
