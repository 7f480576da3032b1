package config

import (
	"github.com/marmos91/dittomount/pkg/metrics"
	promMetrics "github.com/marmos91/dittomount/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Mounter is the collector for the mounter client (never nil, no-op if disabled)
	Mounter metrics.MounterMetrics
}

// InitializeMetrics creates metrics components based on configuration.
//
// When enabled it initializes the global registry, creates the HTTP server
// and Prometheus-backed collectors. Otherwise it returns a nil server and
// no-op collectors.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server:  nil,
			Mounter: metrics.NewNoopMounterMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:  server,
		Mounter: promMetrics.NewMounterMetrics(),
	}
}
