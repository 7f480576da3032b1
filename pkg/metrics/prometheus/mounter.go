package prometheus

import (
	"time"

	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// mounterMetrics is the Prometheus implementation of metrics.MounterMetrics.
type mounterMetrics struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandsInFlight *prometheus.GaugeVec
	bytesUploaded    *prometheus.CounterVec
	connectsTotal    *prometheus.CounterVec
	connectDuration  prometheus.Histogram
	channelsPoisoned prometheus.Counter
	mountedImages    prometheus.Gauge
}

// NewMounterMetrics creates a new Prometheus-backed MounterMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewMounterMetrics() metrics.MounterMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopMounterMetrics()
	}

	return newMounterMetrics(metrics.GetRegistry())
}

func newMounterMetrics(reg prometheus.Registerer) *mounterMetrics {
	return &mounterMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomount_commands_total",
				Help: "Total number of image mounter commands by command and status",
			},
			[]string{"command", "status", "error_kind"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomount_command_duration_milliseconds",
				Help: "Duration of image mounter commands in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
					60000, // 1m (large uploads)
				},
			},
			[]string{"command"},
		),
		commandsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittomount_commands_in_flight",
				Help: "Current number of image mounter commands being processed",
			},
			[]string{"command"},
		),
		bytesUploaded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomount_uploaded_bytes_total",
				Help: "Total raw image bytes sent to devices",
			},
			[]string{"image_type"},
		),
		connectsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomount_connects_total",
				Help: "Total number of image mounter service connections by status",
			},
			[]string{"status"},
		),
		connectDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittomount_connect_duration_milliseconds",
				Help:    "Duration of lockdown handshake plus service connection in milliseconds",
				Buckets: []float64{10, 100, 1000, 10000},
			},
		),
		channelsPoisoned: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittomount_channels_poisoned_total",
				Help: "Total number of channels discarded after a failed personalization manifest query",
			},
		),
		mountedImages: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittomount_mounted_images",
				Help: "Number of images the device reported as mounted at the last listing",
			},
		),
	}
}

func (m *mounterMetrics) RecordCommand(command string, duration time.Duration, errorKind string) {
	status := "success"
	if errorKind != "" {
		status = "error"
	}

	m.commandsTotal.WithLabelValues(command, status, errorKind).Inc()
	m.commandDuration.WithLabelValues(command).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *mounterMetrics) RecordCommandStart(command string) {
	m.commandsInFlight.WithLabelValues(command).Inc()
}

func (m *mounterMetrics) RecordCommandEnd(command string) {
	m.commandsInFlight.WithLabelValues(command).Dec()
}

func (m *mounterMetrics) RecordBytesUploaded(imageType string, bytes int64) {
	m.bytesUploaded.WithLabelValues(imageType).Add(float64(bytes))
}

func (m *mounterMetrics) RecordConnect(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.connectsTotal.WithLabelValues(status).Inc()
	m.connectDuration.Observe(duration.Seconds() * 1000)
}

func (m *mounterMetrics) RecordChannelPoisoned() {
	m.channelsPoisoned.Inc()
}

func (m *mounterMetrics) SetMountedImages(count int) {
	m.mountedImages.Set(float64(count))
}
