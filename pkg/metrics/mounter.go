package metrics

import "time"

// MounterMetrics provides observability for image mounter operations.
//
// Implementations can collect metrics about protocol commands, uploaded bytes,
// connection setup and poisoned channels. This interface is optional - if not
// provided to the mounter client, a no-op implementation is used with zero
// overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewMounterMetrics()
//	client, err := mounter.Connect(ctx, provider, m)
//
//	// Without metrics (no-op)
//	client, err := mounter.Connect(ctx, provider, nil)
type MounterMetrics interface {
	// RecordCommand records a completed protocol command.
	//
	// Parameters:
	//   - command: Wire command name (e.g., "CopyDevices", "ReceiveBytes")
	//   - duration: Time taken by the whole exchange
	//   - errorKind: Empty on success, otherwise the error classification
	//     (e.g., "transport", "unexpected_response", "not_found")
	RecordCommand(command string, duration time.Duration, errorKind string)

	// RecordCommandStart increments the in-flight command gauge.
	RecordCommandStart(command string)

	// RecordCommandEnd decrements the in-flight command gauge.
	RecordCommandEnd(command string)

	// RecordBytesUploaded records raw image bytes written during ReceiveBytes.
	RecordBytesUploaded(imageType string, bytes int64)

	// RecordConnect records a full service connection attempt.
	RecordConnect(duration time.Duration, err error)

	// RecordChannelPoisoned counts channels discarded after a failed
	// personalization manifest query.
	RecordChannelPoisoned()

	// SetMountedImages updates the number of images last reported by the device.
	SetMountedImages(count int)
}

// NewNoopMounterMetrics returns a MounterMetrics that discards everything.
func NewNoopMounterMetrics() MounterMetrics {
	return noopMounterMetrics{}
}

// noopMounterMetrics is a no-op implementation of MounterMetrics with zero overhead.
type noopMounterMetrics struct{}

func (noopMounterMetrics) RecordCommand(command string, duration time.Duration, errorKind string) {}
func (noopMounterMetrics) RecordCommandStart(command string)                                      {}
func (noopMounterMetrics) RecordCommandEnd(command string)                                        {}
func (noopMounterMetrics) RecordBytesUploaded(imageType string, bytes int64)                      {}
func (noopMounterMetrics) RecordConnect(duration time.Duration, err error)                        {}
func (noopMounterMetrics) RecordChannelPoisoned()                                                 {}
func (noopMounterMetrics) SetMountedImages(count int)                                             {}
