package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMounterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMounterMetrics(reg)

	m.RecordCommand("CopyDevices", 5*time.Millisecond, "")
	m.RecordCommand("ReceiveBytes", time.Second, "unexpected_response")
	m.RecordBytesUploaded("Developer", 4096)
	m.RecordBytesUploaded("Developer", 1024)
	m.RecordConnect(20*time.Millisecond, nil)
	m.RecordConnect(20*time.Millisecond, errors.New("refused"))
	m.RecordChannelPoisoned()
	m.SetMountedImages(2)
	m.RecordCommandStart("MountImage")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("CopyDevices", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("ReceiveBytes", "error", "unexpected_response")))
	assert.Equal(t, 5120.0, testutil.ToFloat64(m.bytesUploaded.WithLabelValues("Developer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelsPoisoned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.mountedImages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsInFlight.WithLabelValues("MountImage")))

	m.RecordCommandEnd("MountImage")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.commandsInFlight.WithLabelValues("MountImage")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
