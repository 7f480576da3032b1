package pairing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittomount/pkg/pairing"
	"github.com/marmos91/dittomount/pkg/pairing/pairingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dev := pairingtest.New(t)

	t.Run("RoundTrip", func(t *testing.T) {
		data, err := dev.Record.Marshal()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "device.plist")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		loaded, err := pairing.Load(path)
		require.NoError(t, err)
		assert.Equal(t, dev.Record.HostID, loaded.HostID)
		assert.Equal(t, dev.Record.SystemBUID, loaded.SystemBUID)
		assert.Equal(t, dev.Record.HostCertificate, loaded.HostCertificate)
		assert.Equal(t, dev.Record.DeviceCertificate, loaded.DeviceCertificate)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := pairing.Load(filepath.Join(t.TempDir(), "absent.plist"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := pairing.Parse([]byte("<?xml version=\"1.0\"?><plist><dict><key>HostID"))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := pairingtest.New(t).Record

	tests := []struct {
		name   string
		mutate func(r *pairing.Record)
	}{
		{"MissingHostID", func(r *pairing.Record) { r.HostID = "" }},
		{"MissingSystemBUID", func(r *pairing.Record) { r.SystemBUID = "" }},
		{"MissingHostCertificate", func(r *pairing.Record) { r.HostCertificate = nil }},
		{"MissingHostPrivateKey", func(r *pairing.Record) { r.HostPrivateKey = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := *base
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), pairing.ErrIncomplete)
		})
	}

	assert.NoError(t, base.Validate())
}

func TestTLSConfig(t *testing.T) {
	dev := pairingtest.New(t)

	cfg, err := dev.Record.TLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.True(t, cfg.InsecureSkipVerify)

	broken := *dev.Record
	broken.HostPrivateKey = []byte("not a key")
	_, err = broken.TLSConfig()
	assert.Error(t, err)
}
