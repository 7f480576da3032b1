// Package pairingtest generates throwaway pairing records and matching
// device-side TLS configurations for tests.
package pairingtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittomount/pkg/pairing"
)

// Device holds the credentials of a fake device end.
type Device struct {
	// Record is what the host side loads.
	Record *pairing.Record

	// ServerTLS is the configuration the fake device serves with.
	ServerTLS *tls.Config
}

// New returns a complete pairing record plus a device TLS configuration.
func New(t testing.TB) *Device {
	t.Helper()

	rootCert, rootKey, rootPEM, rootKeyPEM := selfSigned(t, "Root", nil, nil)
	_, _, hostPEM, hostKeyPEM := selfSigned(t, "Host", rootCert, rootKey)
	_, _, devPEM, devKeyPEM := selfSigned(t, "Device", rootCert, rootKey)

	devPair, err := tls.X509KeyPair(devPEM, devKeyPEM)
	if err != nil {
		t.Fatalf("device key pair: %v", err)
	}

	return &Device{
		Record: &pairing.Record{
			HostID:            uuid.NewString(),
			SystemBUID:        uuid.NewString(),
			UDID:              "00008101-000A1B2C3D4E5F60",
			HostCertificate:   hostPEM,
			HostPrivateKey:    hostKeyPEM,
			RootCertificate:   rootPEM,
			RootPrivateKey:    rootKeyPEM,
			DeviceCertificate: devPEM,
		},
		ServerTLS: &tls.Config{
			Certificates: []tls.Certificate{devPair},
			ClientAuth:   tls.RequestClientCert,
			MinVersion:   tls.VersionTLS12,
		},
	}
}

func selfSigned(t testing.TB, cn string, parent *x509.Certificate, parentKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey, []byte, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  parent == nil,
	}

	signer, signerKey := tmpl, key
	if parent != nil {
		signer, signerKey = parent, parentKey
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return cert, key, certPEM, keyPEM
}
