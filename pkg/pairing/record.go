// Package pairing loads host pairing records used to authenticate lockdown
// sessions and to upgrade service channels to TLS.
package pairing

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/dittomount/pkg/plist"
)

var (
	// ErrIncomplete is returned when a record lacks the material a
	// handshake needs.
	ErrIncomplete = errors.New("pairing record incomplete")
)

// Record is a host pairing record as written by the host pairing daemon.
//
// Certificates and keys are PEM blocks stored as plist data.
type Record struct {
	HostID            string `plist:"HostID"`
	SystemBUID        string `plist:"SystemBUID"`
	UDID              string `plist:"UDID,omitempty"`
	WiFiMACAddress    string `plist:"WiFiMACAddress,omitempty"`
	HostCertificate   []byte `plist:"HostCertificate"`
	HostPrivateKey    []byte `plist:"HostPrivateKey"`
	RootCertificate   []byte `plist:"RootCertificate"`
	RootPrivateKey    []byte `plist:"RootPrivateKey,omitempty"`
	DeviceCertificate []byte `plist:"DeviceCertificate"`
	EscrowBag         []byte `plist:"EscrowBag,omitempty"`
}

// Parse decodes a pairing record from an XML or binary property list.
func Parse(data []byte) (*Record, error) {
	var r Record
	if _, err := plist.Decode(data, &r); err != nil {
		return nil, fmt.Errorf("decode pairing record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads and parses the pairing record at path.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairing record: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Validate checks the fields every session handshake relies on.
func (r *Record) Validate() error {
	switch {
	case r.HostID == "":
		return fmt.Errorf("%w: missing HostID", ErrIncomplete)
	case r.SystemBUID == "":
		return fmt.Errorf("%w: missing SystemBUID", ErrIncomplete)
	case len(r.HostCertificate) == 0:
		return fmt.Errorf("%w: missing HostCertificate", ErrIncomplete)
	case len(r.HostPrivateKey) == 0:
		return fmt.Errorf("%w: missing HostPrivateKey", ErrIncomplete)
	}
	return nil
}

// Marshal encodes the record as an XML property list.
func (r *Record) Marshal() ([]byte, error) {
	return plist.Marshal(r, plist.FormatXML)
}

// TLSConfig builds the client configuration for session and service TLS.
//
// Devices present certificates chained to the pairing root rather than a
// public CA, so chain verification is disabled.
func (r *Record) TLSConfig() (*tls.Config, error) {
	cert, err := tls.X509KeyPair(r.HostCertificate, r.HostPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load host key pair: %w", err)
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	}, nil
}
