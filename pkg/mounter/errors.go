package mounter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittomount/pkg/plist"
)

var (
	// ErrUnexpectedResponse is returned when a reply lacks a required field,
	// carries it with the wrong type, or reports a status other than the one
	// the step expects.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrNotFound is returned by QueryPersonalizationManifest when the
	// device has no manifest for the signature.
	ErrNotFound = errors.New("not found")

	// ErrChannelPoisoned is returned by every call on a client whose
	// personalization manifest query failed. Close it and connect again.
	ErrChannelPoisoned = errors.New("channel poisoned by failed manifest query")

	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("client closed")
)

// StatusError describes a reply that did not match what a command step
// requires. It matches ErrUnexpectedResponse with errors.Is.
type StatusError struct {
	// Command is the wire command being executed.
	Command string

	// Field is the reply key that was inspected.
	Field string

	// Want describes the expected value or type.
	Want string

	// Got describes what the device sent ("missing" when absent).
	Got string

	// DeviceError is the device's Error string, when it sent one.
	DeviceError string
}

func (e *StatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: field %s: want %s, got %s", ErrUnexpectedResponse, e.Command, e.Field, e.Want, e.Got)
	if e.DeviceError != "" {
		fmt.Fprintf(&b, " (device error: %s)", e.DeviceError)
	}
	return b.String()
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedResponse
}

// fieldError builds a StatusError from a typed-accessor failure on resp.
func fieldError(command, field, want string, resp *plist.Dict, err error) *StatusError {
	got := "missing"
	var fe *plist.FieldError
	if errors.As(err, &fe) && fe.Got != plist.KindInvalid {
		got = fe.Got.String()
	}
	return &StatusError{
		Command:     command,
		Field:       field,
		Want:        want,
		Got:         got,
		DeviceError: deviceError(resp),
	}
}

// deviceError extracts the optional diagnostic the device attaches to failures.
func deviceError(resp *plist.Dict) string {
	msg, err := resp.String("Error")
	if err != nil {
		return ""
	}
	if detail, err := resp.String("DetailedError"); err == nil && detail != "" {
		return msg + ": " + detail
	}
	return msg
}

// ErrorKind classifies an operation failure.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindTransport          ErrorKind = "transport"
	KindUnexpectedResponse ErrorKind = "unexpected_response"
	KindNotFound           ErrorKind = "not_found"
	KindPoisoned           ErrorKind = "poisoned"
)

// Classify maps an error returned by this package to its kind. Anything that
// is not one of the protocol sentinels is a transport failure.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrChannelPoisoned):
		return KindPoisoned
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnexpectedResponse):
		return KindUnexpectedResponse
	default:
		return KindTransport
	}
}
