package lockdown

import (
	"errors"
	"fmt"
)

// ErrUnexpectedResponse is returned when a reply lacks a required field.
var ErrUnexpectedResponse = errors.New("unexpected lockdown response")

// Error is a failure reported by lockdown in the reply's Error field
// (e.g. "InvalidHostID", "PasswordProtected", "InvalidService").
type Error struct {
	Request string
	Code    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lockdown %s: %s", e.Request, e.Code)
}
