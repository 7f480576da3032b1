package plist

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is matched by a *FieldError for an absent dictionary key.
	ErrMissingField = errors.New("missing field")

	// ErrWrongType is matched by a *FieldError for a value of the wrong shape.
	ErrWrongType = errors.New("wrong type")
)

// FieldError describes a failed typed access.
//
// Key is empty when the access was made on a bare Value rather than through a
// dictionary. Got is KindInvalid when the key was absent.
type FieldError struct {
	Key    string
	Want   Kind
	Got    Kind
	Reason string
}

func (e *FieldError) Error() string {
	var prefix string
	if e.Key != "" {
		prefix = fmt.Sprintf("field %q: ", e.Key)
	}
	if e.Got == KindInvalid {
		return prefix + "missing"
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s%s: %s", prefix, e.Want, e.Reason)
	}
	return fmt.Sprintf("%sexpected %s, got %s", prefix, e.Want, e.Got)
}

// Is lets errors.Is match ErrMissingField and ErrWrongType.
func (e *FieldError) Is(target error) bool {
	if e.Got == KindInvalid {
		return target == ErrMissingField
	}
	return target == ErrWrongType
}
