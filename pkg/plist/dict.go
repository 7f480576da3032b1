package plist

import (
	"errors"
	"time"
)

// Dict is an insertion-ordered string-keyed dictionary.
//
// Setting an existing key replaces its value in place and keeps its position.
// Read accessors are safe on a nil *Dict and behave as if it were empty.
type Dict struct {
	keys   []string
	values map[string]Value
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Value)}
}

// Set stores v under key and returns d to allow chaining.
func (d *Dict) Set(key string, v Value) *Dict {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
	return d
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Dict) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Delete removes key if present.
func (d *Dict) Delete(key string) {
	if d == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Range calls fn for every entry in insertion order until fn returns false.
func (d *Dict) Range(fn func(key string, v Value) bool) {
	if d == nil {
		return
	}
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Equal reports whether both dictionaries hold the same keys and values.
func (d *Dict) Equal(other *Dict) bool {
	if d.Len() != other.Len() {
		return false
	}
	equal := true
	d.Range(func(k string, v Value) bool {
		ov, ok := other.Get(k)
		equal = ok && v.Equal(ov)
		return equal
	})
	return equal
}

// Value returns the value stored under key, or a missing-field error.
func (d *Dict) Value(key string) (Value, error) {
	v, ok := d.Get(key)
	if !ok {
		return Value{}, &FieldError{Key: key}
	}
	return v, nil
}

// field looks key up and attaches it to any shape error the accessor returns.
func field[T any](d *Dict, key string, as func(Value) (T, error)) (T, error) {
	var zero T
	v, err := d.Value(key)
	if err != nil {
		return zero, err
	}
	out, err := as(v)
	if err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			fe.Key = key
		}
		return zero, err
	}
	return out, nil
}

// String returns the string stored under key.
func (d *Dict) String(key string) (string, error) { return field(d, key, Value.AsString) }

// Int returns the integer stored under key.
func (d *Dict) Int(key string) (int64, error) { return field(d, key, Value.AsInt) }

// Uint returns the unsigned integer stored under key.
func (d *Dict) Uint(key string) (uint64, error) { return field(d, key, Value.AsUint) }

// Real returns the floating point number stored under key.
func (d *Dict) Real(key string) (float64, error) { return field(d, key, Value.AsReal) }

// Bool returns the boolean stored under key.
func (d *Dict) Bool(key string) (bool, error) { return field(d, key, Value.AsBool) }

// Data returns the byte blob stored under key.
func (d *Dict) Data(key string) ([]byte, error) { return field(d, key, Value.AsData) }

// Date returns the date stored under key.
func (d *Dict) Date(key string) (time.Time, error) { return field(d, key, Value.AsDate) }

// Array returns the array stored under key.
func (d *Dict) Array(key string) ([]Value, error) { return field(d, key, Value.AsArray) }

// Dict returns the nested dictionary stored under key.
func (d *Dict) Dict(key string) (*Dict, error) { return field(d, key, Value.AsDict) }
