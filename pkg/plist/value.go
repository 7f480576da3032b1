// Package plist models property-list documents as an explicit tagged union.
//
// Every document exchanged with a device service is a Value. Field access goes
// through typed accessors that either return the requested shape or a
// *FieldError; there are no silent zero-value defaults. Encoding and decoding
// are delegated to howett.net/plist (see codec.go).
package plist

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInteger
	KindReal
	KindBoolean
	KindData
	KindDate
	KindArray
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	case KindData:
		return "data"
	case KindDate:
		return "date"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	default:
		return "invalid"
	}
}

// Value is a single property-list value.
//
// The zero Value is invalid (KindInvalid) and cannot be marshalled.
type Value struct {
	kind Kind

	str  string
	num  uint64 // integer bits; interpreted through signed
	neg  bool   // integer was produced as a signed quantity
	real float64
	b    bool
	data []byte
	date time.Time
	arr  []Value
	dict *Dict
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int returns a signed integer value.
func Int(i int64) Value { return Value{kind: KindInteger, num: uint64(i), neg: true} }

// Uint returns an unsigned integer value.
func Uint(u uint64) Value { return Value{kind: KindInteger, num: u} }

// Real returns a floating point value.
func Real(f float64) Value { return Value{kind: KindReal, real: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Data returns a byte-blob value. A nil slice is stored as an empty blob.
func Data(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindData, data: b}
}

// Date returns a date value.
func Date(t time.Time) Value { return Value{kind: KindDate, date: t} }

// Array returns an array value holding vs in order.
func Array(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindArray, arr: vs}
}

// DictValue wraps d as a Value. A nil dict becomes an empty one.
func DictValue(d *Dict) Value {
	if d == nil {
		d = NewDict()
	}
	return Value{kind: KindDict, dict: d}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds any variant.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) wrongType(want Kind) error {
	return &FieldError{Want: want, Got: v.kind}
}

// AsString returns the string held by v.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.wrongType(KindString)
	}
	return v.str, nil
}

// AsInt returns the integer held by v as an int64.
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInteger {
		return 0, v.wrongType(KindInteger)
	}
	if !v.neg && v.num > math.MaxInt64 {
		return 0, &FieldError{Want: KindInteger, Got: KindInteger, Reason: "value overflows int64"}
	}
	return int64(v.num), nil
}

// AsUint returns the integer held by v as a uint64.
func (v Value) AsUint() (uint64, error) {
	if v.kind != KindInteger {
		return 0, v.wrongType(KindInteger)
	}
	if v.neg && int64(v.num) < 0 {
		return 0, &FieldError{Want: KindInteger, Got: KindInteger, Reason: "negative value"}
	}
	return v.num, nil
}

// AsReal returns the floating point number held by v.
func (v Value) AsReal() (float64, error) {
	if v.kind != KindReal {
		return 0, v.wrongType(KindReal)
	}
	return v.real, nil
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBoolean {
		return false, v.wrongType(KindBoolean)
	}
	return v.b, nil
}

// AsData returns the byte blob held by v. The slice is shared, not copied.
func (v Value) AsData() ([]byte, error) {
	if v.kind != KindData {
		return nil, v.wrongType(KindData)
	}
	return v.data, nil
}

// AsDate returns the date held by v.
func (v Value) AsDate() (time.Time, error) {
	if v.kind != KindDate {
		return time.Time{}, v.wrongType(KindDate)
	}
	return v.date, nil
}

// AsArray returns the elements held by v.
func (v Value) AsArray() ([]Value, error) {
	if v.kind != KindArray {
		return nil, v.wrongType(KindArray)
	}
	return v.arr, nil
}

// AsDict returns the dictionary held by v.
func (v Value) AsDict() (*Dict, error) {
	if v.kind != KindDict {
		return nil, v.wrongType(KindDict)
	}
	return v.dict, nil
}

// Equal reports whether v and other hold the same variant and contents.
// Dictionaries compare equal regardless of key order.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInvalid:
		return true
	case KindString:
		return v.str == other.str
	case KindInteger:
		return v.num == other.num && (v.neg == other.neg || (int64(v.num) >= 0 && int64(other.num) >= 0))
	case KindReal:
		return v.real == other.real
	case KindBoolean:
		return v.b == other.b
	case KindData:
		return bytes.Equal(v.data, other.data)
	case KindDate:
		return v.date.Equal(other.date)
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindDict:
		return v.dict.Equal(other.dict)
	}
	return false
}

// String renders a short, log-friendly description of v.
// Byte blobs and containers are summarized rather than dumped.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindInteger:
		if v.neg {
			return fmt.Sprintf("%d", int64(v.num))
		}
		return fmt.Sprintf("%d", v.num)
	case KindReal:
		return fmt.Sprintf("%g", v.real)
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindData:
		return fmt.Sprintf("<data %d bytes>", len(v.data))
	case KindDate:
		return v.date.UTC().Format(time.RFC3339)
	case KindArray:
		return fmt.Sprintf("<array %d items>", len(v.arr))
	case KindDict:
		return fmt.Sprintf("<dict %d keys>", v.dict.Len())
	default:
		return "<invalid>"
	}
}
