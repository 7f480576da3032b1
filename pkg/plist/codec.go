package plist

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	howett "howett.net/plist"
)

// Format selects the property-list serialization.
type Format int

const (
	FormatXML    = Format(howett.XMLFormat)
	FormatBinary = Format(howett.BinaryFormat)
)

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Marshal encodes v in the requested format.
//
// v may be a Value, a *Dict, or any struct using `plist:"Key"` tags; struct
// fields of type Value or *Dict are encoded through their MarshalPlist method.
func Marshal(v any, format Format) ([]byte, error) {
	return howett.Marshal(v, int(format))
}

// Unmarshal decodes a document of any supported format into a Value.
func Unmarshal(data []byte) (Value, Format, error) {
	var raw any
	format, err := howett.Unmarshal(data, &raw)
	if err != nil {
		return Value{}, Format(format), err
	}
	v, err := FromNative(raw)
	if err != nil {
		return Value{}, Format(format), err
	}
	return v, Format(format), nil
}

// UnmarshalDict decodes a document whose top-level object must be a dictionary.
func UnmarshalDict(data []byte) (*Dict, error) {
	v, _, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	d, err := v.AsDict()
	if err != nil {
		return nil, fmt.Errorf("top-level object: %w", err)
	}
	return d, nil
}

// Decode decodes data into a tagged Go struct (or any type howett.net/plist
// accepts) and returns the detected format.
func Decode(data []byte, v any) (Format, error) {
	format, err := howett.Unmarshal(data, v)
	return Format(format), err
}

// MarshalPlist implements howett.net/plist's Marshaler.
func (v Value) MarshalPlist() (any, error) {
	return v.native()
}

// UnmarshalPlist implements howett.net/plist's Unmarshaler.
func (v *Value) UnmarshalPlist(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	out, err := FromNative(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// MarshalPlist implements howett.net/plist's Marshaler.
func (d *Dict) MarshalPlist() (any, error) {
	return DictValue(d).native()
}

// UnmarshalPlist implements howett.net/plist's Unmarshaler.
func (d *Dict) UnmarshalPlist(unmarshal func(any) error) error {
	var v Value
	if err := v.UnmarshalPlist(unmarshal); err != nil {
		return err
	}
	out, err := v.AsDict()
	if err != nil {
		return err
	}
	*d = *out
	return nil
}

// native converts v into the plain Go types howett.net/plist encodes directly.
func (v Value) native() (any, error) {
	switch v.kind {
	case KindString:
		return v.str, nil
	case KindInteger:
		if v.neg {
			return int64(v.num), nil
		}
		return v.num, nil
	case KindReal:
		return v.real, nil
	case KindBoolean:
		return v.b, nil
	case KindData:
		return v.data, nil
	case KindDate:
		return v.date, nil
	case KindArray:
		out := make([]any, 0, len(v.arr))
		for i, elem := range v.arr {
			n, err := elem.native()
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out = append(out, n)
		}
		return out, nil
	case KindDict:
		out := make(map[string]any, v.dict.Len())
		var rangeErr error
		v.dict.Range(func(k string, elem Value) bool {
			n, err := elem.native()
			if err != nil {
				rangeErr = fmt.Errorf("dict[%q]: %w", k, err)
				return false
			}
			out[k] = n
			return true
		})
		if rangeErr != nil {
			return nil, rangeErr
		}
		return out, nil
	default:
		return nil, errors.New("plist: cannot marshal invalid value")
	}
}

// FromNative converts decoded Go values into a Value.
//
// Dictionary keys are ordered lexically because the decoder does not preserve
// document order.
func FromNative(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, errors.New("plist: nil value")
	case Value:
		return x, nil
	case *Dict:
		return DictValue(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case []byte:
		return Data(x), nil
	case time.Time:
		return Date(x), nil
	case float32:
		return Real(float64(x)), nil
	case float64:
		return Real(x), nil
	case howett.UID:
		return Uint(uint64(x)), nil
	case []any:
		out := make([]Value, 0, len(x))
		for i, elem := range x {
			v, err := FromNative(elem)
			if err != nil {
				return Value{}, fmt.Errorf("array[%d]: %w", i, err)
			}
			out = append(out, v)
		}
		return Array(out...), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict()
		for _, k := range keys {
			v, err := FromNative(x[k])
			if err != nil {
				return Value{}, fmt.Errorf("dict[%q]: %w", k, err)
			}
			d.Set(k, v)
		}
		return DictValue(d), nil
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Uint(rv.Uint()), nil
	}
	return Value{}, fmt.Errorf("plist: unsupported type %T", raw)
}
