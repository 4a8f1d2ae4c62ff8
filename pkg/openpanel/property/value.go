// Package property defines the closed set of values that can travel in an
// event's properties, and the concurrent store for global properties.
//
// A Value is one of: string, integer, float, boolean, timestamp, an ordered
// list of Values, or a string-keyed object of Values. Native Go values are
// converted with ValueOf, which rejects anything outside that set at the call
// boundary instead of at send time.
package property

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindInvalid is the zero Value. It cannot be encoded.
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindList
	KindObject
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value is an immutable property value.
// Construct it with String, Int, Float, Bool, Time, List, Object or ValueOf.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
	list []Value
	obj  Map
}

// Map is a set of named property values.
type Map map[string]Value

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp Value. The time is normalized to UTC.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// List returns a list Value holding a copy of items.
func List(items ...Value) Value {
	list := make([]Value, len(items))
	copy(list, items)
	return Value{kind: KindList, list: list}
}

// Object returns an object Value holding a copy of m.
func Object(m Map) Value {
	return Value{kind: KindObject, obj: m.Clone()}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v was constructed (is not the zero Value).
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsTime returns the timestamp held by v.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// AsList returns a copy of the list held by v.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out, true
}

// AsObject returns a copy of the object held by v.
func (v Value) AsObject() (Map, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj.Clone(), true
}

// Interface converts v back to plain Go values: string, int64, float64,
// bool, time.Time, []any or map[string]any. The zero Value yields nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		return v.obj.Interface()
	default:
		return nil
	}
}

// GoString renders v for debugging and test failure output.
func (v Value) GoString() string {
	return fmt.Sprintf("property.%s(%v)", v.kind, v.Interface())
}

// MarshalJSON implements json.Marshaler.
//
// Floats always carry a fraction or exponent so they decode back as floats.
// Timestamps are written as RFC 3339 with nanoseconds.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("property: unsupported float value %v", v.f)
		}
		b := strconv.AppendFloat(nil, v.f, 'g', -1, 64)
		if !bytes.ContainsAny(b, ".eE") {
			b = append(b, ".0"...)
		}
		return b, nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindTime:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(map[string]Value(v.obj))
	default:
		return nil, fmt.Errorf("property: cannot encode %s value", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
//
// Integer literals decode as KindInt, other numbers as KindFloat. A string
// decodes as KindTime only when it is exactly the canonical rendering of a
// timestamp. JSON cannot tell the two apart, so a KindString holding such
// a rendering comes back as KindTime with the same instant.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("property: decode value: %w", err)
	}

	decoded, err := fromDecoded(raw, "")
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func fromDecoded(raw any, path string) (Value, error) {
	switch x := raw.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil && t.UTC().Format(time.RFC3339Nano) == x {
			return Time(t), nil
		}
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := x.Int64(); err == nil {
				return Int(i), nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("property: decode number at %q: %w", displayPath(path), err)
		}
		return Float(f), nil
	case []any:
		list := make([]Value, len(x))
		for i, item := range x {
			val, err := fromDecoded(item, indexPath(path, i))
			if err != nil {
				return Value{}, err
			}
			list[i] = val
		}
		return Value{kind: KindList, list: list}, nil
	case map[string]any:
		obj := make(Map, len(x))
		for k, item := range x {
			val, err := fromDecoded(item, keyPath(path, k))
			if err != nil {
				return Value{}, err
			}
			obj[k] = val
		}
		return Value{kind: KindObject, obj: obj}, nil
	case nil:
		return Value{}, fmt.Errorf("property: null is not a supported value at %q", displayPath(path))
	default:
		return Value{}, fmt.Errorf("property: unexpected decoded type %T", raw)
	}
}

// UnsupportedTypeError is returned when a native Go value has no Value form.
type UnsupportedTypeError struct {
	Path string // location inside the converted value, "" for the root
	Type string // Go type name
}

// Error implements the error interface.
func (e *UnsupportedTypeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("property: unsupported type %s", e.Type)
	}
	return fmt.Sprintf("property: unsupported type %s at %q", e.Type, e.Path)
}

var timeType = reflect.TypeOf(time.Time{})

// ValueOf converts a native Go value into a Value.
//
// Accepted: string, signed and unsigned integers (uint64 above MaxInt64 is
// rejected), float32/float64, bool, time.Time, Value, Map, and slices, arrays
// or string-keyed maps whose elements are themselves accepted.
func ValueOf(x any) (Value, error) {
	return valueOf(x, "")
}

func valueOf(x any, path string) (Value, error) {
	switch val := x.(type) {
	case nil:
		return Value{}, &UnsupportedTypeError{Path: path, Type: "nil"}
	case Value:
		if !val.IsValid() {
			return Value{}, &UnsupportedTypeError{Path: path, Type: "property.Value(invalid)"}
		}
		return val, nil
	case Map:
		return Object(val), nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return Time(val), nil
	case map[string]any:
		m, err := mapOf(val, path)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindObject, obj: m}, nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, &UnsupportedTypeError{Path: path, Type: rv.Type().String() + " overflowing int64"}
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Value{kind: KindList, list: []Value{}}, nil
		}
		list := make([]Value, rv.Len())
		for i := range list {
			item, err := valueOf(rv.Index(i).Interface(), indexPath(path, i))
			if err != nil {
				return Value{}, err
			}
			list[i] = item
		}
		return Value{kind: KindList, list: list}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, &UnsupportedTypeError{Path: path, Type: rv.Type().String()}
		}
		obj := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			item, err := valueOf(iter.Value().Interface(), keyPath(path, k))
			if err != nil {
				return Value{}, err
			}
			obj[k] = item
		}
		return Value{kind: KindObject, obj: obj}, nil
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return Time(rv.Convert(timeType).Interface().(time.Time)), nil
		}
	}

	return Value{}, &UnsupportedTypeError{Path: path, Type: rv.Type().String()}
}

// MapOf converts a map of native Go values into a Map.
// A nil input yields a nil Map.
func MapOf(m map[string]any) (Map, error) {
	if m == nil {
		return nil, nil
	}
	return mapOf(m, "")
}

// MustMapOf is like MapOf but panics on unsupported values.
// Intended for literals in examples and tests.
func MustMapOf(m map[string]any) Map {
	out, err := MapOf(m)
	if err != nil {
		panic(err)
	}
	return out
}

func mapOf(m map[string]any, path string) (Map, error) {
	out := make(Map, len(m))
	for k, item := range m {
		val, err := valueOf(item, keyPath(path, k))
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

// Clone returns a copy of m. Values are immutable, so the copy is safe to
// modify independently. A nil Map clones to nil.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a new Map holding the entries of m overlaid with those of
// other. Keys in other win.
func (m Map) Merge(other Map) Map {
	out := make(Map, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Interface converts m to a map of plain Go values.
func (m Map) Interface() map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Interface()
	}
	return out
}

// FromStrings builds a Map of string values.
func FromStrings(m map[string]string) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = String(v)
	}
	return out
}

func keyPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func displayPath(path string) string {
	if path == "" {
		return "$"
	}
	return path
}
