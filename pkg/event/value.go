package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the runtime type stored in a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindArray
	KindObject
)

// Value is a tagged-union node for dynamic field bags.
//
// Parser-private fields (ParsedEvent.Custom) and the open NormalizedEvent
// mapping are built from Values instead of bare interface{} maps so that all
// access goes through typed getters and serialization stays deterministic.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	t    time.Time
	arr  []Value
	obj  map[string]Value
}

// Nil is the zero Value.
var Nil = Value{}

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Int wraps an integer as a number Value.
func Int(n int) Value { return Value{kind: KindNumber, num: float64(n)} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time wraps a timestamp.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Array wraps a list of Values.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Strings wraps a list of strings as an array Value.
func Strings(ss ...string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return Value{kind: KindArray, arr: vs}
}

// Object wraps a nested map.
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

// Kind returns the runtime type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether the Value is unset.
func (v Value) IsNil() bool { return v.kind == KindNil }

// Str returns the string payload. Non-string Values render via Text.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.str
	}
	return v.Text()
}

// Num returns the numeric payload, converting strings when they parse.
func (v Value) Num() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		n, err := strconv.ParseFloat(v.str, 64)
		if err == nil {
			return n
		}
	case KindBool:
		if v.b {
			return 1
		}
	}
	return 0
}

// BoolVal returns the boolean payload.
func (v Value) BoolVal() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		return v.str == "true"
	case KindNumber:
		return v.num != 0
	}
	return false
}

// TimeVal returns the timestamp payload, or the zero time.
func (v Value) TimeVal() time.Time {
	if v.kind == KindTime {
		return v.t
	}
	return time.Time{}
}

// ArrayVal returns the array payload, or nil.
func (v Value) ArrayVal() []Value {
	if v.kind == KindArray {
		return v.arr
	}
	return nil
}

// ObjectVal returns the nested map payload, or nil.
func (v Value) ObjectVal() map[string]Value {
	if v.kind == KindObject {
		return v.obj
	}
	return nil
}

// Contains reports whether an array Value contains the given string, or a
// string Value equals it. Used by enrichment conditions and risk scoring.
func (v Value) Contains(s string) bool {
	switch v.kind {
	case KindString:
		return v.str == s
	case KindArray:
		for _, e := range v.arr {
			if e.kind == KindString && e.str == s {
				return true
			}
		}
	}
	return false
}

// Text renders the Value as a plain string for logging and key-value output.
func (v Value) Text() string {
	switch v.kind {
	case KindNil:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339)
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNil:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts a decoded JSON value (or plain Go scalar) into a Value.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Nil
	case string:
		return String(x)
	case float64:
		return Number(x)
	case int:
		return Int(x)
	case int64:
		return Number(float64(x))
	case bool:
		return Bool(x)
	case time.Time:
		return Time(x)
	case []any:
		vs := make([]Value, len(x))
		for i, e := range x {
			vs[i] = FromAny(e)
		}
		return Value{kind: KindArray, arr: vs}
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return Object(m)
	default:
		return String(fmt.Sprint(x))
	}
}
