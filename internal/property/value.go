package property

import (
	"bytes"
	"fmt"
	"reflect"
)

// Value is one named, typed property value with an optional raw side-channel
// payload (for example vendor specific display bytes).
//
// Values are immutable once constructed; Extra returns a copy.
type Value struct {
	name  string
	value any
	extra []byte
}

// New creates a Value.
//
// Supported value types are bool, int, int64, float64 and string. Other types
// are stored as given but only compare equal when == holds.
func New(name string, value any) Value {
	return Value{name: name, value: value}
}

// NewWithExtra creates a Value carrying a copy of extra.
func NewWithExtra(name string, value any, extra []byte) Value {
	v := Value{name: name, value: value}
	if len(extra) > 0 {
		v.extra = bytes.Clone(extra)
	}
	return v
}

// Name returns the property name.
func (v Value) Name() string { return v.name }

// Raw returns the stored value.
func (v Value) Raw() any { return v.value }

// Extra returns a copy of the side-channel bytes, or nil.
func (v Value) Extra() []byte {
	if v.extra == nil {
		return nil
	}
	return bytes.Clone(v.extra)
}

// IsValid reports whether the value has a name.
func (v Value) IsValid() bool { return v.name != "" }

// Bool returns the value as a bool, false if it is not one.
func (v Value) Bool() bool {
	b, _ := v.value.(bool)
	return b
}

// Int returns the value as an int. int64 values are narrowed.
func (v Value) Int() int {
	switch n := v.value.(type) {
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

// Int64 returns the value as an int64. int values are widened.
func (v Value) Int64() int64 {
	switch n := v.value.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// Float returns the value as a float64.
func (v Value) Float() float64 {
	switch n := v.value.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Text returns the value as a string, "" if it is not one.
func (v Value) Text() string {
	s, _ := v.value.(string)
	return s
}

// Equal reports whether two values have the same name, value and extra bytes.
func (v Value) Equal(o Value) bool {
	if v.name != o.name || !bytes.Equal(v.extra, o.extra) {
		return false
	}
	if !sameType(v, o) {
		return false
	}
	return v.value == o.value
}

// String renders the value as name=value for logs.
func (v Value) String() string {
	if len(v.extra) > 0 {
		return fmt.Sprintf("%s=%v (+%d bytes)", v.name, v.value, len(v.extra))
	}
	return fmt.Sprintf("%s=%v", v.name, v.value)
}

// sameType reports whether both values hold the same dynamic type.
func sameType(a, b Value) bool {
	if a.value == nil || b.value == nil {
		return a.value == nil && b.value == nil
	}
	ta, tb := reflect.TypeOf(a.value), reflect.TypeOf(b.value)
	if ta != tb {
		return false
	}
	return ta.Comparable()
}

// Names returns the names of values in order.
func Names(values []Value) []string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.name
	}
	return names
}
