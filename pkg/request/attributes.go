package request

import (
	"encoding/json"
	"sort"

	"github.com/3leaps/gomian/pkg/codec"
)

// Attributes is an immutable set of analysis-specific named values.
//
// Values are string, int64, float64, bool, or a decoded JSON value
// ([]any, map[string]any). The zero value is an empty set.
type Attributes struct {
	m map[string]any
}

// NewAttributes copies m into a new attribute set.
func NewAttributes(m map[string]any) Attributes {
	if len(m) == 0 {
		return Attributes{}
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = copyValue(v)
	}
	return Attributes{m: cp}
}

// Get returns the value of name and whether it is set.
func (a Attributes) Get(name string) (any, bool) {
	v, ok := a.m[name]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// String returns the string value of name, or "" if unset or not a string.
func (a Attributes) String(name string) string {
	s, _ := a.m[name].(string)
	return s
}

// Int returns the integer value of name.
func (a Attributes) Int(name string) (int64, bool) {
	i, ok := a.m[name].(int64)
	return i, ok
}

// Float returns the float value of name. Integer values are widened.
func (a Attributes) Float(name string) (float64, bool) {
	switch v := a.m[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the boolean value of name.
func (a Attributes) Bool(name string) (bool, bool) {
	b, ok := a.m[name].(bool)
	return b, ok
}

// Names returns the attribute names in sorted order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a.m))
	for k := range a.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of attributes.
func (a Attributes) Len() int {
	return len(a.m)
}

// Map returns a deep copy of the attributes.
func (a Attributes) Map() map[string]any {
	out := make(map[string]any, len(a.m))
	for k, v := range a.m {
		out[k] = copyValue(v)
	}
	return out
}

// With returns a new set with name set to value. The receiver is unchanged.
func (a Attributes) With(name string, value any) Attributes {
	out := make(map[string]any, len(a.m)+1)
	for k, v := range a.m {
		out[k] = v
	}
	out[name] = copyValue(value)
	return Attributes{m: out}
}

// MarshalJSON encodes the attributes with the codec so float values keep a
// fraction and survive the trip to a worker process unchanged.
func (a Attributes) MarshalJSON() ([]byte, error) {
	if a.m == nil {
		return []byte("{}"), nil
	}
	return codec.Encode(a.m)
}

func (a *Attributes) UnmarshalJSON(b []byte) error {
	m, err := codec.Decode(b)
	if err != nil {
		return err
	}
	if len(m) == 0 {
		a.m = nil
		return nil
	}
	a.m = m
	return nil
}

var _ json.Marshaler = Attributes{}

func copyValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = copyValue(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = copyValue(elem)
		}
		return out
	default:
		return v
	}
}
