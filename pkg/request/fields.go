package request

import (
	"net/url"
)

// Fields is a read-only view over raw request fields.
type Fields interface {
	// Get returns the raw value of name and whether it was present.
	Get(name string) (string, bool)
}

// FormFields adapts url.Values (a parsed HTML form) to Fields.
type FormFields url.Values

func (f FormFields) Get(name string) (string, bool) {
	vs, ok := f[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// MapFields adapts a plain map to Fields.
type MapFields map[string]string

func (m MapFields) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Kind is the declared type of a variant-specific field.
type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
	JSON
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case JSON:
		return "json"
	default:
		return "unknown"
	}
}

// FieldSpec declares one analysis-specific field.
type FieldSpec struct {
	Name     string
	Kind     Kind
	Required bool

	// Default is used when the field is absent. It must already have the
	// Go type that Kind parses to (string, int64, float64, bool, or a
	// decoded JSON value).
	Default any
}
