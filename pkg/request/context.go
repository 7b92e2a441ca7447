// Package request builds validated, read-only analysis request contexts
// from raw form fields.
package request

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/3leaps/gomian/pkg/codec"
)

// LevelNone is the default taxonomic level: no aggregation.
const LevelNone = -2

// LevelOTU displays individual OTUs.
const LevelOTU = -1

// LevelMax is the deepest rank level (Species). Levels 0..LevelMax
// aggregate by rank from Kingdom down.
const LevelMax = 6

// Common form field names.
const (
	FieldUserID                   = "uid"
	FieldProjectID                = "pid"
	FieldLevel                    = "level"
	FieldCatVar                   = "catvar"
	FieldTaxonomyFilter           = "taxonomyFilter"
	FieldTaxonomyFilterRole       = "taxonomyFilterRole"
	FieldTaxonomyFilterVals       = "taxonomyFilterVals"
	FieldSampleFilter             = "sampleFilter"
	FieldSampleFilterRole         = "sampleFilterRole"
	FieldSampleFilterVals         = "sampleFilterVals"
	FieldTaxonomyFilterCount      = "taxonomyFilterCount"
	FieldTaxonomyFilterPrevalence = "taxonomyFilterPrevalence"
)

// Filter roles.
const (
	RoleInclude = "Include"
	RoleExclude = "Exclude"
)

// Filter selects rows (samples) or columns (taxa) by the value of a column.
type Filter struct {
	Column string `json:"column"`
	Role   string `json:"role"`
	Values []any  `json:"values"`
}

// Active reports whether the filter restricts anything.
func (f Filter) Active() bool {
	return f.Column != "" && f.Column != "none" && len(f.Values) > 0
}

// Excludes reports whether matching entries are dropped rather than kept.
func (f Filter) Excludes() bool {
	return strings.EqualFold(f.Role, RoleExclude)
}

// Matches reports whether value is one of the filter values. Values are
// compared by their string form, since metadata cells are text.
func (f Filter) Matches(value string) bool {
	for _, v := range f.Values {
		if fmt.Sprint(v) == value {
			return true
		}
	}
	return false
}

// Keep applies the filter role to a cell value.
func (f Filter) Keep(value string) bool {
	if !f.Active() {
		return true
	}
	if f.Excludes() {
		return !f.Matches(value)
	}
	return f.Matches(value)
}

func (f Filter) clone() Filter {
	out := f
	if f.Values != nil {
		out.Values = make([]any, len(f.Values))
		for i := range f.Values {
			out.Values[i] = copyValue(f.Values[i])
		}
	}
	return out
}

// LowExpression drops taxa that are rarely present. Both fields are kept as
// the raw strings the client sent; empty means disabled.
type LowExpression struct {
	Count      string `json:"count"`
	Prevalence string `json:"prevalence"`
}

// Thresholds parses the count and prevalence (percent of samples). ok is
// false when either is empty or unparseable.
func (l LowExpression) Thresholds() (count float64, prevalence float64, ok bool) {
	if l.Count == "" || l.Prevalence == "" {
		return 0, 0, false
	}
	c, err := strconv.ParseFloat(strings.TrimSpace(l.Count), 64)
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(l.Prevalence), 64)
	if err != nil {
		return 0, 0, false
	}
	return c, p, true
}

// Context is the validated view of one analysis request. It is read-only
// after construction; the With method returns a modified copy.
type Context struct {
	userID         string
	projectID      string
	level          int
	taxonomyFilter Filter
	sampleFilter   Filter
	lowExpression  LowExpression
	catVar         string
	attrs          Attributes
}

func (c *Context) UserID() string               { return c.userID }
func (c *Context) ProjectID() string            { return c.projectID }
func (c *Context) Level() int                   { return c.level }
func (c *Context) TaxonomyFilter() Filter       { return c.taxonomyFilter.clone() }
func (c *Context) SampleFilter() Filter         { return c.sampleFilter.clone() }
func (c *Context) LowExpression() LowExpression { return c.lowExpression }
func (c *Context) CatVar() string               { return c.catVar }
func (c *Context) Attributes() Attributes       { return c.attrs }

// With returns a copy of the context with one attribute replaced.
func (c *Context) With(name string, value any) *Context {
	cp := *c
	cp.taxonomyFilter = c.taxonomyFilter.clone()
	cp.sampleFilter = c.sampleFilter.clone()
	cp.attrs = c.attrs.With(name, value)
	return &cp
}

type contextJSON struct {
	UserID         string        `json:"user_id"`
	ProjectID      string        `json:"project_id"`
	Level          int           `json:"level"`
	TaxonomyFilter Filter        `json:"taxonomy_filter"`
	SampleFilter   Filter        `json:"sample_filter"`
	LowExpression  LowExpression `json:"low_expression"`
	CatVar         string        `json:"catvar"`
	Attributes     Attributes    `json:"attributes"`
}

func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(contextJSON{
		UserID:         c.userID,
		ProjectID:      c.projectID,
		Level:          c.level,
		TaxonomyFilter: c.taxonomyFilter,
		SampleFilter:   c.sampleFilter,
		LowExpression:  c.lowExpression,
		CatVar:         c.catVar,
		Attributes:     c.attrs,
	})
}

func (c *Context) UnmarshalJSON(b []byte) error {
	var raw contextJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.UserID == "" {
		return &ValidationError{Field: FieldUserID, Reason: "required"}
	}
	if raw.ProjectID == "" {
		return &ValidationError{Field: FieldProjectID, Reason: "required"}
	}
	*c = Context{
		userID:         raw.UserID,
		projectID:      raw.ProjectID,
		level:          raw.Level,
		taxonomyFilter: normalizeFilter(raw.TaxonomyFilter),
		sampleFilter:   normalizeFilter(raw.SampleFilter),
		lowExpression:  raw.LowExpression,
		catVar:         raw.CatVar,
		attrs:          raw.Attributes,
	}
	return nil
}

// normalizeFilter converts encoding/json float64 filter values back to the
// integer form they had before crossing a process boundary.
func normalizeFilter(f Filter) Filter {
	for i, v := range f.Values {
		if fv, ok := v.(float64); ok && fv == float64(int64(fv)) {
			f.Values[i] = int64(fv)
		}
	}
	if f.Values == nil {
		f.Values = []any{}
	}
	return f
}

// Build constructs a Context from raw fields.
//
// userID comes from the session (or the share link) rather than the form.
// Common optional fields default to "", an empty list, or LevelNone.
// Variant fields in specs are parsed to their declared kind here so bad
// input fails before any work is dispatched.
func Build(fields Fields, userID string, specs []FieldSpec) (*Context, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: FieldUserID, Reason: "required"}
	}

	pid, _ := fields.Get(FieldProjectID)
	if strings.TrimSpace(pid) == "" {
		return nil, &ValidationError{Field: FieldProjectID, Reason: "required"}
	}

	level := LevelNone
	if raw, ok := fields.Get(FieldLevel); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, &TypeConversionError{Field: FieldLevel, Kind: Int, Value: raw, Err: err}
		}
		if n < LevelNone || n > LevelMax {
			return nil, &ValidationError{Field: FieldLevel, Reason: fmt.Sprintf("level %d out of range [%d, %d]", n, LevelNone, LevelMax)}
		}
		level = n
	}

	taxVals, err := parseList(fields, FieldTaxonomyFilterVals)
	if err != nil {
		return nil, err
	}
	sampleVals, err := parseList(fields, FieldSampleFilterVals)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]any, len(specs))
	for _, spec := range specs {
		v, set, err := parseField(fields, spec)
		if err != nil {
			return nil, err
		}
		if set {
			attrs[spec.Name] = v
		}
	}

	return &Context{
		userID:    userID,
		projectID: pid,
		level:     level,
		taxonomyFilter: Filter{
			Column: optional(fields, FieldTaxonomyFilter),
			Role:   optional(fields, FieldTaxonomyFilterRole),
			Values: taxVals,
		},
		sampleFilter: Filter{
			Column: optional(fields, FieldSampleFilter),
			Role:   optional(fields, FieldSampleFilterRole),
			Values: sampleVals,
		},
		lowExpression: LowExpression{
			Count:      optional(fields, FieldTaxonomyFilterCount),
			Prevalence: optional(fields, FieldTaxonomyFilterPrevalence),
		},
		catVar: optional(fields, FieldCatVar),
		attrs:  NewAttributes(attrs),
	}, nil
}

func optional(fields Fields, name string) string {
	v, _ := fields.Get(name)
	return v
}

func parseList(fields Fields, name string) ([]any, error) {
	raw, ok := fields.Get(name)
	if !ok || strings.TrimSpace(raw) == "" {
		return []any{}, nil
	}
	v, err := codec.DecodeAny([]byte(raw))
	if err != nil {
		return nil, &MalformedInputError{Field: name, Err: err}
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &MalformedInputError{Field: name, Err: fmt.Errorf("expected a JSON list, got %T", v)}
	}
	for _, item := range list {
		switch item.(type) {
		case string, int64, float64, bool:
		default:
			return nil, &MalformedInputError{Field: name, Err: fmt.Errorf("list items must be scalars, got %T", item)}
		}
	}
	return list, nil
}

func parseField(fields Fields, spec FieldSpec) (any, bool, error) {
	raw, ok := fields.Get(spec.Name)
	if ok && spec.Kind != String {
		raw = strings.TrimSpace(raw)
	}
	if !ok || (raw == "" && spec.Kind != String) {
		if spec.Required {
			return nil, false, &ValidationError{Field: spec.Name, Reason: "required"}
		}
		if spec.Default != nil {
			return copyValue(spec.Default), true, nil
		}
		if ok && spec.Kind == String {
			return "", true, nil
		}
		return nil, false, nil
	}

	switch spec.Kind {
	case String:
		return raw, true, nil
	case Int:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Clients sometimes send "10.0" for integer inputs.
			f, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil || f != float64(int64(f)) {
				return nil, false, &TypeConversionError{Field: spec.Name, Kind: spec.Kind, Value: raw, Err: err}
			}
			n = int64(f)
		}
		return n, true, nil
	case Float:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false, &TypeConversionError{Field: spec.Name, Kind: spec.Kind, Value: raw, Err: err}
		}
		return f, true, nil
	case Bool:
		b, err := parseBool(raw)
		if err != nil {
			return nil, false, &TypeConversionError{Field: spec.Name, Kind: spec.Kind, Value: raw, Err: err}
		}
		return b, true, nil
	case JSON:
		v, err := codec.DecodeAny([]byte(raw))
		if err != nil {
			return nil, false, &MalformedInputError{Field: spec.Name, Err: err}
		}
		return v, true, nil
	}
	return nil, false, fmt.Errorf("field %q: unknown kind %d", spec.Name, spec.Kind)
}

// parseBool accepts the yes/no spellings the web client uses in addition
// to strconv's forms.
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(raw)
}
