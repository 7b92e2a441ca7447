// Package analysis defines analysis jobs and the closed table of variants
// the service can run.
//
// A Variant pairs a Job with its request schema, deadline class, and
// response encoding. Jobs run inside a worker process; they read project
// data through a project.Accessor and return a Result that the codec
// normalizes.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
)

// Result is the JSON-shaped output of a job.
type Result = map[string]any

// Job is one analysis computation.
type Job interface {
	Run(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error)
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error)

func (f JobFunc) Run(ctx context.Context, data project.Accessor, rc *request.Context) (Result, error) {
	return f(ctx, data, rc)
}

// DeadlineClass selects the wall-clock budget of a variant.
type DeadlineClass int

const (
	// Standard jobs get the base deadline.
	Standard DeadlineClass = iota
	// Extended jobs get the base deadline times the extended multiplier.
	Extended
)

func (d DeadlineClass) String() string {
	if d == Extended {
		return "extended"
	}
	return "standard"
}

// Deadline resolves the class against a base deadline and multiplier.
func (d DeadlineClass) Deadline(base time.Duration, multiplier int) time.Duration {
	if d == Extended {
		if multiplier < 1 {
			multiplier = 1
		}
		return base * time.Duration(multiplier)
	}
	return base
}

// Encoding selects how a result body is written.
type Encoding int

const (
	// JSON writes the deterministic JSON encoding.
	JSON Encoding = iota
	// Compressed writes base64(zlib(JSON)) as text/plain.
	Compressed
)

func (e Encoding) String() string {
	if e == Compressed {
		return "compressed"
	}
	return "json"
}

// Variant is one registered analysis.
type Variant struct {
	Name     string
	Deadline DeadlineClass
	Encoding Encoding
	Fields   []request.FieldSpec
	// Params returns a fresh params struct, pre-filled with the job's
	// defaults, that the job decodes its attributes into. Nil means the
	// job takes no typed parameters.
	Params func() any
	// RequiresCatVar marks jobs that group samples by the catvar field.
	RequiresCatVar bool
	Job            Job
}

// contextChecker is implemented by params whose rules depend on more than
// their own attributes.
type contextChecker interface {
	check(rc *request.Context) error
}

// Validate decodes rc's attributes into a throwaway params struct. Callers
// run it before dispatching a job so that rule violations are reported as
// *request.ValidationError without spawning a worker.
func (v *Variant) Validate(rc *request.Context) error {
	if v.RequiresCatVar && rc.CatVar() == "" {
		return &request.ValidationError{Field: request.FieldCatVar, Reason: "required"}
	}
	if v.Params == nil {
		return nil
	}
	p := v.Params()
	if err := Decode(rc.Attributes(), p); err != nil {
		return err
	}
	if c, ok := p.(contextChecker); ok {
		return c.check(rc)
	}
	return nil
}

// FieldNames returns the variant-specific field names.
func (v *Variant) FieldNames() []string {
	out := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		out = append(out, f.Name)
	}
	return out
}

// ErrUnknownVariant is returned by Lookup for unregistered names.
var ErrUnknownVariant = errors.New("unknown analysis variant")

// Registry maps variant names to variants.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]*Variant
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[string]*Variant)}
}

// Register adds a variant. Names must be unique and the job non-nil.
func (r *Registry) Register(v *Variant) error {
	if v == nil || v.Name == "" {
		return errors.New("analysis: variant name is required")
	}
	if v.Job == nil {
		return fmt.Errorf("analysis: variant %q has no job", v.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.variants[v.Name]; dup {
		return fmt.Errorf("analysis: variant %q already registered", v.Name)
	}
	r.variants[v.Name] = v
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(v *Variant) {
	if err := r.Register(v); err != nil {
		panic(err)
	}
}

// Lookup returns the variant registered under name.
func (r *Registry) Lookup(name string) (*Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return v, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.variants))
	for n := range r.variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Variants returns the registered variants sorted by name.
func (r *Registry) Variants() []*Variant {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Variant, 0, len(names))
	for _, n := range names {
		out = append(out, r.variants[n])
	}
	return out
}

// DomainError reports a failure inside the analysis itself, such as too
// few samples in a group.
type DomainError struct {
	Variant string
	Msg     string
}

func (e *DomainError) Error() string {
	if e.Variant == "" {
		return "analysis: " + e.Msg
	}
	return fmt.Sprintf("analysis %s: %s", e.Variant, e.Msg)
}

func domainErrorf(variant, format string, args ...any) error {
	return &DomainError{Variant: variant, Msg: fmt.Sprintf(format, args...)}
}
