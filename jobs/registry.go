package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-settlement/core"
)

// Handler executes one leased job. Returning an error triggers the runner's
// retry path; a nil return finalizes the job as succeeded.
type Handler func(ctx context.Context, job core.Job) error

// FieldKind is the primitive type a payload field must carry.
type FieldKind string

const (
	FieldKindString FieldKind = "string"
	FieldKindNumber FieldKind = "number"
	FieldKindBool   FieldKind = "bool"
)

// Field declares one required payload field.
type Field struct {
	Name string
	Kind FieldKind
}

// Policy bounds a job type's execution: retry budget, per-run timeout and
// parallelism across workers of this runner.
type Policy struct {
	MaxAttempts      int
	Timeout          time.Duration
	ConcurrencyLimit int
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = time.Minute
	}
	if p.ConcurrencyLimit <= 0 {
		p.ConcurrencyLimit = 1
	}
	return p
}

// Definition binds a job type name to its policy, payload schema and handler.
type Definition struct {
	Type    string
	Policy  Policy
	Schema  []Field
	Handler Handler
}

// Registry holds the known job types. Registration happens at wiring time;
// the registry is read-only afterwards and safe for concurrent lookups.
type Registry struct {
	definitions map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{definitions: map[string]Definition{}}
}

func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Type)
	if name == "" {
		return fmt.Errorf("jobs: job type name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("jobs: job type %q needs a handler", name)
	}
	if _, exists := r.definitions[name]; exists {
		return fmt.Errorf("jobs: job type %q registered twice", name)
	}
	def.Type = name
	def.Policy = def.Policy.normalized()
	r.definitions[name] = def
	return nil
}

func (r *Registry) Definition(jobType string) (Definition, error) {
	def, ok := r.definitions[strings.TrimSpace(jobType)]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", core.ErrJobTypeNotFound, jobType)
	}
	return def, nil
}

// Types lists the registered type names in stable order.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePayload checks a payload against the type's schema before the job
// is accepted. The error names every missing field and every field of the
// wrong primitive type, not just the first.
func (r *Registry) ValidatePayload(jobType string, payload map[string]any) error {
	def, err := r.Definition(jobType)
	if err != nil {
		return err
	}

	var missing, mistyped []string
	for _, field := range def.Schema {
		value, ok := payload[field.Name]
		if !ok || value == nil {
			missing = append(missing, field.Name)
			continue
		}
		if !matchesKind(value, field.Kind) {
			mistyped = append(mistyped, fmt.Sprintf("%s (want %s)", field.Name, field.Kind))
		}
	}
	if len(missing) == 0 && len(mistyped) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(missing, ", "))
	}
	if len(mistyped) > 0 {
		parts = append(parts, "wrong types: "+strings.Join(mistyped, ", "))
	}
	return fmt.Errorf("%w: %s: %s", core.ErrJobSchemaInvalid, jobType, strings.Join(parts, "; "))
}

func matchesKind(value any, kind FieldKind) bool {
	switch kind {
	case FieldKindString:
		_, ok := value.(string)
		return ok
	case FieldKindNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case FieldKindBool:
		_, ok := value.(bool)
		return ok
	}
	return false
}
