package policy

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Activation is the external on/off switch per policy code, consumed by
// Active. A code that is absent from the map is enabled.
type Activation map[string]bool

// Enabled reports whether the given policy code is active.
func (a Activation) Enabled(code string) bool {
	if a == nil {
		return true
	}
	enabled, ok := a[code]
	if !ok {
		return true
	}
	return enabled
}

// Registry is an ordered, immutable catalog of policy definitions built
// once at startup. Ordering is the registration order, which keeps audit
// output deterministic.
type Registry struct {
	defs   []Definition
	byCode map[string]Definition
	logger zerolog.Logger
}

// NewRegistry builds a registry from the given definitions. Duplicate or
// empty codes and nil check functions are rejected: the catalog is the
// join key space for all diffing and persistence, so it must be sound.
func NewRegistry(logger zerolog.Logger, defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:   make([]Definition, 0, len(defs)),
		byCode: make(map[string]Definition, len(defs)),
		logger: logger.With().Str("component", "policy-registry").Logger(),
	}

	for _, d := range defs {
		if d.Code == "" {
			return nil, fmt.Errorf("policy definition %q has empty code", d.Name)
		}
		if d.Check == nil {
			return nil, fmt.Errorf("policy %s has nil check function", d.Code)
		}
		if _, dup := r.byCode[d.Code]; dup {
			return nil, fmt.Errorf("duplicate policy code %s", d.Code)
		}
		if d.Provider == "" {
			d.Provider = "all"
		}
		r.defs = append(r.defs, d)
		r.byCode[d.Code] = d
	}

	r.logger.Info().Int("count", len(r.defs)).Msg("Policy registry built")
	return r, nil
}

// NewDefaultRegistry builds a registry with the built-in catalog plus any
// extra definitions, typically custom Rego policies.
func NewDefaultRegistry(logger zerolog.Logger, extra ...Definition) (*Registry, error) {
	return NewRegistry(logger, append(Builtin(), extra...))
}

// All returns every definition in registration order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Get returns the definition for a code.
func (r *Registry) Get(code string) (Definition, bool) {
	d, ok := r.byCode[code]
	return d, ok
}

// Active returns the definitions that apply to the target provider and
// are enabled by the activation configuration, in registration order.
func (r *Registry) Active(provider string, act Activation) []Definition {
	var out []Definition
	for _, d := range r.defs {
		if d.Provider != provider && d.Provider != "all" {
			continue
		}
		if !act.Enabled(d.Code) {
			continue
		}
		out = append(out, d)
	}
	return out
}
