package capabilities

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// InputValidator checks tool arguments against a capability's input schema.
type InputValidator interface {
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// Registry is the thread-safe set of capabilities known to the engine.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
	validator    InputValidator
}

// NewRegistry creates an empty Registry. validator may be nil to skip
// input schema checks.
func NewRegistry(validator InputValidator) *Registry {
	return &Registry{
		capabilities: make(map[string]Capability),
		validator:    validator,
	}
}

// Register adds a capability. Returns error on duplicate name.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "capability is nil")
	}
	name := c.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "capability name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "capability %q already registered", name)
	}
	r.capabilities[name] = c
	return nil
}

// Get retrieves a capability by name.
func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.capabilities[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeToolUnavailable, "tool %q not registered", name)
	}
	return c, nil
}

// Has checks if a capability is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.capabilities[name]
	return ok
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capabilities)
}

// List returns info for all registered capabilities, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.capabilities))
	for name, c := range r.capabilities {
		s := c.Schema()
		infos = append(infos, Info{Name: name, Description: s.Description, HighRisk: s.HighRisk})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// HighRisk returns the names of registered capabilities flagged high-risk.
func (r *Registry) HighRisk() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, c := range r.capabilities {
		if c.Schema().HighRisk {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Invoke validates args against the capability's input schema and runs it.
// Arguments that fail the schema come back as a *ToolError, an unknown tool
// as TOOL_UNAVAILABLE.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	if s := c.Schema(); r.validator != nil && len(s.InputSchema) > 0 {
		if err := r.validator.ValidateInput(args, s.InputSchema); err != nil {
			return nil, NewToolError(name, "invalid arguments: %s", err.Error()).WithCause(err)
		}
	}
	return c.Invoke(ctx, args)
}
