package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// ContextStore is the per-execution bag of node results, keyed by node id.
//
// Results are normalized to their JSON form on insert so an execution sees the
// same shapes before and after a checkpoint round-trip (numbers as float64,
// objects as map[string]any, arrays as []any).
type ContextStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContextStore creates a store seeded with a persisted context.
// initial is deep-copied.
func NewContextStore(initial map[string]any) *ContextStore {
	values := deepCopyMap(initial)
	if values == nil {
		values = make(map[string]any)
	}
	return &ContextStore{values: values}
}

// Set records the result of nodeID, replacing any earlier one.
func (c *ContextStore) Set(nodeID string, result any) error {
	normalized, err := normalizeJSON(result)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "node %q produced a result that is not JSON-encodable: %s", nodeID, err.Error()).
			WithNode(nodeID).
			WithCause(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[nodeID] = normalized
	return nil
}

// Get returns the raw result stored for nodeID.
func (c *ContextStore) Get(nodeID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[nodeID]
	return v, ok
}

// Lookup resolves a dotted path such as "fetch.items.0.title". The first
// segment names a node; the rest walk map keys and slice indexes.
func (c *ContextStore) Lookup(path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	current, ok := c.values[segments[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		if current, ok = step(current, seg); !ok {
			return nil, false
		}
	}
	return current, true
}

// Snapshot returns a deep copy of every stored result.
func (c *ContextStore) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopyMap(c.values)
}

func step(current any, seg string) (any, bool) {
	if seg == "" {
		return nil, false
	}
	switch v := current.(type) {
	case map[string]any:
		val, ok := v[seg]
		return val, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	default:
		return nil, false
	}
}

func normalizeJSON(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}
