// Package infospace holds the per-card configuration namespaces: named,
// typed fields published for each bound slot, tagged with the policy that
// decides who keeps them up to date.
package infospace

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrFieldExists   = errors.New("field already exists")
	ErrFieldNotFound = errors.New("field not found")
	ErrTypeMismatch  = errors.New("value does not match field type")
)

type Kind string

const (
	KindUint32 Kind = "uint32"
	KindUint64 Kind = "uint64"
	KindDouble Kind = "double"
	KindString Kind = "string"
)

// Policy says how a field is refreshed after it has been created.
type Policy string

const (
	// NoUpdate fields are written once at bind time.
	NoUpdate Policy = "noupdate"
	// Process fields are computed by the monitor from register samples.
	Process Policy = "process"
	// HW32 fields mirror a 32-bit hardware register.
	HW32 Policy = "hw32"
	// CustomProtocol fields hold packed request counters decoded by the monitor.
	CustomProtocol Policy = "custom"
)

type Field struct {
	Name      string      `json:"name"`
	Kind      Kind        `json:"kind"`
	Policy    Policy      `json:"policy"`
	Format    string      `json:"format,omitempty"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Change is delivered to listeners after a field was created, set or revoked.
type Change struct {
	URN     string      `json:"urn"`
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Revoked bool        `json:"revoked,omitempty"`
}

type Listener func(Change)

type Namespace struct {
	urn string

	mu        sync.RWMutex
	fields    map[string]*Field
	order     []string
	listeners []Listener
}

func newNamespace(urn string, listeners []Listener) *Namespace {
	return &Namespace{
		urn:       urn,
		fields:    make(map[string]*Field),
		listeners: listeners,
	}
}

func (n *Namespace) URN() string {
	return n.urn
}

// Create adds a field with an initial value.
func (n *Namespace) Create(name string, kind Kind, policy Policy, format string, value interface{}) error {
	v, err := coerce(kind, value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	n.mu.Lock()
	if _, exists := n.fields[name]; exists {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFieldExists, name)
	}
	n.fields[name] = &Field{
		Name:      name,
		Kind:      kind,
		Policy:    policy,
		Format:    format,
		Value:     v,
		UpdatedAt: time.Now(),
	}
	n.order = append(n.order, name)
	n.mu.Unlock()

	n.notify(Change{URN: n.urn, Field: name, Value: v})
	return nil
}

// Set replaces the value of an existing field.
func (n *Namespace) Set(name string, value interface{}) error {
	n.mu.Lock()
	f, ok := n.fields[name]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	v, err := coerce(f.Kind, value)
	if err != nil {
		n.mu.Unlock()
		return fmt.Errorf("%s: %w", name, err)
	}
	f.Value = v
	f.UpdatedAt = time.Now()
	n.mu.Unlock()

	n.notify(Change{URN: n.urn, Field: name, Value: v})
	return nil
}

func (n *Namespace) Get(name string) (Field, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	f, ok := n.fields[name]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// Revoke removes a field.
func (n *Namespace) Revoke(name string) error {
	n.mu.Lock()
	if _, ok := n.fields[name]; !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	delete(n.fields, name)
	for i, existing := range n.order {
		if existing == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	n.mu.Unlock()

	n.notify(Change{URN: n.urn, Field: name, Revoked: true})
	return nil
}

// Names returns field names in creation order.
func (n *Namespace) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, len(n.order))
	copy(names, n.order)
	return names
}

// Snapshot returns copies of all fields in creation order.
func (n *Namespace) Snapshot() []Field {
	n.mu.RLock()
	defer n.mu.RUnlock()

	fields := make([]Field, 0, len(n.order))
	for _, name := range n.order {
		fields = append(fields, *n.fields[name])
	}
	return fields
}

func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.fields)
}

func (n *Namespace) notify(c Change) {
	for _, l := range n.listeners {
		l(c)
	}
}

func coerce(kind Kind, value interface{}) (interface{}, error) {
	switch kind {
	case KindUint32:
		switch v := value.(type) {
		case uint32:
			return v, nil
		case uint64:
			if v > 0xffffffff {
				return nil, fmt.Errorf("%w: %d overflows uint32", ErrTypeMismatch, v)
			}
			return uint32(v), nil
		case int:
			if v < 0 || uint64(v) > 0xffffffff {
				return nil, fmt.Errorf("%w: %d out of uint32 range", ErrTypeMismatch, v)
			}
			return uint32(v), nil
		}
	case KindUint64:
		switch v := value.(type) {
		case uint64:
			return v, nil
		case uint32:
			return uint64(v), nil
		case int:
			if v < 0 {
				return nil, fmt.Errorf("%w: %d is negative", ErrTypeMismatch, v)
			}
			return uint64(v), nil
		}
	case KindDouble:
		switch v := value.(type) {
		case float64:
			return v, nil
		case uint32:
			return float64(v), nil
		case uint64:
			return float64(v), nil
		}
	case KindString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %T for %s", ErrTypeMismatch, value, kind)
}
