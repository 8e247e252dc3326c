package result

import (
	"fmt"
	"sync"
)

// Union maps payloads whose concrete shape is chosen by a discriminator
// field, such as a message whose "type" is "chat", "image" or "location".
// Each tag has its own mapper; payloads with an unregistered tag go to
// the fallback, or fail when there is none.
type Union[T any] struct {
	field    string
	mu       sync.RWMutex
	variants map[string]Mapper[T]
	fallback Mapper[T]
}

// NewUnion creates a Union keyed by field
func NewUnion[T any](field string) *Union[T] {
	return &Union[T]{field: field, variants: make(map[string]Mapper[T])}
}

// Register sets the mapper for payloads tagged tag
func (u *Union[T]) Register(tag string, mapper Mapper[T]) *Union[T] {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.variants[tag] = mapper
	return u
}

// Fallback sets the mapper for payloads with an unknown or missing tag
func (u *Union[T]) Fallback(mapper Mapper[T]) *Union[T] {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fallback = mapper
	return u
}

// Map selects the variant for raw and applies it
func (u *Union[T]) Map(raw any) (T, error) {
	var zero T
	m, ok := raw.(map[string]any)
	if !ok {
		return zero, fmt.Errorf("payload of type %T has no %q discriminator", raw, u.field)
	}
	tag, _ := m[u.field].(string)

	u.mu.RLock()
	mapper, ok := u.variants[tag]
	if !ok {
		mapper = u.fallback
	}
	u.mu.RUnlock()

	if mapper == nil {
		return zero, fmt.Errorf("no variant registered for %s %q", u.field, tag)
	}
	return mapper(raw)
}

// Mapper returns u.Map as a Mapper for handle constructors
func (u *Union[T]) Mapper() Mapper[T] {
	return u.Map
}
