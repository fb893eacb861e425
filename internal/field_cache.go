package internal

import (
	"sync"

	"github.com/lychee-technology/flexy"
)

// fieldCache memoizes field definition lists per (entity type, schema code).
// Populated on first read, invalidated by any mutation of the owning schema.
type fieldCache struct {
	mu     sync.RWMutex
	fields map[fieldCacheKey][]*flexy.FieldDefinition
}

type fieldCacheKey struct {
	entityType string
	schemaCode string
}

func newFieldCache() *fieldCache {
	return &fieldCache{fields: make(map[fieldCacheKey][]*flexy.FieldDefinition)}
}

// get returns a copy to prevent external mutations of the cached slice.
func (c *fieldCache) get(entityType, schemaCode string) ([]*flexy.FieldDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs, ok := c.fields[fieldCacheKey{entityType, schemaCode}]
	if !ok {
		return nil, false
	}
	out := make([]*flexy.FieldDefinition, len(defs))
	copy(out, defs)
	return out, true
}

func (c *fieldCache) put(entityType, schemaCode string, defs []*flexy.FieldDefinition) {
	stored := make([]*flexy.FieldDefinition, len(defs))
	copy(stored, defs)
	c.mu.Lock()
	c.fields[fieldCacheKey{entityType, schemaCode}] = stored
	c.mu.Unlock()
}

func (c *fieldCache) invalidate(entityType, schemaCode string) {
	c.mu.Lock()
	delete(c.fields, fieldCacheKey{entityType, schemaCode})
	c.mu.Unlock()
}
