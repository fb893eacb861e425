package internal

import (
	"github.com/google/uuid"
)

// stubEntity is a minimal HostEntity for registry tests.
type stubEntity struct {
	entityType string
	id         uuid.UUID
	code       string
	persisted  bool
}

func (e *stubEntity) EntityType() string     { return e.entityType }
func (e *stubEntity) EntityID() uuid.UUID    { return e.id }
func (e *stubEntity) SchemaCode() string     { return e.code }
func (e *stubEntity) SetSchemaCode(c string) { e.code = c }
func (e *stubEntity) Persisted() bool        { return e.persisted }
