package model

import (
	"errors"
	"fmt"
)

// ErrCompositeIdentifier is returned when a single identifier is required but
// the entity declares several.
var ErrCompositeIdentifier = errors.New("entity has a composite identifier")

// UnresolvedTypeError is returned when a declared type is not a primitive,
// not a known entity, and not a registered value type.
type UnresolvedTypeError struct {
	Entity   string
	Property string
	Type     string
}

func (e *UnresolvedTypeError) Error() string {
	return fmt.Sprintf("%s.%s: unresolved type %q", e.Entity, e.Property, e.Type)
}

// MissingIdentifierError is returned for entities without an identifier
// property.
type MissingIdentifierError struct {
	Entity string
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("%s: no identifier property declared", e.Entity)
}
