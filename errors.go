package modelmigrate

import (
	"errors"
	"fmt"

	"github.com/peterldowns/modelmigrate/internal/builder"
	"github.com/peterldowns/modelmigrate/internal/compiler"
	"github.com/peterldowns/modelmigrate/internal/dialect"
	"github.com/peterldowns/modelmigrate/internal/script"
	"github.com/peterldowns/modelmigrate/model"
)

var (
	// ErrNotFound is returned by [Load] when no record has the identifier.
	ErrNotFound = errors.New("not found")
	// ErrNoChanges is returned when the entities already match the database,
	// so there is no migration to create.
	ErrNoChanges = errors.New("no changes")
)

// ConcurrentModificationError is returned by [Backend.Save] when the row of
// a record being updated no longer exists.
type ConcurrentModificationError struct {
	Entity string
	ID     any
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification: %s %v no longer exists", e.Entity, e.ID)
}

// Errors returned from the packages this one is built on, so that callers
// can match them with errors.As.
type (
	DataLossGuardError       = script.DataLossGuardError
	StructuralAmbiguityError = compiler.StructuralAmbiguityError
	UnsupportedError         = dialect.UnsupportedError
	UnknownColumnTypeError   = builder.UnknownColumnTypeError
	UnresolvedTypeError      = model.UnresolvedTypeError
	MissingIdentifierError   = model.MissingIdentifierError
)
