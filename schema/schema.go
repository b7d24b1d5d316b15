// Package schema is the engine-independent, in-memory representation of a
// database schema: tables, columns, indexes, foreign keys, sequences and
// namespaces. Schemas are built from models, introspected from live
// databases, mutated by replaying migration statements, and compared with
// [Compare] to produce a [Diff].
package schema

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNotFound is wrapped by every lookup that fails to find an object.
	ErrNotFound = errors.New("not found")
	// ErrExists is wrapped when an object with the same name already exists.
	ErrExists = errors.New("already exists")
)

// Schema is a named collection of tables, sequences and namespaces. Table
// names are unique within a schema.
type Schema struct {
	Name       string
	Namespaces []string
	Tables     []*Table
	Sequences  []*Sequence
}

// New returns an empty schema.
func New(name string) *Schema {
	return &Schema{Name: name}
}

// HasTable reports whether a table with the given name exists.
func (s *Schema) HasTable(name string) bool {
	_, err := s.Table(name)
	return err == nil
}

// Table returns the table with the given name.
func (s *Schema) Table(name string) (*Table, error) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("table %q: %w", name, ErrNotFound)
}

// CreateTable adds a new, empty table to the schema and returns it.
func (s *Schema) CreateTable(name string) (*Table, error) {
	if s.HasTable(name) {
		return nil, fmt.Errorf("table %q: %w", name, ErrExists)
	}
	t := NewTable(name)
	s.Tables = append(s.Tables, t)
	return t, nil
}

// AddTable adds an already-constructed table to the schema.
func (s *Schema) AddTable(t *Table) error {
	if s.HasTable(t.Name) {
		return fmt.Errorf("table %q: %w", t.Name, ErrExists)
	}
	s.Tables = append(s.Tables, t)
	return nil
}

// PutTable replaces the table with the same name, keeping its position, or
// appends t when no such table exists.
func (s *Schema) PutTable(t *Table) {
	for i, existing := range s.Tables {
		if existing.Name == t.Name {
			s.Tables[i] = t
			return
		}
	}
	s.Tables = append(s.Tables, t)
}

// DropTable removes a table from the schema.
func (s *Schema) DropTable(name string) error {
	for i, t := range s.Tables {
		if t.Name == name {
			s.Tables = slices.Delete(s.Tables, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("table %q: %w", name, ErrNotFound)
}

// RenameTable renames a table. Foreign keys anywhere in the schema that
// reference the table by its old name are updated to the new name.
func (s *Schema) RenameTable(oldName, newName string) error {
	t, err := s.Table(oldName)
	if err != nil {
		return err
	}
	if s.HasTable(newName) {
		return fmt.Errorf("table %q: %w", newName, ErrExists)
	}
	t.Name = newName
	for _, other := range s.Tables {
		for _, fk := range other.ForeignKeys {
			if fk.ForeignTable == oldName {
				fk.ForeignTable = newName
			}
			if fk.LocalTable == oldName {
				fk.LocalTable = newName
			}
		}
	}
	return nil
}

// ChangeColumn changes a column of a table, see [Table.ChangeColumn]. When
// the column is renamed, foreign keys anywhere in the schema that reference
// it are updated to the new name.
func (s *Schema) ChangeColumn(table, oldName string, c Column) error {
	t, err := s.Table(table)
	if err != nil {
		return err
	}
	if err := t.ChangeColumn(oldName, c); err != nil {
		return err
	}
	if c.Name == "" || c.Name == oldName {
		return nil
	}
	for _, other := range s.Tables {
		for _, fk := range other.ForeignKeys {
			if fk.ForeignTable != table {
				continue
			}
			for i, n := range fk.ForeignColumns {
				if n == oldName {
					fk.ForeignColumns[i] = c.Name
				}
			}
		}
	}
	return nil
}

// HasNamespace reports whether the namespace exists.
func (s *Schema) HasNamespace(name string) bool {
	return slices.Contains(s.Namespaces, name)
}

// CreateNamespace adds a namespace.
func (s *Schema) CreateNamespace(name string) error {
	if s.HasNamespace(name) {
		return fmt.Errorf("namespace %q: %w", name, ErrExists)
	}
	s.Namespaces = append(s.Namespaces, name)
	return nil
}

// Sequence returns the sequence with the given name.
func (s *Schema) Sequence(name string) (*Sequence, error) {
	for _, seq := range s.Sequences {
		if seq.Name == name {
			return seq, nil
		}
	}
	return nil, fmt.Errorf("sequence %q: %w", name, ErrNotFound)
}

// CreateSequence adds a sequence to the schema.
func (s *Schema) CreateSequence(name string, incrementSize, startValue int64) (*Sequence, error) {
	if _, err := s.Sequence(name); err == nil {
		return nil, fmt.Errorf("sequence %q: %w", name, ErrExists)
	}
	seq := &Sequence{Name: name, IncrementSize: incrementSize, StartValue: startValue}
	s.Sequences = append(s.Sequences, seq)
	return seq, nil
}

// AlterSequence changes the increment and start value of a sequence.
func (s *Schema) AlterSequence(name string, incrementSize, startValue int64) error {
	seq, err := s.Sequence(name)
	if err != nil {
		return err
	}
	seq.IncrementSize = incrementSize
	seq.StartValue = startValue
	return nil
}

// DropSequence removes a sequence from the schema.
func (s *Schema) DropSequence(name string) error {
	for i, seq := range s.Sequences {
		if seq.Name == name {
			s.Sequences = slices.Delete(s.Sequences, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("sequence %q: %w", name, ErrNotFound)
}

// Sorted returns the tables ordered so that every table comes after the
// tables its foreign keys reference.
func (s *Schema) Sorted() []*Table {
	return Sort[string](slices.Clone(s.Tables))
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		Name:       s.Name,
		Namespaces: slices.Clone(s.Namespaces),
		Tables:     make([]*Table, 0, len(s.Tables)),
		Sequences:  make([]*Sequence, 0, len(s.Sequences)),
	}
	for _, t := range s.Tables {
		out.Tables = append(out.Tables, t.Clone())
	}
	for _, seq := range s.Sequences {
		c := *seq
		out.Sequences = append(out.Sequences, &c)
	}
	return out
}

// Sequence is a named number generator.
type Sequence struct {
	Name          string
	IncrementSize int64
	StartValue    int64
}
