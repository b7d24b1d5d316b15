package schema

import (
	"fmt"
	"maps"
	"slices"
)

// Column types understood by every dialect.
const (
	TypeBoolean    = "boolean"
	TypeInteger    = "integer"
	TypeBigInt     = "bigint"
	TypeFloat      = "float"
	TypeString     = "string"
	TypeText       = "text"
	TypeArray      = "array"
	TypeBinary     = "binary"
	TypeDecimal    = "decimal"
	TypeDateTimeTZ = "datetimetz"
	TypeGUID       = "guid"
)

// Referential actions for foreign keys.
const (
	Cascade  = "CASCADE"
	SetNull  = "SET NULL"
	Restrict = "RESTRICT"
	NoAction = "NO ACTION"
)

// PrimaryIndexName is the name of the index that backs a table's primary key.
const PrimaryIndexName = "primary"

// Table is a set of columns with an optional primary key, indexes, foreign
// keys and free-form engine options.
type Table struct {
	Name        string
	Columns     []*Column
	PrimaryKey  []string
	Indexes     []*Index
	ForeignKeys []*ForeignKey
	Options     map[string]string
}

func NewTable(name string) *Table {
	return &Table{Name: name, Options: map[string]string{}}
}

func (t *Table) SortKey() string {
	return t.Name
}

func (t *Table) DependsOn() []string {
	var out []string
	for _, fk := range t.ForeignKeys {
		if fk.ForeignTable != t.Name {
			out = append(out, fk.ForeignTable)
		}
	}
	return out
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// AddColumn appends a column. Column names are unique per table.
func (t *Table) AddColumn(c Column) error {
	if _, ok := t.Column(c.Name); ok {
		return fmt.Errorf("column %q.%q: %w", t.Name, c.Name, ErrExists)
	}
	t.Columns = append(t.Columns, &c)
	return nil
}

// ChangeColumn replaces the definition of the column named oldName, keeping
// its position. If the definition carries a different name the column is
// renamed, and every index, primary key and foreign key that used the old
// name is updated.
func (t *Table) ChangeColumn(oldName string, c Column) error {
	idx := slices.IndexFunc(t.Columns, func(col *Column) bool { return col.Name == oldName })
	if idx < 0 {
		return fmt.Errorf("column %q.%q: %w", t.Name, oldName, ErrNotFound)
	}
	if c.Name == "" {
		c.Name = oldName
	}
	if c.Name != oldName {
		if _, ok := t.Column(c.Name); ok {
			return fmt.Errorf("column %q.%q: %w", t.Name, c.Name, ErrExists)
		}
		rename := func(names []string) {
			for i, n := range names {
				if n == oldName {
					names[i] = c.Name
				}
			}
		}
		rename(t.PrimaryKey)
		for _, ix := range t.Indexes {
			rename(ix.Columns)
		}
		for _, fk := range t.ForeignKeys {
			rename(fk.LocalColumns)
		}
	}
	t.Columns[idx] = &c
	return nil
}

// DropColumn removes a column.
func (t *Table) DropColumn(name string) error {
	idx := slices.IndexFunc(t.Columns, func(col *Column) bool { return col.Name == name })
	if idx < 0 {
		return fmt.Errorf("column %q.%q: %w", t.Name, name, ErrNotFound)
	}
	t.Columns = slices.Delete(t.Columns, idx, idx+1)
	return nil
}

// SetPrimaryKey sets the primary key columns and the index backing them.
func (t *Table) SetPrimaryKey(columns []string) error {
	if len(t.PrimaryKey) != 0 {
		return fmt.Errorf("primary key on %q: %w", t.Name, ErrExists)
	}
	for _, name := range columns {
		if _, ok := t.Column(name); !ok {
			return fmt.Errorf("primary key column %q.%q: %w", t.Name, name, ErrNotFound)
		}
	}
	t.PrimaryKey = slices.Clone(columns)
	t.Indexes = append(t.Indexes, &Index{
		Name:    PrimaryIndexName,
		Columns: slices.Clone(columns),
		Primary: true,
		Unique:  true,
	})
	return nil
}

// PrimaryIndex returns the index backing the primary key, if any.
func (t *Table) PrimaryIndex() (*Index, bool) {
	for _, ix := range t.Indexes {
		if ix.Primary {
			return ix, true
		}
	}
	return nil, false
}

// Index returns the named index.
func (t *Table) Index(name string) (*Index, bool) {
	for _, ix := range t.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return nil, false
}

// AddIndex adds an index. Adding a primary index sets the primary key.
func (t *Table) AddIndex(ix Index) error {
	if ix.Primary {
		return t.SetPrimaryKey(ix.Columns)
	}
	if _, ok := t.Index(ix.Name); ok {
		return fmt.Errorf("index %q on %q: %w", ix.Name, t.Name, ErrExists)
	}
	for _, name := range ix.Columns {
		if _, ok := t.Column(name); !ok {
			return fmt.Errorf("index %q column %q: %w", ix.Name, name, ErrNotFound)
		}
	}
	t.Indexes = append(t.Indexes, &ix)
	return nil
}

// DropIndex removes an index. Dropping the primary index clears the primary
// key.
func (t *Table) DropIndex(name string) error {
	idx := slices.IndexFunc(t.Indexes, func(ix *Index) bool { return ix.Name == name })
	if idx < 0 {
		return fmt.Errorf("index %q on %q: %w", name, t.Name, ErrNotFound)
	}
	if t.Indexes[idx].Primary {
		t.PrimaryKey = nil
	}
	t.Indexes = slices.Delete(t.Indexes, idx, idx+1)
	return nil
}

// RenameIndex renames an index.
func (t *Table) RenameIndex(oldName, newName string) error {
	ix, ok := t.Index(oldName)
	if !ok {
		return fmt.Errorf("index %q on %q: %w", oldName, t.Name, ErrNotFound)
	}
	if _, ok := t.Index(newName); ok {
		return fmt.Errorf("index %q on %q: %w", newName, t.Name, ErrExists)
	}
	ix.Name = newName
	return nil
}

// HasForeignKey reports whether a foreign key with the given name exists.
func (t *Table) HasForeignKey(name string) bool {
	_, ok := t.ForeignKey(name)
	return ok
}

// ForeignKey returns the named foreign key.
func (t *Table) ForeignKey(name string) (*ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Name == name {
			return fk, true
		}
	}
	return nil, false
}

// AddForeignKey adds a foreign key owned by this table.
func (t *Table) AddForeignKey(fk ForeignKey) error {
	if t.HasForeignKey(fk.Name) {
		return fmt.Errorf("foreign key %q on %q: %w", fk.Name, t.Name, ErrExists)
	}
	fk.LocalTable = t.Name
	t.ForeignKeys = append(t.ForeignKeys, &fk)
	return nil
}

// RemoveForeignKey removes a foreign key.
func (t *Table) RemoveForeignKey(name string) error {
	idx := slices.IndexFunc(t.ForeignKeys, func(fk *ForeignKey) bool { return fk.Name == name })
	if idx < 0 {
		return fmt.Errorf("foreign key %q on %q: %w", name, t.Name, ErrNotFound)
	}
	t.ForeignKeys = slices.Delete(t.ForeignKeys, idx, idx+1)
	return nil
}

// AddOption sets a free-form engine option.
func (t *Table) AddOption(name, value string) {
	if t.Options == nil {
		t.Options = map[string]string{}
	}
	t.Options[name] = value
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		Name:       t.Name,
		PrimaryKey: slices.Clone(t.PrimaryKey),
		Options:    maps.Clone(t.Options),
	}
	if out.Options == nil {
		out.Options = map[string]string{}
	}
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, c.Clone())
	}
	for _, ix := range t.Indexes {
		out.Indexes = append(out.Indexes, ix.Clone())
	}
	for _, fk := range t.ForeignKeys {
		out.ForeignKeys = append(out.ForeignKeys, fk.Clone())
	}
	return out
}

// Column is a single typed column.
type Column struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	NotNull       bool    `json:"notnull"`
	Default       *string `json:"default"`
	Length        int     `json:"length,omitempty"`
	Precision     int     `json:"precision,omitempty"`
	Scale         int     `json:"scale,omitempty"`
	Unsigned      bool    `json:"unsigned,omitempty"`
	Autoincrement bool    `json:"autoincrement,omitempty"`
	Version       bool    `json:"version,omitempty"`
	Comment       string  `json:"comment,omitempty"`
}

func (c *Column) Clone() *Column {
	out := *c
	if c.Default != nil {
		d := *c.Default
		out.Default = &d
	}
	return &out
}

// Index is a named index over an ordered list of columns.
type Index struct {
	Name    string            `json:"name"`
	Columns []string          `json:"columns"`
	Primary bool              `json:"primary,omitempty"`
	Unique  bool              `json:"unique,omitempty"`
	Flags   []string          `json:"flags,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

func (ix *Index) Clone() *Index {
	out := *ix
	out.Columns = slices.Clone(ix.Columns)
	out.Flags = slices.Clone(ix.Flags)
	out.Options = maps.Clone(ix.Options)
	return &out
}

// ForeignKey references columns of another table.
type ForeignKey struct {
	Name           string   `json:"name"`
	LocalTable     string   `json:"local_table"`
	LocalColumns   []string `json:"local_columns"`
	ForeignTable   string   `json:"foreign_table"`
	ForeignColumns []string `json:"foreign_columns"`
	OnUpdate       string   `json:"on_update,omitempty"`
	OnDelete       string   `json:"on_delete,omitempty"`
}

func (fk *ForeignKey) Clone() *ForeignKey {
	out := *fk
	out.LocalColumns = slices.Clone(fk.LocalColumns)
	out.ForeignColumns = slices.Clone(fk.ForeignColumns)
	return &out
}
