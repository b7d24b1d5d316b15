package schema

// Diff is the structural delta between a "from" and a "to" schema.
type Diff struct {
	From *Schema
	To   *Schema

	NewNamespaces []string

	NewTables     []*Table
	RemovedTables []*Table
	ChangedTables []*TableDiff

	NewSequences     []*Sequence
	ChangedSequences []*Sequence
	RemovedSequences []*Sequence

	// OrphanedForeignKeys are foreign keys of surviving tables that point at
	// a removed table. They must be detached before the table is dropped.
	OrphanedForeignKeys []*ForeignKey
}

// Empty reports whether applying the diff would change nothing.
func (d *Diff) Empty() bool {
	return len(d.NewNamespaces) == 0 &&
		len(d.NewTables) == 0 &&
		len(d.RemovedTables) == 0 &&
		len(d.ChangedTables) == 0 &&
		len(d.NewSequences) == 0 &&
		len(d.ChangedSequences) == 0 &&
		len(d.RemovedSequences) == 0 &&
		len(d.OrphanedForeignKeys) == 0
}

// TableDiff describes the changes to a single table. NewName is empty unless
// the table is renamed.
type TableDiff struct {
	Name    string
	NewName string

	AddedColumns   []*Column
	RemovedColumns []*Column
	ChangedColumns []*ColumnDiff
	RenamedColumns []*RenamedColumn

	AddedIndexes   []*Index
	ChangedIndexes []*Index
	RemovedIndexes []*Index
	RenamedIndexes []*RenamedIndex

	AddedForeignKeys   []*ForeignKey
	ChangedForeignKeys []*ForeignKey
	RemovedForeignKeys []*ForeignKey
}

// Empty reports whether the table diff carries no changes.
func (d *TableDiff) Empty() bool {
	return d.NewName == "" &&
		len(d.AddedColumns) == 0 &&
		len(d.RemovedColumns) == 0 &&
		len(d.ChangedColumns) == 0 &&
		len(d.RenamedColumns) == 0 &&
		len(d.AddedIndexes) == 0 &&
		len(d.ChangedIndexes) == 0 &&
		len(d.RemovedIndexes) == 0 &&
		len(d.RenamedIndexes) == 0 &&
		len(d.AddedForeignKeys) == 0 &&
		len(d.ChangedForeignKeys) == 0 &&
		len(d.RemovedForeignKeys) == 0
}

// CurrentName is the name the table has once the diff is applied.
func (d *TableDiff) CurrentName() string {
	if d.NewName != "" {
		return d.NewName
	}
	return d.Name
}

// ColumnDiff is a changed column: the name it had before, its new definition
// and the attributes that differ.
type ColumnDiff struct {
	OldName           string
	Column            *Column
	ChangedProperties []string
}

// RenamedColumn is a column whose definition is unchanged apart from its name.
type RenamedColumn struct {
	OldName string
	Column  *Column
}

// RenamedIndex is an index whose definition is unchanged apart from its name.
type RenamedIndex struct {
	OldName string
	Index   *Index
}
