package schema

import (
	"maps"
	"slices"
)

// CompareOption configures [Compare].
type CompareOption func(*comparator)

// WithTableRenames tells Compare that tables were renamed (old name -> new
// name), so that they are diffed as renames instead of a drop and a create.
func WithTableRenames(renames map[string]string) CompareOption {
	return func(c *comparator) {
		maps.Copy(c.tableRenames, renames)
	}
}

// WithColumnRenames tells Compare that columns of a table (named as it is in
// the "to" schema) were renamed (old name -> new name).
func WithColumnRenames(table string, renames map[string]string) CompareOption {
	return func(c *comparator) {
		if c.columnRenames[table] == nil {
			c.columnRenames[table] = map[string]string{}
		}
		maps.Copy(c.columnRenames[table], renames)
	}
}

type comparator struct {
	tableRenames  map[string]string
	columnRenames map[string]map[string]string
}

// Compare returns the changes needed to turn from into to. Objects are
// visited in the order they appear in to (for additions and changes) and in
// from (for removals), so the result is deterministic.
func Compare(from, to *Schema, opts ...CompareOption) *Diff {
	c := &comparator{
		tableRenames:  map[string]string{},
		columnRenames: map[string]map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	diff := &Diff{From: from, To: to}

	for _, ns := range to.Namespaces {
		if !from.HasNamespace(ns) {
			diff.NewNamespaces = append(diff.NewNamespaces, ns)
		}
	}

	renamedFrom := map[string]string{} // new name -> old name
	for oldName, newName := range c.tableRenames {
		if from.HasTable(oldName) && to.HasTable(newName) && !to.HasTable(oldName) {
			renamedFrom[newName] = oldName
		}
	}
	matched := map[string]bool{}
	for _, toTable := range to.Tables {
		oldName := toTable.Name
		if renamed, ok := renamedFrom[toTable.Name]; ok {
			oldName = renamed
		}
		fromTable, err := from.Table(oldName)
		if err != nil {
			diff.NewTables = append(diff.NewTables, toTable)
			continue
		}
		matched[fromTable.Name] = true
		if td := c.compareTables(fromTable, toTable); !td.Empty() {
			diff.ChangedTables = append(diff.ChangedTables, td)
		}
	}
	removed := map[string]bool{}
	for _, fromTable := range from.Tables {
		if !matched[fromTable.Name] {
			diff.RemovedTables = append(diff.RemovedTables, fromTable)
			removed[fromTable.Name] = true
		}
	}

	for _, fromTable := range from.Tables {
		if removed[fromTable.Name] {
			continue
		}
		for _, fk := range fromTable.ForeignKeys {
			if !removed[fk.ForeignTable] {
				continue
			}
			diff.OrphanedForeignKeys = append(diff.OrphanedForeignKeys, fk)
			for _, td := range diff.ChangedTables {
				if td.Name != fromTable.Name {
					continue
				}
				sameName := func(other *ForeignKey) bool {
					return other.Name == fk.Name
				}
				td.RemovedForeignKeys = slices.DeleteFunc(td.RemovedForeignKeys, sameName)
				// A retargeted key is already gone once the orphan is
				// removed, so its new definition is an addition.
				if i := slices.IndexFunc(td.ChangedForeignKeys, sameName); i >= 0 {
					td.AddedForeignKeys = append(td.AddedForeignKeys, td.ChangedForeignKeys[i])
					td.ChangedForeignKeys = slices.Delete(td.ChangedForeignKeys, i, i+1)
				}
			}
		}
	}
	diff.ChangedTables = slices.DeleteFunc(diff.ChangedTables, (*TableDiff).Empty)

	for _, seq := range to.Sequences {
		existing, err := from.Sequence(seq.Name)
		if err != nil {
			diff.NewSequences = append(diff.NewSequences, seq)
			continue
		}
		if existing.IncrementSize != seq.IncrementSize || existing.StartValue != seq.StartValue {
			diff.ChangedSequences = append(diff.ChangedSequences, seq)
		}
	}
	for _, seq := range from.Sequences {
		if _, err := to.Sequence(seq.Name); err != nil {
			diff.RemovedSequences = append(diff.RemovedSequences, seq)
		}
	}
	return diff
}

func (c *comparator) compareTables(from, to *Table) *TableDiff {
	td := &TableDiff{Name: from.Name}
	if to.Name != from.Name {
		td.NewName = to.Name
	}

	renamedFrom := map[string]string{} // new name -> old name
	for oldName, newName := range c.columnRenames[to.Name] {
		renamedFrom[newName] = oldName
	}
	matched := map[string]bool{}
	for _, col := range to.Columns {
		oldName := col.Name
		if renamed, ok := renamedFrom[col.Name]; ok {
			oldName = renamed
		}
		fromCol, ok := from.Column(oldName)
		if !ok {
			td.AddedColumns = append(td.AddedColumns, col)
			continue
		}
		matched[fromCol.Name] = true
		changes := ColumnChanges(fromCol, col)
		switch {
		case oldName != col.Name && len(changes) == 0:
			td.RenamedColumns = append(td.RenamedColumns, &RenamedColumn{OldName: oldName, Column: col})
		case len(changes) != 0:
			td.ChangedColumns = append(td.ChangedColumns, &ColumnDiff{
				OldName:           oldName,
				Column:            col,
				ChangedProperties: changes,
			})
		}
	}
	for _, col := range from.Columns {
		if !matched[col.Name] {
			td.RemovedColumns = append(td.RemovedColumns, col)
		}
	}
	detectColumnRenames(td)

	for _, ix := range to.Indexes {
		fromIx, ok := from.Index(ix.Name)
		if !ok {
			td.AddedIndexes = append(td.AddedIndexes, ix)
			continue
		}
		if !SameIndex(fromIx, ix) {
			td.ChangedIndexes = append(td.ChangedIndexes, ix)
		}
	}
	for _, ix := range from.Indexes {
		if _, ok := to.Index(ix.Name); !ok {
			td.RemovedIndexes = append(td.RemovedIndexes, ix)
		}
	}
	detectIndexRenames(td)

	for _, fk := range to.ForeignKeys {
		fromFK, ok := from.ForeignKey(fk.Name)
		if !ok {
			td.AddedForeignKeys = append(td.AddedForeignKeys, fk)
			continue
		}
		if !c.sameForeignKey(fromFK, fk) {
			td.ChangedForeignKeys = append(td.ChangedForeignKeys, fk)
		}
	}
	for _, fk := range from.ForeignKeys {
		if !to.HasForeignKey(fk.Name) {
			td.RemovedForeignKeys = append(td.RemovedForeignKeys, fk)
		}
	}
	return td
}

// detectColumnRenames turns an added column and a removed column into a
// rename when they are each other's only match.
func detectColumnRenames(td *TableDiff) {
	candidates := map[string][]*Column{} // added name -> removed columns
	uses := map[string]int{}             // removed name -> number of matches
	for _, added := range td.AddedColumns {
		for _, removed := range td.RemovedColumns {
			if len(ColumnChanges(removed, added)) == 0 {
				candidates[added.Name] = append(candidates[added.Name], removed)
				uses[removed.Name]++
			}
		}
	}
	renamed := map[string]bool{}
	td.AddedColumns = slices.DeleteFunc(td.AddedColumns, func(added *Column) bool {
		matches := candidates[added.Name]
		if len(matches) != 1 || uses[matches[0].Name] != 1 {
			return false
		}
		td.RenamedColumns = append(td.RenamedColumns, &RenamedColumn{OldName: matches[0].Name, Column: added})
		renamed[matches[0].Name] = true
		return true
	})
	td.RemovedColumns = slices.DeleteFunc(td.RemovedColumns, func(c *Column) bool {
		return renamed[c.Name]
	})
}

// detectIndexRenames turns an added index and a removed index with the same
// definition into a rename when they are each other's only match. Primary
// indexes are never renamed.
func detectIndexRenames(td *TableDiff) {
	candidates := map[string][]*Index{}
	uses := map[string]int{}
	for _, added := range td.AddedIndexes {
		if added.Primary {
			continue
		}
		for _, removed := range td.RemovedIndexes {
			if removed.Primary {
				continue
			}
			if sameIndexDefinition(removed, added) {
				candidates[added.Name] = append(candidates[added.Name], removed)
				uses[removed.Name]++
			}
		}
	}
	renamed := map[string]bool{}
	td.AddedIndexes = slices.DeleteFunc(td.AddedIndexes, func(added *Index) bool {
		matches := candidates[added.Name]
		if len(matches) != 1 || uses[matches[0].Name] != 1 {
			return false
		}
		td.RenamedIndexes = append(td.RenamedIndexes, &RenamedIndex{OldName: matches[0].Name, Index: added})
		renamed[matches[0].Name] = true
		return true
	})
	td.RemovedIndexes = slices.DeleteFunc(td.RemovedIndexes, func(ix *Index) bool {
		return renamed[ix.Name]
	})
}

// ColumnChanges lists the attributes that differ between two column
// definitions. Names are not compared.
func ColumnChanges(a, b *Column) []string {
	var changes []string
	if a.Type != b.Type {
		changes = append(changes, "type")
	}
	if a.NotNull != b.NotNull {
		changes = append(changes, "notnull")
	}
	if !sameDefault(a.Default, b.Default) {
		changes = append(changes, "default")
	}
	switch b.Type {
	case TypeString, TypeBinary:
		if a.Length != b.Length {
			changes = append(changes, "length")
		}
	case TypeDecimal:
		if a.Precision != b.Precision {
			changes = append(changes, "precision")
		}
		if a.Scale != b.Scale {
			changes = append(changes, "scale")
		}
	}
	if a.Unsigned != b.Unsigned {
		changes = append(changes, "unsigned")
	}
	if a.Autoincrement != b.Autoincrement {
		changes = append(changes, "autoincrement")
	}
	if a.Version != b.Version {
		changes = append(changes, "version")
	}
	if a.Comment != b.Comment {
		changes = append(changes, "comment")
	}
	return changes
}

func sameDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SameIndex reports whether two indexes are identical, including their names.
func SameIndex(a, b *Index) bool {
	return a.Name == b.Name && sameIndexDefinition(a, b)
}

func sameIndexDefinition(a, b *Index) bool {
	return slices.Equal(a.Columns, b.Columns) &&
		a.Primary == b.Primary &&
		a.Unique == b.Unique &&
		sameSet(a.Flags, b.Flags) &&
		maps.Equal(a.Options, b.Options)
}

func (c *comparator) sameForeignKey(a, b *ForeignKey) bool {
	foreignTable := a.ForeignTable
	if renamed, ok := c.tableRenames[foreignTable]; ok {
		foreignTable = renamed
	}
	return foreignTable == b.ForeignTable &&
		slices.Equal(a.LocalColumns, b.LocalColumns) &&
		slices.Equal(a.ForeignColumns, b.ForeignColumns) &&
		NormalizeAction(a.OnUpdate) == NormalizeAction(b.OnUpdate) &&
		NormalizeAction(a.OnDelete) == NormalizeAction(b.OnDelete)
}

// NormalizeAction maps the implicit default referential action to NO ACTION.
func NormalizeAction(action string) string {
	if action == "" {
		return NoAction
	}
	return action
}

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
