// Package compiler converts a [schema.Diff] into an ordered list of
// engine-independent operations. Destructive changes are always preceded by
// a data-loss guard that aborts the migration until someone removes it.
package compiler

import (
	"fmt"
	"maps"
	"slices"

	"github.com/peterldowns/modelmigrate/schema"
)

// Guard messages.
const (
	GuardDropTable        = "Dropping a table will lead to data loss. Migrate your data and remove this guard."
	GuardRenameTable      = "Renaming a table will probably lead to data loss. Use your database engine's rename query and remove this guard."
	GuardDropColumn       = "Dropping a column will lead to data loss. Migrate your data and remove this guard."
	GuardChangeColumn     = "Changing a column may lead to data loss. Check your changes and remove this guard."
	GuardRenameColumn     = "Renaming a column may lead to data loss. Migrate your data and remove this guard."
	GuardDropPrimaryKey   = "Dropping a primary key may lead to data loss. Check your changes and remove this guard."
	GuardChangePrimaryKey = "Changing a primary key may lead to data loss. Check your changes and remove this guard."
)

// StructuralAmbiguityError is returned when a diff cannot be compiled into
// a single unambiguous sequence of operations.
type StructuralAmbiguityError struct {
	Table  string
	Reason string
}

func (e *StructuralAmbiguityError) Error() string {
	if e.Table == "" {
		return "ambiguous schema change: " + e.Reason
	}
	return fmt.Sprintf("ambiguous schema change to %q: %s", e.Table, e.Reason)
}

// Compile returns the operations that transform diff.From into diff.To.
//
// The down sequence is always empty: destructive changes are guarded, so
// reversing them automatically is never safe.
//
// Compile either returns the complete sequence or an error, never a partial
// sequence. It does not modify diff.
func Compile(diff *schema.Diff) (up []Operation, down []Operation, err error) {
	c := &compiler{diff: diff}
	if err := c.compile(); err != nil {
		return nil, nil, err
	}
	return c.ops, []Operation{}, nil
}

type compiler struct {
	diff *schema.Diff
	ops  []Operation
}

func (c *compiler) emit(kind Kind, table string, args ...any) {
	c.ops = append(c.ops, Operation{Kind: kind, Table: table, Args: args})
}

func (c *compiler) guard(message string) {
	c.emit(RaiseDataLossGuard, "", message)
}

func (c *compiler) compile() error {
	d := c.diff
	for _, ns := range d.NewNamespaces {
		c.emit(CreateNamespace, "", ns)
	}
	for _, fk := range d.OrphanedForeignKeys {
		c.emit(DetachForeignKey, fk.LocalTable, fk.LocalTable)
		c.emit(RemoveForeignKey, fk.LocalTable, fk.Name)
	}
	for _, t := range d.NewTables {
		if err := c.createTable(t); err != nil {
			return err
		}
	}
	for _, t := range d.RemovedTables {
		c.guard(GuardDropTable)
		c.emit(DropTable, "", t.Name)
	}
	for _, td := range d.ChangedTables {
		if err := c.alterTable(td); err != nil {
			return err
		}
	}
	for _, seq := range d.NewSequences {
		c.emit(CreateSequence, "", seq.Name, seq.IncrementSize, seq.StartValue)
	}
	for _, seq := range d.ChangedSequences {
		c.emit(AlterSequence, "", seq.Name, seq.IncrementSize, seq.StartValue)
	}
	for _, seq := range d.RemovedSequences {
		c.emit(DropSequence, "", seq.Name)
	}
	return nil
}

func (c *compiler) createTable(t *schema.Table) error {
	name := t.Name
	c.emit(CreateTable, name, name)
	for _, key := range slices.Sorted(maps.Keys(t.Options)) {
		c.emit(AddOption, name, key, t.Options[key])
	}
	for _, col := range t.Columns {
		c.emit(AddColumn, name, col.Name, col.Type, *col.Clone())
	}
	for _, ix := range t.Indexes {
		if ix.Primary {
			c.emit(SetPrimaryKey, name, slices.Clone(t.PrimaryKey))
		} else if !t.HasForeignKey(ix.Name) {
			c.emit(AddIndex, name, *ix.Clone())
		}
	}
	for _, fk := range t.ForeignKeys {
		if err := c.checkForeignKey(name, fk); err != nil {
			return err
		}
		c.emit(AddForeignKey, name, *fk.Clone())
	}
	return nil
}

func (c *compiler) alterTable(td *schema.TableDiff) error {
	if err := c.checkTableDiff(td); err != nil {
		return err
	}
	working := td.Name
	if td.NewName != "" && td.NewName != td.Name {
		c.guard(GuardRenameTable)
		c.emit(RenameTable, "", td.Name, td.NewName)
		working = td.NewName
	}

	for _, col := range td.AddedColumns {
		c.emit(AddColumn, working, col.Name, col.Type, *col.Clone())
	}
	for _, col := range td.RemovedColumns {
		c.guard(GuardDropColumn)
		c.emit(DropColumn, working, col.Name)
	}
	for _, cd := range td.ChangedColumns {
		c.guard(GuardChangeColumn)
		c.emit(ChangeColumn, working, cd.OldName, *cd.Column.Clone())
	}
	for _, rc := range td.RenamedColumns {
		c.guard(GuardRenameColumn)
		c.emit(ChangeColumn, working, rc.OldName, *rc.Column.Clone())
	}

	for _, ix := range td.AddedIndexes {
		if ix.Primary {
			c.emit(SetPrimaryKey, working, c.primaryKey(working, ix))
			continue
		}
		c.emit(AddIndex, working, *ix.Clone())
	}
	for _, ix := range td.ChangedIndexes {
		if ix.Primary {
			c.guard(GuardChangePrimaryKey)
			c.emit(DropIndex, working, ix.Name)
			c.emit(SetPrimaryKey, working, c.primaryKey(working, ix))
			continue
		}
		c.emit(DropIndex, working, ix.Name)
		c.emit(AddIndex, working, *ix.Clone())
	}
	for _, ix := range td.RemovedIndexes {
		if ix.Primary {
			c.guard(GuardDropPrimaryKey)
		}
		c.emit(DropIndex, working, ix.Name)
	}
	for _, ri := range td.RenamedIndexes {
		c.emit(RenameIndex, working, ri.OldName, ri.Index.Name)
	}

	for _, fk := range td.AddedForeignKeys {
		if err := c.checkForeignKey(working, fk); err != nil {
			return err
		}
		c.emit(AddForeignKey, working, *fk.Clone())
	}
	for _, fk := range td.ChangedForeignKeys {
		if err := c.checkForeignKey(working, fk); err != nil {
			return err
		}
		c.emit(RemoveForeignKey, working, fk.Name)
		c.emit(AddForeignKey, working, *fk.Clone())
	}
	for _, fk := range td.RemovedForeignKeys {
		c.emit(RemoveForeignKey, working, fk.Name)
	}
	return nil
}

// primaryKey returns the primary key columns of the target table, which are
// authoritative over the columns of the index that backs them.
func (c *compiler) primaryKey(table string, ix *schema.Index) []string {
	if c.diff.To != nil {
		if t, err := c.diff.To.Table(table); err == nil && len(t.PrimaryKey) > 0 {
			return slices.Clone(t.PrimaryKey)
		}
	}
	return slices.Clone(ix.Columns)
}

func (c *compiler) checkTableDiff(td *schema.TableDiff) error {
	ambiguous := func(format string, args ...any) error {
		return &StructuralAmbiguityError{Table: td.Name, Reason: fmt.Sprintf(format, args...)}
	}

	changed := map[string]bool{}
	for _, cd := range td.ChangedColumns {
		changed[cd.OldName] = true
		changed[cd.Column.Name] = true
	}
	for _, rc := range td.RenamedColumns {
		if changed[rc.OldName] || changed[rc.Column.Name] {
			return ambiguous("column %q is both changed and renamed", rc.OldName)
		}
	}

	primaries := 0
	for _, list := range [][]*schema.Index{td.AddedIndexes, td.ChangedIndexes, td.RemovedIndexes} {
		for _, ix := range list {
			if ix.Primary {
				primaries++
			}
		}
	}
	for _, ri := range td.RenamedIndexes {
		if ri.Index.Primary {
			return ambiguous("primary key index %q cannot be renamed", ri.OldName)
		}
	}
	if primaries > 1 {
		return ambiguous("primary key is changed more than once")
	}
	return nil
}

func (c *compiler) checkForeignKey(table string, fk *schema.ForeignKey) error {
	if c.diff.To == nil || fk.ForeignTable == table || c.diff.To.HasTable(fk.ForeignTable) {
		return nil
	}
	return &StructuralAmbiguityError{
		Table:  table,
		Reason: fmt.Sprintf("foreign key %q references missing table %q", fk.Name, fk.ForeignTable),
	}
}
