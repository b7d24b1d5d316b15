package dialect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/peterldowns/modelmigrate/schema"
)

// alterSyntax is implemented by engines that can change tables in place with
// ALTER TABLE. alterDiffSQL orders the statements; the engine renders them.
type alterSyntax interface {
	Dialect
	createTable(t *schema.Table) ([]string, error)
	renameTable(from *schema.Table, newName string) []string
	addColumn(table string, c *schema.Column) ([]string, error)
	changeColumn(table string, from, to *schema.Column) ([]string, error)
	dropColumn(table, column string) string
	addPrimaryKey(table string, columns []string) string
	dropPrimaryKey(table string) string
	createIndex(table string, ix *schema.Index) string
	dropIndex(table string, ix *schema.Index) string
	renameIndex(table, oldName, newName string) string
	addForeignKey(table string, fk *schema.ForeignKey) string
	dropForeignKey(table, name string) string
	createNamespace(name string) (string, error)
	createSequence(seq *schema.Sequence) (string, error)
	alterSequence(seq *schema.Sequence) (string, error)
	dropSequence(seq *schema.Sequence) (string, error)
}

// alterDiffSQL renders a diff for an engine with ALTER TABLE support.
//
// Foreign keys are removed first and added last, so that every table,
// column and key they depend on can change in between.
func alterDiffSQL(a alterSyntax, diff *schema.Diff) ([]string, error) {
	if diff.From == nil || diff.To == nil {
		return nil, fmt.Errorf("diff is missing its schemas")
	}
	var out []string
	for _, ns := range diff.NewNamespaces {
		stmt, err := a.createNamespace(ns)
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	for _, fk := range diff.OrphanedForeignKeys {
		out = append(out, a.dropForeignKey(fk.LocalTable, fk.Name))
	}
	for _, td := range diff.ChangedTables {
		for _, fk := range slices.Concat(td.RemovedForeignKeys, td.ChangedForeignKeys) {
			out = append(out, a.dropForeignKey(td.Name, fk.Name))
		}
	}
	for _, t := range sortedTables(diff.NewTables) {
		stmts, err := a.createTable(t)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
		for _, ix := range t.Indexes {
			if !ix.Primary {
				out = append(out, a.createIndex(t.Name, ix))
			}
		}
	}
	for _, td := range diff.ChangedTables {
		stmts, err := alterTable(a, diff, td)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	removed := sortedTables(diff.RemovedTables)
	slices.Reverse(removed)
	for _, t := range removed {
		out = append(out, "DROP TABLE "+a.Quote(t.Name))
	}
	for _, t := range diff.NewTables {
		for _, fk := range t.ForeignKeys {
			out = append(out, a.addForeignKey(t.Name, fk))
		}
	}
	for _, td := range diff.ChangedTables {
		for _, fk := range slices.Concat(td.AddedForeignKeys, td.ChangedForeignKeys) {
			out = append(out, a.addForeignKey(td.CurrentName(), fk))
		}
	}
	sequences, err := sequenceSQL(a, diff)
	if err != nil {
		return nil, err
	}
	return append(out, sequences...), nil
}

func alterTable(a alterSyntax, diff *schema.Diff, td *schema.TableDiff) ([]string, error) {
	from, err := diff.From.Table(td.Name)
	if err != nil {
		return nil, err
	}
	var out []string
	name := td.Name
	if td.NewName != "" {
		out = append(out, a.renameTable(from, td.NewName)...)
		name = td.NewName
	}
	for _, ix := range td.RemovedIndexes {
		out = append(out, dropIndexSQL(a, name, ix))
	}
	for _, ix := range td.ChangedIndexes {
		old, ok := from.Index(ix.Name)
		if !ok {
			old = ix
		}
		out = append(out, dropIndexSQL(a, name, old))
	}
	for _, rc := range td.RenamedColumns {
		old, ok := from.Column(rc.OldName)
		if !ok {
			return nil, fmt.Errorf("column %q.%q: %w", td.Name, rc.OldName, schema.ErrNotFound)
		}
		stmts, err := a.changeColumn(name, old, rc.Column)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	for _, cd := range td.ChangedColumns {
		old, ok := from.Column(cd.OldName)
		if !ok {
			return nil, fmt.Errorf("column %q.%q: %w", td.Name, cd.OldName, schema.ErrNotFound)
		}
		stmts, err := a.changeColumn(name, old, cd.Column)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	for _, c := range td.AddedColumns {
		stmts, err := a.addColumn(name, c)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	for _, c := range td.RemovedColumns {
		out = append(out, a.dropColumn(name, c.Name))
	}
	for _, ix := range slices.Concat(td.AddedIndexes, td.ChangedIndexes) {
		if ix.Primary {
			out = append(out, a.addPrimaryKey(name, ix.Columns))
		} else {
			out = append(out, a.createIndex(name, ix))
		}
	}
	for _, ri := range td.RenamedIndexes {
		out = append(out, a.renameIndex(name, ri.OldName, ri.Index.Name))
	}
	return out, nil
}

func dropIndexSQL(a alterSyntax, table string, ix *schema.Index) string {
	if ix.Primary {
		return a.dropPrimaryKey(table)
	}
	return a.dropIndex(table, ix)
}

func sequenceSQL(a alterSyntax, diff *schema.Diff) ([]string, error) {
	var out []string
	add := func(stmt string, err error) error {
		if err != nil {
			return err
		}
		out = append(out, stmt)
		return nil
	}
	for _, seq := range diff.NewSequences {
		if err := add(a.createSequence(seq)); err != nil {
			return nil, err
		}
	}
	for _, seq := range diff.ChangedSequences {
		if err := add(a.alterSequence(seq)); err != nil {
			return nil, err
		}
	}
	for _, seq := range diff.RemovedSequences {
		if err := add(a.dropSequence(seq)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// createSQL renders a whole schema as a diff from an empty schema.
func createSQL(d Dialect, s *schema.Schema) ([]string, error) {
	return d.DiffSQL(schema.Compare(schema.New(s.Name), s))
}

// sortedTables orders tables so that referenced tables come first.
func sortedTables(tables []*schema.Table) []*schema.Table {
	return schema.Sort[string](slices.Clone(tables))
}

func quoteList(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = d.Quote(name)
	}
	return strings.Join(quoted, ", ")
}

// quoteWith quotes each dot-separated part of ident with q, doubling any q
// inside a part.
func quoteWith(q string, ident string) string {
	parts := strings.Split(ident, ".")
	for i, part := range parts {
		parts[i] = q + strings.ReplaceAll(part, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

func foreignKeyClause(d Dialect, fk *schema.ForeignKey) string {
	clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
		quoteList(d, fk.LocalColumns),
		d.Quote(fk.ForeignTable),
		quoteList(d, fk.ForeignColumns),
	)
	if fk.OnUpdate != "" {
		clause += " ON UPDATE " + fk.OnUpdate
	}
	if fk.OnDelete != "" {
		clause += " ON DELETE " + fk.OnDelete
	}
	return clause
}

// action maps the single-letter referential action codes used by postgres
// catalogs to their SQL spelling.
func action(code string) string {
	switch code {
	case "r":
		return schema.Restrict
	case "c":
		return schema.Cascade
	case "n":
		return schema.SetNull
	case "d":
		return "SET DEFAULT"
	}
	return schema.NoAction
}
