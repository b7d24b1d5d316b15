package script

import (
	"fmt"

	"github.com/peterldowns/modelmigrate/schema"
)

// DataLossGuardError is returned when replay reaches a migration.Abort
// statement. The statement guards a destructive change; an operator must
// review the change and remove the guard before the migration can run.
type DataLossGuardError struct {
	Message string
}

func (e *DataLossGuardError) Error() string {
	return "data loss guard: " + e.Message
}

// Replayer applies statements to a schema, keeping track of the working
// table and of every table and column rename it performs.
type Replayer struct {
	Schema *schema.Schema

	table         *schema.Table
	tableRenames  map[string]string
	columnRenames map[string]map[string]string
}

// NewReplayer returns a replayer that modifies s in place.
func NewReplayer(s *schema.Schema) *Replayer {
	return &Replayer{
		Schema:        s,
		tableRenames:  map[string]string{},
		columnRenames: map[string]map[string]string{},
	}
}

// Replay applies statements to s.
func Replay(s *schema.Schema, stmts []Statement) error {
	return NewReplayer(s).Apply(stmts...)
}

// Apply applies statements in order, stopping at the first error.
func (r *Replayer) Apply(stmts ...Statement) error {
	for i, stmt := range stmts {
		if err := r.apply(stmt); err != nil {
			return fmt.Errorf("statement %d (%s.%s): %w", i+1, stmt.Target, stmt.Method, err)
		}
	}
	return nil
}

// CompareOptions returns the rename hints collected so far, for use with
// [schema.Compare] when comparing the original schema with the replayed one.
func (r *Replayer) CompareOptions() []schema.CompareOption {
	opts := []schema.CompareOption{schema.WithTableRenames(r.tableRenames)}
	for table, renames := range r.columnRenames {
		opts = append(opts, schema.WithColumnRenames(table, renames))
	}
	return opts
}

func (r *Replayer) apply(stmt Statement) error {
	args := arguments(stmt.Args)
	if stmt.Assign != "" && (stmt.Assign != TargetTable || stmt.Target != TargetSchema) {
		return fmt.Errorf("cannot assign to %q", stmt.Assign)
	}
	switch stmt.Target {
	case TargetMigration:
		if stmt.Method != "Abort" {
			break
		}
		msg, err := args.stringAt(0)
		if err != nil {
			return err
		}
		return &DataLossGuardError{Message: msg}
	case TargetSchema:
		return r.applySchema(stmt, args)
	case TargetTable:
		if r.table == nil {
			return fmt.Errorf("no table selected")
		}
		return r.applyTable(stmt, args)
	}
	return fmt.Errorf("unknown statement %s.%s", stmt.Target, stmt.Method)
}

func (r *Replayer) applySchema(stmt Statement, args arguments) error {
	s := r.Schema
	name, err := args.stringAt(0)
	if err != nil {
		return err
	}
	switch stmt.Method {
	case "Table", "CreateTable":
		if stmt.Assign == "" {
			return fmt.Errorf("result of schema.%s must be assigned to table", stmt.Method)
		}
		var t *schema.Table
		if stmt.Method == "Table" {
			t, err = s.Table(name)
		} else {
			t, err = s.CreateTable(name)
		}
		if err != nil {
			return err
		}
		r.table = t
		return nil
	case "CreateNamespace":
		return s.CreateNamespace(name)
	case "DropTable":
		if r.table != nil && r.table.Name == name {
			r.table = nil
		}
		return s.DropTable(name)
	case "RenameTable":
		newName, err := args.stringAt(1)
		if err != nil {
			return err
		}
		if err := s.RenameTable(name, newName); err != nil {
			return err
		}
		r.recordTableRename(name, newName)
		return nil
	case "CreateSequence", "AlterSequence":
		increment, err := args.intAt(1)
		if err != nil {
			return err
		}
		start, err := args.intAt(2)
		if err != nil {
			return err
		}
		if stmt.Method == "AlterSequence" {
			return s.AlterSequence(name, increment, start)
		}
		_, err = s.CreateSequence(name, increment, start)
		return err
	case "DropSequence":
		return s.DropSequence(name)
	}
	return fmt.Errorf("unknown method schema.%s", stmt.Method)
}

func (r *Replayer) applyTable(stmt Statement, args arguments) error {
	t := r.table
	switch stmt.Method {
	case "AddOption":
		key, err := args.stringAt(0)
		if err != nil {
			return err
		}
		value, err := args.stringAt(1)
		if err != nil {
			return err
		}
		t.AddOption(key, value)
		return nil
	case "AddColumn":
		name, err := args.stringAt(0)
		if err != nil {
			return err
		}
		typ, err := args.stringAt(1)
		if err != nil {
			return err
		}
		col, err := args.columnAt(2)
		if err != nil {
			return err
		}
		col.Name, col.Type = name, typ
		return t.AddColumn(col)
	case "DropColumn":
		name, err := args.stringAt(0)
		if err != nil {
			return err
		}
		return t.DropColumn(name)
	case "ChangeColumn":
		oldName, err := args.stringAt(0)
		if err != nil {
			return err
		}
		col, err := args.columnAt(1)
		if err != nil {
			return err
		}
		if err := r.Schema.ChangeColumn(t.Name, oldName, col); err != nil {
			return err
		}
		if col.Name != "" && col.Name != oldName {
			r.recordColumnRename(t.Name, oldName, col.Name)
		}
		return nil
	case "SetPrimaryKey":
		columns, err := args.stringsAt(0)
		if err != nil {
			return err
		}
		return t.SetPrimaryKey(columns)
	case "AddIndex":
		ix, err := args.indexAt(0)
		if err != nil {
			return err
		}
		return t.AddIndex(ix)
	case "DropIndex":
		name, err := args.stringAt(0)
		if err != nil {
			return err
		}
		return t.DropIndex(name)
	case "RenameIndex":
		oldName, err := args.stringAt(0)
		if err != nil {
			return err
		}
		newName, err := args.stringAt(1)
		if err != nil {
			return err
		}
		return t.RenameIndex(oldName, newName)
	case "AddForeignKeyConstraint":
		fk, err := args.foreignKeyAt(0)
		if err != nil {
			return err
		}
		return t.AddForeignKey(fk)
	case "RemoveForeignKey":
		name, err := args.stringAt(0)
		if err != nil {
			return err
		}
		return t.RemoveForeignKey(name)
	}
	return fmt.Errorf("unknown method table.%s", stmt.Method)
}

func (r *Replayer) recordTableRename(oldName, newName string) {
	original := oldName
	for from, to := range r.tableRenames {
		if to == oldName {
			original = from
		}
	}
	r.tableRenames[original] = newName
	if renames, ok := r.columnRenames[oldName]; ok {
		delete(r.columnRenames, oldName)
		r.columnRenames[newName] = renames
	}
}

func (r *Replayer) recordColumnRename(table, oldName, newName string) {
	renames := r.columnRenames[table]
	if renames == nil {
		renames = map[string]string{}
		r.columnRenames[table] = renames
	}
	original := oldName
	for from, to := range renames {
		if to == oldName {
			original = from
		}
	}
	renames[original] = newName
}

type arguments []any

func (a arguments) get(i int) (any, error) {
	if i >= len(a) {
		return nil, fmt.Errorf("missing argument %d", i+1)
	}
	return a[i], nil
}

func (a arguments) stringAt(i int) (string, error) {
	v, err := a.get(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected a string, got %T", i+1, v)
	}
	return s, nil
}

func (a arguments) intAt(i int) (int64, error) {
	v, err := a.get(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	}
	return 0, fmt.Errorf("argument %d: expected an integer, got %T", i+1, v)
}

func (a arguments) stringsAt(i int) ([]string, error) {
	v, err := a.get(i)
	if err != nil {
		return nil, err
	}
	s, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("argument %d: expected strings, got %T", i+1, v)
	}
	return s, nil
}

func (a arguments) columnAt(i int) (schema.Column, error) {
	v, err := a.get(i)
	if err != nil {
		return schema.Column{}, err
	}
	switch c := v.(type) {
	case schema.Column:
		return *c.Clone(), nil
	case *schema.Column:
		return *c.Clone(), nil
	}
	return schema.Column{}, fmt.Errorf("argument %d: expected a column, got %T", i+1, v)
}

func (a arguments) indexAt(i int) (schema.Index, error) {
	v, err := a.get(i)
	if err != nil {
		return schema.Index{}, err
	}
	switch ix := v.(type) {
	case schema.Index:
		return *ix.Clone(), nil
	case *schema.Index:
		return *ix.Clone(), nil
	}
	return schema.Index{}, fmt.Errorf("argument %d: expected an index, got %T", i+1, v)
}

func (a arguments) foreignKeyAt(i int) (schema.ForeignKey, error) {
	v, err := a.get(i)
	if err != nil {
		return schema.ForeignKey{}, err
	}
	switch fk := v.(type) {
	case schema.ForeignKey:
		return *fk.Clone(), nil
	case *schema.ForeignKey:
		return *fk.Clone(), nil
	}
	return schema.ForeignKey{}, fmt.Errorf("argument %d: expected a foreign key, got %T", i+1, v)
}
