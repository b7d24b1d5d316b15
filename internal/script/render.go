package script

import (
	"fmt"

	"github.com/peterldowns/modelmigrate/internal/compiler"
)

var methods = map[compiler.Kind]string{
	compiler.CreateNamespace:    "CreateNamespace",
	compiler.CreateTable:        "CreateTable",
	compiler.AddOption:          "AddOption",
	compiler.DropTable:          "DropTable",
	compiler.RenameTable:        "RenameTable",
	compiler.AddColumn:          "AddColumn",
	compiler.DropColumn:         "DropColumn",
	compiler.ChangeColumn:       "ChangeColumn",
	compiler.SetPrimaryKey:      "SetPrimaryKey",
	compiler.AddIndex:           "AddIndex",
	compiler.DropIndex:          "DropIndex",
	compiler.RenameIndex:        "RenameIndex",
	compiler.AddForeignKey:      "AddForeignKeyConstraint",
	compiler.RemoveForeignKey:   "RemoveForeignKey",
	compiler.CreateSequence:     "CreateSequence",
	compiler.AlterSequence:      "AlterSequence",
	compiler.DropSequence:       "DropSequence",
	compiler.RaiseDataLossGuard: "Abort",
}

// Render converts operations into statements. Whenever the working table of
// an operation differs from the current one, a statement selecting it is
// emitted first.
func Render(ops []compiler.Operation) ([]Statement, error) {
	r := &renderer{}
	for _, op := range ops {
		if err := r.render(op); err != nil {
			return nil, err
		}
	}
	return r.out, nil
}

// RenderText renders operations directly to statement text.
func RenderText(ops []compiler.Operation) (string, error) {
	stmts, err := Render(ops)
	if err != nil {
		return "", err
	}
	return Format(stmts)
}

type renderer struct {
	working string
	out     []Statement
}

func (r *renderer) selectTable(name string) {
	if r.working == name {
		return
	}
	r.out = append(r.out, Statement{Assign: TargetTable, Target: TargetSchema, Method: "Table", Args: []any{name}})
	r.working = name
}

func (r *renderer) render(op compiler.Operation) error {
	switch op.Kind {
	case compiler.DetachForeignKey:
		r.working = ""
		r.selectTable(op.Table)
		return nil
	case compiler.CreateTable:
		r.out = append(r.out, Statement{Assign: TargetTable, Target: TargetSchema, Method: methods[op.Kind], Args: op.Args})
		r.working = op.Table
		return nil
	case compiler.RaiseDataLossGuard:
		r.out = append(r.out, Statement{Target: TargetMigration, Method: methods[op.Kind], Args: op.Args})
		return nil
	}
	method, ok := methods[op.Kind]
	if !ok {
		return fmt.Errorf("cannot render operation %q", op.Kind)
	}
	if op.Kind.TableScoped() {
		r.selectTable(op.Table)
		r.out = append(r.out, Statement{Target: TargetTable, Method: method, Args: op.Args})
		return nil
	}
	r.out = append(r.out, Statement{Target: TargetSchema, Method: method, Args: op.Args})
	switch op.Kind {
	case compiler.DropTable:
		if len(op.Args) > 0 && op.Args[0] == r.working {
			r.working = ""
		}
	case compiler.RenameTable:
		if len(op.Args) > 1 && op.Args[0] == r.working {
			r.working = ""
		}
	}
	return nil
}
