package compiler

import "fmt"

// Kind identifies what an [Operation] does.
type Kind string

const (
	CreateNamespace    Kind = "create-namespace"
	DetachForeignKey   Kind = "detach-foreign-key"
	CreateTable        Kind = "create-table"
	AddOption          Kind = "add-option"
	DropTable          Kind = "drop-table"
	RenameTable        Kind = "rename-table"
	AddColumn          Kind = "add-column"
	DropColumn         Kind = "drop-column"
	ChangeColumn       Kind = "change-column"
	SetPrimaryKey      Kind = "set-primary-key"
	AddIndex           Kind = "add-index"
	DropIndex          Kind = "drop-index"
	RenameIndex        Kind = "rename-index"
	AddForeignKey      Kind = "add-foreign-key"
	RemoveForeignKey   Kind = "remove-foreign-key"
	CreateSequence     Kind = "create-sequence"
	AlterSequence      Kind = "alter-sequence"
	DropSequence       Kind = "drop-sequence"
	RaiseDataLossGuard Kind = "raise-data-loss-guard"
)

// TableScoped reports whether operations of this kind act on the working
// table reference rather than on the schema.
func (k Kind) TableScoped() bool {
	switch k {
	case DetachForeignKey, CreateTable, AddOption, AddColumn, DropColumn,
		ChangeColumn, SetPrimaryKey, AddIndex, DropIndex, RenameIndex,
		AddForeignKey, RemoveForeignKey:
		return true
	}
	return false
}

// Operation is a single engine-independent schema change.
//
// Args holds the operation's arguments, in order. Every argument is one of
// string, int64, []string, map[string]string, schema.Column, schema.Index or
// schema.ForeignKey, so it always has a literal form.
//
//	create-namespace      name
//	detach-foreign-key    table
//	create-table          name
//	add-option            key, value
//	drop-table            name
//	rename-table          old name, new name
//	add-column            name, type, column
//	drop-column           name
//	change-column         old name, column
//	set-primary-key       columns
//	add-index             index
//	drop-index            name
//	rename-index          old name, new name
//	add-foreign-key       foreign key
//	remove-foreign-key    name
//	create-sequence       name, increment size, start value
//	alter-sequence        name, increment size, start value
//	drop-sequence         name
//	raise-data-loss-guard message
type Operation struct {
	Kind Kind
	// Table is the working table reference for table-scoped kinds, and
	// empty otherwise.
	Table string
	Args  []any
}

func (op Operation) String() string {
	if op.Table != "" {
		return fmt.Sprintf("%s[%s]%v", op.Kind, op.Table, op.Args)
	}
	return fmt.Sprintf("%s%v", op.Kind, op.Args)
}
