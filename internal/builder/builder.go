// Package builder turns resolved entities into a [schema.Schema]: one table
// per entity, one column per property, plus primary keys, indexes and
// foreign keys.
package builder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/peterldowns/modelmigrate/model"
	"github.com/peterldowns/modelmigrate/schema"
)

// UnknownColumnTypeError is returned when a property's type has no column
// type mapping, or when the property itself could not be resolved.
type UnknownColumnTypeError struct {
	Entity   string
	Property string
	Type     string
	Err      error
}

func (e *UnknownColumnTypeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unknown column type: %s", e.Err)
	}
	return fmt.Sprintf("unknown column type: %s.%s has type %q", e.Entity, e.Property, e.Type)
}

func (e *UnknownColumnTypeError) Unwrap() error {
	return e.Err
}

// Builder builds tables from entities.
type Builder struct {
	Resolver *model.Resolver
	Config   Config
}

// New returns a builder. A nil resolver means a resolver over a fresh
// registry.
func New(resolver *model.Resolver, config Config) *Builder {
	if resolver == nil {
		resolver = model.NewResolver(nil)
	}
	return &Builder{Resolver: resolver, Config: config}
}

// Build returns a new schema containing one table per entity, in the order
// given.
func (b *Builder) Build(name string, entities ...model.Entity) (*schema.Schema, error) {
	s := schema.New(name)
	if err := b.Apply(s, entities...); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply builds a table for each entity and puts it into s, replacing any
// existing table with the same name. Other tables are left alone.
func (b *Builder) Apply(s *schema.Schema, entities ...model.Entity) error {
	for _, e := range entities {
		t, err := b.Table(e)
		if err != nil {
			return err
		}
		s.PutTable(t)
	}
	return nil
}

// Table builds the table for a single entity.
func (b *Builder) Table(e model.Entity) (*schema.Table, error) {
	props, err := b.Resolver.Resolve(e)
	if err != nil {
		var unresolved *model.UnresolvedTypeError
		if errors.As(err, &unresolved) {
			return nil, &UnknownColumnTypeError{
				Entity:   unresolved.Entity,
				Property: unresolved.Property,
				Type:     unresolved.Type,
				Err:      err,
			}
		}
		return nil, err
	}
	t := schema.NewTable(TableName(e.EntityName()))
	var primaryKey []string
	for _, prop := range props.All() {
		col, err := b.column(props.Entity(), prop)
		if err != nil {
			return nil, err
		}
		if err := t.AddColumn(col); err != nil {
			return nil, err
		}
		if prop.Identifier {
			primaryKey = append(primaryKey, col.Name)
		}
	}
	if len(primaryKey) > 0 {
		if err := t.SetPrimaryKey(primaryKey); err != nil {
			return nil, err
		}
	}
	for _, prop := range props.All() {
		if err := b.constraints(t, prop); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (b *Builder) column(entity string, prop model.Property) (schema.Column, error) {
	key := prop.Type
	switch prop.Kind {
	case model.KindReference:
		key = Reference
	case model.KindValue:
		key = prop.ValueType.Name
	}
	typ, ok := b.Config.TypeMap[key]
	if !ok {
		return schema.Column{}, &UnknownColumnTypeError{Entity: entity, Property: prop.Name, Type: prop.Type}
	}
	col := schema.Column{
		Name:    prop.Column(),
		Type:    typ,
		NotNull: prop.Required,
	}
	allowed := b.Config.AllowedOptions[typ]
	if attr, ok := allowed[OptionDefault]; ok && prop.Default != nil {
		setAttr(&col, attr, prop.Default)
	}
	if attr, ok := allowed[OptionGenerated]; ok && prop.Generated {
		setAttr(&col, attr, true)
	}
	if attr, ok := allowed[OptionUnsigned]; ok && !prop.Signed {
		setAttr(&col, attr, true)
	}
	if attr, ok := allowed[OptionLength]; ok && prop.Length > 0 {
		setAttr(&col, attr, prop.Length)
	}
	if typ == schema.TypeDecimal {
		col.Precision = b.Config.DecimalPrecision
		col.Scale = b.Config.DecimalScale
	}
	if prop.Kind == model.KindReference {
		col.Unsigned = true
	}
	if prop.Kind == model.KindValue && prop.ValueType.Name == model.Timestamp {
		if col.Default != nil && *col.Default == model.Now {
			zero := "0"
			col.Default = &zero
		}
		if prop.OnUpdate == model.Now {
			col.Version = true
		}
	}
	return col, nil
}

func setAttr(col *schema.Column, attr string, v any) {
	switch attr {
	case AttrDefault:
		s := literal(v)
		col.Default = &s
	case AttrAutoincrement:
		col.Autoincrement = v == true
	case AttrUnsigned:
		col.Unsigned = v == true
	case AttrLength:
		if n, ok := v.(int); ok {
			col.Length = n
		}
	}
}

func literal(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04:05.999999")
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}

func (b *Builder) constraints(t *schema.Table, prop model.Property) error {
	column := prop.Column()
	if prop.Kind == model.KindReference {
		target, err := b.Resolver.Resolve(prop.Target)
		if err != nil {
			return err
		}
		id, err := target.Identifier()
		if err != nil {
			return fmt.Errorf("%s.%s: %w", t.Name, prop.Name, err)
		}
		if err := addIndex(t, schema.Index{Name: IndexName(t.Name, column), Columns: []string{column}}); err != nil {
			return err
		}
		onDelete := prop.OnDelete
		if onDelete == "" {
			onDelete = schema.SetNull
			if prop.Required {
				onDelete = schema.Cascade
			}
		}
		return t.AddForeignKey(schema.ForeignKey{
			Name:           ForeignKeyName(t.Name, column),
			LocalColumns:   []string{column},
			ForeignTable:   TableName(prop.Target.EntityName()),
			ForeignColumns: []string{id.Column()},
			OnUpdate:       schema.Cascade,
			OnDelete:       onDelete,
		})
	}
	if prop.Searchable {
		if err := addIndex(t, schema.Index{Name: IndexName(t.Name, column), Columns: []string{column}}); err != nil {
			return err
		}
	}
	if prop.Unique {
		return addIndex(t, schema.Index{Name: UniqueIndexName(t.Name, column), Columns: []string{column}, Unique: true})
	}
	return nil
}

func addIndex(t *schema.Table, ix schema.Index) error {
	if _, ok := t.Index(ix.Name); ok {
		return nil
	}
	return t.AddIndex(ix)
}

// IndexName is the name of the secondary index over the given columns.
func IndexName(table string, columns ...string) string {
	return "idx_" + table + "_" + strings.Join(columns, "_")
}

// UniqueIndexName is the name of the unique index over the given columns.
func UniqueIndexName(table string, columns ...string) string {
	return "uniq_" + table + "_" + strings.Join(columns, "_")
}

// ForeignKeyName is the name of the foreign key stored in the given columns.
func ForeignKeyName(table string, columns ...string) string {
	return "fk_" + table + "_" + strings.Join(columns, "_")
}

// TableName derives a table name from an entity name by converting it to
// snake case. An underscore is inserted before an upper-case letter that
// follows a lower-case letter or a digit, and before the last upper-case
// letter of an acronym that is followed by a lower-case letter; everything
// is then lower-cased.
//
//	UserAccount -> user_account
//	HTTPServer  -> http_server
//	Order2Item  -> order2_item
func TableName(entity string) string {
	runes := []rune(entity)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
