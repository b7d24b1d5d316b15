package model

import "strings"

// Descriptor collects an entity's property declarations. It is handed to
// [Entity.Describe]; the entity calls Property, Reference and Extends on it.
type Descriptor struct {
	entity string
	decls  []declaration
}

type declaration struct {
	name     string
	typeName string
	target   Entity
	opts     fieldOptions
}

type fieldOptions struct {
	required   bool
	optional   bool
	nullable   bool
	def        any
	length     int
	identifier bool
	generated  bool
	unsigned   bool
	onUpdate   string
	onDelete   string
	searchable bool
	unique     bool
}

// Option configures a declared property.
type Option func(*fieldOptions)

// Required marks the property as not-null.
func Required() Option { return func(o *fieldOptions) { o.required = true } }

// Optional marks a reference as nullable. References are required unless
// marked optional or declared with a "?" type prefix.
func Optional() Option { return func(o *fieldOptions) { o.optional = true } }

// Nullable is equivalent to prefixing the type name with "?".
func Nullable() Option { return func(o *fieldOptions) { o.nullable = true } }

// Default sets the default value. Use [Now] for timestamps.
func Default(v any) Option { return func(o *fieldOptions) { o.def = v } }

// Length sets the maximum length of strings and byte arrays.
func Length(n int) Option { return func(o *fieldOptions) { o.length = n } }

// Identifier marks the property as (part of) the entity's identifier.
func Identifier() Option { return func(o *fieldOptions) { o.identifier = true } }

// Generated marks the property as generated by the database.
func Generated() Option { return func(o *fieldOptions) { o.generated = true } }

// Unsigned declares an integer property unsigned. Properties are signed
// otherwise.
func Unsigned() Option { return func(o *fieldOptions) { o.unsigned = true } }

// OnUpdate sets the update behavior: a referential action for references,
// or [Now] for timestamps.
func OnUpdate(action string) Option { return func(o *fieldOptions) { o.onUpdate = action } }

// OnDelete sets the referential action taken when the referenced row is
// deleted.
func OnDelete(action string) Option { return func(o *fieldOptions) { o.onDelete = action } }

// Searchable asks for an index on the property.
func Searchable() Option { return func(o *fieldOptions) { o.searchable = true } }

// Unique asks for a unique index on the property.
func Unique() Option { return func(o *fieldOptions) { o.unique = true } }

// Property declares a property whose type is a primitive, the name of a
// registered entity, or the name of a registered value type. A "?" prefix
// on the type name makes the property nullable.
func (d *Descriptor) Property(name, typeName string, opts ...Option) {
	d.declare(declaration{name: name, typeName: typeName, opts: collect(opts)})
}

// Reference declares a property referencing another entity directly, without
// going through the registry.
func (d *Descriptor) Reference(name string, target Entity, opts ...Option) {
	d.declare(declaration{name: name, typeName: target.EntityName(), target: target, opts: collect(opts)})
}

// Extends merges the declarations of parent. Parent properties come first;
// properties the entity declares itself override inherited ones with the
// same name, regardless of the order in which Extends is called.
func (d *Descriptor) Extends(parent Entity) {
	pd := &Descriptor{entity: parent.EntityName()}
	parent.Describe(pd)
	own := d.decls
	d.decls = pd.decls
	for _, decl := range own {
		d.declare(decl)
	}
}

func (d *Descriptor) declare(decl declaration) {
	if strings.HasPrefix(decl.typeName, "?") {
		decl.typeName = strings.TrimPrefix(decl.typeName, "?")
		decl.opts.nullable = true
	}
	for i, existing := range d.decls {
		if existing.name == decl.name {
			d.decls[i] = decl
			return
		}
	}
	d.decls = append(d.decls, decl)
}

func collect(opts []Option) fieldOptions {
	var o fieldOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
