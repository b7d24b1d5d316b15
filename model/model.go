// Package model describes persistable entities. Every entity declares its
// properties statically through a [Descriptor]; a [Resolver] turns those
// declarations into normalized [Properties], merging ancestors and resolving
// each declared type to a primitive, a reference to another entity, or a
// registered value type.
package model

import "slices"

// Entity is implemented by every persistable type.
type Entity interface {
	// EntityName is the type's short name, e.g. "UserAccount". Tables are
	// named after it.
	EntityName() string
	// Describe declares the entity's properties.
	Describe(d *Descriptor)
}

// Record is an entity instance that can be saved and loaded. Values and
// SetValues use property names as keys; references are represented by the
// referenced entity's identifier value.
type Record interface {
	Entity
	Values() map[string]any
	SetValues(values map[string]any) error
}

// Kind says how a property's type was resolved.
type Kind string

const (
	KindPrimitive Kind = "primitive"
	KindReference Kind = "reference"
	KindValue     Kind = "value"
)

// Primitive type names.
const (
	Bool   = "bool"
	Int    = "int"
	Float  = "float"
	String = "string"
	Array  = "array"
	Bytes  = "bytes"
)

// Now is the default/on-update sentinel meaning "the time of the write".
const Now = "now"

// Property is one resolved, declared field of an entity.
type Property struct {
	Name string
	Kind Kind
	// Type is the primitive name, the referenced entity's name, or the value
	// type's name.
	Type string
	// Target is the referenced entity when Kind is KindReference.
	Target Entity
	// ValueType is set when Kind is KindValue.
	ValueType *ValueType

	Required   bool
	Nullable   bool
	Default    any
	Length     int
	Identifier bool
	Generated  bool
	Signed     bool
	OnUpdate   string
	OnDelete   string
	Searchable bool
	Unique     bool
}

// Column is the name of the column that stores the property.
func (p Property) Column() string {
	if p.Kind == KindReference {
		return p.Name + "_id"
	}
	return p.Name
}

// Properties is the ordered, immutable set of an entity's resolved
// properties.
type Properties struct {
	entity string
	list   []Property
}

// Entity is the name of the entity the properties belong to.
func (p Properties) Entity() string {
	return p.entity
}

// Len is the number of properties.
func (p Properties) Len() int {
	return len(p.list)
}

// All returns the properties in declaration order.
func (p Properties) All() []Property {
	return slices.Clone(p.list)
}

// Names returns the property names in declaration order.
func (p Properties) Names() []string {
	out := make([]string, 0, len(p.list))
	for _, prop := range p.list {
		out = append(out, prop.Name)
	}
	return out
}

// Get returns the named property.
func (p Properties) Get(name string) (Property, bool) {
	for _, prop := range p.list {
		if prop.Name == name {
			return prop, true
		}
	}
	return Property{}, false
}

// ByColumn returns the property stored in the named column.
func (p Properties) ByColumn(column string) (Property, bool) {
	for _, prop := range p.list {
		if prop.Column() == column {
			return prop, true
		}
	}
	return Property{}, false
}

// Identifiers returns the identifier properties in declaration order.
func (p Properties) Identifiers() []Property {
	var out []Property
	for _, prop := range p.list {
		if prop.Identifier {
			out = append(out, prop)
		}
	}
	return out
}

// Identifier returns the single identifier property. Entities with a
// composite identifier cannot be addressed by one value and return
// [ErrCompositeIdentifier].
func (p Properties) Identifier() (Property, error) {
	ids := p.Identifiers()
	switch len(ids) {
	case 0:
		return Property{}, &MissingIdentifierError{Entity: p.entity}
	case 1:
		return ids[0], nil
	default:
		return Property{}, ErrCompositeIdentifier
	}
}
