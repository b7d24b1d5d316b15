package model

import (
	"strings"
	"sync"
)

var primitives = map[string]string{
	Bool:      Bool,
	"boolean": Bool,
	Int:       Int,
	"integer": Int,
	Float:     Float,
	"double":  Float,
	String:    String,
	Array:     Array,
	Bytes:     Bytes,
	"binary":  Bytes,
}

// Resolver turns entity declarations into [Properties]. Results are memoized
// per entity name; Resolve is safe for concurrent use.
type Resolver struct {
	Registry *Registry

	mu    sync.Mutex
	cache map[string]Properties
}

// NewResolver returns a resolver that looks types up in registry. A nil
// registry means a fresh [NewRegistry].
func NewResolver(registry *Registry) *Resolver {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Resolver{Registry: registry, cache: map[string]Properties{}}
}

// Resolve returns the normalized properties of e. Declarations of ancestors
// are merged with e's own; each type is resolved to a primitive, a
// reference, or a value type. Entities without an identifier are rejected
// with a [MissingIdentifierError].
func (r *Resolver) Resolve(e Entity) (Properties, error) {
	name := e.EntityName()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}

	d := &Descriptor{entity: name}
	e.Describe(d)
	props := Properties{entity: name, list: make([]Property, 0, len(d.decls))}
	for _, decl := range d.decls {
		prop, err := r.resolveDeclaration(name, decl)
		if err != nil {
			return Properties{}, err
		}
		props.list = append(props.list, prop)
	}
	if len(props.Identifiers()) == 0 {
		return Properties{}, &MissingIdentifierError{Entity: name}
	}
	r.cache[name] = props
	return props, nil
}

// MustResolve is like Resolve but panics on error.
func (r *Resolver) MustResolve(e Entity) Properties {
	props, err := r.Resolve(e)
	if err != nil {
		panic(err)
	}
	return props
}

func (r *Resolver) resolveDeclaration(entity string, decl declaration) (Property, error) {
	o := decl.opts
	prop := Property{
		Name:       decl.name,
		Type:       decl.typeName,
		Required:   o.required,
		Nullable:   o.nullable,
		Default:    o.def,
		Length:     o.length,
		Identifier: o.identifier,
		Generated:  o.generated,
		Signed:     !o.unsigned,
		OnUpdate:   o.onUpdate,
		OnDelete:   o.onDelete,
		Searchable: o.searchable,
		Unique:     o.unique,
	}
	switch {
	case decl.target != nil:
		prop.Kind = KindReference
		prop.Target = decl.target
	case primitives[strings.ToLower(decl.typeName)] != "":
		prop.Kind = KindPrimitive
		prop.Type = primitives[strings.ToLower(decl.typeName)]
	default:
		if target, ok := r.Registry.Entity(decl.typeName); ok {
			prop.Kind = KindReference
			prop.Target = target
		} else if vt, ok := r.Registry.Value(decl.typeName); ok {
			prop.Kind = KindValue
			prop.ValueType = vt
		} else {
			return Property{}, &UnresolvedTypeError{Entity: entity, Property: decl.name, Type: decl.typeName}
		}
	}
	if prop.Kind == KindReference {
		prop.Required = !o.optional && !o.nullable
	}
	if prop.Nullable {
		prop.Required = false
	}
	return prop, nil
}
