package model

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Declarations is the on-disk form of a set of entities, used by the CLI to
// describe models without compiling Go code.
//
//	entities:
//	  - name: Customer
//	    extends: Timestamped
//	    properties:
//	      - {name: id, type: int, id: true, generated: true, unsigned: true}
//	      - {name: email, type: string, length: 255, unique: true}
//	      - {name: referrer, type: "?Customer", on_delete: SET NULL}
type Declarations struct {
	Entities []EntityDeclaration `yaml:"entities"`
}

// EntityDeclaration declares one entity.
type EntityDeclaration struct {
	Name       string                `yaml:"name"`
	Extends    string                `yaml:"extends,omitempty"`
	Properties []PropertyDeclaration `yaml:"properties"`
}

// PropertyDeclaration declares one property of an entity.
type PropertyDeclaration struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Required   bool   `yaml:"required,omitempty"`
	Optional   bool   `yaml:"optional,omitempty"`
	Default    any    `yaml:"default,omitempty"`
	Length     int    `yaml:"length,omitempty"`
	Identifier bool   `yaml:"id,omitempty"`
	Generated  bool   `yaml:"generated,omitempty"`
	Unsigned   bool   `yaml:"unsigned,omitempty"`
	OnUpdate   string `yaml:"on_update,omitempty"`
	OnDelete   string `yaml:"on_delete,omitempty"`
	Searchable bool   `yaml:"searchable,omitempty"`
	Unique     bool   `yaml:"unique,omitempty"`
}

func (p PropertyDeclaration) options() []Option {
	var opts []Option
	add := func(cond bool, opt Option) {
		if cond {
			opts = append(opts, opt)
		}
	}
	add(p.Required, Required())
	add(p.Optional, Optional())
	add(p.Default != nil, Default(p.Default))
	add(p.Length > 0, Length(p.Length))
	add(p.Identifier, Identifier())
	add(p.Generated, Generated())
	add(p.Unsigned, Unsigned())
	add(p.OnUpdate != "", OnUpdate(p.OnUpdate))
	add(p.OnDelete != "", OnDelete(p.OnDelete))
	add(p.Searchable, Searchable())
	add(p.Unique, Unique())
	return opts
}

// DeclaredEntity is an [Entity] backed by an [EntityDeclaration].
type DeclaredEntity struct {
	decl   EntityDeclaration
	parent *DeclaredEntity
}

func (e *DeclaredEntity) EntityName() string {
	return e.decl.Name
}

func (e *DeclaredEntity) Describe(d *Descriptor) {
	if e.parent != nil {
		d.Extends(e.parent)
	}
	for _, p := range e.decl.Properties {
		d.Property(p.Name, p.Type, p.options()...)
	}
}

// LoadDeclarations parses YAML declarations and returns one entity per
// declaration, in file order. Parents named by "extends" must be declared in
// the same document. Register the result with a [Registry] so properties can
// reference the entities by name.
func LoadDeclarations(r io.Reader) ([]Entity, error) {
	var decls Declarations
	if err := yaml.NewDecoder(r).Decode(&decls); err != nil && err != io.EOF {
		return nil, fmt.Errorf("invalid declarations: %w", err)
	}
	byName := make(map[string]*DeclaredEntity, len(decls.Entities))
	entities := make([]Entity, 0, len(decls.Entities))
	for _, decl := range decls.Entities {
		if decl.Name == "" {
			return nil, fmt.Errorf("invalid declarations: entity without a name")
		}
		if _, ok := byName[decl.Name]; ok {
			return nil, fmt.Errorf("invalid declarations: duplicate entity %q", decl.Name)
		}
		de := &DeclaredEntity{decl: decl}
		byName[decl.Name] = de
		entities = append(entities, de)
	}
	for _, de := range byName {
		if de.decl.Extends == "" {
			continue
		}
		parent, ok := byName[de.decl.Extends]
		if !ok {
			return nil, fmt.Errorf("invalid declarations: %s extends unknown entity %q", de.decl.Name, de.decl.Extends)
		}
		de.parent = parent
	}
	for _, de := range byName {
		seen := map[*DeclaredEntity]bool{}
		for p := de; p != nil; p = p.parent {
			if seen[p] {
				return nil, fmt.Errorf("invalid declarations: %s has an inheritance cycle", de.decl.Name)
			}
			seen[p] = true
		}
	}
	return entities, nil
}

// LoadDeclarationsFile is LoadDeclarations for a file on disk.
func LoadDeclarationsFile(path string) ([]Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadDeclarations(f)
}
