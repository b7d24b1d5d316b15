// Package schematest builds pseudo-random schemas, and pseudo-random changes
// to them, for property-based tests. The same seed always produces the same
// schema.
package schematest

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/peterldowns/modelmigrate/schema"
)

// Random returns a schema with between one and five tables. Every table has
// an autoincrementing "id" primary key; later tables may reference earlier
// ones.
func Random(seed int64) *schema.Schema {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic test data
	s := schema.New("random")
	for i := range 1 + r.Intn(5) {
		t, _ := s.CreateTable(fmt.Sprintf("table_%d", i))
		_ = t.AddColumn(schema.Column{Name: "id", Type: schema.TypeInteger, NotNull: true, Unsigned: true, Autoincrement: true})
		_ = t.SetPrimaryKey([]string{"id"})
		for j := range r.Intn(5) {
			_ = t.AddColumn(randomColumn(r, fmt.Sprintf("col_%d", j)))
		}
		if len(t.Columns) > 1 && r.Intn(2) == 0 {
			col := t.Columns[1+r.Intn(len(t.Columns)-1)]
			_ = t.AddIndex(schema.Index{Name: "idx_" + t.Name + "_" + col.Name, Columns: []string{col.Name}, Unique: r.Intn(2) == 0})
		}
		if i > 0 && r.Intn(2) == 0 {
			addReference(r, t, s.Tables[r.Intn(i)])
		}
	}
	for i := range r.Intn(3) {
		_, _ = s.CreateSequence(fmt.Sprintf("seq_%d", i), int64(1+r.Intn(5)), int64(1+r.Intn(1000)))
	}
	return s
}

// Mutate returns a changed copy of s. The original is not modified.
// Changes include new tables, dropped tables, added, dropped and changed
// columns, index and foreign key changes, and sequence changes.
func Mutate(s *schema.Schema, seed int64) *schema.Schema {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic test data
	out := s.Clone()
	for range 1 + r.Intn(6) {
		switch r.Intn(9) {
		case 0:
			name := fmt.Sprintf("new_%d", len(out.Tables)+r.Intn(1000))
			if out.HasTable(name) {
				continue
			}
			t, _ := out.CreateTable(name)
			_ = t.AddColumn(schema.Column{Name: "id", Type: schema.TypeInteger, NotNull: true, Unsigned: true, Autoincrement: true})
			_ = t.AddColumn(randomColumn(r, "value"))
			_ = t.SetPrimaryKey([]string{"id"})
			if len(out.Tables) > 1 {
				addReference(r, t, out.Tables[r.Intn(len(out.Tables)-1)])
			}
		case 1:
			t := unreferencedTable(r, out)
			if t != nil {
				_ = out.DropTable(t.Name)
			}
		case 2:
			t := pick(r, out)
			name := fmt.Sprintf("added_%d", r.Intn(1000))
			if _, ok := t.Column(name); !ok {
				_ = t.AddColumn(randomColumn(r, name))
			}
		case 3:
			t := pick(r, out)
			if col := freeColumn(r, t); col != nil {
				_ = t.DropColumn(col.Name)
			}
		case 4:
			t := pick(r, out)
			if col := freeColumn(r, t); col != nil {
				changed := randomColumn(r, col.Name)
				_ = t.ChangeColumn(col.Name, changed)
			}
		case 5:
			t := pick(r, out)
			if col := freeColumn(r, t); col != nil {
				_ = t.AddIndex(schema.Index{Name: "idx_" + t.Name + "_" + col.Name, Columns: []string{col.Name}})
			}
		case 6:
			t := pick(r, out)
			if ix := freeIndex(r, t); ix != nil {
				if r.Intn(2) == 0 {
					ix.Unique = !ix.Unique
				} else {
					_ = t.DropIndex(ix.Name)
				}
			}
		case 7:
			t := pick(r, out)
			if len(t.ForeignKeys) > 0 {
				fk := t.ForeignKeys[r.Intn(len(t.ForeignKeys))]
				fk.OnDelete = []string{schema.Cascade, schema.SetNull, schema.Restrict}[r.Intn(3)]
			}
		case 8:
			if len(out.Sequences) > 0 && r.Intn(2) == 0 {
				seq := out.Sequences[r.Intn(len(out.Sequences))]
				_ = out.AlterSequence(seq.Name, seq.IncrementSize+1, seq.StartValue)
			} else {
				_, _ = out.CreateSequence(fmt.Sprintf("seq_new_%d", r.Intn(1000)), 1, 1)
			}
		}
	}
	return out
}

func randomColumn(r *rand.Rand, name string) schema.Column {
	col := schema.Column{Name: name, NotNull: r.Intn(2) == 0}
	switch r.Intn(6) {
	case 0:
		col.Type = schema.TypeString
		col.Length = []int{32, 64, 255}[r.Intn(3)]
	case 1:
		col.Type = schema.TypeInteger
		col.Unsigned = r.Intn(2) == 0
	case 2:
		col.Type = schema.TypeBoolean
		def := []string{"true", "false"}[r.Intn(2)]
		col.Default = &def
	case 3:
		col.Type = schema.TypeDecimal
		col.Precision = 10 + r.Intn(5)
	case 4:
		col.Type = schema.TypeText
	case 5:
		col.Type = schema.TypeDateTimeTZ
	}
	return col
}

func addReference(r *rand.Rand, from, to *schema.Table) {
	column := to.Name + "_id"
	if _, ok := from.Column(column); ok {
		return
	}
	_ = from.AddColumn(schema.Column{Name: column, Type: schema.TypeInteger, Unsigned: true, NotNull: r.Intn(2) == 0})
	_ = from.AddIndex(schema.Index{Name: "idx_" + from.Name + "_" + column, Columns: []string{column}})
	_ = from.AddForeignKey(schema.ForeignKey{
		Name:           "fk_" + from.Name + "_" + column,
		LocalColumns:   []string{column},
		ForeignTable:   to.Name,
		ForeignColumns: []string{"id"},
		OnUpdate:       schema.Cascade,
		OnDelete:       schema.Cascade,
	})
}

func pick(r *rand.Rand, s *schema.Schema) *schema.Table {
	return s.Tables[r.Intn(len(s.Tables))]
}

// unreferencedTable returns a table no other table references, if any.
func unreferencedTable(r *rand.Rand, s *schema.Schema) *schema.Table {
	if len(s.Tables) < 2 {
		return nil
	}
	var candidates []*schema.Table
	for _, t := range s.Tables {
		referenced := false
		for _, other := range s.Tables {
			if other != t && slices.Contains(other.DependsOn(), t.Name) {
				referenced = true
			}
		}
		if !referenced {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[r.Intn(len(candidates))]
}

// freeColumn returns a column that no key or index uses.
func freeColumn(r *rand.Rand, t *schema.Table) *schema.Column {
	var candidates []*schema.Column
	for _, col := range t.Columns {
		if slices.Contains(t.PrimaryKey, col.Name) {
			continue
		}
		used := false
		for _, fk := range t.ForeignKeys {
			used = used || slices.Contains(fk.LocalColumns, col.Name)
		}
		for _, ix := range t.Indexes {
			used = used || slices.Contains(ix.Columns, col.Name)
		}
		if !used {
			candidates = append(candidates, col)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[r.Intn(len(candidates))]
}

// freeIndex returns a secondary index that does not back a foreign key.
func freeIndex(r *rand.Rand, t *schema.Table) *schema.Index {
	var candidates []*schema.Index
	for _, ix := range t.Indexes {
		if ix.Primary {
			continue
		}
		backsForeignKey := slices.ContainsFunc(t.ForeignKeys, func(fk *schema.ForeignKey) bool {
			return slices.Equal(fk.LocalColumns, ix.Columns)
		})
		if !backsForeignKey {
			candidates = append(candidates, ix)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[r.Intn(len(candidates))]
}
