package script_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/modelmigrate/internal/compiler"
	"github.com/peterldowns/modelmigrate/internal/schematest"
	"github.com/peterldowns/modelmigrate/internal/script"
	"github.com/peterldowns/modelmigrate/schema"
)

func ptr(s string) *string { return &s }

func TestLiteral(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		value    any
		expected string
	}{
		{nil, "null"},
		{true, "true"},
		{false, "false"},
		{int64(42), "42"},
		{-7, "-7"},
		{1.5, "1.5"},
		{float64(3), "3.0"},
		{"plain", "'plain'"},
		{`it's a \ path`, `'it\'s a \\ path'`},
		{[]string{"id"}, `decode('{"kind":"strings","value":["id"]}')`},
	} {
		lit, err := script.Literal(tc.value)
		assert.Nil(t, err)
		check.Equal(t, tc.expected, lit)
	}
	_, err := script.Literal(struct{}{})
	var unsupported *script.UnsupportedValueError
	check.True(t, errors.As(err, &unsupported))
}

func TestLiteralRejectsInvalidUTF8(t *testing.T) {
	t.Parallel()
	bad := "n\xffame"
	for _, value := range []any{
		bad,
		[]string{"id", bad},
		map[string]string{"engine": bad},
		schema.Column{Name: bad, Type: schema.TypeString},
		&schema.Column{Name: "name", Type: schema.TypeString, Default: ptr(bad)},
		schema.Index{Name: "idx_widget_name", Columns: []string{bad}},
		&schema.ForeignKey{Name: "fk_part_widget_id", LocalColumns: []string{"widget_id"}, ForeignTable: bad, ForeignColumns: []string{"id"}},
	} {
		_, err := script.Literal(value)
		var invalid *script.InvalidUTF8Error
		assert.Equal(t, true, errors.As(err, &invalid))
		check.Equal(t, bad, invalid.Value)
	}

	lit, err := script.Literal(schema.Column{Name: "n�ame", Type: schema.TypeString})
	assert.Nil(t, err)
	check.True(t, strings.Contains(lit, "n�ame"))
}

func TestParse(t *testing.T) {
	t.Parallel()
	text := `
-- a comment
table = schema.CreateTable('widget');
table.AddColumn('name', 'string', decode('{"kind":"column","value":{"name":"name","type":"string","notnull":false,"default":"it\'s","length":255}}'))
schema.CreateSequence('seq', 1, -10)   -- trailing comment
migration.Abort('Dropping a table will lead to data loss.')
`
	stmts, err := script.Parse(text)
	assert.Nil(t, err)
	expected := []script.Statement{
		{Assign: "table", Target: "schema", Method: "CreateTable", Args: []any{"widget"}},
		{Target: "table", Method: "AddColumn", Args: []any{"name", "string", schema.Column{
			Name: "name", Type: schema.TypeString, Default: ptr("it's"), Length: 255,
		}}},
		{Target: "schema", Method: "CreateSequence", Args: []any{"seq", int64(1), int64(-10)}},
		{Target: "migration", Method: "Abort", Args: []any{"Dropping a table will lead to data loss."}},
	}
	if diff := cmp.Diff(expected, stmts); diff != "" {
		t.Fatalf("statements differ (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	for _, text := range []string{
		"schema.DropTable('unterminated)",
		"schema.DropTable('a' 'b')",
		"schema DropTable('a')",
		"schema.DropTable(nope)",
		"table.AddIndex(decode('{\"kind\":\"mystery\",\"value\":1}'))",
		"\n\nschema.DropTable(",
	} {
		_, err := script.Parse(text)
		var parseErr *script.ParseError
		check.True(t, errors.As(err, &parseErr))
	}
	_, err := script.Parse("\n\nschema.DropTable(")
	var parseErr *script.ParseError
	assert.Equal(t, true, errors.As(err, &parseErr))
	check.Equal(t, 3, parseErr.Line)
}

func TestRenderSelectsWorkingTable(t *testing.T) {
	t.Parallel()
	col := schema.Column{Name: "extra", Type: schema.TypeText}
	ops := []compiler.Operation{
		{Kind: compiler.DetachForeignKey, Table: "t", Args: []any{"t"}},
		{Kind: compiler.RemoveForeignKey, Table: "t", Args: []any{"fk_1"}},
		{Kind: compiler.RaiseDataLossGuard, Args: []any{compiler.GuardRenameTable}},
		{Kind: compiler.RenameTable, Args: []any{"old_t", "new_t"}},
		{Kind: compiler.AddColumn, Table: "new_t", Args: []any{"extra", schema.TypeText, col}},
		{Kind: compiler.DropIndex, Table: "new_t", Args: []any{"idx"}},
	}
	text, err := script.RenderText(ops)
	assert.Nil(t, err)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	check.Equal(t, []string{
		"table = schema.Table('t')",
		"table.RemoveForeignKey('fk_1')",
		`migration.Abort('Renaming a table will probably lead to data loss. Use your database engine\'s rename query and remove this guard.')`,
		"schema.RenameTable('old_t', 'new_t')",
		"table = schema.Table('new_t')",
		`table.AddColumn('extra', 'text', decode('{"kind":"column","value":{"name":"extra","type":"text","notnull":false,"default":null}}'))`,
		"table.DropIndex('idx')",
	}, lines)
}

func TestReplayGuardAborts(t *testing.T) {
	t.Parallel()
	s := schema.New("app")
	_, err := s.CreateTable("widget")
	assert.Nil(t, err)
	stmts, err := script.Parse(`
migration.Abort('Dropping a table will lead to data loss. Migrate your data and remove this guard.')
schema.DropTable('widget')
`)
	assert.Nil(t, err)
	err = script.Replay(s, stmts)
	var guard *script.DataLossGuardError
	assert.Equal(t, true, errors.As(err, &guard))
	check.Equal(t, compiler.GuardDropTable, guard.Message)
	check.True(t, s.HasTable("widget"))

	// once the guard is removed the change goes through
	assert.Nil(t, script.Replay(s, stmts[1:]))
	check.Equal(t, false, s.HasTable("widget"))
}

func TestReplayTracksRenames(t *testing.T) {
	t.Parallel()
	s := schema.New("app")
	widget, err := s.CreateTable("widget")
	assert.Nil(t, err)
	assert.Nil(t, widget.AddColumn(schema.Column{Name: "name", Type: schema.TypeString, Length: 10}))
	from := s.Clone()

	stmts, err := script.Parse(`
table = schema.Table('widget')
table.ChangeColumn('name', decode('{"kind":"column","value":{"name":"label","type":"string","notnull":false,"default":null,"length":10}}'))
schema.RenameTable('widget', 'gadget')
table = schema.Table('gadget')
table.ChangeColumn('label', decode('{"kind":"column","value":{"name":"title","type":"string","notnull":false,"default":null,"length":10}}'))
`)
	assert.Nil(t, err)
	r := script.NewReplayer(s)
	assert.Nil(t, r.Apply(stmts...))

	diff := schema.Compare(from, s, r.CompareOptions()...)
	check.Equal(t, 0, len(diff.NewTables))
	check.Equal(t, 0, len(diff.RemovedTables))
	assert.Equal(t, 1, len(diff.ChangedTables))
	td := diff.ChangedTables[0]
	check.Equal(t, "gadget", td.NewName)
	assert.Equal(t, 1, len(td.RenamedColumns))
	check.Equal(t, "name", td.RenamedColumns[0].OldName)
	check.Equal(t, "title", td.RenamedColumns[0].Column.Name)
}

func TestReplayColumnRenameKeepsReferencesValid(t *testing.T) {
	t.Parallel()
	s := schema.New("app")
	widget, err := s.CreateTable("widget")
	assert.Nil(t, err)
	assert.Nil(t, widget.AddColumn(schema.Column{Name: "id", Type: schema.TypeInteger, NotNull: true}))
	part, err := s.CreateTable("part")
	assert.Nil(t, err)
	assert.Nil(t, part.AddColumn(schema.Column{Name: "widget_id", Type: schema.TypeInteger}))
	assert.Nil(t, part.AddForeignKey(schema.ForeignKey{
		Name:           "fk_part_widget_id",
		LocalColumns:   []string{"widget_id"},
		ForeignTable:   "widget",
		ForeignColumns: []string{"id"},
	}))

	stmts, err := script.Parse(`
table = schema.Table('widget')
table.ChangeColumn('id', decode('{"kind":"column","value":{"name":"key","type":"integer","notnull":true,"default":null}}'))
`)
	assert.Nil(t, err)
	assert.Nil(t, script.Replay(s, stmts))
	fk, ok := part.ForeignKey("fk_part_widget_id")
	assert.Equal(t, true, ok)
	check.Equal(t, []string{"key"}, fk.ForeignColumns)
}

func TestReplayErrors(t *testing.T) {
	t.Parallel()
	for _, text := range []string{
		"table.DropColumn('x')",
		"schema.Table('missing')",
		"table = schema.Table('missing')",
		"schema.Explode('x')",
		"schema.DropTable(1)",
		"widget = schema.CreateTable('w')",
	} {
		stmts, err := script.Parse(text)
		assert.Nil(t, err)
		check.Error(t, script.Replay(schema.New("app"), stmts))
	}
}

func TestStructuredLiteralRoundTrip(t *testing.T) {
	t.Parallel()
	values := []any{
		[]string{"a", "b'c"},
		map[string]string{"where": "deleted_at IS NULL"},
		schema.Column{Name: "price", Type: schema.TypeDecimal, Precision: 10, Scale: 2, Default: ptr("0.00"), Comment: `say "hi"`},
		schema.Index{Name: "idx", Columns: []string{"a", "b"}, Unique: true, Flags: []string{"fulltext"}},
		schema.ForeignKey{Name: "fk", LocalTable: "t", LocalColumns: []string{"a"}, ForeignTable: "u", ForeignColumns: []string{"id"}, OnDelete: schema.SetNull},
	}
	for _, v := range values {
		stmt := script.Statement{Target: "table", Method: "Test", Args: []any{v}}
		line, err := stmt.Format()
		assert.Nil(t, err)
		parsed, err := script.Parse(line)
		assert.Nil(t, err)
		assert.Equal(t, 1, len(parsed))
		if diff := cmp.Diff(stmt, parsed[0], cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("round trip differs (-want +got):\n%s", diff)
		}
	}
}

func TestScriptProperties(t *testing.T) {
	t.Parallel()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("strings survive quoting", prop.ForAll(
		func(s string) bool {
			stmts, err := script.Parse("schema.DropTable(" + script.Quote(s) + ")")
			return err == nil && len(stmts) == 1 && stmts[0].Args[0] == s
		},
		gen.AnyString(),
	))

	properties.Property("rendered operations parse back", prop.ForAll(
		func(seed, mutation int64) bool {
			from := schematest.Random(seed)
			up, _, err := compiler.Compile(schema.Compare(from, schematest.Mutate(from, mutation)))
			if err != nil {
				return false
			}
			stmts, err := script.Render(up)
			if err != nil {
				return false
			}
			text, err := script.Format(stmts)
			if err != nil {
				return false
			}
			parsed, err := script.Parse(text)
			return err == nil && cmp.Equal(stmts, parsed, cmpopts.EquateEmpty())
		},
		gen.Int64(), gen.Int64(),
	))

	properties.Property("replaying a migration reaches the target schema", prop.ForAll(
		func(seed, mutation int64) bool {
			from := schematest.Random(seed)
			to := schematest.Mutate(from, mutation)
			up, _, err := compiler.Compile(schema.Compare(from, to))
			if err != nil {
				return false
			}
			up = slices.DeleteFunc(up, func(op compiler.Operation) bool {
				return op.Kind == compiler.RaiseDataLossGuard
			})
			text, err := script.RenderText(up)
			if err != nil {
				return false
			}
			stmts, err := script.Parse(text)
			if err != nil {
				return false
			}
			replayed := from.Clone()
			r := script.NewReplayer(replayed)
			if err := r.Apply(stmts...); err != nil {
				t.Log(err)
				return false
			}
			return schema.Compare(replayed, to, r.CompareOptions()...).Empty()
		},
		gen.Int64(), gen.Int64(),
	))

	properties.TestingRun(t)
}
