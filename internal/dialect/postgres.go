package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/peterldowns/modelmigrate/internal/pgtools"
	"github.com/peterldowns/modelmigrate/internal/sessionlock"
	"github.com/peterldowns/modelmigrate/schema"
)

// Postgres is the PostgreSQL dialect. Tables in the current schema (usually
// "public") are named without a prefix; tables in any other namespace are
// named "namespace.table".
type Postgres struct{}

var _ alterSyntax = Postgres{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) Quote(ident string) string { return pgtools.Identifier(ident) }

func (Postgres) SupportsReturning() bool { return true }

func (Postgres) DefaultTableName() string { return "public.modelmigrate_migrations" }

func (Postgres) Normalize(s *schema.Schema) *schema.Schema {
	return normalize(s, capabilities{comments: true})
}

func (p Postgres) CreateSQL(s *schema.Schema) ([]string, error) {
	return createSQL(p, s)
}

func (p Postgres) DiffSQL(diff *schema.Diff) ([]string, error) {
	return alterDiffSQL(p, diff)
}

func (p Postgres) CreateMigrationsTableSQL(table string) []string {
	var out []string
	if namespace, _ := pgtools.ParseTableName(table); namespace != "public" {
		out = append(out, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", p.Quote(namespace)))
	}
	return append(out, fmt.Sprintf(query(`--sql
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	execution_time_in_millis BIGINT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
)
	`), p.Quote(table)))
}

func (Postgres) HasTableQuery(table string) (string, []any) {
	namespace, name := pgtools.ParseTableName(table)
	return query(`--sql
SELECT EXISTS (
	SELECT 1 FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2
)
	`), []any{namespace, name}
}

func (Postgres) Lock(ctx context.Context, db *sql.DB, name string, cb func(*sql.Conn) error) error {
	return sessionlock.With(ctx, db, name, cb)
}

func (Postgres) ErrorData(err error) map[string]any {
	return pgtools.ErrorData(err)
}

func (p Postgres) typeSQL(c *schema.Column) string {
	switch c.Type {
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeString:
		return fmt.Sprintf("VARCHAR(%d)", c.Length)
	case schema.TypeText:
		return "TEXT"
	case schema.TypeArray:
		return "JSONB"
	case schema.TypeBinary:
		return "BYTEA"
	case schema.TypeDecimal:
		return fmt.Sprintf("NUMERIC(%d, %d)", c.Precision, c.Scale)
	case schema.TypeDateTimeTZ:
		return "TIMESTAMP(0) WITH TIME ZONE"
	case schema.TypeGUID:
		return "UUID"
	}
	return c.Type
}

var (
	pgVarchar = regexp.MustCompile(`^character varying\((\d+)\)$`)
	pgNumeric = regexp.MustCompile(`^numeric\((\d+),(\d+)\)$`)
)

// parseType maps the output of format_type() back to a logical column type.
func (Postgres) parseType(c *schema.Column, formatted string) {
	switch formatted {
	case "boolean":
		c.Type = schema.TypeBoolean
	case "integer":
		c.Type = schema.TypeInteger
	case "bigint":
		c.Type = schema.TypeBigInt
	case "double precision":
		c.Type = schema.TypeFloat
	case "text":
		c.Type = schema.TypeText
	case "jsonb":
		c.Type = schema.TypeArray
	case "bytea":
		c.Type = schema.TypeBinary
	case "timestamp(0) with time zone", "timestamp with time zone":
		c.Type = schema.TypeDateTimeTZ
	case "uuid":
		c.Type = schema.TypeGUID
	default:
		if m := pgVarchar.FindStringSubmatch(formatted); m != nil {
			c.Type = schema.TypeString
			c.Length, _ = strconv.Atoi(m[1])
		} else if m := pgNumeric.FindStringSubmatch(formatted); m != nil {
			c.Type = schema.TypeDecimal
			c.Precision, _ = strconv.Atoi(m[1])
			c.Scale, _ = strconv.Atoi(m[2])
		} else {
			c.Type = formatted
		}
	}
}

func (Postgres) defaultSQL(c *schema.Column) string {
	v := *c.Default
	switch {
	case c.Type == schema.TypeBoolean && v == "true":
		return "TRUE"
	case c.Type == schema.TypeBoolean && v == "false":
		return "FALSE"
	case c.Type == schema.TypeDateTimeTZ && v == "0":
		return "'1970-01-01 00:00:00+00'"
	}
	return strings.TrimSpace(pgtools.Literal(v))
}

func (p Postgres) columnDef(c *schema.Column) string {
	def := p.Quote(c.Name) + " " + p.typeSQL(c)
	if c.Autoincrement {
		def += " GENERATED BY DEFAULT AS IDENTITY"
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	if c.Default != nil {
		def += " DEFAULT " + p.defaultSQL(c)
	}
	return def
}

func (p Postgres) commentSQL(table string, c *schema.Column) string {
	comment := "NULL"
	if c.Comment != "" {
		comment = strings.TrimSpace(pgtools.Literal(c.Comment))
	}
	return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", p.Quote(table), p.Quote(c.Name), comment)
}

// primaryKeyName is the name postgres gives the primary key constraint of a
// table.
func (Postgres) primaryKeyName(table string) string {
	_, name := pgtools.ParseTableName(table)
	return name + "_pkey"
}

// indexName qualifies an index with the namespace of its table, since
// postgres indexes live in the namespace of the table they belong to.
func (p Postgres) indexName(table, index string) string {
	if namespace, _, ok := strings.Cut(table, "."); ok {
		return p.Quote(namespace) + "." + p.Quote(index)
	}
	return p.Quote(index)
}

func (p Postgres) createTable(t *schema.Table) ([]string, error) {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, p.columnDef(c))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(p, t.PrimaryKey)))
	}
	out := []string{fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", p.Quote(t.Name), strings.Join(defs, ",\n\t"))}
	for _, c := range t.Columns {
		if c.Comment != "" {
			out = append(out, p.commentSQL(t.Name, c))
		}
	}
	return out, nil
}

func (p Postgres) renameTable(from *schema.Table, newName string) []string {
	_, name := pgtools.ParseTableName(newName)
	out := []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", p.Quote(from.Name), p.Quote(name))}
	if len(from.PrimaryKey) > 0 {
		out = append(out, fmt.Sprintf("ALTER TABLE %s RENAME CONSTRAINT %s TO %s",
			p.Quote(newName), p.Quote(p.primaryKeyName(from.Name)), p.Quote(p.primaryKeyName(newName))))
	}
	return out
}

func (p Postgres) addColumn(table string, c *schema.Column) ([]string, error) {
	out := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", p.Quote(table), p.columnDef(c))}
	if c.Comment != "" {
		out = append(out, p.commentSQL(table, c))
	}
	return out, nil
}

func (p Postgres) changeColumn(table string, from, to *schema.Column) ([]string, error) {
	var out []string
	alter := func(format string, args ...any) {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ", p.Quote(table))+fmt.Sprintf(format, args...))
	}
	if from.Name != to.Name {
		alter("RENAME COLUMN %s TO %s", p.Quote(from.Name), p.Quote(to.Name))
	}
	column := p.Quote(to.Name)
	defaultChanged := !sameDefault(from.Default, to.Default)
	if defaultChanged && from.Default != nil {
		alter("ALTER COLUMN %s DROP DEFAULT", column)
	}
	if typ := p.typeSQL(to); typ != p.typeSQL(from) {
		alter("ALTER COLUMN %s TYPE %s USING %s::%s", column, typ, column, typ)
	}
	if defaultChanged && to.Default != nil {
		alter("ALTER COLUMN %s SET DEFAULT %s", column, p.defaultSQL(to))
	}
	if from.NotNull != to.NotNull {
		if to.NotNull {
			alter("ALTER COLUMN %s SET NOT NULL", column)
		} else {
			alter("ALTER COLUMN %s DROP NOT NULL", column)
		}
	}
	if from.Autoincrement != to.Autoincrement {
		if to.Autoincrement {
			alter("ALTER COLUMN %s ADD GENERATED BY DEFAULT AS IDENTITY", column)
		} else {
			alter("ALTER COLUMN %s DROP IDENTITY IF EXISTS", column)
		}
	}
	if from.Comment != to.Comment {
		out = append(out, p.commentSQL(table, to))
	}
	return out, nil
}

func sameDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (p Postgres) dropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", p.Quote(table), p.Quote(column))
}

func (p Postgres) addPrimaryKey(table string, columns []string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)",
		p.Quote(table), p.Quote(p.primaryKeyName(table)), quoteList(p, columns))
}

func (p Postgres) dropPrimaryKey(table string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", p.Quote(table), p.Quote(p.primaryKeyName(table)))
}

func (p Postgres) createIndex(table string, ix *schema.Index) string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, p.Quote(ix.Name), p.Quote(table), quoteList(p, ix.Columns))
}

func (p Postgres) dropIndex(table string, ix *schema.Index) string {
	return "DROP INDEX " + p.indexName(table, ix.Name)
}

func (p Postgres) renameIndex(table, oldName, newName string) string {
	return fmt.Sprintf("ALTER INDEX %s RENAME TO %s", p.indexName(table, oldName), p.Quote(newName))
}

func (p Postgres) addForeignKey(table string, fk *schema.ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", p.Quote(table), p.Quote(fk.Name), foreignKeyClause(p, fk))
}

func (p Postgres) dropForeignKey(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", p.Quote(table), p.Quote(name))
}

func (p Postgres) createNamespace(name string) (string, error) {
	return "CREATE SCHEMA " + p.Quote(name), nil
}

func (p Postgres) createSequence(seq *schema.Sequence) (string, error) {
	return fmt.Sprintf("CREATE SEQUENCE %s INCREMENT BY %d START WITH %d", p.Quote(seq.Name), seq.IncrementSize, seq.StartValue), nil
}

func (p Postgres) alterSequence(seq *schema.Sequence) (string, error) {
	return fmt.Sprintf("ALTER SEQUENCE %s INCREMENT BY %d START WITH %d", p.Quote(seq.Name), seq.IncrementSize, seq.StartValue), nil
}

func (p Postgres) dropSequence(seq *schema.Sequence) (string, error) {
	return "DROP SEQUENCE " + p.Quote(seq.Name), nil
}

// Introspect reads the tables of every user namespace, and the sequences of
// the current one.
func (p Postgres) Introspect(ctx context.Context, q Querier) (*schema.Schema, error) {
	var current string
	if err := q.QueryRowContext(ctx, "SELECT current_schema()").Scan(&current); err != nil {
		return nil, err
	}
	s := schema.New(current)
	if err := p.loadNamespaces(ctx, q, s); err != nil {
		return nil, fmt.Errorf("namespaces: %w", err)
	}
	if err := p.loadTables(ctx, q, s); err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}
	if err := p.loadIndexes(ctx, q, s); err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}
	if err := p.loadForeignKeys(ctx, q, s); err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	if err := p.loadSequences(ctx, q, s); err != nil {
		return nil, fmt.Errorf("sequences: %w", err)
	}
	return s, nil
}

func (Postgres) loadNamespaces(ctx context.Context, q Querier, s *schema.Schema) error {
	rows, err := q.QueryContext(ctx, namespacesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		s.Namespaces = append(s.Namespaces, name)
	}
	return rows.Err()
}

func (p Postgres) loadTables(ctx context.Context, q Querier, s *schema.Schema) error {
	rows, err := q.QueryContext(ctx, tablesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	var current *schema.Table
	for rows.Next() {
		var (
			table      string
			name       sql.NullString
			notNull    sql.NullBool
			formatted  sql.NullString
			isIdentity sql.NullBool
			defaultDef sql.NullString
			comment    sql.NullString
		)
		if err := rows.Scan(&table, &name, &notNull, &formatted, &isIdentity, &defaultDef, &comment); err != nil {
			return err
		}
		if current == nil || current.Name != table {
			current = schema.NewTable(table)
			s.Tables = append(s.Tables, current)
		}
		if !name.Valid {
			continue
		}
		c := &schema.Column{
			Name:          name.String,
			NotNull:       notNull.Bool,
			Autoincrement: isIdentity.Bool,
			Comment:       comment.String,
		}
		p.parseType(c, formatted.String)
		if defaultDef.Valid {
			v := unquoteDefault(defaultDef.String)
			if c.Type == schema.TypeDateTimeTZ && isEpoch(v) {
				v = "0"
			}
			c.Default = canonicalDefault(c.Type, &v)
		}
		current.Columns = append(current.Columns, c)
	}
	return rows.Err()
}

func (Postgres) loadIndexes(ctx context.Context, q Querier, s *schema.Schema) error {
	rows, err := q.QueryContext(ctx, indexesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			table, name       string
			columns           []string
			unique, isPrimary bool
		)
		if err := rows.Scan(&table, &name, pq.Array(&columns), &unique, &isPrimary); err != nil {
			return err
		}
		t, err := s.Table(table)
		if err != nil {
			continue
		}
		if isPrimary {
			if err := t.SetPrimaryKey(columns); err != nil {
				return err
			}
			continue
		}
		if err := t.AddIndex(schema.Index{Name: name, Columns: columns, Unique: unique}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (Postgres) loadForeignKeys(ctx context.Context, q Querier, s *schema.Schema) error {
	rows, err := q.QueryContext(ctx, foreignKeysQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			table, name, foreignTable string
			local, foreign            []string
			onUpdate, onDelete        string
		)
		if err := rows.Scan(&table, &name, &foreignTable, pq.Array(&local), pq.Array(&foreign), &onUpdate, &onDelete); err != nil {
			return err
		}
		t, err := s.Table(table)
		if err != nil {
			continue
		}
		if err := t.AddForeignKey(schema.ForeignKey{
			Name:           name,
			LocalTable:     table,
			LocalColumns:   local,
			ForeignTable:   foreignTable,
			ForeignColumns: foreign,
			OnUpdate:       action(onUpdate),
			OnDelete:       action(onDelete),
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (Postgres) loadSequences(ctx context.Context, q Querier, s *schema.Schema) error {
	rows, err := q.QueryContext(ctx, sequencesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var seq schema.Sequence
		if err := rows.Scan(&seq.Name, &seq.IncrementSize, &seq.StartValue); err != nil {
			return err
		}
		s.Sequences = append(s.Sequences, &seq)
	}
	return rows.Err()
}

// query is a helper for writing sql queries that look nice in vscode when using
// the "Inline SQL for go" extension by @jhnj, which gives syntax highlighting
// for strings that begin with `--sql`.
//
// https://marketplace.visualstudio.com/items?itemName=jhnj.vscode-go-inline-sql
func query(x string) string {
	return strings.TrimSpace(strings.TrimPrefix(x, "--sql"))
}

// userNamespaces filters out the catalogs that postgres manages itself.
const userNamespaces = `n.nspname not like 'pg\_%' and n.nspname <> 'information_schema'`

// qualifiedTable names a relation the way the dialect does: bare in the
// current schema, "namespace.name" elsewhere.
const qualifiedTable = `case when n.nspname = current_schema() then c.relname::text else n.nspname || '.' || c.relname end`

var namespacesQuery = query(`--sql
select n.nspname
from pg_catalog.pg_namespace n
where ` + userNamespaces + `
and n.nspname <> current_schema()
order by n.nspname
`)

var tablesQuery = query(`--sql
select
	` + qualifiedTable + ` as "table_name",
	a.attname as "name",
	a.attnotnull as "not_null",
	format_type(a.atttypid, a.atttypmod) as "data_type",
	a.attidentity <> '' as "is_identity",
	pg_get_expr(ad.adbin, ad.adrelid) as "default_def",
	col_description(c.oid, a.attnum) as "column_comment"
from pg_catalog.pg_class c
join pg_catalog.pg_namespace n
	on n.oid = c.relnamespace
left join pg_catalog.pg_attribute a
	on a.attrelid = c.oid and a.attnum > 0 and not a.attisdropped
left join pg_catalog.pg_attrdef ad
	on a.attrelid = ad.adrelid and a.attnum = ad.adnum
where c.relkind in ('r', 'p')
and not c.relispartition
and ` + userNamespaces + `
order by "table_name", a.attnum
`)

// Expression and partial indexes cannot be described by the logical schema
// and are skipped.
var indexesQuery = query(`--sql
select
	` + qualifiedTable + ` as "table_name",
	i.relname as "name",
	coalesce((
		select array_agg(aa.attname::text order by ik.n)
		from unnest(x.indkey) with ordinality ik(i, n)
		join pg_attribute aa on aa.attrelid = x.indrelid and ik.i = aa.attnum
	), '{}') as "index_columns",
	x.indisunique as "is_unique",
	x.indisprimary as "is_pk"
from pg_catalog.pg_index x
join pg_catalog.pg_class c on c.oid = x.indrelid
join pg_catalog.pg_class i on i.oid = x.indexrelid
join pg_catalog.pg_namespace n on n.oid = c.relnamespace
where c.relkind in ('r', 'p')
and x.indexprs is null
and x.indpred is null
and ` + userNamespaces + `
order by "table_name", i.relname
`)

var foreignKeysQuery = query(`--sql
select
	` + qualifiedTable + ` as "table_name",
	con.conname as "name",
	case when fn.nspname = current_schema() then fc.relname::text else fn.nspname || '.' || fc.relname end as "foreign_table_name",
	(
		select array_agg(a.attname::text order by k.n)
		from unnest(con.conkey) with ordinality k(attnum, n)
		join pg_attribute a on a.attrelid = con.conrelid and a.attnum = k.attnum
	) as "local_columns",
	(
		select array_agg(a.attname::text order by k.n)
		from unnest(con.confkey) with ordinality k(attnum, n)
		join pg_attribute a on a.attrelid = con.confrelid and a.attnum = k.attnum
	) as "foreign_columns",
	con.confupdtype::text as "on_update",
	con.confdeltype::text as "on_delete"
from pg_catalog.pg_constraint con
join pg_catalog.pg_class c on c.oid = con.conrelid
join pg_catalog.pg_namespace n on n.oid = c.relnamespace
join pg_catalog.pg_class fc on fc.oid = con.confrelid
join pg_catalog.pg_namespace fn on fn.oid = fc.relnamespace
where con.contype = 'f'
and ` + userNamespaces + `
order by "table_name", con.conname
`)

// Sequences owned by identity and serial columns belong to their column and
// are skipped.
var sequencesQuery = query(`--sql
select c.relname, s.seqincrement, s.seqstart
from pg_catalog.pg_sequence s
join pg_catalog.pg_class c on c.oid = s.seqrelid
join pg_catalog.pg_namespace n on n.oid = c.relnamespace
where n.nspname = current_schema()
and not exists (
	select 1 from pg_catalog.pg_depend d
	where d.objid = c.oid
	and d.classid = 'pg_class'::regclass
	and d.deptype in ('i', 'a')
)
order by c.relname
`)
