package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/peterldowns/modelmigrate/internal/multierr"
	"github.com/peterldowns/modelmigrate/schema"
)

// SQLite is the SQLite dialect. SQLite cannot alter columns, primary keys or
// foreign keys in place, so those changes rebuild the table: a new table is
// created with the target definition, the rows are copied over, and the new
// table replaces the old one. Namespaces and sequences are not supported.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Quote(ident string) string { return quoteWith(`"`, ident) }

func (SQLite) SupportsReturning() bool { return true }

func (SQLite) DefaultTableName() string { return "modelmigrate_migrations" }

// Normalize also turns autoincrementing bigint keys into integer keys, since
// only an INTEGER PRIMARY KEY can autoincrement.
func (SQLite) Normalize(s *schema.Schema) *schema.Schema {
	out := normalize(s, capabilities{})
	for _, t := range out.Tables {
		for _, c := range t.Columns {
			if c.Autoincrement {
				c.Type = schema.TypeInteger
			}
		}
	}
	return out
}

func (d SQLite) CreateSQL(s *schema.Schema) ([]string, error) {
	return createSQL(d, s)
}

func (d SQLite) CreateMigrationsTableSQL(table string) []string {
	return []string{fmt.Sprintf(query(`--sql
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY NOT NULL,
	checksum TEXT NOT NULL,
	execution_time_in_millis INTEGER NOT NULL,
	applied_at DATETIME NOT NULL
)
	`), d.Quote(table))}
}

func (SQLite) HasTableQuery(table string) (string, []any) {
	return query(`--sql
SELECT EXISTS (
	SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?
)
	`), []any{table}
}

// Lock runs cb on a dedicated connection with foreign key enforcement turned
// off, so that tables can be rebuilt while other tables reference them. The
// previous setting is restored afterwards. SQLite serializes writers itself,
// so no lock is taken.
func (SQLite) Lock(ctx context.Context, db *sql.DB, _ string, cb func(*sql.Conn) error) (final error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlite failed to open conn: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			final = multierr.Join(final, fmt.Errorf("sqlite failed to close conn: %w", err))
		}
	}()
	var enabled bool
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("sqlite failed to read foreign_keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("sqlite failed to disable foreign_keys: %w", err)
	}
	if enabled {
		defer func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys = ON"); err != nil {
				final = multierr.Join(final, fmt.Errorf("sqlite failed to enable foreign_keys: %w", err))
			}
		}()
	}
	return cb(conn)
}

func (SQLite) ErrorData(err error) map[string]any {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return nil
	}
	return map[string]any{
		"sqlite_code":          int(se.Code),
		"sqlite_extended_code": int(se.ExtendedCode),
		"sqlite_message":       se.Error(),
	}
}

func (SQLite) typeSQL(c *schema.Column) string {
	switch c.Type {
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE"
	case schema.TypeString:
		return fmt.Sprintf("VARCHAR(%d)", c.Length)
	case schema.TypeText:
		return "TEXT"
	case schema.TypeArray:
		return "JSON"
	case schema.TypeBinary:
		return "BLOB"
	case schema.TypeDecimal:
		return fmt.Sprintf("NUMERIC(%d, %d)", c.Precision, c.Scale)
	case schema.TypeDateTimeTZ:
		return "DATETIME"
	case schema.TypeGUID:
		return "CHAR(36)"
	}
	return c.Type
}

var (
	sqliteVarchar = regexp.MustCompile(`^VARCHAR\((\d+)\)$`)
	sqliteNumeric = regexp.MustCompile(`^NUMERIC\((\d+),\s*(\d+)\)$`)
)

func (SQLite) parseType(c *schema.Column, declared string) {
	switch upper := strings.ToUpper(strings.TrimSpace(declared)); upper {
	case "BOOLEAN":
		c.Type = schema.TypeBoolean
	case "INTEGER":
		c.Type = schema.TypeInteger
	case "BIGINT":
		c.Type = schema.TypeBigInt
	case "DOUBLE":
		c.Type = schema.TypeFloat
	case "TEXT":
		c.Type = schema.TypeText
	case "JSON":
		c.Type = schema.TypeArray
	case "BLOB":
		c.Type = schema.TypeBinary
	case "DATETIME":
		c.Type = schema.TypeDateTimeTZ
	case "CHAR(36)":
		c.Type = schema.TypeGUID
	default:
		if m := sqliteVarchar.FindStringSubmatch(upper); m != nil {
			c.Type = schema.TypeString
			c.Length, _ = strconv.Atoi(m[1])
		} else if m := sqliteNumeric.FindStringSubmatch(upper); m != nil {
			c.Type = schema.TypeDecimal
			c.Precision, _ = strconv.Atoi(m[1])
			c.Scale, _ = strconv.Atoi(m[2])
		} else {
			c.Type = declared
		}
	}
}

func (SQLite) defaultSQL(c *schema.Column) string {
	v := *c.Default
	if c.Type == schema.TypeBoolean {
		switch v {
		case "true":
			return "1"
		case "false":
			return "0"
		}
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func (d SQLite) columnDef(c *schema.Column) string {
	if c.Autoincrement {
		return d.Quote(c.Name) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL"
	}
	def := d.Quote(c.Name) + " " + d.typeSQL(c)
	if c.NotNull {
		def += " NOT NULL"
	}
	if c.Default != nil {
		def += " DEFAULT " + d.defaultSQL(c)
	}
	return def
}

// createTable renders t under the given name, with its primary key and
// foreign keys inline.
func (d SQLite) createTable(name string, t *schema.Table) string {
	defs := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	inline := false
	for _, c := range t.Columns {
		defs = append(defs, d.columnDef(c))
		inline = inline || c.Autoincrement
	}
	if len(t.PrimaryKey) > 0 && !inline {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(d, t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s %s", d.Quote(fk.Name), foreignKeyClause(d, fk)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", d.Quote(name), strings.Join(defs, ",\n\t"))
}

func (d SQLite) createIndex(table string, ix *schema.Index) string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, d.Quote(ix.Name), d.Quote(table), quoteList(d, ix.Columns))
}

func (d SQLite) dropIndex(name string) string {
	return "DROP INDEX " + d.Quote(name)
}

func (d SQLite) DiffSQL(diff *schema.Diff) ([]string, error) {
	if diff.From == nil || diff.To == nil {
		return nil, fmt.Errorf("diff is missing its schemas")
	}
	if len(diff.NewNamespaces) > 0 {
		return nil, &UnsupportedError{Dialect: d.Name(), Feature: "namespaces"}
	}
	if len(diff.NewSequences)+len(diff.ChangedSequences)+len(diff.RemovedSequences) > 0 {
		return nil, &UnsupportedError{Dialect: d.Name(), Feature: "sequences"}
	}
	var out []string
	for _, t := range sortedTables(diff.NewTables) {
		out = append(out, d.createTable(t.Name, t))
		for _, ix := range t.Indexes {
			if !ix.Primary {
				out = append(out, d.createIndex(t.Name, ix))
			}
		}
	}
	changed := map[string]bool{}
	for _, td := range diff.ChangedTables {
		changed[td.Name] = true
		from, err := diff.From.Table(td.Name)
		if err != nil {
			return nil, err
		}
		to, err := diff.To.Table(td.CurrentName())
		if err != nil {
			return nil, err
		}
		if d.needsRebuild(td) || d.ownsOrphan(diff, td.Name) {
			out = append(out, d.rebuild(from, to, td)...)
		} else {
			out = append(out, d.alter(td)...)
		}
	}
	// Tables whose only change is a foreign key to a removed table.
	for _, fk := range diff.OrphanedForeignKeys {
		if changed[fk.LocalTable] {
			continue
		}
		changed[fk.LocalTable] = true
		from, err := diff.From.Table(fk.LocalTable)
		if err != nil {
			return nil, err
		}
		to, err := diff.To.Table(fk.LocalTable)
		if err != nil {
			return nil, err
		}
		out = append(out, d.rebuild(from, to, &schema.TableDiff{Name: from.Name})...)
	}
	removed := sortedTables(diff.RemovedTables)
	slices.Reverse(removed)
	for _, t := range removed {
		out = append(out, "DROP TABLE "+d.Quote(t.Name))
	}
	return out, nil
}

func (SQLite) needsRebuild(td *schema.TableDiff) bool {
	if len(td.RemovedColumns)+len(td.ChangedColumns) > 0 {
		return true
	}
	if len(td.AddedForeignKeys)+len(td.ChangedForeignKeys)+len(td.RemovedForeignKeys) > 0 {
		return true
	}
	for _, c := range td.AddedColumns {
		if (c.NotNull && c.Default == nil) || c.Autoincrement {
			return true
		}
	}
	for _, ix := range slices.Concat(td.AddedIndexes, td.ChangedIndexes, td.RemovedIndexes) {
		if ix.Primary {
			return true
		}
	}
	return false
}

func (SQLite) ownsOrphan(diff *schema.Diff, table string) bool {
	return slices.ContainsFunc(diff.OrphanedForeignKeys, func(fk *schema.ForeignKey) bool {
		return fk.LocalTable == table
	})
}

// alter applies the changes that SQLite supports in place.
func (d SQLite) alter(td *schema.TableDiff) []string {
	var out []string
	name := td.Name
	if td.NewName != "" {
		out = append(out, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(td.Name), d.Quote(td.NewName)))
		name = td.NewName
	}
	for _, rc := range td.RenamedColumns {
		out = append(out, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.Quote(name), d.Quote(rc.OldName), d.Quote(rc.Column.Name)))
	}
	for _, c := range td.AddedColumns {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(name), d.columnDef(c)))
	}
	for _, ix := range slices.Concat(td.RemovedIndexes, td.ChangedIndexes) {
		out = append(out, d.dropIndex(ix.Name))
	}
	for _, ri := range td.RenamedIndexes {
		out = append(out, d.dropIndex(ri.OldName))
	}
	for _, ix := range slices.Concat(td.AddedIndexes, td.ChangedIndexes) {
		out = append(out, d.createIndex(name, ix))
	}
	for _, ri := range td.RenamedIndexes {
		out = append(out, d.createIndex(name, ri.Index))
	}
	return out
}

// rebuild replaces a table with a copy that has the target definition.
func (d SQLite) rebuild(from, to *schema.Table, td *schema.TableDiff) []string {
	var out []string
	name := from.Name
	if to.Name != from.Name {
		out = append(out, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(from.Name), d.Quote(to.Name)))
		name = to.Name
	}
	source := map[string]string{}
	for _, rc := range td.RenamedColumns {
		source[rc.Column.Name] = rc.OldName
	}
	for _, cd := range td.ChangedColumns {
		source[cd.Column.Name] = cd.OldName
	}
	added := map[string]bool{}
	for _, c := range td.AddedColumns {
		added[c.Name] = true
	}
	var targets, sources []string
	for _, c := range to.Columns {
		if added[c.Name] {
			continue
		}
		src, ok := source[c.Name]
		if !ok {
			src = c.Name
		}
		if _, ok := from.Column(src); !ok {
			continue
		}
		targets = append(targets, d.Quote(c.Name))
		sources = append(sources, d.Quote(src))
	}
	tmp := "_modelmigrate_new_" + name
	out = append(out, d.createTable(tmp, to))
	if len(targets) > 0 {
		out = append(out, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			d.Quote(tmp), strings.Join(targets, ", "), strings.Join(sources, ", "), d.Quote(name)))
	}
	out = append(out,
		"DROP TABLE "+d.Quote(name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(tmp), d.Quote(name)),
	)
	for _, ix := range to.Indexes {
		if !ix.Primary {
			out = append(out, d.createIndex(name, ix))
		}
	}
	return out
}

// Introspect reads every table of the main database.
func (d SQLite) Introspect(ctx context.Context, q Querier) (*schema.Schema, error) {
	tables, err := queryAll(ctx, q, func(rows *sql.Rows) (sqliteTable, error) {
		var t sqliteTable
		err := rows.Scan(&t.name, &t.sql)
		return t, err
	}, query(`--sql
SELECT name, sql FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
ORDER BY name
	`))
	if err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}
	s := schema.New("main")
	for _, st := range tables {
		t, err := d.loadTable(ctx, q, st)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", st.name, err)
		}
		s.Tables = append(s.Tables, t)
	}
	return s, nil
}

type sqliteTable struct {
	name string
	sql  string
}

type sqliteColumn struct {
	name       string
	declared   string
	notNull    bool
	defaultDef sql.NullString
	pk         int
}

type sqliteIndex struct {
	name   string
	unique bool
	origin string
}

type sqliteForeignKey struct {
	id, seq            int
	table, from        string
	to                 sql.NullString
	onUpdate, onDelete string
}

var (
	sqliteAutoincrement = regexp.MustCompile(`(?i)\bAUTOINCREMENT\b`)
	sqliteConstraintFK  = regexp.MustCompile(`(?i)CONSTRAINT\s+"?(\w+)"?\s+FOREIGN\s+KEY\s*\(([^)]*)\)`)
)

func (d SQLite) loadTable(ctx context.Context, q Querier, st sqliteTable) (*schema.Table, error) {
	t := schema.NewTable(st.name)
	columns, err := queryAll(ctx, q, func(rows *sql.Rows) (sqliteColumn, error) {
		var c sqliteColumn
		err := rows.Scan(&c.name, &c.declared, &c.notNull, &c.defaultDef, &c.pk)
		return c, err
	}, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, st.name)
	if err != nil {
		return nil, err
	}
	var pk []sqliteColumn
	for _, sc := range columns {
		c := &schema.Column{Name: sc.name, NotNull: sc.notNull}
		d.parseType(c, sc.declared)
		if sc.defaultDef.Valid {
			v := unquoteDefault(sc.defaultDef.String)
			c.Default = canonicalDefault(c.Type, &v)
		}
		t.Columns = append(t.Columns, c)
		if sc.pk > 0 {
			pk = append(pk, sc)
		}
	}
	if len(pk) > 0 {
		slices.SortFunc(pk, func(a, b sqliteColumn) int { return a.pk - b.pk })
		names := make([]string, len(pk))
		for i, c := range pk {
			names[i] = c.name
		}
		if err := t.SetPrimaryKey(names); err != nil {
			return nil, err
		}
		if len(pk) == 1 && sqliteAutoincrement.MatchString(st.sql) {
			c, _ := t.Column(pk[0].name)
			c.Autoincrement = true
		}
	}
	if err := d.loadIndexes(ctx, q, t); err != nil {
		return nil, err
	}
	if err := d.loadForeignKeys(ctx, q, t, st.sql); err != nil {
		return nil, err
	}
	return t, nil
}

func (SQLite) loadIndexes(ctx context.Context, q Querier, t *schema.Table) error {
	indexes, err := queryAll(ctx, q, func(rows *sql.Rows) (sqliteIndex, error) {
		var ix sqliteIndex
		err := rows.Scan(&ix.name, &ix.unique, &ix.origin)
		return ix, err
	}, `SELECT name, "unique", origin FROM pragma_index_list(?) WHERE partial = 0 ORDER BY name`, t.Name)
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		if ix.origin == "pk" || strings.HasPrefix(ix.name, "sqlite_autoindex_") {
			continue
		}
		columns, err := queryAll(ctx, q, func(rows *sql.Rows) (sql.NullString, error) {
			var name sql.NullString
			err := rows.Scan(&name)
			return name, err
		}, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, ix.name)
		if err != nil {
			return err
		}
		index := schema.Index{Name: ix.name, Unique: ix.unique}
		expression := false
		for _, c := range columns {
			expression = expression || !c.Valid
			index.Columns = append(index.Columns, c.String)
		}
		if expression {
			continue
		}
		if err := t.AddIndex(index); err != nil {
			return err
		}
	}
	return nil
}

func (SQLite) loadForeignKeys(ctx context.Context, q Querier, t *schema.Table, createSQL string) error {
	refs, err := queryAll(ctx, q, func(rows *sql.Rows) (sqliteForeignKey, error) {
		var fk sqliteForeignKey
		err := rows.Scan(&fk.id, &fk.seq, &fk.table, &fk.from, &fk.to, &fk.onUpdate, &fk.onDelete)
		return fk, err
	}, `SELECT id, seq, "table", "from", "to", on_update, on_delete FROM pragma_foreign_key_list(?) ORDER BY id, seq`, t.Name)
	if err != nil {
		return err
	}
	names := map[string]string{} // quoted local columns -> constraint name
	for _, m := range sqliteConstraintFK.FindAllStringSubmatch(createSQL, -1) {
		names[normalizeColumnList(m[2])] = m[1]
	}
	var current *schema.ForeignKey
	flush := func() error {
		if current == nil {
			return nil
		}
		name, ok := names[strings.Join(current.LocalColumns, ",")]
		if !ok {
			name = "fk_" + t.Name + "_" + strings.Join(current.LocalColumns, "_")
		}
		current.Name = name
		return t.AddForeignKey(*current)
	}
	lastID := -1
	for _, ref := range refs {
		if ref.id != lastID {
			if err := flush(); err != nil {
				return err
			}
			lastID = ref.id
			current = &schema.ForeignKey{
				LocalTable:   t.Name,
				ForeignTable: ref.table,
				OnUpdate:     strings.ToUpper(ref.onUpdate),
				OnDelete:     strings.ToUpper(ref.onDelete),
			}
		}
		current.LocalColumns = append(current.LocalColumns, ref.from)
		current.ForeignColumns = append(current.ForeignColumns, ref.to.String)
	}
	return flush()
}

// normalizeColumnList turns `"a", "b"` into `a,b`.
func normalizeColumnList(list string) string {
	parts := strings.Split(list, ",")
	for i, part := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(part), `"`)
	}
	return strings.Join(parts, ",")
}

// queryAll runs a query and scans every row before returning, so that the
// caller may issue further queries on the same connection.
func queryAll[T any](ctx context.Context, q Querier, scan func(*sql.Rows) (T, error), stmt string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
