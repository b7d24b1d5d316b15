package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/peterldowns/modelmigrate/internal/sessionlock"
	"github.com/peterldowns/modelmigrate/schema"
)

// MySQL is the MySQL (and MariaDB) dialect, for InnoDB tables in the database
// selected by the connection. Namespaces and sequences are not supported.
type MySQL struct{}

var _ alterSyntax = MySQL{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) Quote(ident string) string { return quoteWith("`", ident) }

func (MySQL) SupportsReturning() bool { return false }

func (MySQL) DefaultTableName() string { return "modelmigrate_migrations" }

func (MySQL) Normalize(s *schema.Schema) *schema.Schema {
	return normalize(s, capabilities{unsigned: true, version: true, comments: true, restrictIsNoAction: true})
}

func (d MySQL) CreateSQL(s *schema.Schema) ([]string, error) {
	return createSQL(d, s)
}

func (d MySQL) DiffSQL(diff *schema.Diff) ([]string, error) {
	return alterDiffSQL(d, diff)
}

func (d MySQL) CreateMigrationsTableSQL(table string) []string {
	return []string{fmt.Sprintf(query(`--sql
CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(255) NOT NULL PRIMARY KEY,
	checksum VARCHAR(32) NOT NULL,
	execution_time_in_millis BIGINT NOT NULL,
	applied_at DATETIME(6) NOT NULL
)
	`), d.Quote(table))}
}

func (MySQL) HasTableQuery(table string) (string, []any) {
	return query(`--sql
SELECT EXISTS (
	SELECT 1 FROM information_schema.TABLES
	WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
)
	`), []any{table}
}

func (MySQL) Lock(ctx context.Context, db *sql.DB, name string, cb func(*sql.Conn) error) error {
	return sessionlock.WithQueries(ctx, db, name, sessionlock.MySQL(name), cb)
}

func (MySQL) ErrorData(err error) map[string]any {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return nil
	}
	data := map[string]any{
		"mysql_code":    int(me.Number),
		"mysql_message": me.Message,
	}
	if me.SQLState != [5]byte{} {
		data["mysql_sqlstate"] = string(me.SQLState[:])
	}
	return data
}

func (MySQL) typeSQL(c *schema.Column) string {
	unsigned := ""
	if c.Unsigned {
		unsigned = " UNSIGNED"
	}
	switch c.Type {
	case schema.TypeBoolean:
		return "TINYINT(1)"
	case schema.TypeInteger:
		return "INT" + unsigned
	case schema.TypeBigInt:
		return "BIGINT" + unsigned
	case schema.TypeFloat:
		return "DOUBLE"
	case schema.TypeString:
		return fmt.Sprintf("VARCHAR(%d)", c.Length)
	case schema.TypeText:
		return "LONGTEXT"
	case schema.TypeArray:
		return "JSON"
	case schema.TypeBinary:
		return "LONGBLOB"
	case schema.TypeDecimal:
		return fmt.Sprintf("DECIMAL(%d, %d)", c.Precision, c.Scale)
	case schema.TypeDateTimeTZ:
		return "DATETIME"
	case schema.TypeGUID:
		return "CHAR(36)"
	}
	return c.Type
}

var (
	mysqlInteger = regexp.MustCompile(`^(int|bigint)(\(\d+\))?( unsigned)?$`)
	mysqlVarchar = regexp.MustCompile(`^varchar\((\d+)\)$`)
	mysqlDecimal = regexp.MustCompile(`^decimal\((\d+),(\d+)\)$`)
)

// parseType maps information_schema.COLUMNS.COLUMN_TYPE back to a logical
// column type.
func (MySQL) parseType(c *schema.Column, columnType string) {
	lower := strings.ToLower(strings.TrimSpace(columnType))
	switch lower {
	case "tinyint(1)":
		c.Type = schema.TypeBoolean
	case "double":
		c.Type = schema.TypeFloat
	case "longtext":
		c.Type = schema.TypeText
	case "json":
		c.Type = schema.TypeArray
	case "longblob":
		c.Type = schema.TypeBinary
	case "datetime":
		c.Type = schema.TypeDateTimeTZ
	case "char(36)":
		c.Type = schema.TypeGUID
	default:
		if m := mysqlInteger.FindStringSubmatch(lower); m != nil {
			c.Type = schema.TypeInteger
			if m[1] == "bigint" {
				c.Type = schema.TypeBigInt
			}
			c.Unsigned = m[3] != ""
		} else if m := mysqlVarchar.FindStringSubmatch(lower); m != nil {
			c.Type = schema.TypeString
			c.Length, _ = strconv.Atoi(m[1])
		} else if m := mysqlDecimal.FindStringSubmatch(lower); m != nil {
			c.Type = schema.TypeDecimal
			c.Precision, _ = strconv.Atoi(m[1])
			c.Scale, _ = strconv.Atoi(m[2])
		} else {
			c.Type = columnType
		}
	}
}

func (MySQL) literal(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func (d MySQL) defaultSQL(c *schema.Column) string {
	v := *c.Default
	switch {
	case c.Type == schema.TypeBoolean && v == "true":
		return "1"
	case c.Type == schema.TypeBoolean && v == "false":
		return "0"
	case c.Type == schema.TypeDateTimeTZ && v == "0":
		return "'1970-01-01 00:00:00'"
	}
	return d.literal(v)
}

func (d MySQL) columnDef(c *schema.Column) string {
	def := d.Quote(c.Name) + " " + d.typeSQL(c)
	if c.NotNull {
		def += " NOT NULL"
	} else {
		def += " NULL"
	}
	if c.Default != nil {
		def += " DEFAULT " + d.defaultSQL(c)
	}
	if c.Autoincrement {
		def += " AUTO_INCREMENT"
	}
	if c.Version {
		def += " ON UPDATE CURRENT_TIMESTAMP"
	}
	if c.Comment != "" {
		def += " COMMENT " + d.literal(c.Comment)
	}
	return def
}

// tableOptions renders the engine, charset and collation a model asked for.
func (MySQL) tableOptions(t *schema.Table) string {
	var opts []string
	for _, opt := range []struct{ key, sql string }{
		{"engine", "ENGINE"},
		{"charset", "DEFAULT CHARSET"},
		{"collate", "COLLATE"},
	} {
		if v := t.Options[opt.key]; v != "" {
			opts = append(opts, opt.sql+"="+v)
		}
	}
	if len(opts) == 0 {
		return ""
	}
	return " " + strings.Join(opts, " ")
}

func (d MySQL) createTable(t *schema.Table) ([]string, error) {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, d.columnDef(c))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(d, t.PrimaryKey)))
	}
	return []string{fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)%s", d.Quote(t.Name), strings.Join(defs, ",\n\t"), d.tableOptions(t))}, nil
}

func (d MySQL) renameTable(from *schema.Table, newName string) []string {
	return []string{fmt.Sprintf("RENAME TABLE %s TO %s", d.Quote(from.Name), d.Quote(newName))}
}

func (d MySQL) addColumn(table string, c *schema.Column) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), d.columnDef(c))}, nil
}

func (d MySQL) changeColumn(table string, from, to *schema.Column) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s CHANGE COLUMN %s %s", d.Quote(table), d.Quote(from.Name), d.columnDef(to))}, nil
}

func (d MySQL) dropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(table), d.Quote(column))
}

func (d MySQL) addPrimaryKey(table string, columns []string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", d.Quote(table), quoteList(d, columns))
}

func (d MySQL) dropPrimaryKey(table string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", d.Quote(table))
}

func (d MySQL) createIndex(table string, ix *schema.Index) string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, d.Quote(ix.Name), d.Quote(table), quoteList(d, ix.Columns))
}

func (d MySQL) dropIndex(table string, ix *schema.Index) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", d.Quote(ix.Name), d.Quote(table))
}

func (d MySQL) renameIndex(table, oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s", d.Quote(table), d.Quote(oldName), d.Quote(newName))
}

func (d MySQL) addForeignKey(table string, fk *schema.ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", d.Quote(table), d.Quote(fk.Name), foreignKeyClause(d, fk))
}

func (d MySQL) dropForeignKey(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", d.Quote(table), d.Quote(name))
}

func (d MySQL) createNamespace(string) (string, error) {
	return "", &UnsupportedError{Dialect: d.Name(), Feature: "namespaces"}
}

func (d MySQL) createSequence(*schema.Sequence) (string, error) {
	return "", &UnsupportedError{Dialect: d.Name(), Feature: "sequences"}
}

func (d MySQL) alterSequence(*schema.Sequence) (string, error) {
	return "", &UnsupportedError{Dialect: d.Name(), Feature: "sequences"}
}

func (d MySQL) dropSequence(*schema.Sequence) (string, error) {
	return "", &UnsupportedError{Dialect: d.Name(), Feature: "sequences"}
}

// Introspect reads every base table of the current database.
func (d MySQL) Introspect(ctx context.Context, q Querier) (*schema.Schema, error) {
	var name sql.NullString
	if err := q.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
		return nil, err
	}
	s := schema.New(name.String)
	if err := d.loadColumns(ctx, q, s); err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}
	if err := d.loadForeignKeys(ctx, q, s); err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	if err := d.loadIndexes(ctx, q, s); err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}
	return s, nil
}

func (d MySQL) loadColumns(ctx context.Context, q Querier, s *schema.Schema) error {
	rows, err := q.QueryContext(ctx, mysqlColumnsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	var current *schema.Table
	for rows.Next() {
		var (
			table, name, columnType, nullable, extra, comment string
			defaultDef                                        sql.NullString
		)
		if err := rows.Scan(&table, &name, &columnType, &nullable, &defaultDef, &extra, &comment); err != nil {
			return err
		}
		if current == nil || current.Name != table {
			current = schema.NewTable(table)
			s.Tables = append(s.Tables, current)
		}
		extra = strings.ToLower(extra)
		c := &schema.Column{
			Name:          name,
			NotNull:       nullable == "NO",
			Autoincrement: strings.Contains(extra, "auto_increment"),
			Version:       strings.Contains(extra, "on update current_timestamp"),
			Comment:       comment,
		}
		d.parseType(c, columnType)
		if defaultDef.Valid && defaultDef.String != "NULL" {
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

// loadIndexes skips the indexes InnoDB creates implicitly for foreign keys,
// which are named after the foreign key, so loadForeignKeys must run first.
func (MySQL) loadIndexes(ctx context.Context, q Querier, s *schema.Schema) error {
	rows, err := q.QueryContext(ctx, mysqlIndexesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	type key struct{ table, index string }
	var order []key
	indexes := map[key]*schema.Index{}
	for rows.Next() {
		var (
			table, name string
			nonUnique   bool
			column      sql.NullString
		)
		if err := rows.Scan(&table, &name, &nonUnique, &column); err != nil {
			return err
		}
		k := key{table, name}
		ix, ok := indexes[k]
		if !ok {
			ix = &schema.Index{Name: name, Unique: !nonUnique, Primary: name == "PRIMARY"}
			indexes[k] = ix
			order = append(order, k)
		}
		if !column.Valid {
			ix.Flags = append(ix.Flags, "expression")
		}
		ix.Columns = append(ix.Columns, column.String)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, k := range order {
		ix := indexes[k]
		t, err := s.Table(k.table)
		if err != nil || len(ix.Flags) > 0 {
			continue
		}
		if ix.Primary {
			if err := t.SetPrimaryKey(ix.Columns); err != nil {
				return err
			}
			continue
		}
		if t.HasForeignKey(ix.Name) {
			continue
		}
		if err := t.AddIndex(*ix); err != nil {
			return err
		}
	}
	return nil
}

func (MySQL) loadForeignKeys(ctx context.Context, q Querier, s *schema.Schema) error {
	rows, err := q.QueryContext(ctx, mysqlForeignKeysQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	var current *schema.ForeignKey
	var owner *schema.Table
	flush := func() error {
		if current == nil || owner == nil {
			return nil
		}
		return owner.AddForeignKey(*current)
	}
	for rows.Next() {
		var table, name, column, foreignTable, foreignColumn, onUpdate, onDelete string
		if err := rows.Scan(&table, &name, &column, &foreignTable, &foreignColumn, &onUpdate, &onDelete); err != nil {
			return err
		}
		if current == nil || current.LocalTable != table || current.Name != name {
			if err := flush(); err != nil {
				return err
			}
			owner, _ = s.Table(table)
			current = &schema.ForeignKey{
				Name:         name,
				LocalTable:   table,
				ForeignTable: foreignTable,
				OnUpdate:     onUpdate,
				OnDelete:     onDelete,
			}
		}
		current.LocalColumns = append(current.LocalColumns, column)
		current.ForeignColumns = append(current.ForeignColumns, foreignColumn)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}

var mysqlColumnsQuery = query(`--sql
SELECT
	c.TABLE_NAME,
	c.COLUMN_NAME,
	c.COLUMN_TYPE,
	c.IS_NULLABLE,
	c.COLUMN_DEFAULT,
	c.EXTRA,
	c.COLUMN_COMMENT
FROM information_schema.COLUMNS c
JOIN information_schema.TABLES t
	ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
WHERE c.TABLE_SCHEMA = DATABASE()
AND t.TABLE_TYPE = 'BASE TABLE'
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION
`)

var mysqlIndexesQuery = query(`--sql
SELECT TABLE_NAME, INDEX_NAME, NON_UNIQUE, COLUMN_NAME
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = DATABASE()
ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX
`)

var mysqlForeignKeysQuery = query(`--sql
SELECT
	k.TABLE_NAME,
	k.CONSTRAINT_NAME,
	k.COLUMN_NAME,
	k.REFERENCED_TABLE_NAME,
	k.REFERENCED_COLUMN_NAME,
	r.UPDATE_RULE,
	r.DELETE_RULE
FROM information_schema.KEY_COLUMN_USAGE k
JOIN information_schema.REFERENTIAL_CONSTRAINTS r
	ON r.CONSTRAINT_SCHEMA = k.CONSTRAINT_SCHEMA
	AND r.TABLE_NAME = k.TABLE_NAME
	AND r.CONSTRAINT_NAME = k.CONSTRAINT_NAME
WHERE k.TABLE_SCHEMA = DATABASE()
AND k.REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY k.TABLE_NAME, k.CONSTRAINT_NAME, k.ORDINAL_POSITION
`)
