package modelmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peterldowns/modelmigrate/internal/builder"
	"github.com/peterldowns/modelmigrate/internal/multierr"
	"github.com/peterldowns/modelmigrate/model"
)

// entityTable is the resolved mapping of one entity onto its table.
type entityTable struct {
	name  string
	props model.Properties
	id    model.Property
}

func (b *Backend) entityTable(e model.Entity) (entityTable, error) {
	props, err := b.Builder.Resolver.Resolve(e)
	if err != nil {
		return entityTable{}, err
	}
	id, err := props.Identifier()
	if err != nil {
		return entityTable{}, err
	}
	return entityTable{name: builder.TableName(e.EntityName()), props: props, id: id}, nil
}

// Save writes rec to the database in a single transaction.
//
// A record whose identifier is set is updated; if its row no longer exists
// Save returns a [ConcurrentModificationError]. A record without an
// identifier is inserted, and the generated identifier is set on rec.
// Timestamps declared with a default of [model.Now] are filled in on insert,
// and those declared with OnUpdate(model.Now) on every save.
func (b *Backend) Save(ctx context.Context, rec model.Record) error {
	et, err := b.entityTable(rec)
	if err != nil {
		return err
	}
	values := rec.Values()
	if values == nil {
		values = map[string]any{}
	}
	now := time.Now().UTC()
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		if values[et.id.Name] != nil {
			return b.update(ctx, tx, et, values, now)
		}
		return b.insert(ctx, tx, et, values, now)
	})
	if err != nil {
		return err
	}
	return rec.SetValues(values)
}

func (b *Backend) update(ctx context.Context, tx *sql.Tx, et entityTable, values map[string]any, now time.Time) error {
	id, err := model.Encode(et.id, values[et.id.Name])
	if err != nil {
		return err
	}
	var exists bool
	query := fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
		b.Dialect.Quote(et.name),
		b.Dialect.Quote(et.id.Column()),
		b.Dialect.Placeholder(1),
	)
	b.debug(ctx, query)
	if err := tx.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return &ConcurrentModificationError{Entity: et.props.Entity(), ID: values[et.id.Name]}
	}
	var (
		sets []string
		args []any
	)
	for _, prop := range et.props.All() {
		if prop.Identifier {
			continue
		}
		if prop.OnUpdate == model.Now && prop.Kind == model.KindValue {
			values[prop.Name] = now
		}
		v, err := model.Encode(prop, values[prop.Name])
		if err != nil {
			return err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = %s", b.Dialect.Quote(prop.Column()), b.Dialect.Placeholder(len(args))))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query = fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = %s",
		b.Dialect.Quote(et.name),
		strings.Join(sets, ", "),
		b.Dialect.Quote(et.id.Column()),
		b.Dialect.Placeholder(len(args)),
	)
	b.debug(ctx, query)
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func (b *Backend) insert(ctx context.Context, tx *sql.Tx, et entityTable, values map[string]any, now time.Time) error {
	if et.id.Kind == model.KindValue && et.id.ValueType.Name == model.UUID {
		values[et.id.Name] = uuid.New()
	}
	var (
		columns      []string
		placeholders []string
		args         []any
	)
	for _, prop := range et.props.All() {
		v := values[prop.Name]
		if v == nil && prop.Default != nil {
			if prop.Default == model.Now {
				v = now
			} else {
				v = prop.Default
			}
			values[prop.Name] = v
		}
		if v == nil && prop.OnUpdate == model.Now && prop.Kind == model.KindValue {
			v = now
			values[prop.Name] = v
		}
		if v == nil {
			continue
		}
		encoded, err := model.Encode(prop, v)
		if err != nil {
			return err
		}
		args = append(args, encoded)
		columns = append(columns, b.Dialect.Quote(prop.Column()))
		placeholders = append(placeholders, b.Dialect.Placeholder(len(args)))
	}
	query := fmt.Sprintf("INSERT INTO %s", b.Dialect.Quote(et.name))
	switch {
	case len(columns) > 0:
		query += fmt.Sprintf(" (%s) VALUES (%s)", strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	case b.Dialect.Name() == "mysql":
		query += " () VALUES ()"
	default:
		query += " DEFAULT VALUES"
	}
	if values[et.id.Name] != nil {
		b.debug(ctx, query)
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}
	var raw any
	if b.Dialect.SupportsReturning() {
		query += " RETURNING " + b.Dialect.Quote(et.id.Column())
		b.debug(ctx, query)
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
			return err
		}
	} else {
		b.debug(ctx, query)
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if raw, err = result.LastInsertId(); err != nil {
			return err
		}
	}
	id, err := model.Decode(et.id, raw)
	if err != nil {
		return err
	}
	values[et.id.Name] = id
	return nil
}

func (b *Backend) inTx(ctx context.Context, cb func(tx *sql.Tx) error) (final error) {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx open: %w", err)
	}
	defer func() {
		if final != nil {
			if err := tx.Rollback(); err != nil {
				final = multierr.Join(final, fmt.Errorf("tx rollback: %w", err))
			}
		} else {
			if err := tx.Commit(); err != nil {
				final = multierr.Join(final, fmt.Errorf("tx commit: %w", err))
			}
		}
	}()
	return cb(tx)
}

// Criteria select the records returned by [Find].
type Criteria interface {
	where(b *Backend, et entityTable, args []any) (string, []any, error)
}

type byID struct {
	value any
}

// ByID selects the record with the given identifier.
func ByID(id any) Criteria {
	return byID{value: id}
}

func (c byID) where(b *Backend, et entityTable, args []any) (string, []any, error) {
	v, err := model.Encode(et.id, c.value)
	if err != nil {
		return "", nil, err
	}
	args = append(args, v)
	return fmt.Sprintf("%s = %s", b.Dialect.Quote(et.id.Column()), b.Dialect.Placeholder(len(args))), args, nil
}

// Where selects records by property (or column) values. All conditions must
// hold. A nil value matches NULL, and a string containing "%" is matched with
// LIKE. An empty Where selects every record.
type Where map[string]any

func (w Where) where(b *Backend, et entityTable, args []any) (string, []any, error) {
	keys := make([]string, 0, len(w))
	for key := range w {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	var conds []string
	for _, key := range keys {
		prop, ok := et.props.Get(key)
		if !ok {
			if prop, ok = et.props.ByColumn(key); !ok {
				return "", nil, fmt.Errorf("%s has no property %q", et.props.Entity(), key)
			}
		}
		column := b.Dialect.Quote(prop.Column())
		value := w[key]
		if value == nil {
			conds = append(conds, column+" IS NULL")
			continue
		}
		if s, ok := value.(string); ok && strings.Contains(s, "%") {
			args = append(args, s)
			conds = append(conds, fmt.Sprintf("%s LIKE %s", column, b.Dialect.Placeholder(len(args))))
			continue
		}
		v, err := model.Encode(prop, value)
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = %s", column, b.Dialect.Placeholder(len(args))))
	}
	return strings.Join(conds, " AND "), args, nil
}

// Find returns the records of type T matching criteria, ordered by
// identifier. Iteration stops at the first error, which is yielded with a
// nil record.
//
//	for widget, err := range modelmigrate.Find[Widget](ctx, backend, modelmigrate.Where{"title": "a%"}) {
//		...
//	}
func Find[T any, PT interface {
	*T
	model.Record
}](ctx context.Context, b *Backend, criteria Criteria) iter.Seq2[PT, error] {
	return func(yield func(PT, error) bool) {
		stopped := false
		err := find[T, PT](ctx, b, criteria, func(rec PT, err error) bool {
			stopped = !yield(rec, err)
			return !stopped
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// find yields records and returns the first error. It returns nil once the
// consumer stops iterating.
func find[T any, PT interface {
	*T
	model.Record
}](ctx context.Context, b *Backend, criteria Criteria, yield func(PT, error) bool) (final error) {
	et, err := b.entityTable(PT(new(T)))
	if err != nil {
		return err
	}
	props := et.props.All()
	columns := make([]string, 0, len(props))
	for _, prop := range props {
		columns = append(columns, b.Dialect.Quote(prop.Column()))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), b.Dialect.Quote(et.name))
	var args []any
	if criteria != nil {
		var cond string
		if cond, args, err = criteria.where(b, et, nil); err != nil {
			return err
		}
		if cond != "" {
			query += " WHERE " + cond
		}
	}
	query += " ORDER BY " + b.Dialect.Quote(et.id.Column())
	b.debug(ctx, query)
	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			final = multierr.Join(final, err)
		}
	}()
	for rows.Next() {
		raw := make([]any, len(props))
		dest := make([]any, len(props))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		values := make(map[string]any, len(props))
		for i, prop := range props {
			v, err := model.Decode(prop, raw[i])
			if err != nil {
				return err
			}
			values[prop.Name] = v
		}
		rec := PT(new(T))
		if err := rec.SetValues(values); err != nil {
			return err
		}
		if !yield(rec, nil) {
			return nil
		}
	}
	return rows.Err()
}

// Load returns the record of type T with the given identifier, or an error
// wrapping [ErrNotFound].
func Load[T any, PT interface {
	*T
	model.Record
}](ctx context.Context, b *Backend, id any) (PT, error) {
	for rec, err := range Find[T, PT](ctx, b, ByID(id)) {
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%T %v: %w", PT(nil), id, ErrNotFound)
}
