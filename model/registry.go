package model

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValueType is a named type stored in a single column that is neither a
// primitive nor an entity: timestamps, decimals, uuids.
type ValueType struct {
	Name string
	// Decode converts a raw database value into the Go value.
	Decode func(raw any) (any, error)
	// Encode converts the Go value into something a database driver accepts.
	Encode func(v any) (any, error)
}

// Built-in value type names.
const (
	Timestamp = "timestamp"
	Decimal   = "decimal"
	UUID      = "uuid"
)

// Registry knows every entity and value type a property may refer to by
// name. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]Entity
	values   map[string]*ValueType
}

// NewRegistry returns a registry that already knows the built-in timestamp,
// decimal and uuid value types.
func NewRegistry() *Registry {
	r := &Registry{
		entities: map[string]Entity{},
		values:   map[string]*ValueType{},
	}
	r.RegisterValue(ValueType{Name: Timestamp, Decode: decodeTimestamp, Encode: encodeTimestamp})
	r.RegisterValue(ValueType{Name: Decimal, Decode: decodeDecimal, Encode: encodeDecimal})
	r.RegisterValue(ValueType{Name: UUID, Decode: decodeUUID, Encode: encodeUUID})
	return r
}

// Register adds entities to the registry, replacing any previously
// registered entity with the same name.
func (r *Registry) Register(entities ...Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entities {
		r.entities[e.EntityName()] = e
	}
}

// RegisterValue adds a value type.
func (r *Registry) RegisterValue(vt ValueType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[vt.Name] = &vt
}

// Entity returns the registered entity with the given name.
func (r *Registry) Entity(name string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// Value returns the registered value type with the given name.
func (r *Registry) Value(name string) (*ValueType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vt, ok := r.values[name]
	return vt, ok
}

// Entities returns every registered entity, sorted by name.
func (r *Registry) Entities() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntityName() < out[j].EntityName()
	})
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func decodeTimestamp(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case []byte:
		return decodeTimestamp(string(v))
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid timestamp %q", v)
	}
	return nil, fmt.Errorf("cannot decode %T as timestamp", raw)
}

func encodeTimestamp(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC(), nil
	}
	return decodeTimestamp(v)
}

func decodeDecimal(raw any) (any, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case []byte:
		return decimal.NewFromString(string(v))
	case string:
		return decimal.NewFromString(v)
	}
	return nil, fmt.Errorf("cannot decode %T as decimal", raw)
}

func encodeDecimal(v any) (any, error) {
	d, err := decodeDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.(decimal.Decimal).String(), nil
}

func decodeUUID(raw any) (any, error) {
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		return uuid.ParseBytes(v)
	case string:
		return uuid.Parse(v)
	}
	return nil, fmt.Errorf("cannot decode %T as uuid", raw)
}

func encodeUUID(v any) (any, error) {
	u, err := decodeUUID(v)
	if err != nil {
		return nil, err
	}
	return u.(uuid.UUID).String(), nil
}
