package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Decode converts a raw value read from a database column into the
// property's Go type. It is weakly typed: drivers differ in what they
// return for the same column, so numbers, byte slices and strings are
// coerced where the conversion is unambiguous.
//
//	bool      -> bool
//	int       -> int64
//	float     -> float64
//	string    -> string
//	bytes     -> []byte
//	array     -> []any
//	reference -> int64, string or the driver value (the referenced identifier)
//	value     -> whatever the value type decodes to
func Decode(p Property, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch p.Kind {
	case KindValue:
		return p.ValueType.Decode(raw)
	case KindReference:
		switch v := raw.(type) {
		case []byte:
			s := string(v)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
			return s, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		}
		return raw, nil
	}
	var (
		out any
		err error
	)
	switch p.Type {
	case Bool:
		out, err = toBool(raw)
	case Int:
		out, err = toInt(raw)
	case Float:
		out, err = toFloat(raw)
	case String:
		out, err = toString(raw)
	case Bytes:
		out, err = toBytes(raw)
	case Array:
		out, err = toArray(raw)
	default:
		err = fmt.Errorf("unknown primitive %q", p.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name, err)
	}
	return out, nil
}

// Encode converts a Go value into one a database driver accepts for the
// property's column. References may be given as a [Record], whose single
// identifier value is used.
func Encode(p Property, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch p.Kind {
	case KindValue:
		return p.ValueType.Encode(v)
	case KindReference:
		if rec, ok := v.(Record); ok {
			id, err := identifierName(rec)
			if err != nil {
				return nil, err
			}
			return rec.Values()[id], nil
		}
		return v, nil
	}
	switch p.Type {
	case Array:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		return string(b), nil
	case Bool:
		return toBool(v)
	case Int:
		return toInt(v)
	case Float:
		return toFloat(v)
	}
	return v, nil
}

// identifierName reads the single identifier of e straight from its
// declarations, without resolving any types.
func identifierName(e Entity) (string, error) {
	d := &Descriptor{entity: e.EntityName()}
	e.Describe(d)
	props := Properties{entity: e.EntityName()}
	for _, decl := range d.decls {
		if decl.opts.identifier {
			props.list = append(props.list, Property{Name: decl.name, Identifier: true})
		}
	}
	id, err := props.Identifier()
	if err != nil {
		return "", err
	}
	return id.Name, nil
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case []byte:
		return toBool(string(v))
	case string:
		switch strings.ToLower(v) {
		case "1", "t", "true", "y", "yes", "on":
			return true, nil
		case "0", "f", "false", "n", "no", "off", "":
			return false, nil
		}
		return false, fmt.Errorf("invalid bool %q", v)
	}
	return false, fmt.Errorf("cannot convert %T to bool", raw)
}

func toInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return toInt(string(v))
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to int", raw)
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case []byte:
		return toFloat(string(v))
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float", raw)
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(raw), nil
}

func toBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("cannot convert %T to bytes", raw)
}

func toArray(raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case []byte:
		return toArray(string(v))
	case string:
		var out []any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %T to array", raw)
}
