// Package script renders compiled operations as replayable statements,
// parses them back, and replays them onto a [schema.Schema].
//
// A statement has the form
//
//	[table = ]target.Method(arg, ...)
//
// where target is "schema", "table" or "migration", and every argument is a
// literal: a single-quoted string, null, true, false, a number, or
// decode('<json>') for structured values.
package script

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/peterldowns/modelmigrate/schema"
)

// Kinds of structured literal values.
const (
	KindStrings    = "strings"
	KindOptions    = "options"
	KindColumn     = "column"
	KindIndex      = "index"
	KindForeignKey = "foreign_key"
)

// UnsupportedValueError is returned for values that have no literal form.
type UnsupportedValueError struct {
	Value any
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("unsupported literal value %#v (%T)", e.Value, e.Value)
}

// InvalidUTF8Error is returned for strings that are not valid UTF-8, which
// would not survive a round trip through a migration file.
type InvalidUTF8Error struct {
	Value string
}

func (e *InvalidUTF8Error) Error() string {
	return fmt.Sprintf("invalid UTF-8 in literal %q", e.Value)
}

type tagged struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// Literal returns the literal form of v.
func Literal(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "null", nil
	case string:
		if err := validUTF8(v); err != nil {
			return "", err
		}
		return Quote(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", &UnsupportedValueError{Value: v}
		}
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s, nil
	case []string:
		return encode(KindStrings, v, v...)
	case map[string]string:
		texts := make([]string, 0, 2*len(v))
		for key, value := range v {
			texts = append(texts, key, value)
		}
		return encode(KindOptions, v, texts...)
	case schema.Column:
		texts := []string{v.Name, v.Type, v.Comment}
		if v.Default != nil {
			texts = append(texts, *v.Default)
		}
		return encode(KindColumn, v, texts...)
	case *schema.Column:
		if v == nil {
			return encode(KindColumn, v)
		}
		return Literal(*v)
	case schema.Index:
		texts := slices.Concat([]string{v.Name}, v.Columns, v.Flags)
		for key, value := range v.Options {
			texts = append(texts, key, value)
		}
		return encode(KindIndex, v, texts...)
	case *schema.Index:
		if v == nil {
			return encode(KindIndex, v)
		}
		return Literal(*v)
	case schema.ForeignKey:
		texts := slices.Concat(
			[]string{v.Name, v.LocalTable, v.ForeignTable, v.OnUpdate, v.OnDelete},
			v.LocalColumns, v.ForeignColumns,
		)
		return encode(KindForeignKey, v, texts...)
	case *schema.ForeignKey:
		if v == nil {
			return encode(KindForeignKey, v)
		}
		return Literal(*v)
	}
	return "", &UnsupportedValueError{Value: v}
}

func validUTF8(texts ...string) error {
	for _, s := range texts {
		if !utf8.ValidString(s) {
			return &InvalidUTF8Error{Value: s}
		}
	}
	return nil
}

func encode(kind string, v any, texts ...string) (string, error) {
	if err := validUTF8(texts...); err != nil {
		return "", err
	}
	value, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(tagged{Kind: kind, Value: value})
	if err != nil {
		return "", err
	}
	return "decode(" + Quote(string(b)) + ")", nil
}

// Decode parses the JSON carried by a decode(...) literal back into the
// value it was made from.
func Decode(data string) (any, error) {
	var t tagged
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("invalid structured literal: %w", err)
	}
	var (
		out any
		err error
	)
	switch t.Kind {
	case KindStrings:
		var v []string
		err = json.Unmarshal(t.Value, &v)
		out = v
	case KindOptions:
		var v map[string]string
		err = json.Unmarshal(t.Value, &v)
		out = v
	case KindColumn:
		var v schema.Column
		err = json.Unmarshal(t.Value, &v)
		out = v
	case KindIndex:
		var v schema.Index
		err = json.Unmarshal(t.Value, &v)
		out = v
	case KindForeignKey:
		var v schema.ForeignKey
		err = json.Unmarshal(t.Value, &v)
		out = v
	default:
		return nil, fmt.Errorf("invalid structured literal: unknown kind %q", t.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s literal: %w", t.Kind, err)
	}
	return out, nil
}

// Quote returns s as a single-quoted literal with backslashes and single
// quotes escaped.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('\'')
	return b.String()
}
