package dialect

import (
	"slices"
	"strings"
	"time"

	"github.com/peterldowns/modelmigrate/schema"
)

// Defaults applied by every dialect to columns that leave them unset.
const (
	DefaultStringLength     = 255
	DefaultDecimalPrecision = 10
)

// capabilities lists the column attributes an engine can store.
type capabilities struct {
	unsigned bool // integer columns keep Unsigned
	version  bool // timestamp columns keep Version (auto-touch on update)
	comments bool
	// restrictIsNoAction folds RESTRICT into NO ACTION, for engines that
	// treat them as the same action.
	restrictIsNoAction bool
}

func normalize(s *schema.Schema, caps capabilities) *schema.Schema {
	out := s.Clone()
	for _, t := range out.Tables {
		t.Options = map[string]string{}
		for _, c := range t.Columns {
			normalizeColumn(t, c, caps)
		}
		for _, ix := range t.Indexes {
			ix.Flags = nil
			ix.Options = nil
			if ix.Primary {
				ix.Name = schema.PrimaryIndexName
				ix.Unique = true
			}
		}
		for _, fk := range t.ForeignKeys {
			fk.LocalTable = t.Name
			fk.OnUpdate = normalizeAction(fk.OnUpdate, caps)
			fk.OnDelete = normalizeAction(fk.OnDelete, caps)
		}
	}
	return out
}

func normalizeColumn(t *schema.Table, c *schema.Column, caps capabilities) {
	switch c.Type {
	case schema.TypeString:
		if c.Length <= 0 {
			c.Length = DefaultStringLength
		}
	default:
		c.Length = 0
	}
	if c.Type == schema.TypeDecimal {
		if c.Precision <= 0 {
			c.Precision = DefaultDecimalPrecision
		}
	} else {
		c.Precision, c.Scale = 0, 0
	}
	integer := c.Type == schema.TypeInteger || c.Type == schema.TypeBigInt
	if !caps.unsigned || !integer {
		c.Unsigned = false
	}
	if !integer || !slices.Equal(t.PrimaryKey, []string{c.Name}) {
		c.Autoincrement = false
	}
	if c.Autoincrement {
		c.Default = nil
	}
	if !caps.version || c.Type != schema.TypeDateTimeTZ {
		c.Version = false
	}
	if !caps.comments {
		c.Comment = ""
	}
	if slices.Contains(t.PrimaryKey, c.Name) {
		c.NotNull = true
	}
	c.Default = canonicalDefault(c.Type, c.Default)
}

func normalizeAction(action string, caps capabilities) string {
	action = strings.ToUpper(strings.TrimSpace(action))
	if action == "" || (caps.restrictIsNoAction && action == schema.Restrict) {
		return schema.NoAction
	}
	return action
}

// canonicalDefault maps equivalent spellings of a default to one form.
func canonicalDefault(typ string, def *string) *string {
	if def == nil || typ != schema.TypeBoolean {
		return def
	}
	var v string
	switch strings.ToLower(strings.Trim(*def, "'")) {
	case "1", "true", "t", "b'1'":
		v = "true"
	case "0", "false", "f", "b'0'":
		v = "false"
	default:
		return def
	}
	return &v
}

// epoch is the timestamp used for the "0" default of timestamp columns.
var epoch = time.Unix(0, 0).UTC()

// isEpoch reports whether a timestamp literal denotes the unix epoch.
func isEpoch(literal string) bool {
	for _, layout := range []string{
		"2006-01-02 15:04:05-07",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, literal); err == nil {
			return t.Equal(epoch)
		}
	}
	return false
}

// unquoteDefault turns a default read back from an engine into the logical
// default: a quoted literal (optionally followed by a postgres cast) is
// unquoted, anything else is kept as written.
func unquoteDefault(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "'") {
		return raw
	}
	end := strings.LastIndex(raw, "'")
	if end <= 0 {
		return raw
	}
	rest := raw[end+1:]
	if rest != "" && !strings.HasPrefix(rest, "::") {
		return raw
	}
	return strings.ReplaceAll(raw[1:end], "''", "'")
}
