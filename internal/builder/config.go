package builder

import (
	"maps"

	"github.com/peterldowns/modelmigrate/model"
	"github.com/peterldowns/modelmigrate/schema"
)

// Reference is the TypeMap key used for properties that reference another
// entity.
const Reference = "reference"

// Column options a property may carry into its column.
const (
	OptionDefault   = "default"
	OptionGenerated = "generated"
	OptionUnsigned  = "unsigned"
	OptionLength    = "length"
)

// Column attributes an option may be mapped onto.
const (
	AttrDefault       = "default"
	AttrAutoincrement = "autoincrement"
	AttrUnsigned      = "unsigned"
	AttrLength        = "length"
)

// Config holds the mapping rules used by a [Builder].
type Config struct {
	// TypeMap maps a resolved property type (a primitive, a value type name,
	// or [Reference]) to a column type.
	TypeMap map[string]string
	// AllowedOptions lists, per column type, which property options are
	// carried into the column and the column attribute each one sets.
	// Options missing from the list are dropped.
	AllowedOptions map[string]map[string]string
	// DecimalPrecision and DecimalScale are used for decimal columns.
	DecimalPrecision int
	DecimalScale     int
}

// DefaultConfig returns the standard mapping rules.
func DefaultConfig() Config {
	return Config{
		TypeMap: map[string]string{
			model.Bool:      schema.TypeBoolean,
			model.Int:       schema.TypeInteger,
			model.Float:     schema.TypeFloat,
			model.String:    schema.TypeString,
			model.Array:     schema.TypeArray,
			model.Bytes:     schema.TypeBinary,
			model.Decimal:   schema.TypeDecimal,
			model.Timestamp: schema.TypeDateTimeTZ,
			model.UUID:      schema.TypeGUID,
			Reference:       schema.TypeInteger,
		},
		AllowedOptions: map[string]map[string]string{
			schema.TypeBoolean: {OptionDefault: AttrDefault},
			schema.TypeInteger: {
				OptionGenerated: AttrAutoincrement,
				OptionUnsigned:  AttrUnsigned,
				OptionDefault:   AttrDefault,
			},
			schema.TypeFloat: {OptionDefault: AttrDefault},
			schema.TypeString: {
				OptionLength:  AttrLength,
				OptionDefault: AttrDefault,
			},
			schema.TypeDateTimeTZ: {OptionDefault: AttrDefault},
			schema.TypeDecimal:    {OptionDefault: AttrDefault},
			schema.TypeGUID:       {OptionDefault: AttrDefault},
		},
		DecimalPrecision: 10,
		DecimalScale:     0,
	}
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	out.TypeMap = maps.Clone(c.TypeMap)
	out.AllowedOptions = make(map[string]map[string]string, len(c.AllowedOptions))
	for k, v := range c.AllowedOptions {
		out.AllowedOptions[k] = maps.Clone(v)
	}
	return out
}
