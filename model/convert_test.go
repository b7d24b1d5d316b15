package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/peterldowns/modelmigrate/model"
)

func prop(t *testing.T, e model.Entity, name string) model.Property {
	t.Helper()
	props, err := newResolver().Resolve(e)
	assert.Nil(t, err)
	p, ok := props.Get(name)
	assert.Equal(t, true, ok)
	return p
}

func TestDecodePrimitives(t *testing.T) {
	t.Parallel()
	intProp := model.Property{Name: "n", Kind: model.KindPrimitive, Type: model.Int}
	for _, raw := range []any{int64(42), 42, []byte("42"), "42", float64(42)} {
		v, err := model.Decode(intProp, raw)
		assert.Nil(t, err)
		check.Equal(t, any(int64(42)), v)
	}
	boolProp := model.Property{Name: "b", Kind: model.KindPrimitive, Type: model.Bool}
	for raw, want := range map[any]bool{int64(1): true, "0": false, "true": true, false: false} {
		v, err := model.Decode(boolProp, raw)
		assert.Nil(t, err)
		check.Equal(t, any(want), v)
	}
	_, err := model.Decode(boolProp, "maybe")
	check.Error(t, err)

	arrayProp := model.Property{Name: "tags", Kind: model.KindPrimitive, Type: model.Array}
	v, err := model.Decode(arrayProp, []byte(`["a","b"]`))
	assert.Nil(t, err)
	check.Equal(t, any([]any{"a", "b"}), v)

	v, err = model.Decode(intProp, nil)
	assert.Nil(t, err)
	check.Equal(t, nil, v)
}

func TestEncodeArrayAsJSON(t *testing.T) {
	t.Parallel()
	arrayProp := model.Property{Name: "tags", Kind: model.KindPrimitive, Type: model.Array}
	v, err := model.Encode(arrayProp, []string{"a", "b"})
	assert.Nil(t, err)
	check.Equal(t, any(`["a","b"]`), v)
}

func TestDecodeValueTypes(t *testing.T) {
	t.Parallel()
	created := prop(t, order{}, "created")
	v, err := model.Decode(created, "2024-03-01 12:30:00")
	assert.Nil(t, err)
	check.Equal(t, any(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)), v)
	v, err = model.Decode(created, int64(0))
	assert.Nil(t, err)
	check.Equal(t, any(time.Unix(0, 0).UTC()), v)

	total := prop(t, order{}, "total")
	v, err = model.Decode(total, []byte("12.50"))
	assert.Nil(t, err)
	check.True(t, decimal.RequireFromString("12.5").Equal(v.(decimal.Decimal)))
	encoded, err := model.Encode(total, decimal.RequireFromString("12.50"))
	assert.Nil(t, err)
	check.Equal(t, any("12.5"), encoded)

	token := prop(t, order{}, "token")
	id := uuid.New()
	v, err = model.Decode(token, id.String())
	assert.Nil(t, err)
	check.Equal(t, any(id), v)
	encoded, err = model.Encode(token, id)
	assert.Nil(t, err)
	check.Equal(t, any(id.String()), encoded)
	_, err = model.Decode(token, "not-a-uuid")
	check.Error(t, err)
}

type account struct {
	ID    int64
	Email string
}

func (*account) EntityName() string { return "Account" }
func (*account) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier(), model.Generated())
	d.Property("email", model.String)
}
func (a *account) Values() map[string]any {
	return map[string]any{"id": a.ID, "email": a.Email}
}
func (a *account) SetValues(values map[string]any) error {
	a.ID, _ = values["id"].(int64)
	a.Email, _ = values["email"].(string)
	return nil
}

func TestEncodeReferenceUsesIdentifier(t *testing.T) {
	t.Parallel()
	ref := model.Property{Name: "owner", Kind: model.KindReference, Type: "Account"}
	v, err := model.Encode(ref, &account{ID: 7, Email: "a@example.com"})
	assert.Nil(t, err)
	check.Equal(t, any(int64(7)), v)
	v, err = model.Decode(ref, []byte("7"))
	assert.Nil(t, err)
	check.Equal(t, any(int64(7)), v)
}

const declarations = `
entities:
  - name: Timestamped
    properties:
      - {name: id, type: int, id: true, generated: true, unsigned: true}
      - {name: created, type: timestamp, default: now}
  - name: Author
    extends: Timestamped
    properties:
      - {name: email, type: string, length: 255, unique: true, required: true}
      - {name: mentor, type: "?Author", on_delete: SET NULL}
`

func TestLoadDeclarations(t *testing.T) {
	t.Parallel()
	entities, err := model.LoadDeclarations(strings.NewReader(declarations))
	assert.Nil(t, err)
	assert.Equal(t, 2, len(entities))
	registry := model.NewRegistry()
	registry.Register(entities...)
	props, err := model.NewResolver(registry).Resolve(entities[1])
	assert.Nil(t, err)
	check.Equal(t, []string{"id", "created", "email", "mentor"}, props.Names())
	email, _ := props.Get("email")
	check.Equal(t, 255, email.Length)
	check.True(t, email.Unique)
	mentor, _ := props.Get("mentor")
	check.Equal(t, model.KindReference, mentor.Kind)
	check.True(t, mentor.Nullable)
	created, _ := props.Get("created")
	check.Equal(t, any(model.Now), created.Default)
}

func TestLoadDeclarationsRejectsUnknownParent(t *testing.T) {
	t.Parallel()
	_, err := model.LoadDeclarations(strings.NewReader(`
entities:
  - name: Orphan
    extends: Missing
    properties: [{name: id, type: int, id: true}]
`))
	check.Error(t, err)
}
