package model_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/modelmigrate/model"
)

type base struct{}

func (base) EntityName() string { return "Base" }
func (base) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier(), model.Generated(), model.Unsigned())
	d.Property("created", model.Timestamp, model.Default(model.Now))
	d.Property("note", model.String, model.Length(50))
}

type customer struct{}

func (customer) EntityName() string { return "Customer" }
func (customer) Describe(d *model.Descriptor) {
	d.Property("note", model.String, model.Length(500))
	d.Extends(base{})
	d.Property("email", model.String, model.Required(), model.Unique())
	d.Property("referrer", "?Customer", model.OnDelete("SET NULL"))
}

type order struct{}

func (order) EntityName() string { return "Order" }
func (order) Describe(d *model.Descriptor) {
	d.Extends(base{})
	d.Reference("customer", customer{}, model.OnDelete("CASCADE"))
	d.Property("total", model.Decimal)
	d.Property("token", model.UUID, model.Searchable())
}

type headless struct{}

func (headless) EntityName() string { return "Headless" }
func (headless) Describe(d *model.Descriptor) {
	d.Property("name", model.String)
}

type broken struct{}

func (broken) EntityName() string { return "Broken" }
func (broken) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier())
	d.Property("owner", "Nobody")
}

func newResolver() *model.Resolver {
	registry := model.NewRegistry()
	registry.Register(base{}, customer{}, order{})
	return model.NewResolver(registry)
}

func TestResolveMergesAncestors(t *testing.T) {
	t.Parallel()
	props, err := newResolver().Resolve(customer{})
	assert.Nil(t, err)
	check.Equal(t, "Customer", props.Entity())
	check.Equal(t, []string{"id", "created", "note", "email", "referrer"}, props.Names())

	note, ok := props.Get("note")
	assert.Equal(t, true, ok)
	check.Equal(t, 500, note.Length)

	id, err := props.Identifier()
	assert.Nil(t, err)
	check.Equal(t, "id", id.Name)
	check.True(t, id.Generated)
	check.Equal(t, false, id.Signed)

	created, ok := props.Get("created")
	assert.Equal(t, true, ok)
	check.Equal(t, model.KindValue, created.Kind)
	check.Equal(t, any(model.Now), created.Default)
}

func TestResolveNullablePrefix(t *testing.T) {
	t.Parallel()
	props, err := newResolver().Resolve(customer{})
	assert.Nil(t, err)
	referrer, ok := props.Get("referrer")
	assert.Equal(t, true, ok)
	check.Equal(t, model.KindReference, referrer.Kind)
	check.Equal(t, "Customer", referrer.Type)
	check.True(t, referrer.Nullable)
	check.Equal(t, false, referrer.Required)
	check.Equal(t, "referrer_id", referrer.Column())
	check.Equal(t, "SET NULL", referrer.OnDelete)
}

func TestResolveReferencesAndValues(t *testing.T) {
	t.Parallel()
	props, err := newResolver().Resolve(order{})
	assert.Nil(t, err)
	cust, ok := props.Get("customer")
	assert.Equal(t, true, ok)
	check.Equal(t, model.KindReference, cust.Kind)
	check.True(t, cust.Required)
	check.Equal(t, "Customer", cust.Target.EntityName())

	total, ok := props.Get("total")
	assert.Equal(t, true, ok)
	check.Equal(t, model.KindValue, total.Kind)
	check.Equal(t, model.Decimal, total.ValueType.Name)

	byColumn, ok := props.ByColumn("customer_id")
	assert.Equal(t, true, ok)
	check.Equal(t, "customer", byColumn.Name)
}

func TestResolveUnresolvedType(t *testing.T) {
	t.Parallel()
	_, err := newResolver().Resolve(broken{})
	var unresolved *model.UnresolvedTypeError
	assert.Equal(t, true, errors.As(err, &unresolved))
	check.Equal(t, "Broken", unresolved.Entity)
	check.Equal(t, "owner", unresolved.Property)
	check.Equal(t, "Nobody", unresolved.Type)
}

func TestResolveMissingIdentifier(t *testing.T) {
	t.Parallel()
	_, err := newResolver().Resolve(headless{})
	var missing *model.MissingIdentifierError
	assert.Equal(t, true, errors.As(err, &missing))
	check.Equal(t, "Headless", missing.Entity)
}

func TestResolveIsMemoizedAndConcurrent(t *testing.T) {
	t.Parallel()
	r := newResolver()
	var wg sync.WaitGroup
	results := make([]model.Properties, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.MustResolve(order{})
		}()
	}
	wg.Wait()
	for _, props := range results {
		check.Equal(t, results[0].Names(), props.Names())
	}
}

type composite struct{}

func (composite) EntityName() string { return "Membership" }
func (composite) Describe(d *model.Descriptor) {
	d.Property("group_id", model.Int, model.Identifier())
	d.Property("user_id", model.Int, model.Identifier())
}

func TestCompositeIdentifier(t *testing.T) {
	t.Parallel()
	props, err := newResolver().Resolve(composite{})
	assert.Nil(t, err)
	check.Equal(t, 2, len(props.Identifiers()))
	_, err = props.Identifier()
	check.True(t, errors.Is(err, model.ErrCompositeIdentifier))
}
