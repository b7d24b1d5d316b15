package builder_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/modelmigrate/internal/builder"
	"github.com/peterldowns/modelmigrate/model"
	"github.com/peterldowns/modelmigrate/schema"
)

type customer struct{}

func (customer) EntityName() string { return "Customer" }
func (customer) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier(), model.Generated(), model.Unsigned())
	d.Property("email", model.String, model.Required(), model.Length(255), model.Unique())
	d.Property("active", model.Bool, model.Default(true), model.Length(3))
	d.Property("created", model.Timestamp, model.Default(model.Now), model.OnUpdate(model.Now))
	d.Property("balance", model.Decimal, model.Default("0.00"))
	d.Property("nickname", model.String, model.Searchable())
}

type order struct{}

func (order) EntityName() string { return "Order" }
func (order) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier(), model.Generated(), model.Unsigned())
	d.Reference("customer", customer{})
}

type optionalOrder struct{}

func (optionalOrder) EntityName() string { return "Order" }
func (optionalOrder) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier(), model.Generated(), model.Unsigned())
	d.Reference("customer", customer{}, model.Optional())
}

type launch struct{}

func (launch) EntityName() string { return "Launch" }
func (launch) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier(), model.Generated())
	d.Property("scheduled", model.Timestamp, model.Default(time.Date(2024, 3, 9, 8, 30, 0, 0, time.FixedZone("CET", 3600))))
	d.Property("launched", model.Timestamp, model.Default(time.Date(2024, 3, 9, 7, 30, 0, 250000000, time.UTC)))
}

type unmappable struct{}

func (unmappable) EntityName() string { return "Unmappable" }
func (unmappable) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier())
	d.Property("shape", "polygon")
}

func ptr(s string) *string { return &s }

func newBuilder() *builder.Builder {
	registry := model.NewRegistry()
	registry.Register(customer{}, order{})
	return builder.New(model.NewResolver(registry), builder.DefaultConfig())
}

func TestTableName(t *testing.T) {
	t.Parallel()
	for entity, table := range map[string]string{
		"UserAccount":  "user_account",
		"Order":        "order",
		"HTTPServer":   "http_server",
		"APIKey":       "api_key",
		"Order2Item":   "order2_item",
		"already_snek": "already_snek",
		"X":            "x",
	} {
		check.Equal(t, table, builder.TableName(entity))
	}
}

func TestBuildColumns(t *testing.T) {
	t.Parallel()
	tbl, err := newBuilder().Table(customer{})
	assert.Nil(t, err)
	check.Equal(t, "customer", tbl.Name)
	check.Equal(t, []string{"id"}, tbl.PrimaryKey)

	expected := []*schema.Column{
		{Name: "id", Type: schema.TypeInteger, Unsigned: true, Autoincrement: true},
		{Name: "email", Type: schema.TypeString, NotNull: true, Length: 255},
		// length is not an allowed boolean option and is dropped
		{Name: "active", Type: schema.TypeBoolean, Default: ptr("true")},
		{Name: "created", Type: schema.TypeDateTimeTZ, Default: ptr("0"), Version: true},
		{Name: "balance", Type: schema.TypeDecimal, Default: ptr("0.00"), Precision: 10},
		{Name: "nickname", Type: schema.TypeString},
	}
	if diff := cmp.Diff(expected, tbl.Columns); diff != "" {
		t.Fatalf("columns differ (-want +got):\n%s", diff)
	}

	uniq, ok := tbl.Index("uniq_customer_email")
	assert.Equal(t, true, ok)
	check.True(t, uniq.Unique)
	search, ok := tbl.Index("idx_customer_nickname")
	assert.Equal(t, true, ok)
	check.Equal(t, false, search.Unique)
}

func TestBuildRequiredReference(t *testing.T) {
	t.Parallel()
	tbl, err := newBuilder().Table(order{})
	assert.Nil(t, err)
	col, ok := tbl.Column("customer_id")
	assert.Equal(t, true, ok)
	check.Equal(t, schema.TypeInteger, col.Type)
	check.True(t, col.Unsigned)
	check.True(t, col.NotNull)

	ix, ok := tbl.Index("idx_order_customer_id")
	assert.Equal(t, true, ok)
	check.Equal(t, []string{"customer_id"}, ix.Columns)

	fk, ok := tbl.ForeignKey("fk_order_customer_id")
	assert.Equal(t, true, ok)
	expected := &schema.ForeignKey{
		Name:           "fk_order_customer_id",
		LocalTable:     "order",
		LocalColumns:   []string{"customer_id"},
		ForeignTable:   "customer",
		ForeignColumns: []string{"id"},
		OnUpdate:       schema.Cascade,
		OnDelete:       schema.Cascade,
	}
	if diff := cmp.Diff(expected, fk); diff != "" {
		t.Fatalf("foreign key differs (-want +got):\n%s", diff)
	}
}

func TestBuildOptionalReference(t *testing.T) {
	t.Parallel()
	tbl, err := newBuilder().Table(optionalOrder{})
	assert.Nil(t, err)
	col, ok := tbl.Column("customer_id")
	assert.Equal(t, true, ok)
	check.Equal(t, false, col.NotNull)
	check.True(t, col.Unsigned)
	fk, ok := tbl.ForeignKey("fk_order_customer_id")
	assert.Equal(t, true, ok)
	check.Equal(t, schema.Cascade, fk.OnUpdate)
	check.Equal(t, schema.SetNull, fk.OnDelete)
}

func TestBuildTimeDefaultsAreUTC(t *testing.T) {
	t.Parallel()
	registry := model.NewRegistry()
	registry.Register(launch{})
	tbl, err := builder.New(model.NewResolver(registry), builder.DefaultConfig()).Table(launch{})
	assert.Nil(t, err)
	scheduled, ok := tbl.Column("scheduled")
	assert.Equal(t, true, ok)
	assert.Equal(t, true, scheduled.Default != nil)
	check.Equal(t, "2024-03-09 07:30:00", *scheduled.Default)
	launched, ok := tbl.Column("launched")
	assert.Equal(t, true, ok)
	assert.Equal(t, true, launched.Default != nil)
	check.Equal(t, "2024-03-09 07:30:00.25", *launched.Default)
}

func TestBuildUnknownColumnType(t *testing.T) {
	t.Parallel()
	_, err := newBuilder().Table(unmappable{})
	var unknown *builder.UnknownColumnTypeError
	assert.Equal(t, true, errors.As(err, &unknown))
	check.Equal(t, "shape", unknown.Property)
	var unresolved *model.UnresolvedTypeError
	check.True(t, errors.As(err, &unresolved))
}

func TestBuildUnmappedResolvedType(t *testing.T) {
	t.Parallel()
	config := builder.DefaultConfig()
	delete(config.TypeMap, model.UUID)
	b := builder.New(nil, config)
	_, err := b.Table(tokenEntity{})
	var unknown *builder.UnknownColumnTypeError
	assert.Equal(t, true, errors.As(err, &unknown))
	check.Equal(t, model.UUID, unknown.Type)
}

type tokenEntity struct{}

func (tokenEntity) EntityName() string { return "Token" }
func (tokenEntity) Describe(d *model.Descriptor) {
	d.Property("id", model.UUID, model.Identifier())
}

func TestApplyReplacesManagedTablesOnly(t *testing.T) {
	t.Parallel()
	s := schema.New("app")
	_, err := s.CreateTable("legacy")
	assert.Nil(t, err)
	stale, err := s.CreateTable("customer")
	assert.Nil(t, err)
	assert.Nil(t, stale.AddColumn(schema.Column{Name: "old", Type: schema.TypeText}))

	b := newBuilder()
	assert.Nil(t, b.Apply(s, customer{}, order{}))
	check.Equal(t, 3, len(s.Tables))
	check.Equal(t, "legacy", s.Tables[0].Name)
	check.Equal(t, "customer", s.Tables[1].Name)
	check.Equal(t, "order", s.Tables[2].Name)
	_, ok := s.Tables[1].Column("old")
	check.Equal(t, false, ok)
}

func TestBuildCompositePrimaryKey(t *testing.T) {
	t.Parallel()
	s, err := newBuilder().Build("app", membership{})
	assert.Nil(t, err)
	tbl, err := s.Table("membership")
	assert.Nil(t, err)
	check.Equal(t, []string{"group_id", "user_id"}, tbl.PrimaryKey)
}

type membership struct{}

func (membership) EntityName() string { return "Membership" }
func (membership) Describe(d *model.Descriptor) {
	d.Property("group_id", model.Int, model.Identifier(), model.Required())
	d.Property("user_id", model.Int, model.Identifier(), model.Required())
}
