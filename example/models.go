package main

import (
	"time"

	"github.com/peterldowns/modelmigrate/model"
)

// Note is the only model of the example application.
type Note struct {
	ID      int64
	Title   string
	Body    string
	Created time.Time
}

func (*Note) EntityName() string { return "Note" }

func (*Note) Describe(d *model.Descriptor) {
	d.Property("id", model.Int, model.Identifier(), model.Generated())
	d.Property("title", model.String, model.Required(), model.Length(200))
	d.Property("body", "?"+model.String)
	d.Property("created", model.Timestamp, model.Default(model.Now))
}

func (n *Note) Values() map[string]any {
	values := map[string]any{"title": n.Title}
	if n.ID != 0 {
		values["id"] = n.ID
	}
	if n.Body != "" {
		values["body"] = n.Body
	}
	if !n.Created.IsZero() {
		values["created"] = n.Created
	}
	return values
}

func (n *Note) SetValues(values map[string]any) error {
	n.ID, _ = values["id"].(int64)
	n.Title, _ = values["title"].(string)
	n.Body, _ = values["body"].(string)
	n.Created, _ = values["created"].(time.Time)
	return nil
}
