package pgtools

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Derived from jackc/pgconn, which is released under the MIT License.
// https://github.com/jackc/pgconn
//
// Copyright (c) 2019-2021 Jack Christensen
//
// MIT License
//
// Permission is hereby granted, free of charge, to any person obtaining
// a copy of this software and associated documentation files (the
// "Software"), to deal in the Software without restriction, including
// without limitation the rights to use, copy, modify, merge, publish,
// distribute, sublicense, and/or sell copies of the Software, and to
// permit persons to whom the Software is furnished to do so, subject to
// the following conditions:
//
// The above copyright notice and this permission notice shall be
// included in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
// EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
// MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
// NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE
// LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION
// OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION
// WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

// pgError represents an error reported by the PostgreSQL server. See
// http://www.postgresql.org/docs/11/static/protocol-error-fields.html for
// detailed field description.
type Error struct {
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

func (pe *Error) Error() string {
	return pe.Severity + ": " + pe.Message + " (SQLSTATE " + pe.Code + ")"
}

// AsError extracts the server error from an error returned by either of the
// supported postgres drivers.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &Error{
			Severity:         pgxErr.Severity,
			Code:             pgxErr.Code,
			Message:          pgxErr.Message,
			Detail:           pgxErr.Detail,
			Hint:             pgxErr.Hint,
			Position:         pgxErr.Position,
			InternalPosition: pgxErr.InternalPosition,
			InternalQuery:    pgxErr.InternalQuery,
			Where:            pgxErr.Where,
			SchemaName:       pgxErr.SchemaName,
			TableName:        pgxErr.TableName,
			ColumnName:       pgxErr.ColumnName,
			DataTypeName:     pgxErr.DataTypeName,
			ConstraintName:   pgxErr.ConstraintName,
			File:             pgxErr.File,
			Line:             pgxErr.Line,
			Routine:          pgxErr.Routine,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &Error{
			Severity:       pqErr.Severity,
			Code:           string(pqErr.Code),
			Message:        pqErr.Message,
			Detail:         pqErr.Detail,
			Hint:           pqErr.Hint,
			InternalQuery:  pqErr.InternalQuery,
			Where:          pqErr.Where,
			SchemaName:     pqErr.Schema,
			TableName:      pqErr.Table,
			ColumnName:     pqErr.Column,
			DataTypeName:   pqErr.DataTypeName,
			ConstraintName: pqErr.Constraint,
			File:           pqErr.File,
			Routine:        pqErr.Routine,
		}, true
	}
	return nil, false
}

// ErrorData returns as much information as possible about an error that
// comes from postgres, for logging purposes.
func ErrorData(err error) map[string]any {
	data := make(map[string]any)
	perr, ok := AsError(err)
	if !ok {
		return data
	}
	data["pg_code"] = perr.Code
	if perr.Detail != "" {
		data["pg_detail"] = perr.Detail
	}
	if perr.Hint != "" {
		data["pg_hint"] = perr.Hint
	}
	if perr.SchemaName != "" {
		data["pg_schema"] = perr.SchemaName
	}
	if perr.TableName != "" {
		data["pg_table"] = perr.TableName
	}
	if perr.ColumnName != "" {
		data["pg_column"] = perr.ColumnName
	}
	if perr.ConstraintName != "" {
		data["pg_constraint"] = perr.ConstraintName
	}
	if perr.Where != "" {
		data["pg_where"] = perr.Where
	}
	if perr.Severity != "" {
		data["pg_severity"] = perr.Severity
	}
	return data
}
