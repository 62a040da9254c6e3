// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package storagebackend abstracts the shared relational store the
// governance layer protects. The batcher and query cache talk to this
// interface only; statement construction stays behind it so callers never
// assemble SQL from user input.
package storagebackend

import (
	"context"
)

// Row is one record's columns. Insert payloads and delete conditions are
// both expressed as Rows.
type Row map[string]any

// Rows is a read result.
type Rows []Row

// Update pairs the columns to change with the equality conditions
// selecting the rows to change.
type Update struct {
	Data  Row
	Where Row
}

// Backend executes bulk mutations and parameterized reads. Implementations
// must bound every call with the configured statement timeout; a timeout is
// reported as an ordinary error, never retried here.
type Backend interface {
	// ExecuteBulkInsert inserts all rows in one statement using the first
	// row's column set. Returns the number of rows affected.
	ExecuteBulkInsert(ctx context.Context, collection string, rows []Row) (int64, error)

	// ExecuteBulkUpdate applies each update; structurally identical updates
	// arrive pre-grouped so implementations may merge them. Returns the
	// total rows affected across the group.
	ExecuteBulkUpdate(ctx context.Context, collection string, updates []Update) (int64, error)

	// ExecuteBulkDelete issues one statement whose WHERE clause is the OR
	// of every condition row's equality conjunction.
	ExecuteBulkDelete(ctx context.Context, collection string, conditions []Row) (int64, error)

	// ExecuteRead runs a parameterized read and returns its rows.
	ExecuteRead(ctx context.Context, query string, args ...any) (Rows, error)
}
