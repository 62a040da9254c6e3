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

package storagebackend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultStatementTimeout = 30 * time.Second

// PostgresBackend executes bulk mutations and reads against a pgx pool.
type PostgresBackend struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
}

// NewPostgresBackend wraps an existing pool. A zero statementTimeout uses
// the default.
func NewPostgresBackend(pool *pgxpool.Pool, statementTimeout time.Duration) *PostgresBackend {
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}
	return &PostgresBackend{
		pool:             pool,
		statementTimeout: statementTimeout,
	}
}

func (b *PostgresBackend) Pool() *pgxpool.Pool {
	return b.pool
}

func (b *PostgresBackend) ExecuteBulkInsert(ctx context.Context, collection string, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.statementTimeout)
	defer cancel()

	cols := sortedKeys(rows[0])
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pgx.Identifier{collection}.Sanitize())
	sb.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pgx.Identifier{c}.Sanitize())
	}
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, c := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, row[c])
		}
		sb.WriteString(")")
	}

	tag, err := b.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("bulk insert into %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

func (b *PostgresBackend) ExecuteBulkUpdate(ctx context.Context, collection string, updates []Update) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.statementTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, u := range updates {
		sql, args := buildUpdate(collection, u)
		batch.Queue(sql, args...)
	}

	results := b.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	var affected int64
	var errs *multierror.Error
	for i := range updates {
		tag, err := results.Exec()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("update %d of %s: %w", i, collection, err))
			continue
		}
		affected += tag.RowsAffected()
	}
	return affected, errs.ErrorOrNil()
}

func (b *PostgresBackend) ExecuteBulkDelete(ctx context.Context, collection string, conditions []Row) (int64, error) {
	if len(conditions) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.statementTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(pgx.Identifier{collection}.Sanitize())
	sb.WriteString(" WHERE ")

	var args []any
	for i, cond := range conditions {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("(")
		for j, c := range sortedKeys(cond) {
			if j > 0 {
				sb.WriteString(" AND ")
			}
			fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)+1)
			args = append(args, cond[c])
		}
		sb.WriteString(")")
	}

	tag, err := b.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete from %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

func (b *PostgresBackend) ExecuteRead(ctx context.Context, query string, args ...any) (Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, b.statementTimeout)
	defer cancel()

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out Rows
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read values: %w", err)
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return out, nil
}

func buildUpdate(collection string, u Update) (string, []any) {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(pgx.Identifier{collection}.Sanitize())
	sb.WriteString(" SET ")

	var args []any
	for i, c := range sortedKeys(u.Data) {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)+1)
		args = append(args, u.Data[c])
	}
	sb.WriteString(" WHERE ")
	for i, c := range sortedKeys(u.Where) {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)+1)
		args = append(args, u.Where[c])
	}
	return sb.String(), args
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Backend = (*PostgresBackend)(nil)
