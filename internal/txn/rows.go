// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package txn is Component B: it implements atomic and interruptible
// transactions on top of the connection manager's writer handle,
// tracking the single live interruptible-transaction token per
// database.
package txn

import (
	"database/sql"

	"github.com/sqlitecore/dbcore/internal/dbinterface"
	"github.com/sqlitecore/dbcore/internal/domain"
)

// Querier is the subset of *sql.Tx, *sql.Conn, and *sql.DB that
// statement execution needs. It is dbinterface's leaf interface
// rather than a new one. execStatement takes it, and the transaction
// coordinator always passes a *sql.Tx; the command surface's one-shot
// execute/fetch paths call their *sql.Conn directly and share only
// BindValues, ScanRows and ClassifyError with this package.
type Querier = dbinterface.Querier

// BindValues turns positional statement values into database/sql
// driver arguments, in declaration order ($1, $2, ...).
func BindValues(values []domain.Value) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v.Any()
	}
	return args
}

// ScanRows drains rows into name-to-value objects. Column names come
// from the driver; types are mapped back onto domain.Value via
// ValueFromAny, same conversion the change observer uses for captured
// column values, so a row read here and a row seen via a change event
// carry values of the same shape.
func ScanRows(rows *sql.Rows) ([]domain.Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []domain.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		row := make(domain.Row, len(cols))
		for i, name := range cols {
			row[name] = domain.ValueFromAny(raw[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
