// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build sqlite_preupdate_hook

package changefeed

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/mattn/go-sqlite3"

	"github.com/sqlitecore/dbcore/internal/domain"
)

// IsPreupdateHookEnabled reports whether this binary was built with
// SQLite's preupdate hook compiled in. It requires both the
// sqlite_preupdate_hook Go build tag and the matching
// SQLITE_ENABLE_PREUPDATE_HOOK C flag at compile time.
func IsPreupdateHookEnabled() bool { return true }

// Install binds broker to conn's underlying driver connection and
// registers the pre-update, commit, and rollback hooks. conn must be
// the database's single dedicated writer connection: hooks observe
// whatever statements run on the connection they're registered on.
// db is the same pool conn was acquired from; Install opens a second,
// independent connection on it for broker's table-info lookups, since
// those must never run on the writer connection itself (see the
// schemaConn field doc on Broker).
func Install(ctx context.Context, db *sql.DB, conn *sql.Conn, broker *Broker) error {
	schemaConn, err := db.Conn(ctx)
	if err != nil {
		return domain.WrapError(domain.CodeIOError, "acquire change observer schema connection", err)
	}
	broker.schemaConn = schemaConn

	return conn.Raw(func(driverConn any) error {
		sqliteConn, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return domain.NewError(domain.CodePreupdateHookUnavailable, "writer connection is not a go-sqlite3 connection")
		}

		sqliteConn.RegisterPreUpdateHook(func(data sqlite3.SQLitePreUpdateData) {
			table := data.TableName
			count := data.Count()

			var oldVals, newVals []domain.Value
			switch data.Op {
			case sqlite3.SQLITE_INSERT:
				newVals = readRow(data.New, count)
			case sqlite3.SQLITE_DELETE:
				oldVals = readRow(data.Old, count)
			case sqlite3.SQLITE_UPDATE:
				oldVals = readRow(data.Old, count)
				newVals = readRow(data.New, count)
			}

			rowID := data.NewRowID
			if data.Op == sqlite3.SQLITE_DELETE {
				rowID = data.OldRowID
			}

			broker.capture(table, opFromSQLite(data.Op), rowID, oldVals, newVals)
		})

		sqliteConn.RegisterCommitHook(broker.commit)
		sqliteConn.RegisterRollbackHook(broker.rollback)

		return nil
	})
}

func opFromSQLite(op int) domain.Operation {
	switch op {
	case sqlite3.SQLITE_INSERT:
		return domain.OpInsert
	case sqlite3.SQLITE_DELETE:
		return domain.OpDelete
	default:
		return domain.OpUpdate
	}
}

// readRow pulls count columns out of a preupdate accessor (Old or
// New) in one call. A failed read (not applicable to this operation)
// yields a zero-value row of NULLs rather than aborting capture.
func readRow(accessor func(...driver.Value) error, count int) []domain.Value {
	raw := make([]driver.Value, count)
	if err := accessor(raw...); err != nil {
		out := make([]domain.Value, count)
		for i := range out {
			out[i] = domain.Null()
		}
		return out
	}

	out := make([]domain.Value, count)
	for i, v := range raw {
		out[i] = domain.ValueFromAny(v)
	}
	return out
}
