// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sqlitepool

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3_core_pooled"

var driverInit sync.Once

// registerDriver registers a named sqlite3 driver whose ConnectHook
// applies the pragmas every connection in the pool needs: WAL mode so
// readers and the writer can run concurrently, foreign key
// enforcement, and a busy timeout so transient SQLITE_BUSY from a
// concurrent writer resolves itself instead of surfacing to callers.
//
// Registration happens once per process; busyTimeoutMillis from the
// first Manager to register wins for the lifetime of the process,
// same as the underlying sql.Register call it wraps.
func registerDriver(busyTimeoutMillis int) {
	driverInit.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				pragmas := []string{
					"PRAGMA journal_mode = WAL",
					"PRAGMA foreign_keys = ON",
					fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
				}
				for _, stmt := range pragmas {
					if _, err := conn.Exec(stmt, nil); err != nil {
						return fmt.Errorf("apply connection pragma %q: %w", stmt, err)
					}
				}
				return nil
			},
		})
	})
}
