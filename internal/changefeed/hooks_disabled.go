// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !sqlite_preupdate_hook

package changefeed

import (
	"context"
	"database/sql"

	"github.com/sqlitecore/dbcore/internal/domain"
)

// IsPreupdateHookEnabled reports whether this binary was built with
// SQLite's preupdate hook compiled in. This build lacks the
// sqlite_preupdate_hook tag (and the corresponding
// SQLITE_ENABLE_PREUPDATE_HOOK C flag), so change observation is
// unavailable.
func IsPreupdateHookEnabled() bool { return false }

// Install always fails in a build without the preupdate hook
// compiled in. Callers (sqlitepool.Manager.Load) should treat this as
// fatal only if the caller actually requires change observation;
// today it is treated as fatal unconditionally, matching the absence
// of a "best effort" mode in the external interface.
func Install(ctx context.Context, db *sql.DB, conn *sql.Conn, broker *Broker) error {
	return domain.NewError(domain.CodePreupdateHookUnavailable,
		"binary was built without the sqlite_preupdate_hook tag; change observation is unavailable")
}
