// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package txn

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/sqlitecore/dbcore/internal/domain"
)

// classifyError maps a driver error onto the core's {code, message}
// taxonomy. Constraint violations get their own stable code since
// callers branch on those specifically (duplicate key, FK violation);
// everything else engine-reported keeps a generic SQLite code with
// the native message preserved as the cause.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrConstraint {
			return domain.WrapError(domain.CodeSQLiteConstraint, sqliteErr.Error(), err)
		}
		return domain.WrapError(domain.CodeSQLiteGeneric, fmt.Sprintf("sqlite error %d", sqliteErr.Code), err)
	}

	if _, ok := domain.AsCode(err); ok {
		return err
	}

	return domain.WrapError(domain.CodeSQLiteGeneric, "statement execution failed", err)
}

// ClassifyError exposes classifyError to callers outside this package
// that run statements directly against a reader or writer connection
// without going through Coordinator — the command surface's one-shot
// execute/fetch paths, chiefly.
func ClassifyError(err error) error { return classifyError(err) }
