// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !sqlite_preupdate_hook

package changefeed

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlitecore/dbcore/internal/domain"
)

func TestIsPreupdateHookDisabled(t *testing.T) {
	t.Parallel()
	assert.False(t, IsPreupdateHookEnabled())
}

func TestInstallFailsWithoutTheBuildTag(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	err = Install(context.Background(), db, conn, NewBroker(4, true, nil))
	require.Error(t, err)

	code, ok := domain.AsCode(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodePreupdateHookUnavailable, code)
}
