// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package changefeed

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestConn(t *testing.T) *sql.Conn {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestTableInfoCacheOrdinaryRowid(t *testing.T) {
	t.Parallel()

	conn := openTestConn(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	cache := newTableInfoCache()
	info, err := cache.get(ctx, conn, "t")
	require.NoError(t, err)

	require.Equal(t, []int{0}, info.pkColumns)
	require.False(t, info.withoutRowid)
}

func TestTableInfoCacheCompositeKey(t *testing.T) {
	t.Parallel()

	conn := openTestConn(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `CREATE TABLE m (a INT, b INT, v INT, PRIMARY KEY(a,b))`)
	require.NoError(t, err)

	cache := newTableInfoCache()
	info, err := cache.get(ctx, conn, "m")
	require.NoError(t, err)

	require.Equal(t, []int{0, 1}, info.pkColumns)
	require.False(t, info.withoutRowid)
}

func TestTableInfoCacheWithoutRowid(t *testing.T) {
	t.Parallel()

	conn := openTestConn(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `CREATE TABLE w (k TEXT PRIMARY KEY, v INT) WITHOUT ROWID`)
	require.NoError(t, err)

	cache := newTableInfoCache()
	info, err := cache.get(ctx, conn, "w")
	require.NoError(t, err)

	require.Equal(t, []int{0}, info.pkColumns)
	require.True(t, info.withoutRowid)
}

func TestTableInfoCacheIsCached(t *testing.T) {
	t.Parallel()

	conn := openTestConn(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	cache := newTableInfoCache()
	first, err := cache.get(ctx, conn, "t")
	require.NoError(t, err)

	second, err := cache.get(ctx, conn, "t")
	require.NoError(t, err)

	require.Same(t, first, second)
}
