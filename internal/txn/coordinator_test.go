// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build sqlite_preupdate_hook

package txn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlitecore/dbcore/internal/domain"
	"github.com/sqlitecore/dbcore/internal/sqlitepool"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *sqlitepool.Manager) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	m, err := sqlitepool.Load(context.Background(), path, sqlitepool.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	c := NewCoordinator(path, m)

	_, err = m.DB().Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT UNIQUE)`)
	require.NoError(t, err)

	return c, m
}

func TestExecuteAtomicCommitsOnSuccess(t *testing.T) {
	t.Parallel()

	c, m := newTestCoordinator(t)

	results, err := c.ExecuteAtomic(context.Background(), []domain.Statement{
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Alice")}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].RowsAffected)
	assert.Equal(t, int64(1), results[0].LastInsertID)

	var count int
	require.NoError(t, m.DB().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestExecuteAtomicRollsBackOnConstraintViolation(t *testing.T) {
	t.Parallel()

	c, m := newTestCoordinator(t)

	_, err := c.ExecuteAtomic(context.Background(), []domain.Statement{
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Alice")}},
	})
	require.NoError(t, err)

	_, err = c.ExecuteAtomic(context.Background(), []domain.Statement{
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Bob")}},
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Alice")}},
	})
	require.Error(t, err)
	code, ok := domain.AsCode(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeSQLiteConstraint, code)

	var count int
	require.NoError(t, m.DB().QueryRow(`SELECT COUNT(*) FROM t WHERE name = 'Bob'`).Scan(&count))
	assert.Equal(t, 0, count, "the whole batch must roll back on any statement error")
}

func TestBeginReadCommitRoundTrip(t *testing.T) {
	t.Parallel()

	c, m := newTestCoordinator(t)
	ctx := context.Background()

	token, err := c.Begin(ctx, []domain.Statement{
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Alice")}},
	})
	require.NoError(t, err)

	rows, err := c.Read(ctx, token, `SELECT name FROM t WHERE name = $1`, []domain.Value{domain.Text("Alice")})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var outsideCount int
	require.NoError(t, m.DB().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&outsideCount))
	assert.Equal(t, 0, outsideCount, "uncommitted writes must not be visible outside the transaction")

	require.NoError(t, c.Commit(ctx, token))

	require.NoError(t, m.DB().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&outsideCount))
	assert.Equal(t, 1, outsideCount)
}

func TestBeginFailsFastWhenAlreadyLive(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	token, err := c.Begin(ctx, nil)
	require.NoError(t, err)

	_, err = c.Begin(ctx, nil)
	require.Error(t, err)
	code, ok := domain.AsCode(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeTransactionBusy, code)

	require.NoError(t, c.Rollback(ctx, token))
}

func TestContinueRotatesToken(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	token, err := c.Begin(ctx, nil)
	require.NoError(t, err)

	next, err := c.Continue(ctx, token, []domain.Statement{
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Alice")}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, token.TransactionID, next.TransactionID)

	_, err = c.Read(ctx, token, `SELECT 1`, nil)
	require.Error(t, err, "the superseded token must no longer be valid")

	require.NoError(t, c.Commit(ctx, next))
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	t.Parallel()

	c, m := newTestCoordinator(t)
	ctx := context.Background()

	token, err := c.Begin(ctx, []domain.Statement{
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Alice")}},
	})
	require.NoError(t, err)

	require.NoError(t, c.Rollback(ctx, token))

	var count int
	require.NoError(t, m.DB().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 0, count)

	_, err = c.Read(ctx, token, `SELECT 1`, nil)
	require.Error(t, err)
	code, ok := domain.AsCode(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeUnknownTransaction, code)
}

func TestShutdownAbortsLiveTransaction(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	token, err := c.Begin(ctx, nil)
	require.NoError(t, err)

	c.Shutdown()

	_, err = c.Read(ctx, token, `SELECT 1`, nil)
	require.Error(t, err)

	// A fresh Begin must succeed once shutdown has released the writer.
	_, err = c.Begin(ctx, nil)
	require.NoError(t, err)
}

func TestErrorDuringContinueTerminatesTransaction(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	token, err := c.Begin(ctx, nil)
	require.NoError(t, err)

	_, err = c.Continue(ctx, token, []domain.Statement{
		{Query: `INSERT INTO nonexistent_table(x) VALUES (1)`},
	})
	require.Error(t, err)

	_, err = c.Read(ctx, token, `SELECT 1`, nil)
	require.Error(t, err, "a statement error must roll back and terminate the transaction")

	_, err = c.Begin(ctx, nil)
	require.NoError(t, err, "the writer must have been released after the rollback")
}
