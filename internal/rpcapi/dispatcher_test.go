// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build sqlite_preupdate_hook

package rpcapi

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlitecore/dbcore/internal/domain"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()

	d := New(nil, nil)
	path := filepath.Join(t.TempDir(), "test.db")

	resolved, err := d.Load(context.Background(), path, nil)
	require.NoError(t, err)
	require.Equal(t, path, resolved)

	t.Cleanup(func() { _, _ = d.Close(path) })
	return d, path
}

func TestDispatcherBasicWriteRead(t *testing.T) {
	t.Parallel()

	d, path := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Execute(ctx, path, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`, nil)
	require.NoError(t, err)

	res, err := d.Execute(ctx, path, `INSERT INTO t(name) VALUES ($1)`, []domain.Value{domain.Text("Alice")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, int64(1), res.LastInsertID)

	rows, err := d.FetchAll(ctx, path, `SELECT * FROM t`, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.Text("Alice"), rows[0]["name"])
}

func TestDispatcherFetchOneNoRows(t *testing.T) {
	t.Parallel()

	d, path := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Execute(ctx, path, `CREATE TABLE t (id INTEGER PRIMARY KEY)`, nil)
	require.NoError(t, err)

	row, found, err := d.FetchOne(ctx, path, `SELECT * FROM t`, nil)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, row)
}

func TestDispatcherExecuteAgainstUnloadedDatabase(t *testing.T) {
	t.Parallel()

	d := New(nil, nil)
	_, err := d.Execute(context.Background(), "never-loaded.db", `SELECT 1`, nil)
	require.Error(t, err)

	code, ok := domain.AsCode(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeDatabaseNotLoaded, code)
}

func TestDispatcherExecuteTransactionRollsBackOnError(t *testing.T) {
	t.Parallel()

	d, path := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Execute(ctx, path, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT UNIQUE)`, nil)
	require.NoError(t, err)

	_, err = d.ExecuteTransaction(ctx, path, []domain.Statement{
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Alice")}},
		{Query: `INSERT INTO t(name) VALUES ($1)`, Values: []domain.Value{domain.Text("Alice")}},
	})
	require.Error(t, err)

	rows, err := d.FetchAll(ctx, path, `SELECT * FROM t`, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDispatcherInterruptibleTransactionLifecycle(t *testing.T) {
	t.Parallel()

	d, path := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Execute(ctx, path, `CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INT, total INT)`, nil)
	require.NoError(t, err)

	token, err := d.BeginInterruptibleTransaction(ctx, path, []domain.Statement{
		{Query: `INSERT INTO orders(user_id, total) VALUES ($1, $2)`, Values: []domain.Value{domain.Integer(7), domain.Integer(0)}},
	})
	require.NoError(t, err)

	rows, err := d.TransactionRead(ctx, token, `SELECT id FROM orders WHERE user_id = $1`, []domain.Value{domain.Integer(7)})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = d.TransactionContinue(ctx, token, TransactionAction{Kind: ActionCommit})
	require.NoError(t, err)

	rows, err = d.FetchAll(ctx, path, `SELECT * FROM orders`, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDispatcherBeginFailsWhileAnotherIsLive(t *testing.T) {
	t.Parallel()

	d, path := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Execute(ctx, path, `CREATE TABLE t (id INTEGER PRIMARY KEY)`, nil)
	require.NoError(t, err)

	token, err := d.BeginInterruptibleTransaction(ctx, path, nil)
	require.NoError(t, err)

	_, err = d.BeginInterruptibleTransaction(ctx, path, nil)
	require.Error(t, err)
	code, ok := domain.AsCode(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeTransactionBusy, code)

	_, err = d.TransactionContinue(ctx, token, TransactionAction{Kind: ActionRollback})
	require.NoError(t, err)
}

func TestDispatcherGetMigrationEventsWithNoMigrations(t *testing.T) {
	t.Parallel()

	d, path := newTestDispatcher(t)

	events, err := d.GetMigrationEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.MigrationRunning, events[0].Status)
	assert.Equal(t, domain.MigrationCompleted, events[1].Status)
	assert.Equal(t, 0, events[1].MigrationCount)
}

func TestDispatcherCloseShutsDownLiveTransaction(t *testing.T) {
	t.Parallel()

	d, path := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Execute(ctx, path, `CREATE TABLE t (id INTEGER PRIMARY KEY)`, nil)
	require.NoError(t, err)

	_, err = d.BeginInterruptibleTransaction(ctx, path, nil)
	require.NoError(t, err)

	wasLoaded, err := d.Close(path)
	require.NoError(t, err)
	assert.True(t, wasLoaded)
}
