// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rpcapi is the command surface the core exposes across the
// (out-of-scope) RPC bridge: one dispatcher method per command in the
// table, operating on domain types so the bridge's job is purely
// marshaling, never business logic.
package rpcapi

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sqlitecore/dbcore/internal/changefeed"
	"github.com/sqlitecore/dbcore/internal/domain"
	"github.com/sqlitecore/dbcore/internal/metrics"
	"github.com/sqlitecore/dbcore/internal/migrate"
	"github.com/sqlitecore/dbcore/internal/registry"
	"github.com/sqlitecore/dbcore/internal/sqlitepool"
	"github.com/sqlitecore/dbcore/internal/txn"
)

// CustomConfig is the optional per-load override accepted by the load
// command, mapping onto sqlitepool.Options.
type CustomConfig struct {
	MaxReadConnections int
	IdleTimeoutSecs    int
}

// Dispatcher owns the process-wide registry plus one transaction
// Coordinator per loaded database, lazily created the first time a
// caller runs an atomic or interruptible transaction against that
// database and dropped when the database is closed or removed.
type Dispatcher struct {
	registry *registry.Registry
	metrics  *metrics.Manager

	mu           sync.Mutex
	coordinators map[string]*txn.Coordinator
}

// New constructs a Dispatcher. metricsManager may be nil, in which
// case loaded databases report no metrics.
func New(migrations []migrate.Migration, metricsManager *metrics.Manager) *Dispatcher {
	return &Dispatcher{
		registry:     registry.New(migrations),
		metrics:      metricsManager,
		coordinators: make(map[string]*txn.Coordinator),
	}
}

// Load implements the `load` command.
func (d *Dispatcher) Load(ctx context.Context, dbPath string, cfg *CustomConfig) (string, error) {
	opts := sqlitepool.Options{Metrics: d.metrics}
	if cfg != nil {
		opts.ReaderPoolSize = cfg.MaxReadConnections
		if cfg.IdleTimeoutSecs > 0 {
			opts.IdleTimeout = time.Duration(cfg.IdleTimeoutSecs) * time.Second
		}
	}

	if _, err := d.registry.Load(ctx, dbPath, opts); err != nil {
		return "", err
	}
	return dbPath, nil
}

// Execute implements the `execute` command: a single ad-hoc write
// against the writer connection, outside any explicit transaction.
func (d *Dispatcher) Execute(ctx context.Context, dbPath, query string, values []domain.Value) (domain.WriteResult, error) {
	m, err := d.manager(dbPath)
	if err != nil {
		return domain.WriteResult{}, err
	}

	handle, err := m.AcquireWriter(ctx)
	if err != nil {
		return domain.WriteResult{}, err
	}
	defer handle.Release()

	res, err := handle.Conn().ExecContext(ctx, query, txn.BindValues(values)...)
	if err != nil {
		return domain.WriteResult{}, txn.ClassifyError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		lastID = 0
	}
	return domain.WriteResult{RowsAffected: affected, LastInsertID: lastID}, nil
}

// ExecuteTransaction implements the `execute_transaction` command.
func (d *Dispatcher) ExecuteTransaction(ctx context.Context, dbPath string, statements []domain.Statement) ([]domain.WriteResult, error) {
	m, err := d.manager(dbPath)
	if err != nil {
		return nil, err
	}
	return d.coordinatorFor(dbPath, m).ExecuteAtomic(ctx, statements)
}

// FetchAll implements the `fetch_all` command.
func (d *Dispatcher) FetchAll(ctx context.Context, dbPath, query string, values []domain.Value) ([]domain.Row, error) {
	m, err := d.manager(dbPath)
	if err != nil {
		return nil, err
	}

	handle, err := m.AcquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	rows, err := handle.Conn().QueryContext(ctx, query, txn.BindValues(values)...)
	if err != nil {
		return nil, txn.ClassifyError(err)
	}
	return txn.ScanRows(rows)
}

// FetchOne implements the `fetch_one` command. The bool result reports
// whether a row was found.
func (d *Dispatcher) FetchOne(ctx context.Context, dbPath, query string, values []domain.Value) (domain.Row, bool, error) {
	rows, err := d.FetchAll(ctx, dbPath, query, values)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// BeginInterruptibleTransaction implements the
// `execute_interruptible_transaction` command.
func (d *Dispatcher) BeginInterruptibleTransaction(ctx context.Context, dbPath string, initialStatements []domain.Statement) (domain.Token, error) {
	m, err := d.manager(dbPath)
	if err != nil {
		return domain.Token{}, err
	}
	return d.coordinatorFor(dbPath, m).Begin(ctx, initialStatements)
}

// TransactionRead implements the `transaction_read` command.
func (d *Dispatcher) TransactionRead(ctx context.Context, token domain.Token, query string, values []domain.Value) ([]domain.Row, error) {
	c, err := d.coordinatorForToken(token)
	if err != nil {
		return nil, err
	}
	return c.Read(ctx, token, query, values)
}

// TransactionActionKind selects which arm of `transaction_continue`'s
// oneof argument a caller sent.
type TransactionActionKind string

const (
	ActionContinue TransactionActionKind = "Continue"
	ActionCommit   TransactionActionKind = "Commit"
	ActionRollback TransactionActionKind = "Rollback"
)

// TransactionAction is the `transaction_continue` command's argument:
// a tagged union over the three permitted next actions for a live
// interruptible transaction.
type TransactionAction struct {
	Kind       TransactionActionKind
	Statements []domain.Statement
}

// TransactionContinue implements the `transaction_continue` command.
// It returns a refreshed token for Continue; the token is zero-valued
// for Commit and Rollback, which terminate the transaction.
func (d *Dispatcher) TransactionContinue(ctx context.Context, token domain.Token, action TransactionAction) (domain.Token, error) {
	c, err := d.coordinatorForToken(token)
	if err != nil {
		return domain.Token{}, err
	}

	switch action.Kind {
	case ActionContinue:
		return c.Continue(ctx, token, action.Statements)
	case ActionCommit:
		return domain.Token{}, c.Commit(ctx, token)
	case ActionRollback:
		return domain.Token{}, c.Rollback(ctx, token)
	default:
		return domain.Token{}, domain.NewError(domain.CodeUnknownTransaction, "unrecognized transaction action")
	}
}

// Close implements the `close` command.
func (d *Dispatcher) Close(dbPath string) (bool, error) {
	d.shutdownCoordinator(dbPath)
	return d.registry.Close(dbPath)
}

// CloseAll implements the `close_all` command.
func (d *Dispatcher) CloseAll() error {
	d.mu.Lock()
	coordinators := d.coordinators
	d.coordinators = make(map[string]*txn.Coordinator)
	d.mu.Unlock()

	for _, c := range coordinators {
		c.Shutdown()
	}
	return d.registry.CloseAll()
}

// Remove implements the `remove` command.
func (d *Dispatcher) Remove(dbPath string) (bool, error) {
	d.shutdownCoordinator(dbPath)
	return d.registry.Remove(dbPath)
}

// GetMigrationEvents implements the `get_migration_events` command.
func (d *Dispatcher) GetMigrationEvents(dbPath string) ([]domain.MigrationEvent, error) {
	m, err := d.manager(dbPath)
	if err != nil {
		return nil, err
	}
	return m.Events.All(), nil
}

// SubscribeMigrationEvents exposes the `sqlite:migration` event
// channel's source for dbPath. The bridge is responsible for relaying
// delivered events to its own subscribers; the core only guarantees
// delivery to whoever is listening at the moment an event occurs.
func (d *Dispatcher) SubscribeMigrationEvents(dbPath string) (<-chan domain.MigrationEvent, func(), error) {
	m, err := d.manager(dbPath)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := m.Events.Subscribe()
	return ch, unsubscribe, nil
}

// SubscribeChanges exposes the change observer's broadcast sink for
// dbPath, for a caller that wants committed row-level changes rather
// than migration status.
func (d *Dispatcher) SubscribeChanges(dbPath string) (*changefeed.Subscription, error) {
	m, err := d.manager(dbPath)
	if err != nil {
		return nil, err
	}
	return m.Observer.Subscribe(), nil
}

func (d *Dispatcher) manager(dbPath string) (*sqlitepool.Manager, error) {
	m, ok := d.registry.Get(dbPath)
	if !ok {
		return nil, domain.NewError(domain.CodeDatabaseNotLoaded, "database not loaded: "+dbPath)
	}
	return m, nil
}

func (d *Dispatcher) coordinatorFor(dbPath string, m *sqlitepool.Manager) *txn.Coordinator {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.coordinators[dbPath]
	if !ok {
		c = txn.NewCoordinator(dbPath, m)
		d.coordinators[dbPath] = c
	}
	return c
}

func (d *Dispatcher) coordinatorForToken(token domain.Token) (*txn.Coordinator, error) {
	d.mu.Lock()
	c, ok := d.coordinators[token.DBPath]
	d.mu.Unlock()

	if !ok {
		return nil, domain.NewError(domain.CodeUnknownTransaction, "no live transaction for the given token")
	}
	return c, nil
}

func (d *Dispatcher) shutdownCoordinator(dbPath string) {
	d.mu.Lock()
	c, ok := d.coordinators[dbPath]
	if ok {
		delete(d.coordinators, dbPath)
	}
	d.mu.Unlock()

	if ok {
		c.Shutdown()
	} else {
		log.Debug().Str("db", dbPath).Msg("no interruptible transaction coordinator to shut down")
	}
}
