// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package txn

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/sqlitecore/dbcore/internal/crypto"
	"github.com/sqlitecore/dbcore/internal/domain"
	"github.com/sqlitecore/dbcore/internal/sqlitepool"
)

// phase is the interruptible transaction's server-side lifecycle
// state, as distinct from the client-visible state machine in the
// external command surface (Begun/ContinuedExec map onto Open here;
// the client never observes Committing).
type phase string

const (
	phaseOpen       phase = "Open"
	phaseCommitting phase = "Committing"
	phaseRolledBack phase = "RolledBack"
	phaseClosed     phase = "Closed"
)

type liveTransaction struct {
	id        string
	handle    *sqlitepool.WriterHandle
	tx        *sql.Tx
	phase     phase
	createdAt time.Time
}

// Coordinator implements both transaction families on top of a single
// database's Manager. At most one interruptible transaction may be
// live at a time, tracked in c.live; atomic transactions don't touch
// that field since they never outlive a single call.
type Coordinator struct {
	dbPath  string
	manager *sqlitepool.Manager

	mu   sync.Mutex
	live *liveTransaction
}

func NewCoordinator(dbPath string, manager *sqlitepool.Manager) *Coordinator {
	return &Coordinator{dbPath: dbPath, manager: manager}
}

// ExecuteAtomic runs statements inside one BEGIN/COMMIT frame on a
// freshly acquired writer, releasing it before returning regardless
// of outcome.
func (c *Coordinator) ExecuteAtomic(ctx context.Context, statements []domain.Statement) ([]domain.WriteResult, error) {
	handle, err := c.manager.AcquireWriter(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	tx, err := handle.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyError(err)
	}

	results := make([]domain.WriteResult, 0, len(statements))
	for _, stmt := range statements {
		res, err := execStatement(ctx, tx, stmt)
		if err != nil {
			_ = tx.Rollback()
			return nil, classifyError(err)
		}
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyError(err)
	}
	return results, nil
}

// Begin starts an interruptible transaction: acquires the writer,
// issues BEGIN, runs the initial statements, and returns a token
// naming the live transaction. The writer is held until a terminal
// transition (Commit or Rollback), across as many asynchronous
// Continue/Read calls as the caller makes.
//
// If a transaction is already live for this database, Begin fails
// fast with TRANSACTION_BUSY rather than queuing behind the writer
// gate: queuing would mean an RPC caller's begin call stalls
// server-side for as long as the live transaction takes to resolve,
// which defeats the point of an asynchronous, interruptible protocol.
func (c *Coordinator) Begin(ctx context.Context, statements []domain.Statement) (domain.Token, error) {
	c.mu.Lock()
	if c.live != nil {
		c.mu.Unlock()
		return domain.Token{}, domain.NewError(domain.CodeTransactionBusy, "an interruptible transaction is already live for "+c.dbPath)
	}
	c.mu.Unlock()

	handle, err := c.manager.AcquireWriter(ctx)
	if err != nil {
		return domain.Token{}, err
	}

	tx, err := handle.Conn().BeginTx(ctx, nil)
	if err != nil {
		handle.Release()
		return domain.Token{}, classifyError(err)
	}

	id, err := crypto.GenerateSecureToken(32)
	if err != nil {
		_ = tx.Rollback()
		handle.Release()
		return domain.Token{}, domain.WrapError(domain.CodeIOError, "generate transaction id", err)
	}

	lt := &liveTransaction{id: id, handle: handle, tx: tx, phase: phaseOpen, createdAt: time.Now()}

	c.mu.Lock()
	c.live = lt
	c.mu.Unlock()

	if err := c.runStatements(ctx, lt, statements); err != nil {
		c.rollback(lt, phaseRolledBack)
		return domain.Token{}, err
	}

	return domain.Token{DBPath: c.dbPath, TransactionID: id}, nil
}

// Continue runs another batch of statements against the live
// transaction named by token, and rotates the transaction id so the
// caller's next call must use the freshly returned token.
func (c *Coordinator) Continue(ctx context.Context, token domain.Token, statements []domain.Statement) (domain.Token, error) {
	lt, err := c.lookup(token)
	if err != nil {
		return domain.Token{}, err
	}

	if err := c.runStatements(ctx, lt, statements); err != nil {
		c.rollback(lt, phaseRolledBack)
		return domain.Token{}, err
	}

	newID, err := crypto.GenerateSecureToken(32)
	if err != nil {
		return domain.Token{}, domain.WrapError(domain.CodeIOError, "generate transaction id", err)
	}

	c.mu.Lock()
	if c.live == lt {
		lt.id = newID
	}
	c.mu.Unlock()

	return domain.Token{DBPath: c.dbPath, TransactionID: newID}, nil
}

// Read runs a SELECT on the live transaction's own connection, so the
// caller observes its own uncommitted writes.
func (c *Coordinator) Read(ctx context.Context, token domain.Token, query string, values []domain.Value) ([]domain.Row, error) {
	lt, err := c.lookup(token)
	if err != nil {
		return nil, err
	}

	rows, err := lt.tx.QueryContext(ctx, query, BindValues(values)...)
	if err != nil {
		return nil, classifyError(err)
	}
	return ScanRows(rows)
}

// Commit finalizes the live transaction named by token and releases
// the writer.
func (c *Coordinator) Commit(ctx context.Context, token domain.Token) error {
	lt, err := c.lookup(token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	lt.phase = phaseCommitting
	c.mu.Unlock()

	commitErr := lt.tx.Commit()

	c.mu.Lock()
	if c.live == lt {
		c.live = nil
	}
	c.mu.Unlock()
	lt.handle.Release()

	if commitErr != nil {
		return classifyError(commitErr)
	}
	return nil
}

// Rollback abandons the live transaction named by token.
func (c *Coordinator) Rollback(ctx context.Context, token domain.Token) error {
	lt, err := c.lookup(token)
	if err != nil {
		return err
	}
	c.rollback(lt, phaseRolledBack)
	return nil
}

// Shutdown aborts whatever interruptible transaction is currently
// live, if any, marking it Closed rather than RolledBack: a
// server-wide close rolls back all live transactions as a side effect
// of draining, not because a caller asked to abandon one.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	lt := c.live
	c.mu.Unlock()

	if lt != nil {
		c.rollback(lt, phaseClosed)
	}
}

func (c *Coordinator) rollback(lt *liveTransaction, terminal phase) {
	c.mu.Lock()
	if c.live == lt {
		lt.phase = terminal
		c.live = nil
	}
	c.mu.Unlock()

	_ = lt.tx.Rollback()
	lt.handle.Release()
}

func (c *Coordinator) lookup(token domain.Token) (*liveTransaction, error) {
	if token.DBPath != c.dbPath {
		return nil, domain.NewError(domain.CodeUnknownTransaction, "token does not belong to this database")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live == nil || c.live.id != token.TransactionID {
		return nil, domain.NewError(domain.CodeUnknownTransaction, "no live transaction for the given token")
	}
	return c.live, nil
}

func (c *Coordinator) runStatements(ctx context.Context, lt *liveTransaction, statements []domain.Statement) error {
	for _, stmt := range statements {
		if _, err := execStatement(ctx, lt.tx, stmt); err != nil {
			return classifyError(err)
		}
	}
	return nil
}

func execStatement(ctx context.Context, q Querier, stmt domain.Statement) (domain.WriteResult, error) {
	res, err := q.ExecContext(ctx, stmt.Query, BindValues(stmt.Values)...)
	if err != nil {
		return domain.WriteResult{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		// Not every statement/table shape has a rowid to report (e.g.
		// WITHOUT ROWID tables); the source treats this as 0.
		lastID = 0
	}

	return domain.WriteResult{RowsAffected: affected, LastInsertID: lastID}, nil
}
