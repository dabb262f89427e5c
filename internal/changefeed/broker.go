// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package changefeed

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sqlitecore/dbcore/internal/domain"
)

// pendingChange is what the pre-update hook buffers for one row-level
// change. Primary-key extraction is deferred to commit time, once the
// table's schema has been looked up, rather than done inside the hook
// callback itself.
type pendingChange struct {
	table string
	op    domain.Operation
	rowID int64
	old   []domain.Value
	new   []domain.Value
}

// Broker is the change observer for one database. It buffers row
// changes captured by the pre-update hook for the transaction
// currently being applied on the writer connection, and turns them
// into a single published batch of domain.ChangeEvent on commit, or
// discards them on rollback. Nothing is ever published for a
// transaction that does not commit.
type Broker struct {
	// schemaConn is dedicated to table-info lookups and is never the
	// writer connection: resolve runs inside the commit hook while
	// database/sql still holds the writer connection's lock for the
	// in-flight Commit call, so querying that same connection here
	// would deadlock. Schema doesn't change mid-transaction, so any
	// other connection can read it safely.
	schemaConn    *sql.Conn
	captureValues atomic.Bool
	tables        *tableInfoCache
	sink          *broadcastSink

	mu      sync.Mutex
	pending []pendingChange
}

// NewBroker constructs a Broker. It is not usable to observe anything
// until Install binds it to a writer connection and registers the
// native hooks. onDrop, if non-nil, is called once per publication
// dropped for a slow subscriber — intended for a metrics counter, not
// for anything on the delivery path itself.
func NewBroker(broadcastBufferSize int, captureValues bool, onDrop func()) *Broker {
	b := &Broker{
		tables: newTableInfoCache(),
		sink:   newBroadcastSink(broadcastBufferSize, onDrop),
	}
	b.captureValues.Store(captureValues)
	return b
}

// SetCaptureValues toggles whether old/new column values are retained
// on published events, or only table/operation/primary-key.
func (b *Broker) SetCaptureValues(enabled bool) { b.captureValues.Store(enabled) }

// Close releases the broker's dedicated schema connection. It does
// not touch the writer connection, which the Manager owns and closes
// itself.
func (b *Broker) Close() error {
	if b.schemaConn == nil {
		return nil
	}
	return b.schemaConn.Close()
}

// Subscribe registers a new lazy receiver of committed change
// batches. Callers must Unsubscribe when done.
func (b *Broker) Subscribe() *Subscription { return b.sink.subscribe() }

// capture is called synchronously from the pre-update hook callback,
// on the engine's calling thread. It must not block or do anything
// beyond an in-memory append.
func (b *Broker) capture(table string, op domain.Operation, rowID int64, oldVals, newVals []domain.Value) {
	b.mu.Lock()
	b.pending = append(b.pending, pendingChange{table: table, op: op, rowID: rowID, old: oldVals, new: newVals})
	b.mu.Unlock()
}

// commit is called synchronously from the commit hook callback, after
// every statement in the transaction has executed but before the
// commit is finalized. It resolves primary keys for the buffered
// changes and publishes them as one batch. The commit itself is never
// vetoed by a resolution failure: a row that can't get its primary
// key resolved is still published, just without one, rather than
// taking down an otherwise-successful transaction.
func (b *Broker) commit() int {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	captureValues := b.captureValues.Load()
	events := make([]domain.ChangeEvent, 0, len(batch))

	for _, pc := range batch {
		ev, err := b.resolve(pc, captureValues)
		if err != nil {
			log.Warn().Err(err).Str("table", pc.table).Msg("change observer: failed to resolve primary key, publishing without it")
			id := pc.rowID
			ev = domain.ChangeEvent{TableName: pc.table, Operation: pc.op, RowID: &id}
		}
		events = append(events, ev)
	}

	b.sink.publish(events)
	return 0
}

// rollback discards any buffered changes for the transaction that is
// being abandoned. Nothing is published.
func (b *Broker) rollback() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// resolve turns one buffered raw change into a published event,
// extracting the primary key from the column values the pre-update
// hook captured. The pre-update hook always reads the full row off
// its native accessor regardless of the value-capture toggle — that
// read is an in-process memory copy, not I/O, so there's no cost to
// save by skipping it — and the toggle instead only gates whether
// those values are retained on the published event. That means
// primary-key resolution never needs to query a row back from the
// engine, on the writer connection or otherwise.
func (b *Broker) resolve(pc pendingChange, captureValues bool) (domain.ChangeEvent, error) {
	ctx := context.Background()
	info, err := b.tables.get(ctx, b.schemaConn, pc.table)
	if err != nil {
		return domain.ChangeEvent{}, err
	}

	ev := domain.ChangeEvent{
		TableName: pc.table,
		Operation: pc.op,
	}
	if !info.withoutRowid {
		id := pc.rowID
		ev.RowID = &id
	}

	src := pc.new
	if pc.op == domain.OpDelete {
		src = pc.old
	}
	if len(src) > 0 {
		ev.PrimaryKey = extractPK(info, src)
	}

	if captureValues {
		ev.OldValues = pc.old
		ev.NewValues = pc.new
	}

	return ev, nil
}

func extractPK(info *tableInfo, src []domain.Value) []domain.Value {
	if len(info.pkColumns) == 0 {
		return nil
	}
	pk := make([]domain.Value, len(info.pkColumns))
	for i, colIdx := range info.pkColumns {
		if colIdx < len(src) {
			pk[i] = src[colIdx]
		}
	}
	return pk
}

func escapeIdent(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}
