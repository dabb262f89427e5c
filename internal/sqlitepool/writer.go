// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sqlitepool

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/sqlitecore/dbcore/internal/domain"
)

// writerGate is an exclusive, FIFO-fair lock around the single writer
// connection. A buffered channel of capacity one gives us this for
// free: Go delivers a channel send to the longest-blocked receiver,
// so goroutines queued on Acquire are woken in arrival order with no
// extra bookkeeping.
type writerGate struct {
	tokens chan struct{}
}

func newWriterGate() *writerGate {
	g := &writerGate{tokens: make(chan struct{}, 1)}
	g.tokens <- struct{}{}
	return g
}

func (g *writerGate) Acquire(ctx context.Context) error {
	select {
	case <-g.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *writerGate) Release() {
	g.tokens <- struct{}{}
}

// WriterHandle is a scoped, exclusive handle to the database's single
// writer connection. Exactly one WriterHandle may be outstanding per
// Manager at a time; Release must be called exactly once.
type WriterHandle struct {
	conn    *sql.Conn
	manager *Manager

	releaseOnce sync.Once
}

// Conn returns the underlying writer connection. Valid until Release.
func (h *WriterHandle) Conn() *sql.Conn { return h.conn }

// Release returns the writer to the Manager, unblocking the next
// queued acquirer. Safe to call more than once; only the first call
// has effect.
func (h *WriterHandle) Release() {
	h.releaseOnce.Do(func() {
		h.manager.releaseWriter()
	})
}

// AcquireWriter blocks until the writer is free or ctx is done. At
// most one outstanding WriterHandle exists per Manager; later callers
// queue in FIFO arrival order.
func (m *Manager) AcquireWriter(ctx context.Context) (*WriterHandle, error) {
	if m.isClosing() {
		return nil, domain.NewError(domain.CodeClosed, "database is closing")
	}

	start := time.Now()
	if err := m.writerGate.Acquire(ctx); err != nil {
		return nil, err
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.ObserveWriterWait(time.Since(start).Seconds())
	}

	if m.isClosing() {
		m.writerGate.Release()
		return nil, domain.NewError(domain.CodeClosed, "database is closing")
	}

	m.outstanding.Add(1)
	return &WriterHandle{conn: m.writerConn, manager: m}, nil
}

func (m *Manager) releaseWriter() {
	m.writerGate.Release()
	m.outstanding.Done()
}
