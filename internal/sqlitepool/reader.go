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

type pooledConn struct {
	conn     *sql.Conn
	lastUsed time.Time
}

// readerPool is a bounded, lazily-populated pool of reader
// connections. A buffered channel of capacity equal to the pool size
// acts as both the concurrency bound and the FIFO waiting line: a
// goroutine blocked receiving from semTokens is released in arrival
// order, same reasoning as writerGate.
type readerPool struct {
	db       *sql.DB
	capacity int

	semTokens chan struct{}

	mu      sync.Mutex
	idle    []*pooledConn
	created int
}

func newReaderPool(db *sql.DB, capacity int) *readerPool {
	p := &readerPool{
		db:        db,
		capacity:  capacity,
		semTokens: make(chan struct{}, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.semTokens <- struct{}{}
	}
	return p
}

// acquire blocks until a slot is free (FIFO) or ctx is done, then
// returns an existing idle connection or lazily opens a new one.
func (p *readerPool) acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case <-p.semTokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return pc.conn, nil
	}
	p.mu.Unlock()

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.semTokens <- struct{}{}
		return nil, err
	}

	p.mu.Lock()
	p.created++
	p.mu.Unlock()

	return conn, nil
}

func (p *readerPool) release(conn *sql.Conn) {
	p.mu.Lock()
	p.idle = append(p.idle, &pooledConn{conn: conn, lastUsed: time.Now()})
	p.mu.Unlock()

	p.semTokens <- struct{}{}
}

// reclaimIdle closes and drops idle connections that have been
// sitting unused for longer than idleTimeout. It never touches
// connections currently checked out, since those never appear in
// p.idle.
func (p *readerPool) reclaimIdle(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	p.mu.Lock()
	kept := p.idle[:0]
	var stale []*pooledConn
	for _, pc := range p.idle {
		if pc.lastUsed.Before(cutoff) {
			stale = append(stale, pc)
			continue
		}
		kept = append(kept, pc)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, pc := range stale {
		_ = pc.conn.Close()
	}
}

// Created reports how many reader connections this pool has lazily
// opened so far, for the pool-saturation gauge.
func (p *readerPool) Created() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(p.created)
}

func (p *readerPool) closeAll() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		_ = pc.conn.Close()
	}
}

// ReaderHandle is a scoped reader connection. Reader handles must not
// begin transactions or acquire write locks; the pool does not
// validate this — it is the caller's contract, same as the source
// specification's reader discipline.
type ReaderHandle struct {
	conn    *sql.Conn
	pool    *readerPool
	manager *Manager

	releaseOnce sync.Once
}

func (h *ReaderHandle) Conn() *sql.Conn { return h.conn }

func (h *ReaderHandle) Release() {
	h.releaseOnce.Do(func() {
		h.pool.release(h.conn)
		h.manager.outstanding.Done()
	})
}

// AcquireReader blocks until a reader connection is free or ctx is
// done.
func (m *Manager) AcquireReader(ctx context.Context) (*ReaderHandle, error) {
	if m.isClosing() {
		return nil, domain.NewError(domain.CodeClosed, "database is closing")
	}

	conn, err := m.readers.acquire(ctx)
	if err != nil {
		if m.opts.Metrics != nil {
			m.opts.Metrics.IncReaderTimeout()
		}
		return nil, err
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.IncReaderAcquired()
	}

	if m.isClosing() {
		m.readers.release(conn)
		return nil, domain.NewError(domain.CodeClosed, "database is closing")
	}

	m.outstanding.Add(1)
	return &ReaderHandle{conn: conn, pool: m.readers, manager: m}, nil
}

func (m *Manager) idleReclaimLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.readers.reclaimIdle(m.opts.IdleTimeout)
		case <-m.stop:
			return
		}
	}
}
