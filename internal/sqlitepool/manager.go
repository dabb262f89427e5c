// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sqlitepool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sqlitecore/dbcore/internal/changefeed"
	"github.com/sqlitecore/dbcore/internal/domain"
	"github.com/sqlitecore/dbcore/internal/metrics"
	"github.com/sqlitecore/dbcore/internal/migrate"
)

const connectionSetupTimeout = 5 * time.Second

// Manager owns the writer connection and reader pool for exactly one
// database identity. It is never constructed directly by RPC callers:
// the process-wide registry (see internal/registry) is what enforces
// "one identity maps to one Manager for the process's lifetime" —
// Manager itself just implements the topology once that's decided.
type Manager struct {
	Path string
	opts Options

	db        *sql.DB
	readers   *readerPool
	writerGate *writerGate
	writerConn *sql.Conn

	Observer *changefeed.Broker
	Events   *migrate.EventCache

	closing     atomic.Bool
	outstanding sync.WaitGroup
	stop        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// Load opens path in WAL mode, applies foreign-key enforcement,
// installs the change observer's native hooks on the dedicated writer
// connection, and runs pending migrations. It is the only way to
// construct a Manager; callers needing the "one Manager per identity"
// and "idempotent repeat load" guarantees go through the registry
// instead of calling Load twice on the same path themselves.
func Load(ctx context.Context, path string, opts Options, migrations []migrate.Migration) (*Manager, error) {
	opts = opts.WithDefaults()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.WrapError(domain.CodeIOError, fmt.Sprintf("create database directory %s", dir), err)
	}

	registerDriver(opts.BusyTimeoutMillis)

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, domain.WrapError(domain.CodeIOError, "open database", err)
	}

	var onDrop func()
	if opts.Metrics != nil {
		onDrop = func() { opts.Metrics.IncBroadcastDropped(path) }
	}

	m := &Manager{
		Path:       path,
		opts:       opts,
		db:         db,
		readers:    newReaderPool(db, opts.ReaderPoolSize),
		writerGate: newWriterGate(),
		Observer:   changefeed.NewBroker(opts.BroadcastBufferSize, opts.CaptureValues, onDrop),
		Events:     migrate.NewEventCache(),
		stop:       make(chan struct{}),
	}

	if opts.Metrics != nil {
		opts.Metrics.Registry.MustRegister(metricsPoolCollector(path, m))
	}

	setupCtx, cancel := context.WithTimeout(ctx, connectionSetupTimeout)
	defer cancel()

	writerConn, err := db.Conn(setupCtx)
	if err != nil {
		db.Close()
		return nil, domain.WrapError(domain.CodeIOError, "acquire writer connection", err)
	}
	m.writerConn = writerConn

	if err := changefeed.Install(setupCtx, db, writerConn, m.Observer); err != nil {
		db.Close()
		return nil, err
	}

	var onMigrationEvent func(status string)
	if opts.Metrics != nil {
		onMigrationEvent = func(status string) { opts.Metrics.IncMigrationEvent(path, status) }
	}
	if err := migrate.Run(setupCtx, writerConn, path, migrations, m.Events, onMigrationEvent); err != nil {
		db.Close()
		return nil, err
	}

	m.wg.Add(1)
	go m.idleReclaimLoop()

	log.Info().Str("path", path).Msg("database loaded")
	return m, nil
}

func (m *Manager) isClosing() bool { return m.closing.Load() }

// Close transitions the Manager to draining: new acquisitions fail
// with Closed, outstanding handles are allowed to finish naturally,
// then all connections are disposed. Only the first call has effect;
// it returns the error from closing the underlying *sql.DB. Whether a
// path was loaded at all is reported by the registry, not here.
func (m *Manager) Close() error {
	var closeErr error
	m.closeOnce.Do(func() {
		m.closing.Store(true)
		close(m.stop)

		m.outstanding.Wait()
		m.wg.Wait()

		m.readers.closeAll()

		if err := m.Observer.Close(); err != nil {
			log.Warn().Err(err).Str("path", m.Path).Msg("failed to close change observer schema connection")
		}

		if err := m.writerConn.Close(); err != nil {
			log.Warn().Err(err).Str("path", m.Path).Msg("failed to close writer connection")
		}
		closeErr = m.db.Close()
	})
	return closeErr
}

// Remove closes the Manager, then deletes the main database file and
// its WAL/SHM/journal sidecars.
func (m *Manager) Remove() error {
	if err := m.Close(); err != nil {
		return err
	}

	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		p := m.Path + suffix
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return domain.WrapError(domain.CodeIOError, fmt.Sprintf("remove %s", p), err)
		}
	}
	return nil
}

// DB exposes the underlying *sql.DB that the writer, reader and
// schema connections are drawn from, for callers that need the full
// pool rather than a single scoped handle.
func (m *Manager) DB() *sql.DB { return m.db }

// LoadOptions returns the Options this Manager was loaded with, after
// defaulting. The registry uses this to decide whether a repeat Load
// is idempotent.
func (m *Manager) LoadOptions() Options { return m.opts }

func metricsPoolCollector(path string, m *Manager) *metrics.PoolGaugeCollector {
	return metrics.NewPoolGaugeCollector(path, func() int64 { return m.readers.Created() })
}
