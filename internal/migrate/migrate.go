// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package migrate is Component D: it applies a caller-supplied,
// ordered list of schema migrations inside the transactional frame
// SQLite gives us, and keeps an append-only, queryable record of what
// ran and how it went.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sqlitecore/dbcore/internal/domain"
)

// Migration is one schema step. Version must be unique and
// monotonically increasing within a caller's list; Run applies
// migrations in ascending Version order and skips any whose Version
// is already present in the schema_migrations bookkeeping table.
type Migration struct {
	Version     int64
	Description string
	Apply       func(ctx context.Context, tx *sql.Tx) error
}

const schemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  TEXT NOT NULL DEFAULT (datetime('now'))
)`

// Run applies every migration in migrations whose version is not yet
// recorded in schema_migrations, each inside its own BEGIN/COMMIT
// frame on conn. It records one Running event in cache before the
// first pending migration, and one Completed or Failed event after
// the run, even when nothing is pending. A Failed migration stops the
// run; migrations after it are not attempted.
func Run(ctx context.Context, conn *sql.Conn, dbPath string, migrations []Migration, cache *EventCache, onEvent func(status string)) error {
	if _, err := conn.ExecContext(ctx, schemaTable); err != nil {
		return domain.WrapError(domain.CodeMigrationFailed, "create schema_migrations bookkeeping table", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return domain.WrapError(domain.CodeMigrationFailed, "read applied migration versions", err)
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}

	record := func(ev domain.MigrationEvent) {
		cache.record(ev)
		if onEvent != nil {
			onEvent(string(ev.Status))
		}
	}

	record(domain.MigrationEvent{
		DBPath: dbPath,
		Status: domain.MigrationRunning,
		At:     time.Now(),
	})

	for _, m := range pending {
		if err := applyOne(ctx, conn, m); err != nil {
			wrapped := domain.WrapError(domain.CodeMigrationFailed, fmt.Sprintf("migration %d (%s)", m.Version, m.Description), err)
			record(domain.MigrationEvent{
				DBPath: dbPath,
				Status: domain.MigrationFailed,
				Error:  wrapped.Error(),
				At:     time.Now(),
			})
			log.Error().Err(wrapped).Int64("version", m.Version).Str("path", dbPath).Msg("migration failed")
			return wrapped
		}

		log.Info().Int64("version", m.Version).Str("description", m.Description).Str("path", dbPath).Msg("migration applied")
	}

	// The migrator's total count, not just what this run newly applied:
	// an idempotent reload with nothing pending still reports how many
	// migrations this database is at.
	record(domain.MigrationEvent{
		DBPath:         dbPath,
		Status:         domain.MigrationCompleted,
		MigrationCount: len(migrations),
		At:             time.Now(),
	})

	return nil
}

func applyOne(ctx context.Context, conn *sql.Conn, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := m.Apply(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}
