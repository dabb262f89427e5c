// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package changefeed

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// tableInfo is the shape needed to turn a raw column slice into a
// primary key: which column indices make up the key, in declared
// order, and whether the table is a WITHOUT ROWID table (in which case
// the engine's pseudo-rowid carries no meaning and must not be used as
// a fallback key).
type tableInfo struct {
	pkColumns    []int
	withoutRowid bool
}

// tableInfoCache lazily populates tableInfo per table name on first
// sight, via PRAGMA table_info and a sqlite_master lookup. A
// singleflight group collapses concurrent lookups for the same table
// (possible when a transaction touches the same previously-unseen
// table on back-to-back hook invocations) into one round trip.
type tableInfoCache struct {
	sf    singleflight.Group
	mu    sync.RWMutex
	byKey map[string]*tableInfo
}

func newTableInfoCache() *tableInfoCache {
	return &tableInfoCache{byKey: make(map[string]*tableInfo)}
}

func (c *tableInfoCache) get(ctx context.Context, conn *sql.Conn, table string) (*tableInfo, error) {
	c.mu.RLock()
	if info, ok := c.byKey[table]; ok {
		c.mu.RUnlock()
		return info, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do(table, func() (any, error) {
		info, err := loadTableInfo(ctx, conn, table)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byKey[table] = info
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tableInfo), nil
}

func loadTableInfo(ctx context.Context, conn *sql.Conn, table string) (*tableInfo, error) {
	rows, err := conn.QueryContext(ctx, `PRAGMA table_info("`+escapeIdent(table)+`")`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type col struct {
		idx int
		pk  int
	}
	var pkCols []col
	idx := 0
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		if pk > 0 {
			pkCols = append(pkCols, col{idx: idx, pk: pk})
		}
		idx++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(pkCols, func(i, j int) bool { return pkCols[i].pk < pkCols[j].pk })

	info := &tableInfo{}
	for _, c := range pkCols {
		info.pkColumns = append(info.pkColumns, c.idx)
	}

	var ddl sql.NullString
	row := conn.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err := row.Scan(&ddl); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if ddl.Valid && strings.Contains(strings.ToUpper(ddl.String), "WITHOUT ROWID") {
		info.withoutRowid = true
	}

	return info, nil
}
