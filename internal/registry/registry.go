// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package registry is the process-wide mapping from database identity
// to its Connection Manager. It exists so "one identity maps to one
// Manager for the process's lifetime" is enforced in exactly one
// place, behind a small service object, rather than scattered ambient
// global state.
package registry

import (
	"context"
	"sync"

	"github.com/sqlitecore/dbcore/internal/domain"
	"github.com/sqlitecore/dbcore/internal/migrate"
	"github.com/sqlitecore/dbcore/internal/sqlitepool"
)

// Registry guards the path-to-Manager mapping with a shared-exclusive
// primitive: lookups (the common case, driving every command) take
// the read lock, and only Load/Close/Remove ever need exclusivity.
type Registry struct {
	migrations []migrate.Migration

	mu       sync.RWMutex
	managers map[string]*sqlitepool.Manager
}

// New constructs a Registry that runs migrations against the given
// ordered migration set on every Load.
func New(migrations []migrate.Migration) *Registry {
	return &Registry{
		migrations: migrations,
		managers:   make(map[string]*sqlitepool.Manager),
	}
}

// Load returns the Manager for path, creating it on first call. A
// second Load for a path already registered with equal Options
// returns the existing Manager (idempotent); with conflicting Options
// it fails with domain.CodeAlreadyLoaded.
func (r *Registry) Load(ctx context.Context, path string, opts sqlitepool.Options) (*sqlitepool.Manager, error) {
	r.mu.RLock()
	existing, ok := r.managers[path]
	r.mu.RUnlock()

	if ok {
		if !existing.LoadOptions().Equal(opts) {
			return nil, domain.NewError(domain.CodeAlreadyLoaded, "database already loaded with a different configuration: "+path)
		}
		return existing, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock: another goroutine may have won
	// the race between our RUnlock and this Lock.
	if existing, ok := r.managers[path]; ok {
		if !existing.LoadOptions().Equal(opts) {
			return nil, domain.NewError(domain.CodeAlreadyLoaded, "database already loaded with a different configuration: "+path)
		}
		return existing, nil
	}

	m, err := sqlitepool.Load(ctx, path, opts, r.migrations)
	if err != nil {
		return nil, err
	}

	r.managers[path] = m
	return m, nil
}

// Get returns the Manager already registered for path, if any, without
// creating one.
func (r *Registry) Get(path string) (*sqlitepool.Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[path]
	return m, ok
}

// Close closes and unregisters the Manager for path. Returns whether
// anything was actually registered.
func (r *Registry) Close(path string) (bool, error) {
	r.mu.Lock()
	m, ok := r.managers[path]
	if ok {
		delete(r.managers, path)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, m.Close()
}

// Remove closes and unregisters the Manager for path, then deletes its
// on-disk files. Returns whether anything was registered.
func (r *Registry) Remove(path string) (bool, error) {
	r.mu.Lock()
	m, ok := r.managers[path]
	if ok {
		delete(r.managers, path)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, m.Remove()
}

// CloseAll closes and unregisters every Manager. Used at process
// shutdown.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*sqlitepool.Manager)
	r.mu.Unlock()

	var firstErr error
	for _, m := range managers {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
