// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sqlitepool owns the writer connection and bounded reader
// pool for one database identity. It is Component A of the core: the
// single-writer / multi-reader topology that everything else in the
// core is built on top of.
package sqlitepool

import (
	"time"

	"github.com/sqlitecore/dbcore/internal/metrics"
)

const (
	DefaultReaderPoolSize      = 6
	DefaultIdleTimeout         = 30 * time.Second
	DefaultBusyTimeoutMillis   = 5000
	DefaultBroadcastBufferSize = 256
)

// Options configures a Manager at load time. Two loads of the same
// database identity must agree on Options or the second load fails
// with domain.CodeAlreadyLoaded — this is what makes load idempotent rather
// than silently reconfiguring a live pool out from under callers who
// already hold handles to it.
type Options struct {
	ReaderPoolSize      int
	IdleTimeout         time.Duration
	BusyTimeoutMillis   int
	BroadcastBufferSize int
	CaptureValues       bool

	// Metrics is optional; when set, the Manager reports writer wait
	// time and reader pool saturation to it. Not compared by Equal
	// since it carries no configuration, only an observation sink.
	Metrics *metrics.Manager
}

// WithDefaults fills zero-valued fields with package defaults. It
// never mutates its receiver's callers' copy semantics — callers pass
// Options by value into Load.
func (o Options) WithDefaults() Options {
	if o.ReaderPoolSize <= 0 {
		o.ReaderPoolSize = DefaultReaderPoolSize
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.BusyTimeoutMillis <= 0 {
		o.BusyTimeoutMillis = DefaultBusyTimeoutMillis
	}
	if o.BroadcastBufferSize <= 0 {
		o.BroadcastBufferSize = DefaultBroadcastBufferSize
	}
	return o
}

// Equal reports whether two Options describe the same effective pool
// shape, after defaulting. Used by the registry to decide whether a
// repeat Load is idempotent or conflicts with the live configuration.
func (o Options) Equal(other Options) bool {
	a, b := o.WithDefaults(), other.WithDefaults()
	return a.ReaderPoolSize == b.ReaderPoolSize &&
		a.IdleTimeout == b.IdleTimeout &&
		a.BusyTimeoutMillis == b.BusyTimeoutMillis &&
		a.BroadcastBufferSize == b.BroadcastBufferSize &&
		a.CaptureValues == b.CaptureValues
}
