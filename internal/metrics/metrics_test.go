// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRegistersCollectors(t *testing.T) {
	t.Parallel()

	m := NewManager()
	require.NotNil(t, m)
	require.NotNil(t, m.Registry)

	assert.Greater(t, testutil.CollectAndCount(m.Registry), 0)
}

func TestManagerCountersIncrement(t *testing.T) {
	t.Parallel()

	m := NewManager()

	m.ObserveWriterWait(0.01)
	m.IncReaderAcquired()
	m.IncReaderTimeout()
	m.IncBroadcastDropped("a.db")
	m.IncMigrationEvent("a.db", "Completed")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.readerAcquired))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.readerTimeouts))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.broadcastDropped.WithLabelValues("a.db")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.migrationEvents.WithLabelValues("a.db", "Completed")))
}

func TestPoolGaugeCollectorReadsLiveValue(t *testing.T) {
	t.Parallel()

	count := int64(3)
	collector := NewPoolGaugeCollector("a.db", func() int64 { return count })

	assert.Equal(t, float64(3), testutil.ToFloat64(collector))

	count = 7
	assert.Equal(t, float64(7), testutil.ToFloat64(collector), "collector must read the value on demand, not cache it")
}

func TestManagerRegistriesAreIsolated(t *testing.T) {
	t.Parallel()

	a := NewManager()
	b := NewManager()

	assert.NotSame(t, a.Registry, b.Registry)
}
