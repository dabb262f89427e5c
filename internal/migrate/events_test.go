// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlitecore/dbcore/internal/domain"
)

func TestEventCacheAllReturnsFullHistory(t *testing.T) {
	t.Parallel()

	cache := NewEventCache()
	cache.record(domain.MigrationEvent{DBPath: "a.db", Status: domain.MigrationRunning})
	cache.record(domain.MigrationEvent{DBPath: "a.db", Status: domain.MigrationCompleted, MigrationCount: 1})

	events := cache.All()
	require.Len(t, events, 2)
	assert.Equal(t, domain.MigrationRunning, events[0].Status)
	assert.Equal(t, domain.MigrationCompleted, events[1].Status)
}

func TestEventCacheAllReturnsACopy(t *testing.T) {
	t.Parallel()

	cache := NewEventCache()
	cache.record(domain.MigrationEvent{Status: domain.MigrationRunning})

	events := cache.All()
	events[0].Status = domain.MigrationFailed

	assert.Equal(t, domain.MigrationRunning, cache.All()[0].Status, "mutating the returned slice must not affect the cache")
}

func TestEventCacheSubscribeReceivesFutureEvents(t *testing.T) {
	t.Parallel()

	cache := NewEventCache()
	ch, cancel := cache.Subscribe()
	defer cancel()

	cache.record(domain.MigrationEvent{Status: domain.MigrationRunning})

	ev := <-ch
	assert.Equal(t, domain.MigrationRunning, ev.Status)
}

func TestEventCacheSubscribeMissesEventsBeforeSubscription(t *testing.T) {
	t.Parallel()

	cache := NewEventCache()
	cache.record(domain.MigrationEvent{Status: domain.MigrationRunning})

	ch, cancel := cache.Subscribe()
	defer cancel()

	select {
	case <-ch:
		t.Fatal("should not receive events recorded before subscription")
	default:
	}

	assert.Len(t, cache.All(), 1, "history is still available via All")
}

func TestEventCacheCancelClosesChannel(t *testing.T) {
	t.Parallel()

	cache := NewEventCache()
	ch, cancel := cache.Subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}
