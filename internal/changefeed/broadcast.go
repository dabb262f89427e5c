// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package changefeed is Component C, the change observer: it turns
// SQLite's pre-update/commit/rollback hooks into a commit-gated,
// at-most-once broadcast of row-level changes with extracted primary
// keys.
package changefeed

import (
	"sync"

	"github.com/sqlitecore/dbcore/internal/domain"
)

// Publication is delivered to a subscriber: either a batch of events
// from one committed transaction, or a Gap reporting that the
// subscriber fell behind and some batches were dropped for it.
type Publication struct {
	Events []domain.ChangeEvent
	Gap    *domain.Gap
}

// Subscription is a lazy receiver of committed change events.
// Publications are queued in its buffered channel from the moment it
// is created, whether or not C() has been read yet; a slow subscriber
// never blocks the producer, it just starts missing batches and sees
// gaps instead.
type Subscription struct {
	ch     chan Publication
	sink   *broadcastSink
	closed bool
	mu     sync.Mutex
}

func (s *Subscription) C() <-chan Publication { return s.ch }

func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.sink.remove(s)
	close(s.ch)
}

// broadcastSink fans committed change batches out to every live
// subscriber. Publish never blocks: a subscriber whose channel is
// full has its oldest pending publication dropped and replaced with a
// gap marker, rather than stalling the writer that is publishing.
type broadcastSink struct {
	capacity int
	onDrop   func()

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newBroadcastSink(capacity int, onDrop func()) *broadcastSink {
	return &broadcastSink{capacity: capacity, onDrop: onDrop, subs: make(map[*Subscription]struct{})}
}

func (s *broadcastSink) subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Publication, s.capacity), sink: s}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return sub
}

func (s *broadcastSink) remove(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// publish delivers one committed transaction's events to every
// subscriber as a single atomic batch.
func (s *broadcastSink) publish(events []domain.ChangeEvent) {
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		select {
		case sub.ch <- Publication{Events: events}:
			continue
		default:
		}

		// Full: drop the oldest pending publication to make room,
		// then leave a gap marker so the subscriber knows it missed
		// something instead of silently seeing a hole in the stream.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- Publication{Gap: &domain.Gap{Skipped: 1}}:
		default:
		}
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}
