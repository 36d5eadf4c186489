// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// Subscription is a feed of State snapshots. It holds at most one
// undelivered snapshot: a newer one replaces it, so a slow reader sees the
// latest state rather than every intermediate step.
type Subscription struct {
	s      *Session
	ch     chan State
	closed bool
}

// Subscribe registers a subscriber. The current state is delivered
// immediately.
func (s *Session) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{s: s, ch: make(chan State, 1)}
	if s.closed {
		sub.closeLocked()
		return sub
	}
	s.subs[sub] = struct{}{}
	sub.offer(s.snapshotLocked())
	return sub
}

// Updates returns the snapshot channel. It is closed when the subscription
// or the session is closed.
func (sub *Subscription) Updates() <-chan State {
	return sub.ch
}

// Close unsubscribes. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	sub.closeLocked()
}

func (sub *Subscription) closeLocked() {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(sub.s.subs, sub)
	close(sub.ch)
}

// offer replaces any undelivered snapshot with st. Callers hold the
// session lock, so no other sender can refill the slot in between.
func (sub *Subscription) offer(st State) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- st:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- st:
	default:
	}
}
