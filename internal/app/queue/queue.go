// Package queue provides the ordered playback queue.
package queue

import (
	"iter"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/osa030/segue/internal/domain/track"
)

// Errors
var (
	ErrInvalidPosition = errors.New("position out of range")
	ErrUnknownEntry    = errors.New("unknown queue entry")
)

// Entry wraps a track with a stable identity. The identity survives
// reordering, so the UI can keep referring to an entry while the queue
// changes under it. The same track location may appear in several entries.
type Entry struct {
	ID    string // Entry UUID
	Track track.Track
}

// Queue is an ordered sequence of entries with a "current" cursor.
// Mutations are atomic; reads see snapshot-consistent state.
type Queue struct {
	mu      sync.RWMutex
	entries []Entry
	current int // Index of the current entry, -1 when unset
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{current: -1}
}

// Insert adds tracks at the given position and returns the created entries.
// Position must be within [0, Len()].
func (q *Queue) Insert(position int, tracks ...track.Track) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if position < 0 || position > len(q.entries) {
		return nil, errors.Wrapf(ErrInvalidPosition, "insert at %d with %d entries", position, len(q.entries))
	}

	added := make([]Entry, len(tracks))
	for i, t := range tracks {
		added[i] = Entry{ID: uuid.New().String(), Track: t}
	}

	updated := make([]Entry, 0, len(q.entries)+len(added))
	updated = append(updated, q.entries[:position]...)
	updated = append(updated, added...)
	updated = append(updated, q.entries[position:]...)
	q.entries = updated

	if q.current >= position {
		q.current += len(added)
	}
	return added, nil
}

// Append adds tracks at the end of the queue.
func (q *Queue) Append(tracks ...track.Track) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := make([]Entry, len(tracks))
	for i, t := range tracks {
		added[i] = Entry{ID: uuid.New().String(), Track: t}
	}
	q.entries = append(q.entries, added...)
	return added
}

// Remove deletes the entries with the given ids. If any id is unknown the
// queue is left unchanged. Removing the current entry advances the cursor
// to the entry that followed it, or clears it if none remains.
func (q *Queue) Remove(ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	doomed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if q.indexOfLocked(id) < 0 {
			return errors.Wrapf(ErrUnknownEntry, "remove %q", id)
		}
		doomed[id] = struct{}{}
	}

	kept := make([]Entry, 0, len(q.entries)-len(doomed))
	newCurrent := -1
	currentRemoved := false
	for i, e := range q.entries {
		if _, ok := doomed[e.ID]; ok {
			if i == q.current {
				currentRemoved = true
			}
			continue
		}
		if i == q.current {
			newCurrent = len(kept)
		}
		if currentRemoved && newCurrent < 0 && i > q.current {
			// First survivor after the removed current entry.
			newCurrent = len(kept)
		}
		kept = append(kept, e)
	}

	q.entries = kept
	q.current = newCurrent
	return nil
}

// Move relocates the entries with the given ids, preserving their relative
// order, so that the block starts at target. Target is validated against
// the queue length before extraction and clamped afterwards.
func (q *Queue) Move(ids []string, target int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if target < 0 || target > len(q.entries) {
		return errors.Wrapf(ErrInvalidPosition, "move to %d with %d entries", target, len(q.entries))
	}
	moving := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if q.indexOfLocked(id) < 0 {
			return errors.Wrapf(ErrUnknownEntry, "move %q", id)
		}
		moving[id] = struct{}{}
	}

	var currentID string
	if q.current >= 0 {
		currentID = q.entries[q.current].ID
	}

	moved := make([]Entry, 0, len(moving))
	rest := make([]Entry, 0, len(q.entries)-len(moving))
	for _, e := range q.entries {
		if _, ok := moving[e.ID]; ok {
			moved = append(moved, e)
		} else {
			rest = append(rest, e)
		}
	}
	if target > len(rest) {
		target = len(rest)
	}

	updated := make([]Entry, 0, len(q.entries))
	updated = append(updated, rest[:target]...)
	updated = append(updated, moved...)
	updated = append(updated, rest[target:]...)
	q.entries = updated

	if currentID != "" {
		q.current = q.indexOfLocked(currentID)
	}
	return nil
}

// SetCurrent marks the entry with the given id as current.
func (q *Queue) SetCurrent(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOfLocked(id)
	if i < 0 {
		return errors.Wrapf(ErrUnknownEntry, "set current %q", id)
	}
	q.current = i
	return nil
}

// ClearCurrent unsets the current cursor without touching the entries.
func (q *Queue) ClearCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = -1
}

// Current returns the current entry, if any.
func (q *Queue) Current() (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.current < 0 {
		return Entry{}, false
	}
	return q.entries[q.current], true
}

// First returns the first entry, if any.
func (q *Queue) First() (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// NextOf returns the entry that follows the one with the given id.
// It returns false at the end of the queue or for an unknown id; the
// queue itself never loops.
func (q *Queue) NextOf(id string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i := q.indexOfLocked(id)
	if i < 0 || i+1 >= len(q.entries) {
		return Entry{}, false
	}
	return q.entries[i+1], true
}

// PreviousOf returns the entry that precedes the one with the given id.
func (q *Queue) PreviousOf(id string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i := q.indexOfLocked(id)
	if i <= 0 {
		return Entry{}, false
	}
	return q.entries[i-1], true
}

// Contains reports whether an entry with the given id is in the queue.
func (q *Queue) Contains(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.indexOfLocked(id) >= 0
}

// Entries returns a restartable in-order sequence over a snapshot of the
// queue. Iteration is unaffected by concurrent mutation.
func (q *Queue) Entries() iter.Seq[Entry] {
	snapshot := q.Snapshot()
	return func(yield func(Entry) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

// Snapshot returns a copy of all entries in order.
func (q *Queue) Snapshot() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	snapshot := make([]Entry, len(q.entries))
	copy(snapshot, q.entries)
	return snapshot
}

// Len returns the number of entries in the queue.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Clear removes all entries and unsets the cursor.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	q.current = -1
}

// indexOfLocked returns the index of the entry with the given id, or -1.
// Must be called with the lock held.
func (q *Queue) indexOfLocked(id string) int {
	for i, e := range q.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
