// Package queue holds the per-guild track queue. A Queue is owned by exactly
// one playback session and performs no locking of its own: every mutation
// goes through the session's command loop, which keeps ordering trivially
// correct.
package queue

import (
	"slices"

	"groovekeeper/internal/music/track"
)

// Queue is an ordered FIFO sequence of track descriptors.
type Queue struct {
	items  []*track.Track
	maxLen int
}

// New creates a queue capped at maxLen entries. maxLen <= 0 means unbounded.
func New(maxLen int) *Queue {
	return &Queue{maxLen: maxLen}
}

// Enqueue appends tracks in order and returns how many were accepted.
// Tracks beyond the cap are dropped, the caller reports the shortfall.
func (q *Queue) Enqueue(tracks ...*track.Track) int {
	accepted := len(tracks)
	if q.maxLen > 0 {
		room := q.maxLen - len(q.items)
		if room < 0 {
			room = 0
		}
		if accepted > room {
			accepted = room
		}
	}
	q.items = append(q.items, tracks[:accepted]...)
	return accepted
}

// DequeueFront pops and returns the front track, nil when empty.
func (q *Queue) DequeueFront() *track.Track {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t
}

// RemoveAt removes the track at index. Out-of-range indexes are a no-op
// returning false; user-facing validation belongs to the command layer.
func (q *Queue) RemoveAt(index int) bool {
	if index < 0 || index >= len(q.items) {
		return false
	}
	q.items = append(q.items[:index], q.items[index+1:]...)
	return true
}

// Clear drops all queued tracks.
func (q *Queue) Clear() {
	q.items = nil
}

// Peek returns a snapshot of the queued tracks in order.
func (q *Queue) Peek() []*track.Track {
	return slices.Clone(q.items)
}

// Front returns up to n tracks from the front without removing them.
func (q *Queue) Front(n int) []*track.Track {
	if n > len(q.items) {
		n = len(q.items)
	}
	return slices.Clone(q.items[:n])
}

// Size returns the number of queued tracks.
func (q *Queue) Size() int { return len(q.items) }
