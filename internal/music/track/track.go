package track

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind tells where a track reference came from.
type SourceKind string

const (
	SourceDirectStream SourceKind = "direct"
	SourceSearchResult SourceKind = "search"
	SourceCatalogLink  SourceKind = "catalog"
)

// StreamLocator is an opaque handle the stream opener can pull audio from.
// Empty means the track has not been materialized yet.
type StreamLocator string

// Materialization is the outcome of a locator lookup: the locator itself plus
// any refreshed metadata the source returned. It is carried back to the
// owning session's command loop, which applies it to the track; resolution
// code never writes to a track directly.
type Materialization struct {
	Locator  StreamLocator
	Title    string
	Duration time.Duration
}

// Track describes one piece of audio content. Reference, title and source
// are fixed at resolution time; the locator and playability flags are filled
// in later, just before the track reaches the front of the queue.
//
// A Track belongs to exactly one playback session and must only be mutated
// from that session's command loop.
type Track struct {
	ID          string
	Reference   string
	Title       string
	Duration    time.Duration
	RequestedBy string
	Source      SourceKind

	locator    StreamLocator
	unplayable bool
	failure    error
}

// New creates an unresolved track descriptor.
func New(reference, title, requestedBy string, source SourceKind) *Track {
	return &Track{
		ID:          uuid.NewString(),
		Reference:   reference,
		Title:       title,
		RequestedBy: requestedBy,
		Source:      source,
	}
}

// Locator returns the stream locator, empty if not yet materialized.
func (t *Track) Locator() StreamLocator { return t.locator }

// SetLocator records the materialized stream locator. The first value wins,
// a track is immutable once resolved.
func (t *Track) SetLocator(loc StreamLocator) {
	if t.locator == "" {
		t.locator = loc
	}
}

// Playable reports whether the track is eligible to play.
func (t *Track) Playable() bool { return t.locator != "" && !t.unplayable }

// Unplayable reports whether resolution failed for this track.
func (t *Track) Unplayable() bool { return t.unplayable }

// MarkUnplayable flags the track as failed so operators can surface why,
// instead of the track silently disappearing.
func (t *Track) MarkUnplayable(err error) {
	t.unplayable = true
	t.failure = err
}

// Failure returns the resolution error for an unplayable track, nil otherwise.
func (t *Track) Failure() error { return t.failure }
