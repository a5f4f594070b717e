package resolver

import "errors"

// Resolution failure taxonomy. All of these are recoverable at the queue
// level: the offending track is marked unplayable and playback advances.
var (
	// ErrNotFound means no matching content exists for the reference.
	ErrNotFound = errors.New("no matching content found")

	// ErrStreamUnavailable means the content exists but cannot be
	// streamed (removed, region-locked, no audio formats).
	ErrStreamUnavailable = errors.New("stream unavailable")

	// ErrRateLimited means the upstream throttled us. Eligible for a
	// bounded retry with backoff.
	ErrRateLimited = errors.New("rate limited by upstream")
)
