// Package transport defines the capability contract between the playback
// core and the voice gateway. The core writes audio frames to a sink; it
// never joins or leaves voice channels, that stays with the gateway.
package transport

import (
	"context"
	"errors"
)

// ErrSinkUnavailable means no usable voice connection exists for the guild,
// or an existing one dropped. Playback cannot continue past it.
var ErrSinkUnavailable = errors.New("voice sink unavailable")

// Sink accepts 20ms PCM frames (s16le, 48kHz, stereo) for one guild.
type Sink interface {
	// PushFrame blocks on transport backpressure; it must honor ctx
	// cancellation so a streaming task can be torn down mid-push.
	PushFrame(ctx context.Context, pcm []byte) error
}

// Transport hands out frame sinks bound to a guild's live voice connection.
type Transport interface {
	Attach(guildID string) (Sink, error)
	Detach(sink Sink) error
}
