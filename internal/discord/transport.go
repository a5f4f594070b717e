package discord

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"layeh.com/gopus"

	"groovekeeper/internal/music/stream"
	"groovekeeper/internal/music/transport"
)

// VoiceTransport adapts Discord voice connections to the playback sink
// interface. The play command calls Join before the session attaches, so
// Attach never blocks on the voice handshake.
type VoiceTransport struct {
	dg  *discordgo.Session
	log zerolog.Logger

	mu    sync.Mutex
	conns map[string]*discordgo.VoiceConnection
}

func NewVoiceTransport(dg *discordgo.Session, log zerolog.Logger) *VoiceTransport {
	return &VoiceTransport{
		dg:    dg,
		log:   log.With().Str("component", "voice").Logger(),
		conns: make(map[string]*discordgo.VoiceConnection),
	}
}

// Join connects the bot to a voice channel, reusing the live connection if
// it already sits in that channel.
func (vt *VoiceTransport) Join(guildID, channelID string) error {
	vt.mu.Lock()
	vc, ok := vt.conns[guildID]
	vt.mu.Unlock()
	if ok && vc.ChannelID == channelID {
		return nil
	}

	vc, err := vt.dg.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}

	vt.mu.Lock()
	vt.conns[guildID] = vc
	vt.mu.Unlock()
	vt.log.Info().Str("guild", guildID).Str("channel", channelID).Msg("joined voice channel")
	return nil
}

func (vt *VoiceTransport) Attach(guildID string) (transport.Sink, error) {
	vt.mu.Lock()
	vc, ok := vt.conns[guildID]
	vt.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no voice connection for guild %s", transport.ErrSinkUnavailable, guildID)
	}

	encoder, err := gopus.NewEncoder(stream.SampleRate, stream.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: encoder error: %v", transport.ErrSinkUnavailable, err)
	}

	if err := vc.Speaking(true); err != nil {
		vt.log.Warn().Str("guild", guildID).Err(err).Msg("speaking flag failed")
	}

	return &voiceSink{guildID: guildID, vc: vc, encoder: encoder}, nil
}

func (vt *VoiceTransport) Detach(s transport.Sink) error {
	sink, ok := s.(*voiceSink)
	if !ok {
		return nil
	}

	vt.mu.Lock()
	delete(vt.conns, sink.guildID)
	vt.mu.Unlock()

	_ = sink.vc.Speaking(false)
	return sink.vc.Disconnect()
}

// voiceSink encodes s16le PCM frames to opus and hands them to the gateway.
type voiceSink struct {
	guildID string
	vc      *discordgo.VoiceConnection
	encoder *gopus.Encoder
	intBuf  [stream.FrameSize * stream.Channels]int16
}

func (k *voiceSink) PushFrame(ctx context.Context, pcm []byte) error {
	if len(pcm) != stream.FrameBytes {
		return fmt.Errorf("unexpected frame length %d", len(pcm))
	}

	for i := range k.intBuf {
		k.intBuf[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}

	opus, err := k.encoder.Encode(k.intBuf[:], stream.FrameSize, len(pcm))
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	select {
	case k.vc.OpusSend <- opus:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
