package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	embed "github.com/clinet/discordgo-embed"

	"groovekeeper/internal/music/resolver"
	"groovekeeper/internal/music/session"
)

const (
	playTimeout    = 30 * time.Second
	controlTimeout = 10 * time.Second
	queuePreview   = 15
)

func (b *Bot) handleMusic(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]

	if sub.Name == "play" {
		b.handleMusicPlay(s, i, sub)
		return
	}

	sess, ok := b.reg.Get(i.GuildID)
	if !ok {
		_ = respondError(s, i, "Nothing is playing here. Start with `/music play`.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	switch sub.Name {
	case "skip":
		snap, err := sess.Skip(ctx)
		if err != nil {
			_ = respondError(s, i, musicErrText(err))
			return
		}
		if snap.Current != nil {
			_ = respondText(s, i, fmt.Sprintf("⏭️ Skipped. Up next: **%s**", trackLabel(snap.Current)))
		} else {
			_ = respondText(s, i, "⏭️ Skipped. The queue is empty.")
		}

	case "pause":
		if _, err := sess.Pause(ctx); err != nil {
			_ = respondError(s, i, musicErrText(err))
			return
		}
		_ = respondText(s, i, "⏸️ Paused.")

	case "resume":
		if _, err := sess.Resume(ctx); err != nil {
			_ = respondError(s, i, musicErrText(err))
			return
		}
		_ = respondText(s, i, "▶️ Resumed.")

	case "volume":
		level := int(optionMap(sub.Options)["level"].IntValue())
		snap, err := sess.SetVolume(ctx, level)
		if err != nil {
			_ = respondError(s, i, musicErrText(err))
			return
		}
		_ = respondText(s, i, fmt.Sprintf("🔊 Volume set to **%d%%**.", snap.Volume))

	case "queue":
		b.respondQueue(ctx, s, i, sess)

	case "remove":
		position := int(optionMap(sub.Options)["position"].IntValue())
		removed, _, err := sess.Remove(ctx, position-1)
		if err != nil {
			_ = respondError(s, i, musicErrText(err))
			return
		}
		if !removed {
			_ = respondError(s, i, fmt.Sprintf("No track at position %d.", position))
			return
		}
		_ = respondText(s, i, fmt.Sprintf("🗑️ Removed track at position %d.", position))

	case "clear":
		if _, err := sess.ClearQueue(ctx); err != nil {
			_ = respondError(s, i, musicErrText(err))
			return
		}
		_ = respondText(s, i, "🧹 Queue cleared.")

	case "stop":
		if _, err := sess.Stop(ctx); err != nil {
			_ = respondError(s, i, musicErrText(err))
			return
		}
		_ = respondText(s, i, "⏹️ Stopped playback and left the channel.")
	}
}

func (b *Bot) handleMusicPlay(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	input := optionMap(sub.Options)["input"].StringValue()

	if err := deferResponse(s, i); err != nil {
		b.log.Warn().Err(err).Msg("deferred response failed")
		return
	}

	vs, err := b.FindUserVoiceState(i.GuildID, i.Member.User.ID)
	if err != nil {
		followupError(s, i, "Join a voice channel first.")
		return
	}

	if err := b.voice.Join(i.GuildID, vs.ChannelID); err != nil {
		followupError(s, i, fmt.Sprintf("Could not join your voice channel: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()

	res, err := b.reg.GetOrCreate(i.GuildID).Play(ctx, input, i.Member.User.Username)
	if errors.Is(err, session.ErrSessionEnded) {
		// The reaper got in between; the retry lands on a fresh session.
		res, err = b.reg.GetOrCreate(i.GuildID).Play(ctx, input, i.Member.User.Username)
	}
	if err != nil {
		followupError(s, i, musicErrText(err))
		return
	}

	msg := fmt.Sprintf("🎶 Added **%d** track(s) to the queue.", res.Added)
	if res.Added == 1 && res.Snapshot.QueueLen == 0 && res.Snapshot.Current != nil {
		msg = fmt.Sprintf("🎶 Now playing: **%s**", trackLabel(res.Snapshot.Current))
	}
	if res.Dropped > 0 {
		msg += fmt.Sprintf("\n%d track(s) did not fit, the queue is full.", res.Dropped)
	}
	followupText(s, i, msg)
}

func (b *Bot) respondQueue(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, sess *session.Session) {
	snap, err := sess.NowPlaying(ctx)
	if err != nil {
		_ = respondError(s, i, musicErrText(err))
		return
	}
	tracks, err := sess.Tracks(ctx)
	if err != nil {
		_ = respondError(s, i, musicErrText(err))
		return
	}

	var sb strings.Builder
	if snap.Current != nil {
		state := "🎶"
		if snap.Paused {
			state = "⏸️"
		}
		fmt.Fprintf(&sb, "%s **%s** (requested by %s)\n", state, trackLabel(snap.Current), snap.Current.RequestedBy)
	} else {
		sb.WriteString("Nothing is playing.\n")
	}

	if len(tracks) > 0 {
		sb.WriteString("\n**Up next:**\n")
		for n, t := range tracks {
			if n == queuePreview {
				fmt.Fprintf(&sb, "…and %d more\n", len(tracks)-queuePreview)
				break
			}
			fmt.Fprintf(&sb, "%d. %s (%s)\n", n+1, trackInfoLabel(t), t.RequestedBy)
		}
	}

	msg := embed.NewEmbed().
		SetColor(embedColor).
		SetDescription(sb.String()).
		AddField("Volume", fmt.Sprintf("%d%%", snap.Volume)).
		AddField("Queued", fmt.Sprintf("%d", snap.QueueLen)).
		MessageEmbed
	_ = respondEmbed(s, i, msg)
}

func trackLabel(t *session.TrackInfo) string {
	if t.Title != "" {
		return t.Title
	}
	return t.Reference
}

func trackInfoLabel(t session.TrackInfo) string {
	if t.Title != "" {
		return t.Title
	}
	return t.Reference
}

func musicErrText(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionEnded):
		return "The player has already stopped."
	case errors.Is(err, session.ErrNothingPlaying):
		return "Nothing is playing."
	case errors.Is(err, session.ErrAlreadyPaused):
		return "Playback is already paused."
	case errors.Is(err, session.ErrNotPaused):
		return "Playback is not paused."
	case errors.Is(err, session.ErrVolumeRange):
		return "Volume must be between 0 and 200."
	case errors.Is(err, resolver.ErrNotFound):
		return "Nothing found for that input."
	case errors.Is(err, resolver.ErrRateLimited):
		return "The source is rate limiting us, try again in a minute."
	case errors.Is(err, resolver.ErrStreamUnavailable):
		return "That track cannot be streamed right now."
	case errors.Is(err, context.DeadlineExceeded):
		return "The player took too long to respond."
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}
