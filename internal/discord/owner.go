package discord

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	embed "github.com/clinet/discordgo-embed"

	"groovekeeper/pkg/fanout"
)

const (
	gbanWorkers    = 4
	serversPreview = 20
)

func (b *Bot) isOwner(i *discordgo.InteractionCreate) bool {
	return b.cfg.OwnerID != "" && i.Member.User.ID == b.cfg.OwnerID
}

// handleGban bans a user from every guild the bot serves. One guild refusing
// the ban never blocks the others; the summary reports both counts.
func (b *Bot) handleGban(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isOwner(i) {
		_ = respondError(s, i, "This command is reserved for the bot owner.")
		return
	}

	opts := optionMap(i.ApplicationCommandData().Options)
	userID := opts["user_id"].StringValue()
	reason := ""
	if opt, ok := opts["reason"]; ok {
		reason = opt.StringValue()
	}

	if err := deferResponse(s, i); err != nil {
		b.log.Warn().Err(err).Msg("deferred response failed")
		return
	}

	guildIDs := make([]string, 0, len(s.State.Guilds))
	for _, g := range s.State.Guilds {
		guildIDs = append(guildIDs, g.ID)
	}

	results := fanout.Run(context.Background(), guildIDs, gbanWorkers, func(_ context.Context, guildID string) error {
		return s.GuildBanCreateWithReason(guildID, userID, reason, 0)
	})

	failed := fanout.Failures(results)
	for _, r := range results {
		if r.Err != nil {
			b.log.Warn().Str("guild", r.Input).Str("user", userID).Err(r.Err).Msg("global ban failed in guild")
		}
	}

	b.log.Info().Str("user", userID).Int("banned", len(results)-failed).Int("failed", failed).Msg("global ban finished")
	followupText(s, i, fmt.Sprintf("🔨 Banned <@%s> in **%d** guild(s), **%d** failed.", userID, len(results)-failed, failed))
}

// handleServers lists the guilds the bot serves, largest first.
func (b *Bot) handleServers(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isOwner(i) {
		_ = respondError(s, i, "This command is reserved for the bot owner.")
		return
	}

	guilds := slices.Clone(s.State.Guilds)
	if len(guilds) == 0 {
		_ = respondText(s, i, "The bot is not in any guilds.")
		return
	}
	slices.SortFunc(guilds, func(a, b *discordgo.Guild) int {
		return b.MemberCount - a.MemberCount
	})

	var sb strings.Builder
	for n, g := range guilds {
		if n == serversPreview {
			fmt.Fprintf(&sb, "…and %d more\n", len(guilds)-serversPreview)
			break
		}
		fmt.Fprintf(&sb, "%d. **%s** (%s), %d members\n", n+1, g.Name, g.ID, g.MemberCount)
	}

	msg := embed.NewEmbed().
		SetColor(embedColor).
		SetTitle(fmt.Sprintf("Serving %d guild(s)", len(guilds))).
		SetDescription(sb.String()).
		MessageEmbed
	_ = respondEmbed(s, i, msg)
}

// handleShutdown acknowledges and then makes Run return; session teardown
// happens on the Run path so voice and child processes are released.
func (b *Bot) handleShutdown(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isOwner(i) {
		_ = respondError(s, i, "This command is reserved for the bot owner.")
		return
	}

	b.log.Info().Str("by", i.Member.User.ID).Msg("shutdown requested by owner")
	_ = respondText(s, i, "Shutting down. Bye!")
	b.RequestShutdown()
}
