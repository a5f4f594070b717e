package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	embed "github.com/clinet/discordgo-embed"

	"groovekeeper/internal/storage"
)

func (b *Bot) handleMod(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	opts := optionMap(sub.Options)

	if sub.Name == "muterole" {
		b.handleMuteRole(s, i, opts)
		return
	}

	target := opts["user"].UserValue(s)
	if target == nil {
		_ = respondError(s, i, "Could not resolve that user.")
		return
	}

	reason := ""
	if opt, ok := opts["reason"]; ok {
		reason = opt.StringValue()
	}

	switch sub.Name {
	case "kick":
		if err := s.GuildMemberDeleteWithReason(i.GuildID, target.ID, reason); err != nil {
			_ = respondError(s, i, fmt.Sprintf("Kick failed: %v", err))
			return
		}
		b.log.Info().Str("guild", i.GuildID).Str("user", target.ID).Str("by", i.Member.User.ID).Msg("member kicked")
		_ = respondText(s, i, fmt.Sprintf("👢 **%s** was kicked. %s", target.Username, reasonSuffix(reason)))

	case "ban":
		if err := s.GuildBanCreateWithReason(i.GuildID, target.ID, reason, 0); err != nil {
			_ = respondError(s, i, fmt.Sprintf("Ban failed: %v", err))
			return
		}
		b.log.Info().Str("guild", i.GuildID).Str("user", target.ID).Str("by", i.Member.User.ID).Msg("member banned")
		_ = respondText(s, i, fmt.Sprintf("🔨 **%s** was banned. %s", target.Username, reasonSuffix(reason)))

	case "mute":
		roleID, err := b.store.MuteRole(i.GuildID)
		if err != nil || roleID == "" {
			_ = respondError(s, i, "No mute role configured. Set one with `/mod muterole` first.")
			return
		}
		if err := s.GuildMemberRoleAdd(i.GuildID, target.ID, roleID); err != nil {
			_ = respondError(s, i, fmt.Sprintf("Mute failed: %v", err))
			return
		}
		_ = respondText(s, i, fmt.Sprintf("🔇 **%s** was muted. %s", target.Username, reasonSuffix(reason)))

	case "unmute":
		roleID, err := b.store.MuteRole(i.GuildID)
		if err != nil || roleID == "" {
			_ = respondError(s, i, "No mute role configured.")
			return
		}
		if err := s.GuildMemberRoleRemove(i.GuildID, target.ID, roleID); err != nil {
			_ = respondError(s, i, fmt.Sprintf("Unmute failed: %v", err))
			return
		}
		_ = respondText(s, i, fmt.Sprintf("🔊 **%s** was unmuted.", target.Username))

	case "warn":
		count, err := b.store.AddWarning(i.GuildID, storage.Warning{
			UserID:      target.ID,
			ModeratorID: i.Member.User.ID,
			Reason:      reason,
			IssuedAt:    time.Now(),
		})
		if err != nil {
			_ = respondError(s, i, fmt.Sprintf("Could not record the warning: %v", err))
			return
		}
		_ = respondText(s, i, fmt.Sprintf("⚠️ **%s** was warned (%d total). %s", target.Username, count, reasonSuffix(reason)))

	case "warnings":
		list, err := b.store.Warnings(i.GuildID, target.ID)
		if err != nil {
			_ = respondError(s, i, fmt.Sprintf("Could not load warnings: %v", err))
			return
		}
		if len(list) == 0 {
			_ = respondText(s, i, fmt.Sprintf("**%s** has a clean record.", target.Username))
			return
		}

		var sb strings.Builder
		for n, w := range list {
			fmt.Fprintf(&sb, "%d. %s (by <@%s> on %s)\n", n+1, w.Reason, w.ModeratorID, w.IssuedAt.Format("2006-01-02"))
		}
		msg := embed.NewEmbed().
			SetColor(embedColor).
			SetTitle(fmt.Sprintf("Warnings for %s (%d)", target.Username, len(list))).
			SetDescription(sb.String()).
			MessageEmbed
		_ = respondEmbed(s, i, msg)

	case "clearwarnings":
		n, err := b.store.ClearWarnings(i.GuildID, target.ID)
		if err != nil {
			_ = respondError(s, i, fmt.Sprintf("Could not clear warnings: %v", err))
			return
		}
		_ = respondText(s, i, fmt.Sprintf("🧽 Cleared %d warning(s) for **%s**.", n, target.Username))
	}
}

func (b *Bot) handleMuteRole(s *discordgo.Session, i *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if opt, ok := opts["role"]; ok {
		role := opt.RoleValue(s, i.GuildID)
		if role == nil {
			_ = respondError(s, i, "Could not resolve that role.")
			return
		}
		if err := b.store.SetMuteRole(i.GuildID, role.ID); err != nil {
			_ = respondError(s, i, fmt.Sprintf("Could not save the mute role: %v", err))
			return
		}
		_ = respondText(s, i, fmt.Sprintf("Mute role set to **%s**.", role.Name))
		return
	}

	roleID, err := b.store.MuteRole(i.GuildID)
	if err != nil {
		_ = respondError(s, i, fmt.Sprintf("Could not load the mute role: %v", err))
		return
	}
	if roleID == "" {
		_ = respondText(s, i, "No mute role configured yet.")
		return
	}
	_ = respondText(s, i, fmt.Sprintf("Current mute role: <@&%s>", roleID))
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return "Reason: " + reason
}
