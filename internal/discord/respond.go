package discord

import (
	"github.com/bwmarrin/discordgo"
	embed "github.com/clinet/discordgo-embed"
)

const (
	embedColor      = 0x9B59B6
	embedErrorColor = 0xE74C3C
)

func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, msg *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{msg},
		},
	})
}

func respondText(s *discordgo.Session, i *discordgo.InteractionCreate, description string) error {
	msg := embed.NewEmbed().SetColor(embedColor).SetDescription(description).MessageEmbed
	return respondEmbed(s, i, msg)
}

func respondError(s *discordgo.Session, i *discordgo.InteractionCreate, description string) error {
	msg := embed.NewEmbed().SetColor(embedErrorColor).SetDescription("⚠️ " + description).MessageEmbed
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{msg},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}

func followupEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, msg *discordgo.MessageEmbed) {
	_, _ = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{msg},
	})
}

func followupText(s *discordgo.Session, i *discordgo.InteractionCreate, description string) {
	followupEmbed(s, i, embed.NewEmbed().SetColor(embedColor).SetDescription(description).MessageEmbed)
}

func followupError(s *discordgo.Session, i *discordgo.InteractionCreate, description string) {
	followupEmbed(s, i, embed.NewEmbed().SetColor(embedErrorColor).SetDescription("⚠️ "+description).MessageEmbed)
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}
