// Package discord wires the gateway to the playback registry: slash
// commands come in, session commands go out, voice frames flow through the
// transport adapter.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"groovekeeper/internal/config"
	"groovekeeper/internal/music/registry"
	"groovekeeper/internal/storage"
)

// Bot is the Discord front of the playback core.
type Bot struct {
	dg    *discordgo.Session
	cfg   *config.Config
	store *storage.Storage
	reg   *registry.Registry
	voice *VoiceTransport
	log   zerolog.Logger

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// VoiceState holds the minimal voice channel state for a user.
type VoiceState struct {
	ChannelID string
	UserID    string
}

func NewBot(cfg *config.Config, store *storage.Storage, log zerolog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	b := &Bot{
		dg:         dg,
		cfg:        cfg,
		store:      store,
		log:        log.With().Str("component", "bot").Logger(),
		shutdownCh: make(chan struct{}),
	}
	b.voice = NewVoiceTransport(dg, log)

	dg.Identify.Intents = discordgo.IntentsAll
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onGuildCreate)
	dg.AddHandler(b.onInteractionCreate)
	dg.AddHandler(b.onVoiceStateUpdate)

	return b, nil
}

// Voice returns the voice transport sessions stream through.
func (b *Bot) Voice() *VoiceTransport { return b.voice }

// SetRegistry hands the bot the session registry. Must be called before Run;
// the registry itself needs the bot's voice transport first, hence the
// two-step wiring.
func (b *Bot) SetRegistry(reg *registry.Registry) { b.reg = reg }

// Run opens the gateway and blocks until the context is cancelled or the
// owner requests shutdown, then ends every live session so voice connections
// and child processes are released.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	select {
	case <-ctx.Done():
	case <-b.shutdownCh:
	}
	b.log.Info().Msg("shutdown signal received, ending sessions")
	b.stopAllSessions()
	return nil
}

// RequestShutdown makes Run return as if the process had been signalled.
func (b *Bot) RequestShutdown() {
	b.shutdownOnce.Do(func() { close(b.shutdownCh) })
}

func (b *Bot) stopAllSessions() {
	for guildID, s := range b.reg.Snapshot() {
		if _, err := s.Stop(context.Background()); err != nil {
			b.log.Warn().Str("guild", guildID).Err(err).Msg("session stop failed during shutdown")
		}
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	for _, g := range r.Guilds {
		b.registerCommands(g.ID)
	}
	b.log.Info().Str("user", s.State.User.Username).Int("guilds", len(r.Guilds)).Msg("bot is running")
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	b.log.Info().Str("guild", g.Guild.ID).Str("name", g.Guild.Name).Msg("joined guild")
	b.registerCommands(g.Guild.ID)
}

func (b *Bot) registerCommands(guildID string) {
	appID := b.dg.State.User.ID
	if appID == "" {
		user, err := b.dg.User("@me")
		if err != nil {
			b.log.Error().Err(err).Msg("failed to fetch self")
			return
		}
		appID = user.ID
	}

	if _, err := b.dg.ApplicationCommandBulkOverwrite(appID, guildID, commandDefinitions()); err != nil {
		b.log.Error().Str("guild", guildID).Err(err).Msg("slash command registration failed")
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" || i.Member == nil {
		_ = respondError(s, i, "This command only works inside a server.")
		return
	}

	switch i.ApplicationCommandData().Name {
	case "music":
		b.handleMusic(s, i)
	case "mod":
		b.handleMod(s, i)
	case "gban":
		b.handleGban(s, i)
	case "servers":
		b.handleServers(s, i)
	case "shutdown":
		b.handleShutdown(s, i)
	default:
		b.log.Warn().Str("command", i.ApplicationCommandData().Name).Msg("unknown command")
	}
}

// onVoiceStateUpdate ends a guild's session when the bot itself is moved out
// of the voice channel, e.g. kicked by a moderator.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.UserID != s.State.User.ID || vs.ChannelID != "" {
		return
	}
	sess, ok := b.reg.Get(vs.GuildID)
	if !ok {
		return
	}
	b.log.Info().Str("guild", vs.GuildID).Msg("bot left voice, ending session")
	go func() { _, _ = sess.Stop(context.Background()) }()
}

// FindUserVoiceState finds the voice channel a user currently sits in.
func (b *Bot) FindUserVoiceState(guildID, userID string) (*VoiceState, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving guild: %w", err)
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return &VoiceState{ChannelID: vs.ChannelID, UserID: vs.UserID}, nil
		}
	}
	return nil, fmt.Errorf("user not in any voice channel")
}
