package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"groovekeeper/internal/config"
	"groovekeeper/internal/discord"
	"groovekeeper/internal/logger"
	"groovekeeper/internal/music/registry"
	"groovekeeper/internal/music/resolver"
	"groovekeeper/internal/music/session"
	"groovekeeper/internal/music/stream"
	"groovekeeper/internal/storage"
	"groovekeeper/internal/version"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fallback := logger.New("info", "")
		fallback.Fatal().Err(err).Msg("configuration error")
	}

	log := logger.New(cfg.LogLevel, cfg.LogFile)
	log.Info().Str("version", version.Version).Msgf("starting %s", version.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Msg("storage error")
	}
	defer store.Close()

	bot, err := discord.NewBot(cfg, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("bot setup error")
	}

	deps := session.Deps{
		Resolver:  resolver.New(log),
		Opener:    &stream.FFmpegOpener{Path: cfg.FFmpegPath},
		Transport: bot.Voice(),
		Log:       log,
	}
	sessionCfg := session.Config{
		DefaultVolume: cfg.DefaultVolume,
		SearchLimit:   cfg.SearchLimit,
		MaxQueueLen:   cfg.MaxQueueLen,
	}

	reg := registry.New(func(guildID string, onEnd func(string)) *session.Session {
		return session.New(guildID, deps, sessionCfg, onEnd)
	}, log)
	bot.SetRegistry(reg)

	reaper := registry.NewReaper(reg, cfg.ReaperInterval, cfg.IdleGrace, log)
	go reaper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("bot error")
		}
		cancel()
	}

	log.Info().Msg("exited cleanly")
}
