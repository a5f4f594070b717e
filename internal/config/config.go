package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Values come from the environment,
// optionally seeded from a .env file in the working directory.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	OwnerID      string `env:"OWNER_ID"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	DefaultVolume int `env:"DEFAULT_VOLUME" envDefault:"100"`
	SearchLimit   int `env:"SEARCH_LIMIT" envDefault:"1"`
	MaxQueueLen   int `env:"MAX_QUEUE_LEN" envDefault:"500"`

	IdleGrace      time.Duration `env:"IDLE_GRACE" envDefault:"2m"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"30s"`

	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
}

// New loads configuration from the environment.
func New() (*Config, error) {
	// Missing .env is fine, system environment still applies.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DefaultVolume < 0 || cfg.DefaultVolume > 200 {
		return nil, fmt.Errorf("DEFAULT_VOLUME must be between 0 and 200, got %d", cfg.DefaultVolume)
	}
	if cfg.SearchLimit < 1 {
		cfg.SearchLimit = 1
	}
	if cfg.MaxQueueLen < 1 {
		cfg.MaxQueueLen = 1
	}

	return cfg, nil
}
