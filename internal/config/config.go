// Package config loads node settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type Config struct {
	Name              string        `env:"NEARBY_NAME"`
	DBPath            string        `env:"NEARBY_DB_PATH,default=nearby.db" validate:"required"`
	ShareDir          string        `env:"NEARBY_SHARE_DIR"`
	DownloadDir       string        `env:"NEARBY_DOWNLOAD_DIR,default=downloads" validate:"required"`
	ListenAddr        string        `env:"NEARBY_LISTEN_ADDR,default=0.0.0.0:7420" validate:"required"`
	APIAddr           string        `env:"NEARBY_API_ADDR"`
	SignalURL         string        `env:"NEARBY_SIGNAL_URL" validate:"omitempty,url"`
	STUNServers       string        `env:"NEARBY_STUN_SERVERS"`
	LogLevel          string        `env:"NEARBY_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFile           string        `env:"NEARBY_LOG_FILE"`
	PermissionTimeout time.Duration `env:"NEARBY_PERMISSION_TIMEOUT,default=0s" validate:"gte=0"`
	RequestTimeout    time.Duration `env:"NEARBY_REQUEST_TIMEOUT,default=0s" validate:"gte=0"`
	HistorySize       int           `env:"NEARBY_HISTORY_SIZE,default=256" validate:"gt=0"`
}

// Load reads the given dotenv files (".env" when none are given) without
// overriding variables already set, then decodes and validates the
// environment. Missing dotenv files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// STUN returns the configured STUN server URLs, or nil for the defaults.
func (c Config) STUN() []string {
	if strings.TrimSpace(c.STUNServers) == "" {
		return nil
	}
	var servers []string
	for _, s := range strings.Split(c.STUNServers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}
