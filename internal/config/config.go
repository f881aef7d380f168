// Package config replaces ambient environment lookups with one explicit
// struct handed to every constructor that needs it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mathrush/backend/internal/models"
)

// Config enumerates every knob the server takes: store endpoint, game
// timing, bot speeds, rating parameters and the optional archive database.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	// StoreBackend is "nats" or "memory".
	StoreBackend string `yaml:"store_backend"`
	NATSURL      string `yaml:"nats_url"`

	GameDuration   time.Duration `yaml:"game_duration"`
	StartingRating int           `yaml:"starting_rating"`
	KFactor        int           `yaml:"k_factor"`

	// BotTickSeconds maps bot tier to seconds between score ticks.
	BotTickSeconds map[string]int `yaml:"bot_tick_seconds"`

	ArchiveEnabled bool     `yaml:"archive_enabled"`
	Postgres       Postgres `yaml:"postgres"`
}

// Postgres holds connection settings for the archive database.
type Postgres struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (p Postgres) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// FromEnv reads configuration from environment variables with defaults.
func FromEnv() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		StoreBackend:   getEnv("STORE_BACKEND", "nats"),
		NATSURL:        getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		GameDuration:   time.Duration(getEnvAsInt("GAME_DURATION_SEC", 60)) * time.Second,
		StartingRating: getEnvAsInt("STARTING_RATING", 200),
		KFactor:        getEnvAsInt("K_FACTOR", 32),
		BotTickSeconds: map[string]int{
			string(models.OpponentBot1000): getEnvAsInt("BOT_1000_TICK_SEC", 9),
			string(models.OpponentBot2000): getEnvAsInt("BOT_2000_TICK_SEC", 5),
		},
		ArchiveEnabled: getEnv("ARCHIVE_ENABLED", "false") == "true",
		Postgres: Postgres{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "mathrush"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}
}

// LoadFile overlays YAML settings from path on top of c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// BotTicks converts the tick table to durations keyed by opponent type.
func (c Config) BotTicks() map[models.OpponentType]time.Duration {
	out := make(map[models.OpponentType]time.Duration, len(c.BotTickSeconds))
	for tier, secs := range c.BotTickSeconds {
		out[models.OpponentType(tier)] = time.Duration(secs) * time.Second
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
