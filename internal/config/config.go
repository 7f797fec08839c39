// Package config loads application settings from the environment and an optional .env file.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingTMDBToken is returned when TMDB_READ_ACCESS_TOKEN is not set.
var ErrMissingTMDBToken = errors.New("missing TMDB_READ_ACCESS_TOKEN environment variable")

// Config holds all configuration for the application.
type Config struct {
	Addr      string
	PublicURL string // externally visible base URL, used for OAuth redirects
	LogFormat string // "json" or "text"

	// DatabaseURL is optional; without it accounts and profile documents are kept in memory.
	DatabaseURL string
	Redis       RedisConfig
	TMDB        TMDBConfig
	Google      OAuthConfig
	Spotify     OAuthConfig

	// ClientTTL is how long an idle device context is kept in memory.
	ClientTTL time.Duration
}

// RedisConfig holds Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TMDBConfig holds TMDB API configuration.
type TMDBConfig struct {
	ReadAccessToken string
	BaseURL         string
}

// OAuthConfig holds the client credentials of an identity provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
}

// Enabled reports whether both credentials are present.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present.
// Returns ErrMissingTMDBToken if TMDB_READ_ACCESS_TOKEN is not set.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := time.ParseDuration(getEnv("CLIENT_TTL", "2h"))
	if err != nil {
		ttl = 2 * time.Hour
	}

	cfg := &Config{
		Addr:        getEnv("ADDR", "127.0.0.1:8080"),
		PublicURL:   getEnv("PUBLIC_URL", "http://127.0.0.1:8080"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		TMDB: TMDBConfig{
			ReadAccessToken: os.Getenv("TMDB_READ_ACCESS_TOKEN"),
			BaseURL:         getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		},
		Google: OAuthConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		},
		Spotify: OAuthConfig{
			ClientID:     os.Getenv("SPOTIFY_ID"),
			ClientSecret: os.Getenv("SPOTIFY_SECRET"),
		},
		ClientTTL: ttl,
	}

	if cfg.TMDB.ReadAccessToken == "" {
		return nil, ErrMissingTMDBToken
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
