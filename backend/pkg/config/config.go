package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	pkgerrors "cadence/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Discord
	DiscordBotToken string

	// Storage
	StorePath string // SQLite database file for the key-value store

	// History
	MaxHistorySize  int           // entries kept per guild
	HistoryTTL      time.Duration // whole-key expiry after guild inactivity
	MetadataTTL     time.Duration // track metadata cache expiry
	HistoryCheckLen int           // recent entries consulted for similarity checks

	// Duplicate detection
	SimilarityThreshold float64 // normalized Levenshtein similarity above which titles match
	MinTitleLength      int     // normalized titles shorter than this skip the similarity rule

	// Search
	SearchMaxRetries    int
	SearchRetryDelay    time.Duration // base delay, scaled linearly per attempt
	SearchAttemptTimeout time.Duration // per fallback-engine attempt
	SearchTotalTimeout  time.Duration // whole resolve call

	// Autoplay
	QueueLowWater     int     // replenish when the live queue falls below this
	AutoplayArtistBias float64 // probability of anchoring the related query to the seed artist

	// LLM suggester (optional, disabled when the key is empty)
	LiteLLMURL       string
	ModelID          string
	OpenRouterAPIKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DiscordBotToken: getEnv("DISCORD_BOT_TOKEN", ""),
		StorePath:       getEnv("STORE_PATH", "cadence.db"),

		MaxHistorySize:  getEnvInt("MAX_HISTORY_SIZE", 50),
		HistoryTTL:      getEnvDuration("HISTORY_TTL", 7*24*time.Hour),
		MetadataTTL:     getEnvDuration("METADATA_TTL", 24*time.Hour),
		HistoryCheckLen: getEnvInt("HISTORY_CHECK_LEN", 15),

		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.8),
		MinTitleLength:      getEnvInt("MIN_TITLE_LENGTH", 5),

		SearchMaxRetries:     getEnvInt("SEARCH_MAX_RETRIES", 3),
		SearchRetryDelay:     getEnvDuration("SEARCH_RETRY_DELAY", time.Second),
		SearchAttemptTimeout: getEnvDuration("SEARCH_ATTEMPT_TIMEOUT", 5*time.Second),
		SearchTotalTimeout:   getEnvDuration("SEARCH_TOTAL_TIMEOUT", 15*time.Second),

		QueueLowWater:      getEnvInt("QUEUE_LOW_WATER", 2),
		AutoplayArtistBias: getEnvFloat("AUTOPLAY_ARTIST_BIAS", 0.55),

		LiteLLMURL:       getEnv("LITELLM_URL", "http://localhost:4000"),
		ModelID:          getEnv("MODEL_ID", "openrouter/anthropic/claude-3.5-sonnet"),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return pkgerrors.NewConfigMissingRequired("STORE_PATH")
	}
	if c.MaxHistorySize <= 0 {
		return fmt.Errorf("MAX_HISTORY_SIZE must be positive")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be between 0 and 1")
	}
	if c.AutoplayArtistBias < 0 || c.AutoplayArtistBias > 1 {
		return fmt.Errorf("AUTOPLAY_ARTIST_BIAS must be between 0 and 1")
	}
	if c.SearchMaxRetries <= 0 {
		return fmt.Errorf("SEARCH_MAX_RETRIES must be positive")
	}
	// Discord token is optional for development and the ops server
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
