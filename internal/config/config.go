// Package config loads server configuration from an optional config
// file plus environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable for the server and CLIs.
type Config struct {
	Addr     string `mapstructure:"ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StockfishPath     string        `mapstructure:"STOCKFISH_PATH"`
	EngineDepth       int           `mapstructure:"ENGINE_DEPTH"`
	EngineWorkers     int           `mapstructure:"ENGINE_WORKERS"`
	EngineHashMB      int           `mapstructure:"ENGINE_HASH_MB"`
	EngineThreads     int           `mapstructure:"ENGINE_THREADS"`
	EngineNice        int           `mapstructure:"ENGINE_NICE"`
	EngineTimeout     time.Duration `mapstructure:"ENGINE_TIMEOUT"`
	EngineRetries     int           `mapstructure:"ENGINE_RETRIES"`
	EngineMaxRestarts int           `mapstructure:"ENGINE_MAX_RESTARTS"`

	CacheEntries int `mapstructure:"CACHE_ENTRIES"`

	BookDir      string `mapstructure:"BOOK_DIR"`
	BookPlyLimit int    `mapstructure:"BOOK_PLY_LIMIT"`

	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel   string `mapstructure:"OPENAI_MODEL"`
	OpenAIBaseURL string `mapstructure:"OPENAI_BASE_URL"`

	RedisAddr string        `mapstructure:"REDIS_ADDR"`
	RedisTTL  time.Duration `mapstructure:"REDIS_TTL"`
	MongoURI  string        `mapstructure:"MONGO_URI"`
}

// Load reads configuration with precedence: environment variables over
// config file over defaults. cfgPath may be empty to skip the file.
func Load(cfgPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STOCKFISH_PATH", "stockfish")
	v.SetDefault("ENGINE_DEPTH", 12)
	v.SetDefault("ENGINE_WORKERS", 0) // 0 = NumCPU
	v.SetDefault("ENGINE_HASH_MB", 64)
	v.SetDefault("ENGINE_THREADS", 1)
	v.SetDefault("ENGINE_NICE", 0)
	v.SetDefault("ENGINE_TIMEOUT", 30*time.Second)
	v.SetDefault("ENGINE_RETRIES", 2)
	v.SetDefault("ENGINE_MAX_RESTARTS", 3)
	v.SetDefault("CACHE_ENTRIES", 200_000)
	v.SetDefault("BOOK_DIR", "")
	v.SetDefault("BOOK_PLY_LIMIT", 10)
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4-turbo")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_TTL", 7*24*time.Hour)
	v.SetDefault("MONGO_URI", "")

	v.AutomaticEnv()

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.EngineDepth < 1 || c.EngineDepth > 40 {
		return fmt.Errorf("ENGINE_DEPTH %d out of range [1,40]", c.EngineDepth)
	}
	if c.EngineWorkers < 0 {
		return fmt.Errorf("ENGINE_WORKERS must be >= 0")
	}
	if c.BookPlyLimit < 0 {
		return fmt.Errorf("BOOK_PLY_LIMIT must be >= 0")
	}
	return nil
}
