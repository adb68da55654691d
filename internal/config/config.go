package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"SIFT_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"SIFT_DB_MAX_CONNS" default:"8"`

	StoreDir      string `envconfig:"SIFT_STORE_DIR" default:"data/canonical"`
	CheckpointDir string `envconfig:"SIFT_CHECKPOINT_DIR" default:"data/checkpoints"`
	LexiconPath   string `envconfig:"SIFT_LEXICON_PATH" default:"lexicon.yaml"`

	WindowHours     int `envconfig:"SIFT_WINDOW_HOURS" default:"24"`
	DedupWindowDays int `envconfig:"SIFT_DEDUP_WINDOW_DAYS" default:"14"`

	TokenSetThreshold int `envconfig:"SIFT_TOKEN_SET_THRESHOLD" default:"88"`
	PartialThreshold  int `envconfig:"SIFT_PARTIAL_THRESHOLD" default:"90"`
	CombinedThreshold int `envconfig:"SIFT_COMBINED_THRESHOLD" default:"82"`

	BatchSize          int             `envconfig:"SIFT_BATCH_SIZE" default:"5"`
	MaxRetries         int             `envconfig:"SIFT_MAX_RETRIES" default:"3"`
	RetryBackoff       []time.Duration `envconfig:"SIFT_RETRY_BACKOFF" default:"5s,15s,45s"`
	PremiumTopK        int             `envconfig:"SIFT_PREMIUM_TOP_K" default:"40"`
	CheckpointInterval int             `envconfig:"SIFT_CHECKPOINT_INTERVAL" default:"50"`
	Workers            int             `envconfig:"SIFT_WORKERS" default:"4"`

	Provider        string        `envconfig:"SIFT_PROVIDER" default:"groq"`
	ProviderURL     string        `envconfig:"SIFT_PROVIDER_URL" default:""`
	ProviderKey     string        `envconfig:"SIFT_PROVIDER_KEY" default:""`
	ProviderModel   string        `envconfig:"SIFT_PROVIDER_MODEL" default:"llama-3.3-70b-versatile"`
	ProviderTimeout time.Duration `envconfig:"SIFT_PROVIDER_TIMEOUT" default:"60s"`
	PremiumURL      string        `envconfig:"SIFT_PREMIUM_URL" default:""`
	PremiumKey      string        `envconfig:"SIFT_PREMIUM_KEY" default:""`
	PremiumModel    string        `envconfig:"SIFT_PREMIUM_MODEL" default:""`

	Feeds     string `envconfig:"SIFT_FEEDS" default:""`
	FeedsFile string `envconfig:"SIFT_FEEDS_FILE" default:""`

	TargetLang string `envconfig:"SIFT_TARGET_LANG" default:"en"`

	HTTPAddr           string `envconfig:"SIFT_HTTP_ADDR" default:":8080"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("SIFT_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("SIFT_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("SIFT_DB_MIN_CONNS (%d) cannot exceed SIFT_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.WindowHours < 1 {
		return fmt.Errorf("SIFT_WINDOW_HOURS must be >= 1")
	}
	if c.DedupWindowDays < 1 {
		return fmt.Errorf("SIFT_DEDUP_WINDOW_DAYS must be >= 1")
	}
	for name, v := range map[string]int{
		"SIFT_TOKEN_SET_THRESHOLD": c.TokenSetThreshold,
		"SIFT_PARTIAL_THRESHOLD":   c.PartialThreshold,
		"SIFT_COMBINED_THRESHOLD":  c.CombinedThreshold,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("SIFT_BATCH_SIZE must be >= 1")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("SIFT_MAX_RETRIES must be >= 0")
	}
	if len(c.RetryBackoff) == 0 {
		return fmt.Errorf("SIFT_RETRY_BACKOFF needs at least one duration")
	}
	if c.PremiumTopK < 0 {
		return fmt.Errorf("SIFT_PREMIUM_TOP_K must be >= 0")
	}
	if c.CheckpointInterval < 1 {
		return fmt.Errorf("SIFT_CHECKPOINT_INTERVAL must be >= 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("SIFT_WORKERS must be >= 1")
	}
	if strings.TrimSpace(c.StoreDir) == "" {
		return fmt.Errorf("SIFT_STORE_DIR is required")
	}
	if strings.TrimSpace(c.CheckpointDir) == "" {
		return fmt.Errorf("SIFT_CHECKPOINT_DIR is required")
	}
	return nil
}

// Backoff returns the delay before retry attempt n (1-based). Attempts
// beyond the configured schedule reuse the last entry.
func (c *Config) Backoff(attempt int) time.Duration {
	if len(c.RetryBackoff) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(c.RetryBackoff) {
		attempt = len(c.RetryBackoff)
	}
	return c.RetryBackoff[attempt-1]
}

func (c *Config) FeedList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.Feeds, ",")
	feeds := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		feed := strings.TrimSpace(part)
		if feed == "" {
			continue
		}
		if _, exists := seen[feed]; exists {
			continue
		}
		seen[feed] = struct{}{}
		feeds = append(feeds, feed)
	}
	return feeds
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
