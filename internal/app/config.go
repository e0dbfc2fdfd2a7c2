package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (DISCOUNT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string        `usage:"PostgreSQL connection URL (DISCOUNT_DATABASE_URL or DATABASE_URL); empty keeps codes in memory" flag:"database-url"`
	RedisURL    string        `usage:"Redis URL for the code lookup cache (DISCOUNT_REDIS_URL or REDIS_URL); empty disables caching" flag:"redis-url"`
	CacheTTL    time.Duration `default:"30s" usage:"How long a cached code may be served" flag:"cache-ttl"`
	Rewards     RewardsConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// RewardsConfig controls the lifetime of minted reward codes.
type RewardsConfig struct {
	SpinTTL     time.Duration `default:"15m"  usage:"Spin-wheel prize lifetime" flag:"spin-ttl"`
	FeedbackTTL time.Duration `default:"720h" usage:"Feedback coupon lifetime" flag:"feedback-ttl"`
}

// RateLimitConfig controls the per-client token buckets on shopper endpoints.
type RateLimitConfig struct {
	Rate  float64 `default:"5"  usage:"Sustained requests per second per client"`
	Burst int     `default:"20" usage:"Requests a client may burst"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DISCOUNT",
		Files:     []string{"config.yaml", "/etc/discount/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.RateLimit.Rate <= 0 {
		return nil, errors.New("rate limit must be positive")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the unprefixed DATABASE_URL, REDIS_URL and PORT
// set by hosting platforms onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
