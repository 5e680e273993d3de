package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Risk scoring weights; they are normalized by their sum, so only the
	// relative split matters.
	ScoreWeightVitals    float64 `mapstructure:"SCORE_WEIGHT_VITALS"`
	ScoreWeightTrend     float64 `mapstructure:"SCORE_WEIGHT_TREND"`
	ScoreWeightAdherence float64 `mapstructure:"SCORE_WEIGHT_ADHERENCE"`

	// Response windows per severity, added to triggered_at to fix the SLA
	// breach deadline at alert creation.
	SLACriticalWindow time.Duration `mapstructure:"SLA_CRITICAL_WINDOW"`
	SLAHighWindow     time.Duration `mapstructure:"SLA_HIGH_WINDOW"`
	SLAMediumWindow   time.Duration `mapstructure:"SLA_MEDIUM_WINDOW"`
	SLALowWindow      time.Duration `mapstructure:"SLA_LOW_WINDOW"`

	RankIncludeAcknowledged bool          `mapstructure:"RANK_INCLUDE_ACKNOWLEDGED"`
	AllowDirectAcknowledge  bool          `mapstructure:"ALLOW_DIRECT_ACKNOWLEDGE"`
	RankRefreshInterval     time.Duration `mapstructure:"RANK_REFRESH_INTERVAL"`

	SignalLookback time.Duration `mapstructure:"SIGNAL_LOOKBACK"`
	SignalTimeout  time.Duration `mapstructure:"SIGNAL_TIMEOUT"`
	QueueCacheTTL  time.Duration `mapstructure:"QUEUE_CACHE_TTL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SCORE_WEIGHT_VITALS", 0.4)
	v.SetDefault("SCORE_WEIGHT_TREND", 0.3)
	v.SetDefault("SCORE_WEIGHT_ADHERENCE", 0.3)
	v.SetDefault("SLA_CRITICAL_WINDOW", "30m")
	v.SetDefault("SLA_HIGH_WINDOW", "2h")
	v.SetDefault("SLA_MEDIUM_WINDOW", "8h")
	v.SetDefault("SLA_LOW_WINDOW", "24h")
	v.SetDefault("RANK_INCLUDE_ACKNOWLEDGED", true)
	v.SetDefault("ALLOW_DIRECT_ACKNOWLEDGE", false)
	v.SetDefault("RANK_REFRESH_INTERVAL", "5m")
	v.SetDefault("SIGNAL_LOOKBACK", "168h")
	v.SetDefault("SIGNAL_TIMEOUT", "3s")
	v.SetDefault("QUEUE_CACHE_TTL", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "CORS_ORIGINS",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"SCORE_WEIGHT_VITALS", "SCORE_WEIGHT_TREND", "SCORE_WEIGHT_ADHERENCE",
		"SLA_CRITICAL_WINDOW", "SLA_HIGH_WINDOW", "SLA_MEDIUM_WINDOW", "SLA_LOW_WINDOW",
		"RANK_INCLUDE_ACKNOWLEDGED", "ALLOW_DIRECT_ACKNOWLEDGE", "RANK_REFRESH_INTERVAL",
		"SIGNAL_LOOKBACK", "SIGNAL_TIMEOUT", "QUEUE_CACHE_TTL",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Scoring weights must
// be non-negative with a positive sum, SLA windows must be positive, and
// non-development modes must configure real JWT authentication.
func (c *Config) Validate() error {
	if c.ScoreWeightVitals < 0 || c.ScoreWeightTrend < 0 || c.ScoreWeightAdherence < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if c.ScoreWeightVitals+c.ScoreWeightTrend+c.ScoreWeightAdherence <= 0 {
		return fmt.Errorf("scoring weights must sum to a positive value")
	}

	for name, w := range map[string]time.Duration{
		"SLA_CRITICAL_WINDOW": c.SLACriticalWindow,
		"SLA_HIGH_WINDOW":     c.SLAHighWindow,
		"SLA_MEDIUM_WINDOW":   c.SLAMediumWindow,
		"SLA_LOW_WINDOW":      c.SLALowWindow,
	} {
		if w <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}

	if c.SignalTimeout <= 0 {
		return fmt.Errorf("SIGNAL_TIMEOUT must be a positive duration")
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q; "+
				"refusing to start without authentication configuration", c.Env)
	}

	return nil
}
