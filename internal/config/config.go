package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultCenter  string   `mapstructure:"DEFAULT_CENTER"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`

	Timezone       string `mapstructure:"AGENDA_TIMEZONE"`
	DayStartHour   int    `mapstructure:"AGENDA_DAY_START_HOUR"`
	DayEndHour     int    `mapstructure:"AGENDA_DAY_END_HOUR"`
	SlotMinutes    int    `mapstructure:"AGENDA_SLOT_MINUTES"`
	ConflictPolicy string `mapstructure:"AGENDA_CONFLICT_POLICY"`
	BufferMinutes  int    `mapstructure:"AGENDA_BUFFER_MINUTES"`
	SweepSchedule  string `mapstructure:"AGENDA_SWEEP_SCHEDULE"`
	MeetingBaseURL string `mapstructure:"MEETING_BASE_URL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_CENTER", "CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT_SECONDS", "AGENDA_TIMEZONE", "AGENDA_DAY_START_HOUR",
	"AGENDA_DAY_END_HOUR", "AGENDA_SLOT_MINUTES", "AGENDA_CONFLICT_POLICY",
	"AGENDA_BUFFER_MINUTES", "AGENDA_SWEEP_SCHEDULE", "MEETING_BASE_URL",
}

// Load reads a .env file when present, then the environment. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_CENTER", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("AGENDA_TIMEZONE", "Local")
	v.SetDefault("AGENDA_DAY_START_HOUR", 8)
	v.SetDefault("AGENDA_DAY_END_HOUR", 20)
	v.SetDefault("AGENDA_SLOT_MINUTES", 30)
	v.SetDefault("AGENDA_CONFLICT_POLICY", "advisory")
	v.SetDefault("AGENDA_BUFFER_MINUTES", 0)
	v.SetDefault("AGENDA_SWEEP_SCHEDULE", "*/15 * * * *")
	v.SetDefault("MEETING_BASE_URL", "https://meet.jit.si")

	// Unmarshal only sees keys viper knows about.
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves AGENDA_TIMEZONE; calendar days are cut in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Timeout is the per-request deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must not be used in production")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DayStartHour < 0 || c.DayEndHour > 24 || c.DayStartHour >= c.DayEndHour {
		return fmt.Errorf("agenda day must satisfy 0 <= AGENDA_DAY_START_HOUR < AGENDA_DAY_END_HOUR <= 24, got %d-%d",
			c.DayStartHour, c.DayEndHour)
	}
	if c.SlotMinutes <= 0 {
		return fmt.Errorf("AGENDA_SLOT_MINUTES must be positive, got %d", c.SlotMinutes)
	}
	if c.BufferMinutes < 0 {
		return fmt.Errorf("AGENDA_BUFFER_MINUTES must not be negative, got %d", c.BufferMinutes)
	}
	switch c.ConflictPolicy {
	case "advisory", "enforcing":
	default:
		return fmt.Errorf("AGENDA_CONFLICT_POLICY must be \"advisory\" or \"enforcing\", got %q", c.ConflictPolicy)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("AGENDA_TIMEZONE: %w", err)
	}
	if c.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("AGENDA_SWEEP_SCHEDULE: %w", err)
		}
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive, got %d", c.RequestTimeout)
	}
	return nil
}
