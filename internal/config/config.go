package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// Clinic calendar parameters. All appointment times are interpreted in
	// ClinicTimezone; the slot grid runs SlotDayStart..SlotDayEnd in steps
	// of SlotMinutes.
	ClinicTimezone string `mapstructure:"CLINIC_TIMEZONE"`
	SlotDayStart   string `mapstructure:"SLOT_DAY_START"`
	SlotDayEnd     string `mapstructure:"SLOT_DAY_END"`
	SlotMinutes    int    `mapstructure:"SLOT_MINUTES"`

	// Practitioner whose midday block is excluded from the offered grid.
	LunchBlockPractitioner string `mapstructure:"LUNCH_BLOCK_PRACTITIONER"`

	// Default prices in BRL for standalone charges and for projected events
	// whose source carries no explicit value.
	PriceSession    float64 `mapstructure:"PRICE_SESSION"`
	PriceEvaluation float64 `mapstructure:"PRICE_EVALUATION"`

	// Specialty recorded on projected events when neither participant nor
	// the booking category resolves one.
	SpecialtyDefault string `mapstructure:"SPECIALTY_DEFAULT"`

	// Per-client API throughput bounds.
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	SweepRepair bool `mapstructure:"SWEEP_REPAIR"`
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
	v.SetDefault("CLINIC_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("SLOT_DAY_START", "08:00")
	v.SetDefault("SLOT_DAY_END", "18:00")
	v.SetDefault("SLOT_MINUTES", 40)
	v.SetDefault("PRICE_SESSION", 220.0)
	v.SetDefault("PRICE_EVALUATION", 250.0)
	v.SetDefault("SPECIALTY_DEFAULT", "fonoaudiologia")
	v.SetDefault("RATE_LIMIT_RPS", 50.0)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("CLINIC_TIMEZONE")
	v.BindEnv("SLOT_DAY_START")
	v.BindEnv("SLOT_DAY_END")
	v.BindEnv("SLOT_MINUTES")
	v.BindEnv("LUNCH_BLOCK_PRACTITIONER")
	v.BindEnv("PRICE_SESSION")
	v.BindEnv("PRICE_EVALUATION")
	v.BindEnv("SPECIALTY_DEFAULT")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("SWEEP_REPAIR")

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

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
		log.Println("WARNING: Set ENV=production and AUTH_SIGNING_KEY for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production refuses
// to start without a JWT signing key, and the slot grid must divide the
// working day cleanly.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.SlotMinutes <= 0 {
		return fmt.Errorf("SLOT_MINUTES must be positive, got %d", c.SlotMinutes)
	}

	startMin, err := parseClock(c.SlotDayStart)
	if err != nil {
		return fmt.Errorf("SLOT_DAY_START: %w", err)
	}
	endMin, err := parseClock(c.SlotDayEnd)
	if err != nil {
		return fmt.Errorf("SLOT_DAY_END: %w", err)
	}
	if endMin <= startMin {
		return fmt.Errorf("SLOT_DAY_END %q must be after SLOT_DAY_START %q", c.SlotDayEnd, c.SlotDayStart)
	}
	return nil
}

// DayWindow returns the working-day bounds as minutes past midnight.
// Call Validate first; malformed values fall back to zero.
func (c *Config) DayWindow() (startMin, endMin int) {
	startMin, _ = parseClock(c.SlotDayStart)
	endMin, _ = parseClock(c.SlotDayEnd)
	return startMin, endMin
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value out of range: %q", s)
	}
	return h*60 + m, nil
}
