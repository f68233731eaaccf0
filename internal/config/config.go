package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

// Config is the single explicit configuration value threaded through
// construction. There is no global configuration singleton anywhere in
// this service; every component that needs a setting takes it (or a
// narrower value built from it) in its constructor.
type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	WebhookSignatureSecret string `env:"WEBHOOK_SIGNATURE_SECRET"`
	SurfaceAuthSecret      string `env:"SURFACE_AUTH_SECRET"`

	LLMBaseURL    string `env:"LLM_BASE_URL"`
	LLMAPIKey     string `env:"LLM_API_KEY"`
	LLMModel      string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	VectorBaseURL string `env:"VECTOR_INDEX_BASE_URL"`
	VectorAPIKey  string `env:"VECTOR_INDEX_API_KEY"`

	CalendarBaseURL      string `env:"CALENDAR_BASE_URL" envDefault:"https://www.googleapis.com/calendar/v3"`
	CalendarID           string `env:"CALENDAR_ID"`
	CalendarClientID     string `env:"CALENDAR_OAUTH_CLIENT_ID"`
	CalendarClientSecret string `env:"CALENDAR_OAUTH_CLIENT_SECRET"`
	CalendarRefreshToken string `env:"CALENDAR_OAUTH_REFRESH_TOKEN"`
	CalendarTimezone     string `env:"CALENDAR_TIMEZONE" envDefault:"America/New_York"`

	DiscordBotToken     string `env:"DISCORD_BOT_TOKEN"`
	DiscordGuildID      string `env:"DISCORD_GUILD_ID"`
	DiscordTicketParent string `env:"DISCORD_TICKET_PARENT_CHANNEL_ID"`

	// Confidence thresholds (spec.md §4.9).
	HighConfGeneral    float64 `env:"HIGH_CONF_GENERAL" envDefault:"0.70"`
	HighConfCompliance float64 `env:"HIGH_CONF_COMPLIANCE" envDefault:"0.75"`
	MedConfCap         float64 `env:"MED_CONF_CAP" envDefault:"0.65"`
	LowConfidenceCeil  float64 `env:"LOW_CONFIDENCE_CEIL" envDefault:"0.50"`
	PatternPassFloor   float64 `env:"PATTERN_PASS_FLOOR" envDefault:"0.60"`

	// Retrieval tuning (spec.md §4.3).
	RetrievalK       int     `env:"RETRIEVAL_K" envDefault:"8"`
	RetrievalKmin    int     `env:"RETRIEVAL_KMIN" envDefault:"2"`
	SimilarityFloor  float64 `env:"SIMILARITY_FLOOR" envDefault:"0.55"`
	MMRLambda        float64 `env:"MMR_LAMBDA" envDefault:"0.7"`
	DedupAILookback  int     `env:"DEDUP_AI_LOOKBACK" envDefault:"5"`

	// Scheduling (spec.md §4.4).
	BusinessHourStart int `env:"BUSINESS_HOUR_START" envDefault:"9"`
	BusinessHourEnd   int `env:"BUSINESS_HOUR_END" envDefault:"17"`
	BufferMinutes     int `env:"SLOT_BUFFER_MINUTES" envDefault:"15"`
	SlotDurationMin   int `env:"SLOT_DURATION_MINUTES" envDefault:"30"`
	MaxOffers         int `env:"SLOT_MAX_OFFERS" envDefault:"6"`
	SlotSearchDays    int `env:"SLOT_SEARCH_DAYS" envDefault:"5"`

	// Escalation (spec.md §4.6, §4.9).
	EscalationSummaryExchanges int `env:"ESCALATION_SUMMARY_EXCHANGES" envDefault:"6"`
	// AbuseRepeatWindowTurns is the lookback window, in turns, that the
	// orchestrator scans for a prior abusive turn. It is a window size,
	// not an escalation count: escalation fires on the second abusive
	// turn found inside it.
	AbuseRepeatWindowTurns int `env:"ABUSE_REPEAT_WINDOW_TURNS" envDefault:"10"`

	// Open-question resolutions made explicit configuration (spec.md §9).
	EnterprisePricingSeatThreshold int `env:"ENTERPRISE_PRICING_SEAT_THRESHOLD" envDefault:"200"`
	EscalationTimeoutMinutes       int `env:"ESCALATION_TIMEOUT_MINUTES" envDefault:"0"`

	// Per-step timeouts (spec.md §5).
	LLMTimeoutSeconds       int `env:"LLM_TIMEOUT_SECONDS" envDefault:"25"`
	VectorTimeoutSeconds    int `env:"VECTOR_TIMEOUT_SECONDS" envDefault:"3"`
	CalendarTimeoutSeconds  int `env:"CALENDAR_TIMEOUT_SECONDS" envDefault:"5"`
	WorkspaceTimeoutSeconds int `env:"WORKSPACE_TIMEOUT_SECONDS" envDefault:"5"`
	TurnDeadlineSeconds     int `env:"TURN_DEADLINE_SECONDS" envDefault:"30"`
	TurnDeadlineHardCeiling int `env:"TURN_DEADLINE_HARD_CEILING_SECONDS" envDefault:"60"`

	// Category lexicons (spec.md §6 "Category lists").
	ComplianceTerms           []string `env:"COMPLIANCE_TERMS" envSeparator:"," envDefault:"soc2,hipaa,gdpr,iso27001"`
	UrgencyKeywords           []string `env:"URGENCY_KEYWORDS" envSeparator:"," envDefault:"urgent,outage,down,critical,emergency"`
	AbuseLexicon              []string `env:"ABUSE_LEXICON" envSeparator:","`
	EnterprisePricingTriggers []string `env:"ENTERPRISE_PRICING_TRIGGERS" envSeparator:"," envDefault:"enterprise pricing,enterprise plan,enterprise tier,volume pricing"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c *Config) VectorTimeout() time.Duration {
	return time.Duration(c.VectorTimeoutSeconds) * time.Second
}

func (c *Config) CalendarTimeout() time.Duration {
	return time.Duration(c.CalendarTimeoutSeconds) * time.Second
}

func (c *Config) WorkspaceTimeout() time.Duration {
	return time.Duration(c.WorkspaceTimeoutSeconds) * time.Second
}

func (c *Config) TurnDeadline() time.Duration {
	return time.Duration(c.TurnDeadlineSeconds) * time.Second
}

func (c *Config) TurnDeadlineCeiling() time.Duration {
	return time.Duration(c.TurnDeadlineHardCeiling) * time.Second
}

func (c *Config) EscalationTimeout() time.Duration {
	return time.Duration(c.EscalationTimeoutMinutes) * time.Minute
}

// Validate applies the same shape of production-hardening checks the
// teacher repo applies to its own secrets, generalized to this service's
// secret set.
func (c *Config) Validate(isProduction bool) error {
	if isProduction {
		if err := validateSecret("SURFACE_AUTH_SECRET", c.SurfaceAuthSecret); err != nil {
			return err
		}
		if c.WebhookSignatureSecret == "" {
			log.Warn().Msg("WEBHOOK_SIGNATURE_SECRET is empty in production: webhook signature verification disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.DiscordBotToken == "" {
			log.Warn().Msg("DISCORD_BOT_TOKEN is empty in production: escalations cannot reach the agent workspace")
		}
	}
	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
