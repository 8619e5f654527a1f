package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
)

// CasdoorConfig holds the connection settings for the external identity
// provider.
type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

// Config is the full runtime configuration, read from the environment with
// an optional .env file for local development.
type Config struct {
	Environment string
	Port        string
	LogLevel    slog.Level

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	EventsTopic  string

	Casdoor CasdoorConfig

	// Grading SLA settings.
	SLAGradingHours  float64
	SweepInterval    time.Duration
	WorkerPoolSize   int
	MonthlyExamLimit int

	// Working-time window and calendar feed.
	WorkdayOpen      string
	WorkdayClose     string
	WeeklyOffDays    []time.Weekday
	CalendarFeedPath string
}

// LoadConfig reads configuration from the environment. A missing .env file
// is not an error; explicit environment variables always win.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		EventsTopic:  getEnv("EVENTS_TOPIC", "evaluation-events"),

		Casdoor: CasdoorConfig{
			Endpoint:     getEnv("CASDOOR_ENDPOINT", ""),
			ClientID:     getEnv("CASDOOR_CLIENT_ID", ""),
			ClientSecret: getEnv("CASDOOR_CLIENT_SECRET", ""),
			Cert:         getEnv("CASDOOR_CERT", ""),
			Organization: getEnv("CASDOOR_ORGANIZATION", ""),
			Application:  getEnv("CASDOOR_APPLICATION", ""),
		},

		WorkdayOpen:      getEnv("WORKDAY_OPEN", "09:00"),
		WorkdayClose:     getEnv("WORKDAY_CLOSE", "18:00"),
		CalendarFeedPath: getEnv("CALENDAR_FEED_PATH", ""),
	}

	var err error
	if cfg.SLAGradingHours, err = getEnvFloat("SLA_GRADING_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolSize, err = getEnvInt("WORKER_POOL_SIZE", 4); err != nil {
		return nil, err
	}
	if cfg.MonthlyExamLimit, err = getEnvInt("MONTHLY_EXAM_LIMIT", 30); err != nil {
		return nil, err
	}
	if cfg.WeeklyOffDays, err = parseWeekdays(getEnv("WEEKLY_OFF_DAYS", "saturday,sunday")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SLAGradingHours <= 0 {
		return fmt.Errorf("SLA_GRADING_HOURS must be positive, got %v", c.SLAGradingHours)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %v", c.SweepInterval)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	}
	if c.MonthlyExamLimit <= 0 {
		return fmt.Errorf("MONTHLY_EXAM_LIMIT must be positive, got %d", c.MonthlyExamLimit)
	}
	return nil
}

// WorkCalendar assembles the calendar from the window settings and the
// excluded dates loaded from the feed.
func (c *Config) WorkCalendar(excluded []time.Time) (models.WorkCalendar, error) {
	return models.NewWorkCalendar(c.WorkdayOpen, c.WorkdayClose, c.WeeklyOffDays, excluded)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	names := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	var days []time.Weekday
	for _, part := range splitAndTrim(s) {
		day, ok := names[strings.ToLower(part)]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q in WEEKLY_OFF_DAYS", part)
		}
		days = append(days, day)
	}
	return days, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
