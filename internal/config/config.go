package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/bizhours"
)

// Events backends.
const (
	EventsNATS  = "nats"
	EventsKafka = "kafka"
	EventsNone  = "none"
)

// Config holds the service configuration.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	DBPath      string

	// Liveness
	OfflineThreshold time.Duration
	SweepInterval    time.Duration

	// Health evaluation
	CPUThresholdPercent float64
	CPUWindow           time.Duration
	CPUMinSamples       int
	SampleRetention     int

	// Alerting
	AlertDedupeWindow  time.Duration
	BusinessHoursStart string
	BusinessHoursEnd   string
	BusinessTimezone   string
	AlertRecipient     string
	SlackWebhookURL    string

	// Real-time events
	EventsBackend string
	NATSURL       string
	KafkaBrokers  string
	KafkaTopic    string

	LogLevel        string
	LogJSON         bool
	TracingExporter string
}

// Load loads configuration from environment variables with fallbacks
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:    getEnv("FLEET_HTTP_ADDR", ":8080"),
		GRPCAddr:    getEnv("FLEET_GRPC_ADDR", ":50051"),
		MetricsAddr: getEnv("FLEET_METRICS_ADDR", ":9090"),
		DBPath:      getEnv("FLEET_DB_PATH", "./data/badger"),

		OfflineThreshold: time.Duration(getEnvAsInt("FLEET_OFFLINE_THRESHOLD_SECONDS", 10)) * time.Second,
		SweepInterval:    time.Duration(getEnvAsInt("FLEET_SWEEP_INTERVAL_SECONDS", 5)) * time.Second,

		CPUThresholdPercent: getEnvAsFloat("FLEET_CPU_THRESHOLD_PERCENT", 95),
		CPUWindow:           time.Duration(getEnvAsInt("FLEET_CPU_WINDOW_MINUTES", 2)) * time.Minute,
		CPUMinSamples:       getEnvAsInt("FLEET_CPU_MIN_SAMPLES", 6),
		SampleRetention:     getEnvAsInt("FLEET_SAMPLE_RETENTION", 10),

		AlertDedupeWindow:  time.Duration(getEnvAsInt("FLEET_ALERT_DEDUPE_MINUTES", 5)) * time.Minute,
		BusinessHoursStart: getEnv("FLEET_BUSINESS_HOURS_START", "08:30"),
		BusinessHoursEnd:   getEnv("FLEET_BUSINESS_HOURS_END", "18:15"),
		BusinessTimezone:   getEnv("FLEET_BUSINESS_TZ", "+07:00"),
		AlertRecipient:     getEnv("FLEET_ALERT_RECIPIENT", "#it-alerts"),
		SlackWebhookURL:    getEnv("FLEET_SLACK_WEBHOOK_URL", ""),

		EventsBackend: strings.ToLower(getEnv("FLEET_EVENTS_BACKEND", EventsNATS)),
		NATSURL:       getEnv("FLEET_NATS_URL", "nats://localhost:4222"),
		KafkaBrokers:  getEnv("FLEET_KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:    getEnv("FLEET_KAFKA_TOPIC", "fleet-events"),

		LogLevel:        getEnv("FLEET_LOG_LEVEL", "info"),
		LogJSON:         getEnvAsBool("FLEET_LOG_JSON", true),
		TracingExporter: strings.ToLower(getEnv("FLEET_TRACING_EXPORTER", "none")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.OfflineThreshold <= 0 {
		return fmt.Errorf("FLEET_OFFLINE_THRESHOLD_SECONDS must be greater than 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("FLEET_SWEEP_INTERVAL_SECONDS must be greater than 0")
	}
	if c.CPUThresholdPercent <= 0 || c.CPUThresholdPercent > 100 {
		return fmt.Errorf("FLEET_CPU_THRESHOLD_PERCENT must be in (0, 100]")
	}
	if c.CPUWindow <= 0 {
		return fmt.Errorf("FLEET_CPU_WINDOW_MINUTES must be greater than 0")
	}
	if c.CPUMinSamples < 1 {
		return fmt.Errorf("FLEET_CPU_MIN_SAMPLES must be at least 1")
	}
	if c.SampleRetention < 1 {
		return fmt.Errorf("FLEET_SAMPLE_RETENTION must be at least 1")
	}
	if c.CPUMinSamples > c.SampleRetention {
		return fmt.Errorf("FLEET_CPU_MIN_SAMPLES (%d) cannot exceed FLEET_SAMPLE_RETENTION (%d)", c.CPUMinSamples, c.SampleRetention)
	}
	if c.AlertDedupeWindow <= 0 {
		return fmt.Errorf("FLEET_ALERT_DEDUPE_MINUTES must be greater than 0")
	}
	if _, err := c.BusinessHours(); err != nil {
		return fmt.Errorf("business hours: %w", err)
	}
	switch c.EventsBackend {
	case EventsNATS, EventsKafka, EventsNone:
	default:
		return fmt.Errorf("FLEET_EVENTS_BACKEND must be one of nats, kafka, none")
	}
	return nil
}

// BusinessHours builds the gate described by the configuration.
func (c *Config) BusinessHours() (*bizhours.Gate, error) {
	return bizhours.New(c.BusinessHoursStart, c.BusinessHoursEnd, c.BusinessTimezone)
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}
