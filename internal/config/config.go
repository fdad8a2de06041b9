// Package config provides configuration loading from environment variables.
package config

import (
	"log/slog"
	"strings"
	"time"
)

// ServiceConfig holds configuration for the writerctl service process.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	LogLevel          string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	StatusTopics      []string      // Topic patterns consumed from the bus
	StatusCallbackURL string        // Receives aggregate status changes (empty to disable)
	StatusCallbackKey string        // HMAC key for status notifications
	IngressKey        string        // Verifies signed writer events on /internal/events
	StructureTemplate string        // NeXus structure template file (empty for no-op)
	FilenameTemplate  string
}

// DefaultFilenameTemplate names output files after the proposal and dataset counter.
const DefaultFilenameTemplate = `{{.Proposal}}_{{printf "%08d" .Counter}}.nxs`

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		StatusTopics:      GetListEnv("STATUS_TOPICS", []string{"filewriter_status"}),
		StatusCallbackURL: GetEnv("STATUS_CALLBACK_URL", ""),
		StatusCallbackKey: GetSecretFile(GetEnv("STATUS_CALLBACK_KEY_FILE", "")),
		IngressKey:        GetSecretFile(GetEnv("INGRESS_KEY_FILE", "")),
		StructureTemplate: GetEnv("STRUCTURE_TEMPLATE", ""),
		FilenameTemplate:  GetEnv("FILENAME_TEMPLATE", DefaultFilenameTemplate),
	}
}

// ParseLogLevel maps a LOG_LEVEL string onto a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
