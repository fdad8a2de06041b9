package commander

import (
	"strings"
	"time"

	"writerctl/internal/config"
)

// Config holds command channel settings.
type Config struct {
	URL        string        // file writer base URL (default: http://localhost:8090)
	Timeout    time.Duration // per-request timeout (default: 10s)
	MaxRetries int           // retries on 5xx/transport errors (default: 3)
	Source     string        // CloudEvent source (default: writerctl)
}

// LoadConfigFromEnv loads command channel configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		URL:     config.GetEnv("WRITER_URL", "http://localhost:8090"),
		Timeout: config.GetDurationEnv("WRITER_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = "http://localhost:8090"
	}
	c.URL = strings.TrimRight(c.URL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Source == "" {
		c.Source = "writerctl"
	}
	return c
}
