package controller

import (
	"time"

	"writerctl/internal/config"
)

// Config holds controller policy and timing. The acknowledgement timeout is
// taken from the registry so both sides agree on it.
type Config struct {
	PollInterval    time.Duration // sleep between registry checks while waiting (default: 50ms)
	AllowConcurrent bool          // permit starts while another job is active (default: false)
}

// LoadConfigFromEnv loads controller configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		PollInterval:    config.GetDurationEnv("ACK_POLL_INTERVAL", 50*time.Millisecond),
		AllowConcurrent: config.GetBoolEnv("ALLOW_CONCURRENT_JOBS", false),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	return c
}
