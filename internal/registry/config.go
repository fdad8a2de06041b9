package registry

import (
	"time"

	"writerctl/internal/config"
)

// Config holds the timing parameters of the registry.
type Config struct {
	AckTimeout            time.Duration // timeoutInterval: grace beyond a missed deadline (default: 10s)
	DefaultUpdateInterval time.Duration // assumed heartbeat period before the first one (default: 5s)
	RetiredRetention      time.Duration // how long retired ids reject stale messages (default: 60s)
}

// LoadConfigFromEnv loads registry configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		AckTimeout:            config.GetDurationEnv("ACK_TIMEOUT", 10*time.Second),
		DefaultUpdateInterval: config.GetDurationEnv("DEFAULT_UPDATE_INTERVAL", 5*time.Second),
		RetiredRetention:      config.GetDurationEnv("RETIRED_RETENTION", 60*time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.DefaultUpdateInterval <= 0 {
		c.DefaultUpdateInterval = 5 * time.Second
	}
	if c.RetiredRetention <= 0 {
		c.RetiredRetention = 60 * time.Second
	}
	return c
}
