package monitor

import (
	"time"

	"writerctl/internal/config"
)

// Config holds monitor timing.
type Config struct {
	NoMessageTick time.Duration // period of the lost-job check (default: 1s)
	PollBackoff   time.Duration // pause after a failed Poll (default: 500ms)
}

// LoadConfigFromEnv loads monitor configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		NoMessageTick: config.GetDurationEnv("NO_MESSAGE_TICK", time.Second),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.NoMessageTick <= 0 {
		c.NoMessageTick = time.Second
	}
	if c.PollBackoff <= 0 {
		c.PollBackoff = 500 * time.Millisecond
	}
	return c
}
