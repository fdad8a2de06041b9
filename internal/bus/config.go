package bus

import "writerctl/internal/config"

// Config holds in-memory bus sizing.
type Config struct {
	BufferSize int // records buffered per subscription (default: 1000)
	MaxBatch   int // records returned by one Poll (default: 100)
}

// LoadConfigFromEnv loads bus configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BufferSize: config.GetIntEnv("BUS_BUFFER_SIZE", 1000),
		MaxBatch:   config.GetIntEnv("BUS_MAX_BATCH", 100),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 100
	}
	return c
}
