package simwriter

import (
	"time"

	"writerctl/internal/config"
)

// Config holds configuration for the simulated file writer.
type Config struct {
	Port              string
	IngressURL        string        // where status events are POSTed
	SigningKey        string        // HMAC key for X-Signature-256, empty = unsigned
	HeartbeatInterval time.Duration // announced and used heartbeat period (default: 1s)
	SendTimeout       time.Duration // per-event HTTP timeout (default: 5s)
	Source            string        // CloudEvent source (default: writer-sim)
	Knobs             Knobs
}

// Knobs switch on failure modes. They can be changed while running.
type Knobs struct {
	RejectStarts  bool          // ack every start with success=false
	FailStopAcks  bool          // ack every stop time with success=false
	Silent        bool          // stop sending heartbeats
	StopWithError bool          // set the error flag on stop confirmations
	AckDelay      time.Duration // delay before acknowledging a command
}

// LoadConfigFromEnv loads simulator configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Port:              config.GetEnv("SIM_PORT", "8090"),
		IngressURL:        config.GetEnv("SIM_INGRESS_URL", "http://localhost:8080/internal/events?topic=filewriter_status"),
		SigningKey:        config.GetSecretFile(config.GetEnv("SIM_SIGNING_KEY_FILE", "")),
		HeartbeatInterval: config.GetDurationEnv("SIM_HEARTBEAT_INTERVAL", time.Second),
		SendTimeout:       config.GetDurationEnv("SIM_SEND_TIMEOUT", 5*time.Second),
		Knobs: Knobs{
			RejectStarts:  config.GetBoolEnv("SIM_REJECT_STARTS", false),
			FailStopAcks:  config.GetBoolEnv("SIM_FAIL_STOP_ACKS", false),
			Silent:        config.GetBoolEnv("SIM_SILENT", false),
			StopWithError: config.GetBoolEnv("SIM_STOP_WITH_ERROR", false),
			AckDelay:      config.GetDurationEnv("SIM_ACK_DELAY", 0),
		},
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Port == "" {
		c.Port = "8090"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.Source == "" {
		c.Source = "writer-sim"
	}
	return c
}
