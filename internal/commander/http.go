// Package commander delivers start and stop commands to the file writer as
// CloudEvents over HTTP.
package commander

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"writerctl/internal/apperrors"
	"writerctl/internal/controller"
	"writerctl/pkg/backoff"
	"writerctl/pkg/circuitbreaker"
	"writerctl/pkg/cloudevent"
)

// Command event types and the path they are posted to.
const (
	TypeStartCommand = "filewriter.command.start"
	TypeStopCommand  = "filewriter.command.stop"
	CommandsPath     = "/v1/commands"
)

// StopCommand is the payload of a stop command.
type StopCommand struct {
	JobID    string    `json:"jobId"`
	StopTime time.Time `json:"stopTime"`
}

// Reply is the synchronous answer to any command.
type Reply struct {
	JobID   string `json:"jobId,omitempty"`
	Message string `json:"message,omitempty"`
}

// MetricsRecorder is an optional interface for recording command metrics.
type MetricsRecorder interface {
	RecordCommand(ctx context.Context, command string, success bool, retries int, durationSeconds float64)
}

// HTTP is a controller.Commander backed by the file writer's HTTP endpoint.
type HTTP struct {
	cfg      Config
	sender   *cloudevent.Sender
	probe    *http.Client
	breakers *circuitbreaker.Registry
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// New creates an HTTP command channel. metrics may be nil.
func New(cfg Config, metrics MetricsRecorder) *HTTP {
	cfg = cfg.withDefaults()
	return &HTTP{
		cfg:      cfg,
		sender:   cloudevent.NewSender(cfg.Timeout),
		probe:    &http.Client{Timeout: 2 * time.Second},
		breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		metrics:  metrics,
		logger:   slog.With("component", "commander", "writer", cfg.URL),
	}
}

// RequestStart sends a start command and returns the writer's reply.
func (h *HTTP) RequestStart(ctx context.Context, cmd controller.StartCommand) (controller.StartReply, error) {
	ev, err := cloudevent.New(TypeStartCommand, h.cfg.Source, cmd.JobID, cmd)
	if err != nil {
		return controller.StartReply{}, apperrors.Internal("encode start command", err)
	}

	var reply Reply
	if err := h.send(ctx, "start", ev, &reply); err != nil {
		return controller.StartReply{}, apperrors.Transport("start job", err)
	}
	if reply.JobID == "" {
		reply.JobID = cmd.JobID
	}
	return controller.StartReply{JobID: reply.JobID, Message: reply.Message}, nil
}

// RequestStop sends a stop command and returns the writer's reply text.
func (h *HTTP) RequestStop(ctx context.Context, jobID string, stopTime time.Time) (string, error) {
	ev, err := cloudevent.New(TypeStopCommand, h.cfg.Source, jobID, StopCommand{JobID: jobID, StopTime: stopTime})
	if err != nil {
		return "", apperrors.Internal("encode stop command", err)
	}

	var reply Reply
	if err := h.send(ctx, "stop", ev, &reply); err != nil {
		return "", apperrors.Transport("stop job", err)
	}
	return reply.Message, nil
}

// Ready checks that the file writer answers its liveness probe.
func (h *HTTP) Ready(ctx context.Context) error {
	if b := h.breakers.ForURL(h.cfg.URL); b.State() == circuitbreaker.Open {
		return fmt.Errorf("file writer circuit open after %d failures", b.Failures())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL+"/livez", nil)
	if err != nil {
		return err
	}
	resp, err := h.probe.Do(req)
	if err != nil {
		return fmt.Errorf("file writer unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("file writer not live: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (h *HTTP) send(ctx context.Context, command string, ev *cloudevent.CloudEvent, reply *Reply) error {
	url := h.cfg.URL + CommandsPath
	breaker := h.breakers.ForURL(url)

	start := time.Now()
	var retries int
	err := breaker.Execute(func() error {
		var err error
		retries, err = backoff.Retry(ctx, &backoff.Config{MaxRetries: h.cfg.MaxRetries}, cloudevent.IsClientError,
			func(ctx context.Context) error {
				return h.sender.Send(ctx, url, ev, cloudevent.SendOptions{Reply: reply})
			})
		return err
	}, cloudevent.IsClientError)

	if h.metrics != nil {
		h.metrics.RecordCommand(ctx, command, err == nil, retries, time.Since(start).Seconds())
	}
	if err != nil {
		h.logger.Warn("Command failed", "command", command, "jobId", ev.Subject, "retries", retries, "error", err)
		return err
	}
	if retries > 0 {
		h.logger.Info("Command delivered after retries", "command", command, "jobId", ev.Subject, "retries", retries)
	}
	return nil
}

var _ controller.Commander = (*HTTP)(nil)
