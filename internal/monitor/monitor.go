// Package monitor consumes file-writer status records, applies them to the
// job registry and derives the aggregate status.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"writerctl/internal/apperrors"
	"writerctl/internal/bus"
	"writerctl/internal/message"
	"writerctl/internal/registry"
)

// MetricsRecorder is an optional interface for recording monitor metrics.
type MetricsRecorder interface {
	RecordMessage(ctx context.Context, kind string)
	RecordStaleMessage(ctx context.Context, kind string)
	RecordUnknownJob(ctx context.Context, kind string)
	RecordDecodeError(ctx context.Context)
	RecordJobsLost(ctx context.Context, n int)
	RecordJobStopped(ctx context.Context, withError bool)
	RecordJobsTracked(ctx context.Context, n int)
	RecordStatusLevel(ctx context.Context, level string, value int)
}

// Monitor is the single consumer of status records.
type Monitor struct {
	reg     *registry.Registry
	cfg     Config
	metrics MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time

	unknownLog rate.Sometimes
	decodeLog  rate.Sometimes

	// notifyMu serialises recompute so listeners see changes in order.
	notifyMu sync.Mutex

	mu         sync.Mutex
	status     Status
	stopErrors map[string]struct{} // jobs whose stop time was refused
	listeners  []func(Status)
}

// New creates a monitor over reg. metrics may be nil.
func New(reg *registry.Registry, cfg Config, metrics MetricsRecorder) *Monitor {
	return &Monitor{
		reg:        reg,
		cfg:        cfg.withDefaults(),
		metrics:    metrics,
		logger:     slog.With("component", "monitor"),
		now:        time.Now,
		unknownLog: rate.Sometimes{Interval: time.Second},
		decodeLog:  rate.Sometimes{Interval: time.Second},
		status:     idle,
		stopErrors: make(map[string]struct{}),
	}
}

// OnStatusChange registers fn to be called after every aggregate status change.
// Calls are made one at a time, in order; fn must not call Handle or Tick.
func (m *Monitor) OnStatusChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Status returns the current aggregate status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Run polls consumer until ctx is done or the consumer is closed.
func (m *Monitor) Run(ctx context.Context, consumer bus.Consumer) error {
	m.logger.Info("Status consumer started")
	defer m.logger.Info("Status consumer stopped")

	for {
		batch, err := consumer.Poll(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, bus.ErrClosed):
			return nil
		case err != nil:
			m.logger.Warn("Poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(m.cfg.PollBackoff):
			}
			continue
		}
		m.ProcessBatch(ctx, batch)
	}
}

// RunTicker runs the no-message tick until ctx is done.
func (m *Monitor) RunTicker(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.NoMessageTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// ProcessBatch applies records in delivery order. Anomalies are logged and
// counted; a bad record never stops the rest of the batch.
func (m *Monitor) ProcessBatch(ctx context.Context, batch []bus.Record) {
	for _, rec := range batch {
		msg, err := message.Decode(rec.Value)
		if err != nil {
			m.recordDecodeError(ctx)
			m.decodeLog.Do(func() {
				m.logger.Warn("Undecodable status record", "topic", rec.Topic, "error", err)
			})
			continue
		}
		m.handle(ctx, msg)
	}
	m.recompute(ctx)
}

// Handle applies one decoded message and refreshes the status.
func (m *Monitor) Handle(ctx context.Context, msg message.Message) {
	m.handle(ctx, msg)
	m.recompute(ctx)
}

// Tick flags overdue jobs as lost and forgets expired retired ids.
func (m *Monitor) Tick(ctx context.Context) {
	now := m.now()
	lost := m.reg.CheckForLost(now)
	for _, id := range lost {
		job, _ := m.reg.Get(id)
		m.logger.Error("Job lost, no status update received",
			"jobId", id,
			"counter", job.Counter,
			"expectedBy", job.NextExpectedUpdate,
		)
	}
	if len(lost) > 0 && m.metrics != nil {
		m.metrics.RecordJobsLost(ctx, len(lost))
	}

	for _, id := range m.reg.ExpireRejected(now) {
		m.logger.Info("Rejected job discarded", "jobId", id)
	}
	if pruned := m.reg.Prune(now); len(pruned) > 0 {
		m.logger.Debug("Retired ids pruned", "count", len(pruned))
	}
	m.recompute(ctx)
}

func (m *Monitor) handle(ctx context.Context, msg message.Message) {
	id := msg.JobID()
	kind := msg.Kind()
	logger := m.logger.With("jobId", id)

	if m.reg.IsRetired(id) {
		logger.Debug("Stale message discarded", "kind", kind)
		if m.metrics != nil {
			m.metrics.RecordStaleMessage(ctx, kind)
		}
		return
	}
	if m.metrics != nil {
		m.metrics.RecordMessage(ctx, kind)
	}

	now := m.now()
	var err error
	switch msg := msg.(type) {
	case message.Heartbeat:
		_, err = m.reg.Heartbeat(id, now, msg.UpdateInterval())
	case message.CommandAck:
		err = m.handleAck(ctx, logger, msg, now)
	case message.StopConfirmed:
		err = m.handleStopped(ctx, logger, msg, now)
	}

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		if m.metrics != nil {
			m.metrics.RecordUnknownJob(ctx, kind)
		}
		m.unknownLog.Do(func() {
			logger.Warn("Message for unknown job ignored", "kind", kind)
		})
	default:
		logger.Warn("Message not applied", "kind", kind, "error", err)
	}
}

func (m *Monitor) handleAck(ctx context.Context, logger *slog.Logger, ack message.CommandAck, now time.Time) error {
	logger = logger.With("action", ack.Action)

	switch ack.Action {
	case message.ActionStartJob:
		if !ack.Success {
			removed, err := m.reg.MarkRejected(ack.ID, now)
			if errors.Is(err, apperrors.ErrNotFound) {
				m.holdStartAck(logger, ack, now)
				return nil
			}
			if err != nil {
				return err
			}
			logger.Error("Start rejected by file writer", "code", ack.Code, "reason", ack.Message)
			if removed {
				logger.Info("Rejected job was already marked for stop, removed")
			}
			return nil
		}
		state, err := m.reg.MarkActive(ack.ID, now)
		if errors.Is(err, apperrors.ErrNotFound) {
			m.holdStartAck(logger, ack, now)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Job started", "state", state)

	case message.ActionSetStopTime:
		if ack.Success {
			logger.Debug("Stop time acknowledged")
			m.clearStopError(ack.ID)
			return nil
		}
		if err := m.reg.CancelStop(ack.ID); err != nil {
			return err
		}
		m.mu.Lock()
		m.stopErrors[ack.ID] = struct{}{}
		m.mu.Unlock()
		logger.Error("Stop time refused by file writer, job left active for retry",
			"code", ack.Code, "reason", ack.Message)
	}
	return nil
}

// holdStartAck keeps an ack for a writer-assigned id the controller has not
// registered yet.
func (m *Monitor) holdStartAck(logger *slog.Logger, ack message.CommandAck, now time.Time) {
	m.reg.HoldStartAck(ack.ID, ack.Success, now)
	logger.Debug("Start ack held until the job id is registered", "success", ack.Success)
}

func (m *Monitor) handleStopped(ctx context.Context, logger *slog.Logger, msg message.StopConfirmed, now time.Time) error {
	prev, err := m.reg.ConfirmStopped(msg.ID, now)
	if err != nil {
		return err
	}
	m.clearStopError(msg.ID)
	if m.metrics != nil {
		m.metrics.RecordJobStopped(ctx, msg.Error)
	}

	if msg.Error {
		logger.Error("File writer stopped with error",
			"previousState", prev, "reason", msg.Message, "filename", msg.Filename)
		return nil
	}
	logger.Info("Job stopped", "previousState", prev, "filename", msg.Filename)
	return nil
}

func (m *Monitor) clearStopError(id string) {
	m.mu.Lock()
	delete(m.stopErrors, id)
	m.mu.Unlock()
}

func (m *Monitor) recordDecodeError(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.RecordDecodeError(ctx)
	}
}

// recompute derives the aggregate status from the registry and notifies
// listeners if it changed.
func (m *Monitor) recompute(ctx context.Context) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	summary := m.reg.Summarize()

	m.mu.Lock()
	for id := range m.stopErrors {
		if _, ok := m.reg.Get(id); !ok {
			delete(m.stopErrors, id)
		}
	}

	next := idle
	switch {
	case summary.Total == 0:
	case summary.Lost() > 0:
		next = Status{Level: LevelError, Message: msgLost}
	case len(m.stopErrors) > 0:
		next = Status{Level: LevelError, Message: msgStopFailure}
	default:
		next = writing(summary.Total)
	}

	changed := next != m.status
	prev := m.status
	m.status = next
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordJobsTracked(ctx, summary.Total)
		m.metrics.RecordStatusLevel(ctx, string(next.Level), next.Level.Value())
	}
	if !changed {
		return
	}

	m.logger.Info("Status changed", "from", prev.String(), "to", next.String(), "jobs", summary.String())
	for _, fn := range listeners {
		fn(next)
	}
}
