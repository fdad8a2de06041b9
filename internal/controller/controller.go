// Package controller asks the remote file writer to start and stop jobs and
// waits, within a bounded time, for the registry to reflect the outcome.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"writerctl/internal/apperrors"
	"writerctl/internal/registry"
	"writerctl/internal/structure"
)

// StartCommand is sent to the file writer to open a new file.
type StartCommand struct {
	JobID     string    `json:"jobId"`
	Structure string    `json:"structure"`
	Filename  string    `json:"filename"`
	StartTime time.Time `json:"startTime"`
	Counter   int       `json:"counter"`
}

// StartReply is the synchronous answer to a start command. JobID may differ
// from the proposed one; the writer's id wins.
type StartReply struct {
	JobID   string `json:"jobId"`
	Message string `json:"message,omitempty"`
}

// Commander is the command channel to the file writer.
type Commander interface {
	RequestStart(ctx context.Context, cmd StartCommand) (StartReply, error)
	RequestStop(ctx context.Context, jobID string, stopTime time.Time) (string, error)
}

// MetricsRecorder is an optional interface for recording controller metrics.
type MetricsRecorder interface {
	RecordJobStart(ctx context.Context, outcome string, waitSeconds float64)
	RecordStopWait(ctx context.Context, confirmed bool, waitSeconds float64)
}

// Start outcomes, matching the metric label values.
const (
	outcomeActive   = "active"
	outcomeRejected = "rejected"
	outcomeTimeout  = "timeout"
	outcomeFailed   = "failed"
)

// StartRequest describes a new file.
type StartRequest struct {
	Counter         int                `json:"counter"`
	Filename        string             `json:"filename,omitempty"`
	Metadata        structure.Metadata `json:"metadata,omitempty"`
	AllowConcurrent bool               `json:"allowConcurrent,omitempty"`
}

// StartResult carries the job id and, for soft failures, a warning.
type StartResult struct {
	JobID   string `json:"jobId"`
	Warning string `json:"warning,omitempty"`
}

// StopResult carries the stopped job id and, for soft failures, a warning.
type StopResult struct {
	JobID   string `json:"jobId,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Controller issues start/stop commands and tracks them in the registry.
type Controller struct {
	reg       *registry.Registry
	cmd       Commander
	structure structure.Provider
	namer     structure.Namer
	cfg       Config
	metrics   MetricsRecorder
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	// startMu makes the busy check and the insert one step.
	startMu sync.Mutex
}

// New creates a controller. provider and namer may be nil; a no-op structure
// is sent and callers must then name files themselves.
func New(reg *registry.Registry, cmd Commander, provider structure.Provider, namer structure.Namer, cfg Config, metrics MetricsRecorder) *Controller {
	if provider == nil {
		provider = structure.Noop{}
	}
	return &Controller{
		reg:       reg,
		cmd:       cmd,
		structure: provider,
		namer:     namer,
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
		logger:    slog.With("component", "controller"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// AckTimeout is how long start and stop wait for the registry.
func (c *Controller) AckTimeout() time.Duration {
	return c.reg.Config().AckTimeout
}

// ActiveJobs returns ids of jobs neither stopped nor being stopped.
func (c *Controller) ActiveJobs() []string {
	return c.reg.ActiveJobs()
}

// Jobs returns a snapshot of every tracked job.
func (c *Controller) Jobs() []registry.Job {
	return c.reg.Jobs()
}

// Job returns one tracked job.
func (c *Controller) Job(id string) (registry.Job, error) {
	job, ok := c.reg.Get(id)
	if !ok {
		return registry.Job{}, apperrors.NotFound("job", id)
	}
	return job, nil
}

// StartJob asks the writer to open a new file. It fails with ErrBusy if
// another job is active and concurrency is not allowed, and with
// ErrTransport if the command could not be delivered. An unacknowledged or
// rejected start still returns the id, with a warning.
func (c *Controller) StartJob(ctx context.Context, req StartRequest) (StartResult, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !req.AllowConcurrent && !c.cfg.AllowConcurrent {
		if active := c.reg.ActiveJobs(); len(active) > 0 {
			return StartResult{}, apperrors.Busy(active)
		}
	}

	startTime := c.now()
	filename, err := c.filename(req)
	if err != nil {
		return StartResult{}, err
	}
	layout, err := c.structure.Structure(req.Metadata, startTime)
	if err != nil {
		return StartResult{}, apperrors.Internal("render structure", err)
	}

	id := c.newID()
	logger := c.logger.With("jobId", id, "counter", req.Counter)

	// Insert before sending so an ack racing the reply finds the job.
	job := registry.Job{ID: id, Counter: req.Counter, Filename: filename, StartTime: startTime}
	if err := c.reg.Add(job, startTime); err != nil {
		return StartResult{}, err
	}

	reply, err := c.cmd.RequestStart(ctx, StartCommand{
		JobID:     id,
		Structure: layout,
		Filename:  filename,
		StartTime: startTime,
		Counter:   req.Counter,
	})
	if err != nil {
		c.reg.Remove(id)
		c.recordStart(ctx, outcomeFailed, startTime)
		logger.Error("Start command failed", "error", err)
		return StartResult{}, asTransport("start job", err)
	}

	if reply.JobID != "" && reply.JobID != id {
		if err := c.reg.Rekey(id, reply.JobID); err != nil {
			logger.Error("Cannot track writer-assigned job id", "assignedId", reply.JobID, "error", err)
		} else {
			id = reply.JobID
			logger = c.logger.With("jobId", id, "counter", req.Counter)
		}
	}
	logger.Info("Start command sent", "filename", filename, "reply", reply.Message)

	job, present, settled := c.waitFor(ctx, id, func(j registry.Job, ok bool) bool {
		return !ok || j.State != registry.StatePending
	})

	result := StartResult{JobID: id}
	switch {
	case !settled:
		result.Warning = fmt.Sprintf("no acknowledgement from file writer within %s, job %s is still pending", c.AckTimeout(), id)
		logger.Warn("Start not acknowledged in time, job remains tracked", "timeout", c.AckTimeout())
		c.recordStart(ctx, outcomeTimeout, startTime)
	case !present:
		result.Warning = fmt.Sprintf("job %s finished before its start was confirmed", id)
		logger.Warn("Job left the registry while waiting for start")
		c.recordStart(ctx, outcomeActive, startTime)
	case job.State == registry.StateRejected:
		c.reg.DiscardRejected(id, c.now())
		result.Warning = fmt.Sprintf("file writer rejected job %s", id)
		logger.Warn("Start rejected, job discarded")
		c.recordStart(ctx, outcomeRejected, startTime)
	default:
		logger.Info("Job writing", "state", job.State)
		c.recordStart(ctx, outcomeActive, startTime)
	}
	return result, nil
}

// StopJob asks the writer to close a file. With an empty id the single
// active job is stopped; none is a no-op with a warning, several is
// ErrAmbiguous. An unconfirmed stop returns a warning and the job stays
// tracked.
func (c *Controller) StopJob(ctx context.Context, id string) (StopResult, error) {
	if id == "" {
		active := c.reg.ActiveJobs()
		switch len(active) {
		case 0:
			c.logger.Warn("Stop requested but no job is active")
			return StopResult{Warning: "no active job to stop"}, nil
		case 1:
			id = active[0]
		default:
			return StopResult{}, apperrors.Ambiguous(active)
		}
	}

	job, ok := c.reg.Get(id)
	if !ok {
		return StopResult{}, apperrors.NotFound("job", id)
	}
	logger := c.logger.With("jobId", id, "counter", job.Counter)
	alreadyMarked := job.StopRequested

	stopTime := c.now()
	prev, err := c.reg.MarkForStop(id, stopTime, stopTime)
	if err != nil {
		return StopResult{}, err
	}
	if prev == registry.StateRejected {
		logger.Info("Rejected job removed, nothing to stop")
		return StopResult{JobID: id, Warning: fmt.Sprintf("job %s was rejected by the file writer, nothing to stop", id)}, nil
	}

	reply, err := c.cmd.RequestStop(ctx, id, stopTime)
	if err != nil {
		// An earlier stop may still be in flight; only undo our own mark.
		if !alreadyMarked {
			if cerr := c.reg.CancelStop(id); cerr != nil && !errors.Is(cerr, apperrors.ErrNotFound) {
				logger.Warn("Cannot clear stop mark", "error", cerr)
			}
		}
		logger.Error("Stop command failed", "error", err)
		return StopResult{}, asTransport("stop job", err)
	}
	logger.Info("Stop command sent", "previousState", prev, "stopTime", stopTime, "reply", reply)

	// The monitor clears the mark when the writer refuses the stop time.
	_, present, settled := c.waitFor(ctx, id, func(j registry.Job, ok bool) bool { return !ok || !j.StopRequested })
	if c.metrics != nil {
		c.metrics.RecordStopWait(ctx, settled && !present, c.now().Sub(stopTime).Seconds())
	}
	if settled && present {
		logger.Error("File writer refused the stop time, job left running")
		return StopResult{JobID: id, Warning: fmt.Sprintf("file writer refused the stop time for job %s, it is still writing", id)}, nil
	}
	if !settled {
		logger.Error("Stop not confirmed in time, job remains tracked", "timeout", c.AckTimeout())
		return StopResult{JobID: id, Warning: fmt.Sprintf("file writer did not confirm stop of job %s within %s", id, c.AckTimeout())}, nil
	}
	logger.Info("Job stop confirmed")
	return StopResult{JobID: id}, nil
}

// waitFor polls the registry until done reports true, the acknowledgement
// timeout passes or ctx ends. settled reports whether done was reached.
func (c *Controller) waitFor(ctx context.Context, id string, done func(registry.Job, bool) bool) (job registry.Job, present, settled bool) {
	deadline := time.Now().Add(c.AckTimeout())
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, present = c.reg.Get(id)
		if done(job, present) {
			return job, present, true
		}
		if !time.Now().Before(deadline) {
			return job, present, false
		}
		select {
		case <-ctx.Done():
			return job, present, false
		case <-ticker.C:
		}
	}
}

func (c *Controller) filename(req StartRequest) (string, error) {
	if req.Filename != "" {
		return req.Filename, nil
	}
	if c.namer == nil {
		return "", apperrors.Validation("filename", "filename is required")
	}
	name, err := c.namer.Filename(req.Metadata, req.Counter)
	if err != nil {
		return "", apperrors.Internal("render filename", err)
	}
	return name, nil
}

func (c *Controller) recordStart(ctx context.Context, outcome string, started time.Time) {
	if c.metrics != nil {
		c.metrics.RecordJobStart(ctx, outcome, c.now().Sub(started).Seconds())
	}
}

func asTransport(op string, err error) error {
	if errors.Is(err, apperrors.ErrTransport) {
		return err
	}
	return apperrors.Transport(op, err)
}
