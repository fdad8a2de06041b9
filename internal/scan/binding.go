// Package scan maps the dataset lifecycle of a measurement onto start and
// stop requests, grouping multi-point scans into one file when configured.
package scan

import (
	"context"
	"log/slog"
	"sync"

	"writerctl/internal/apperrors"
	"writerctl/internal/config"
	"writerctl/internal/controller"
	"writerctl/internal/structure"
)

// Dataset is one point of a scan. Single-point measurements have PointCount 1.
type Dataset struct {
	Counter    int                `json:"counter"`
	PointIndex int                `json:"pointIndex"`
	PointCount int                `json:"pointCount"`
	Metadata   structure.Metadata `json:"metadata,omitempty"`
}

func (d Dataset) first() bool { return d.PointIndex == 0 }
func (d Dataset) last() bool  { return d.PointIndex >= d.PointCount-1 }

func (d Dataset) validate() error {
	if d.PointCount < 1 {
		return apperrors.Validation("pointCount", "must be at least 1")
	}
	if d.PointIndex < 0 || d.PointIndex >= d.PointCount {
		return apperrors.Validation("pointIndex", "must be within [0, pointCount)")
	}
	return nil
}

// Controller is the part of the write controller the binding drives.
type Controller interface {
	StartJob(ctx context.Context, req controller.StartRequest) (controller.StartResult, error)
	StopJob(ctx context.Context, id string) (controller.StopResult, error)
	ActiveJobs() []string
}

// Config holds the grouping policy.
type Config struct {
	OneFilePerScan bool
}

// LoadConfigFromEnv loads the grouping policy from environment variables.
func LoadConfigFromEnv() Config {
	return Config{OneFilePerScan: config.GetBoolEnv("ONE_FILE_PER_SCAN", true)}
}

// Outcome reports what Begin, End or Abort did.
type Outcome struct {
	Action  string `json:"action"` // "start", "stop" or "none"
	JobID   string `json:"jobId,omitempty"`
	Warning string `json:"warning,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Binding holds the grouping state of the scan in progress.
type Binding struct {
	ctrl   Controller
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	prepared bool   // first point seen for the current scan
	manual   bool   // a job was running before the scan began
	jobID    string // job this binding started
}

// New creates a binding.
func New(ctrl Controller, cfg Config) *Binding {
	return &Binding{
		ctrl:   ctrl,
		cfg:    cfg,
		logger: slog.With("component", "scan"),
	}
}

// Prepare is called before a dataset begins. On the first point it decides
// whether the scan runs under a manually started job.
func (b *Binding) Prepare(ds Dataset) error {
	if err := ds.validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ds.first() {
		b.prepare()
	}
	return nil
}

func (b *Binding) prepare() {
	b.prepared = true
	b.jobID = ""
	b.manual = len(b.ctrl.ActiveJobs()) > 0
	if b.manual {
		b.logger.Info("Job already running, scan will not start its own")
	}
}

// Begin starts a job for the dataset unless the scan is manually covered or
// grouped into a file started at an earlier point.
func (b *Binding) Begin(ctx context.Context, ds Dataset) (Outcome, error) {
	if err := ds.validate(); err != nil {
		return Outcome{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if ds.first() && !b.prepared {
		b.prepare()
	}
	switch {
	case b.manual:
		return Outcome{Action: "none", Reason: "manual job"}, nil
	case b.grouped(ds) && !ds.first():
		return Outcome{Action: "none", JobID: b.jobID, Reason: "one file per scan"}, nil
	}

	res, err := b.ctrl.StartJob(ctx, controller.StartRequest{Counter: ds.Counter, Metadata: ds.Metadata})
	if err != nil {
		return Outcome{}, err
	}
	b.jobID = res.JobID
	b.logger.Info("Dataset job started", "jobId", res.JobID, "counter", ds.Counter, "point", ds.PointIndex)
	return Outcome{Action: "start", JobID: res.JobID, Warning: res.Warning}, nil
}

// End stops the dataset's job on the last point, or on every point when
// each point has its own file.
func (b *Binding) End(ctx context.Context, ds Dataset) (Outcome, error) {
	if err := ds.validate(); err != nil {
		return Outcome{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if ds.last() {
		defer b.reset()
	}
	switch {
	case b.manual:
		return Outcome{Action: "none", Reason: "manual job"}, nil
	case b.jobID == "":
		return Outcome{Action: "none", Reason: "no job started by this scan"}, nil
	case b.grouped(ds) && !ds.last():
		return Outcome{Action: "none", JobID: b.jobID, Reason: "one file per scan"}, nil
	}
	return b.stop(ctx)
}

// Abort stops a job the binding started and forgets the scan so the next one
// starts cleanly.
func (b *Binding) Abort(ctx context.Context) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.reset()

	if b.jobID == "" {
		return Outcome{Action: "none", Reason: "no job started by this scan"}, nil
	}
	b.logger.Warn("Scan aborted, stopping its job", "jobId", b.jobID)
	return b.stop(ctx)
}

func (b *Binding) stop(ctx context.Context) (Outcome, error) {
	id := b.jobID
	res, err := b.ctrl.StopJob(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	b.jobID = ""
	return Outcome{Action: "stop", JobID: id, Warning: res.Warning}, nil
}

func (b *Binding) grouped(ds Dataset) bool {
	return b.cfg.OneFilePerScan && ds.PointCount > 1
}

func (b *Binding) reset() {
	b.prepared = false
	b.manual = false
	b.jobID = ""
}
