// Package simwriter is a stand-in for the remote file writer. It accepts
// start and stop commands, then reports acknowledgements, heartbeats and
// stop confirmations to an ingress URL the way the real service does.
package simwriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"writerctl/internal/commander"
	"writerctl/internal/controller"
	"writerctl/internal/message"
	"writerctl/pkg/cloudevent"
)

const maxCommandSize = 4 << 20 // structures can be large

// Job is a file the simulator is writing.
type Job struct {
	ID        string    `json:"jobId"`
	Counter   int       `json:"counter"`
	Filename  string    `json:"filename"`
	StartTime time.Time `json:"startTime"`
	StopTime  time.Time `json:"stopTime,omitzero"`
}

type simJob struct {
	Job
	stopAt chan time.Time
}

// Writer simulates a file-writer service.
type Writer struct {
	cfg    Config
	sender *cloudevent.Sender
	logger *slog.Logger

	mu    sync.Mutex
	knobs Knobs
	jobs  map[string]*simJob
	sent  map[string]int // events sent per type

	// ctx scopes every background goroutine; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a simulated writer.
func New(cfg Config) *Writer {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		cfg:    cfg,
		sender: cloudevent.NewSender(cfg.SendTimeout),
		logger: slog.With("component", "simwriter"),
		knobs:  cfg.Knobs,
		jobs:   make(map[string]*simJob),
		sent:   make(map[string]int),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetKnobs replaces the failure-mode switches.
func (w *Writer) SetKnobs(k Knobs) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.knobs = k
}

func (w *Writer) currentKnobs() Knobs {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.knobs
}

// Jobs returns the files currently being written, ordered by start time.
func (w *Writer) Jobs() []Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	jobs := make([]Job, 0, len(w.jobs))
	for _, j := range w.jobs {
		jobs = append(jobs, j.Job)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].StartTime.Before(jobs[b].StartTime) })
	return jobs
}

// Sent returns how many events of the given type were delivered.
func (w *Writer) Sent(eventType string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent[eventType]
}

// Handler returns the simulator's HTTP routes.
func (w *Writer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /v1/jobs", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, w.Jobs())
	})
	mux.HandleFunc("POST "+commander.CommandsPath, w.handleCommand)
	return mux
}

// Run serves the simulator on cfg.Port until ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + w.cfg.Port,
		Handler:      w.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("Simulated file writer listening", "port", w.cfg.Port, "ingress", w.cfg.IngressURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		w.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	w.Close()
	return err
}

// Close abandons all jobs without confirming them and waits for background work.
func (w *Writer) Close() {
	w.cancel()
	w.wg.Wait()
}

func (w *Writer) handleCommand(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxCommandSize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := cloudevent.Parse(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	switch ev.Type {
	case commander.TypeStartCommand:
		var cmd controller.StartCommand
		if err := ev.DecodeData(&cmd); err != nil || cmd.JobID == "" {
			writeError(rw, http.StatusBadRequest, "invalid start command")
			return
		}
		writeJSON(rw, http.StatusOK, w.start(cmd))
	case commander.TypeStopCommand:
		var cmd commander.StopCommand
		if err := ev.DecodeData(&cmd); err != nil || cmd.JobID == "" {
			writeError(rw, http.StatusBadRequest, "invalid stop command")
			return
		}
		reply, ok := w.stop(cmd)
		if !ok {
			writeError(rw, http.StatusNotFound, fmt.Sprintf("job %s not found", cmd.JobID))
			return
		}
		writeJSON(rw, http.StatusOK, reply)
	default:
		writeError(rw, http.StatusBadRequest, "unsupported command "+ev.Type)
	}
}

func (w *Writer) start(cmd controller.StartCommand) commander.Reply {
	knobs := w.currentKnobs()
	logger := w.logger.With("jobId", cmd.JobID, "counter", cmd.Counter)

	if knobs.RejectStarts {
		logger.Info("Rejecting start")
		w.background(func(ctx context.Context) {
			w.delay(ctx, knobs.AckDelay)
			w.emit(ctx, message.CommandAck{ID: cmd.JobID, Action: message.ActionStartJob, Code: 1, Message: "start rejected by simulator"})
		})
		return commander.Reply{JobID: cmd.JobID, Message: "start rejected"}
	}

	job := &simJob{
		Job:    Job{ID: cmd.JobID, Counter: cmd.Counter, Filename: cmd.Filename, StartTime: cmd.StartTime},
		stopAt: make(chan time.Time, 1),
	}
	w.mu.Lock()
	w.jobs[cmd.JobID] = job
	w.mu.Unlock()
	logger.Info("Job started", "filename", cmd.Filename)

	w.background(func(ctx context.Context) {
		w.write(ctx, job, knobs.AckDelay)
	})
	return commander.Reply{JobID: cmd.JobID, Message: "start accepted"}
}

// write acknowledges the start, then heartbeats until the stop time passes.
func (w *Writer) write(ctx context.Context, job *simJob, ackDelay time.Duration) {
	w.delay(ctx, ackDelay)
	w.emit(ctx, message.CommandAck{ID: job.ID, Action: message.ActionStartJob, Success: true})

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	w.heartbeat(ctx, job)

	var stop <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-job.stopAt:
			stop = time.After(time.Until(at))
		case <-stop:
			w.finish(ctx, job)
			return
		case <-ticker.C:
			w.heartbeat(ctx, job)
		}
	}
}

func (w *Writer) heartbeat(ctx context.Context, job *simJob) {
	if w.currentKnobs().Silent {
		return
	}
	w.emit(ctx, message.Heartbeat{
		ID:               job.ID,
		UpdateIntervalMs: w.cfg.HeartbeatInterval.Milliseconds(),
		Filename:         job.Filename,
	})
}

func (w *Writer) finish(ctx context.Context, job *simJob) {
	w.mu.Lock()
	delete(w.jobs, job.ID)
	w.mu.Unlock()

	msg := message.StopConfirmed{ID: job.ID, Filename: job.Filename}
	if w.currentKnobs().StopWithError {
		msg.Error = true
		msg.Message = "input topic not found"
	}
	w.logger.Info("Job finished", "jobId", job.ID, "error", msg.Error)
	w.emit(ctx, msg)
}

func (w *Writer) stop(cmd commander.StopCommand) (commander.Reply, bool) {
	knobs := w.currentKnobs()

	w.mu.Lock()
	job, ok := w.jobs[cmd.JobID]
	w.mu.Unlock()
	if !ok {
		return commander.Reply{}, false
	}

	if knobs.FailStopAcks {
		w.logger.Info("Refusing stop time", "jobId", cmd.JobID)
		w.background(func(ctx context.Context) {
			w.delay(ctx, knobs.AckDelay)
			w.emit(ctx, message.CommandAck{ID: cmd.JobID, Action: message.ActionSetStopTime, Code: 2, Message: "stop time in the past"})
		})
		return commander.Reply{JobID: cmd.JobID, Message: "stop refused"}, true
	}

	w.mu.Lock()
	job.StopTime = cmd.StopTime
	w.mu.Unlock()

	w.background(func(ctx context.Context) {
		w.delay(ctx, knobs.AckDelay)
		w.emit(ctx, message.CommandAck{ID: cmd.JobID, Action: message.ActionSetStopTime, Success: true})
		select {
		case job.stopAt <- cmd.StopTime:
		default:
		}
	})
	return commander.Reply{JobID: cmd.JobID, Message: "stop time set"}, true
}

func (w *Writer) background(fn func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn(w.ctx)
	}()
}

func (w *Writer) delay(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (w *Writer) emit(ctx context.Context, m message.Message) {
	if ctx.Err() != nil || w.cfg.IngressURL == "" {
		return
	}
	ev, err := message.Encode(w.cfg.Source, m)
	if err != nil {
		w.logger.Error("Cannot encode event", "kind", m.Kind(), "error", err)
		return
	}
	if err := w.sender.Send(ctx, w.cfg.IngressURL, ev, cloudevent.SendOptions{SigningKey: w.cfg.SigningKey}); err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("Failed to send event", "jobId", m.JobID(), "kind", m.Kind(), "error", err)
		}
		return
	}
	w.mu.Lock()
	w.sent[ev.Type]++
	w.mu.Unlock()
}

func writeJSON(rw http.ResponseWriter, status int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(data)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
