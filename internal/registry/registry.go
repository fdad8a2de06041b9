// Package registry holds the in-memory table of file-writing jobs and the
// rules for moving them through their lifecycle.
//
// Every operation is a pure mutation under a single mutex; nothing here
// performs I/O. Callers pass the current time explicitly so that the
// status monitor and tests share one notion of "now".
package registry

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"writerctl/internal/apperrors"
)

// Registry tracks known jobs, the ids marked for stop and recently retired ids.
type Registry struct {
	mu            sync.Mutex
	cfg           Config
	jobs          map[string]*Job
	markedForStop map[string]struct{}
	retired       map[string]time.Time
	heldAcks      map[string]heldAck // start acks that arrived before their id was known
}

type heldAck struct {
	success bool
	at      time.Time
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:           cfg.withDefaults(),
		jobs:          make(map[string]*Job),
		markedForStop: make(map[string]struct{}),
		retired:       make(map[string]time.Time),
		heldAcks:      make(map[string]heldAck),
	}
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Add inserts a job in state Pending. It is the only way a job comes to exist.
func (r *Registry) Add(job Job, now time.Time) error {
	if job.ID == "" {
		return apperrors.Validation("id", "job id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return apperrors.Conflict("job", job.ID, "already registered")
	}
	if _, retired := r.retired[job.ID]; retired {
		return apperrors.Conflict("job", job.ID, "id was recently retired")
	}

	job.State = StatePending
	job.StopRequested = false
	if job.StartTime.IsZero() {
		job.StartTime = now
	}
	if job.UpdateInterval <= 0 {
		job.UpdateInterval = r.cfg.DefaultUpdateInterval
	}
	job.NextExpectedUpdate = now.Add(job.UpdateInterval)
	r.jobs[job.ID] = &job
	return nil
}

// Rekey moves a Pending job to the id the remote writer assigned and
// applies any start ack held for that id.
func (r *Registry) Rekey(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	if newID == "" {
		return apperrors.Validation("id", "job id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[oldID]
	if !ok {
		return apperrors.NotFound("job", oldID)
	}
	if _, exists := r.jobs[newID]; exists {
		return apperrors.Conflict("job", newID, "already registered")
	}
	if _, retired := r.retired[newID]; retired {
		return apperrors.Conflict("job", newID, "id was recently retired")
	}

	delete(r.jobs, oldID)
	job.ID = newID
	r.jobs[newID] = job
	if _, marked := r.markedForStop[oldID]; marked {
		delete(r.markedForStop, oldID)
		r.markedForStop[newID] = struct{}{}
	}

	if ack, ok := r.heldAcks[newID]; ok && job.State == StatePending {
		delete(r.heldAcks, newID)
		if ack.success {
			_, _ = r.markActive(job, ack.at)
		} else {
			_, _ = r.markRejected(job, ack.at)
		}
	}
	return nil
}

// HoldStartAck keeps a start acknowledgement for an id that is not
// registered yet. A writer that assigns its own ids may acknowledge before
// the controller has the reply; Rekey applies the held ack. Held acks expire
// with Prune after the ack timeout and never create a job.
func (r *Registry) HoldStartAck(id string, success bool, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, retired := r.retired[id]; retired {
		return
	}
	r.heldAcks[id] = heldAck{success: success, at: now}
}

// Remove drops a job without retiring its id. Used when the start command
// never reached the remote side.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	delete(r.markedForStop, id)
	return true
}

// MarkActive records a successful start acknowledgement. A job that was
// already marked for stop continues straight on to StopRequested.
func (r *Registry) MarkActive(id string, now time.Time) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return 0, apperrors.NotFound("job", id)
	}
	return r.markActive(job, now)
}

func (r *Registry) markActive(job *Job, now time.Time) (State, error) {
	if err := job.transition(StateActive); err != nil {
		return job.State, apperrors.Conflict("job", job.ID, err.Error())
	}
	r.advance(job, now.Add(job.UpdateInterval))

	if _, marked := r.markedForStop[job.ID]; marked {
		job.State = StateStopRequested
	}
	return job.State, nil
}

// MarkRejected records a refused start. If the job was already marked for
// stop it leaves the registry and the stop set together; removed reports that.
func (r *Registry) MarkRejected(id string, now time.Time) (removed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false, apperrors.NotFound("job", id)
	}
	return r.markRejected(job, now)
}

func (r *Registry) markRejected(job *Job, now time.Time) (bool, error) {
	if err := job.transition(StateRejected); err != nil {
		return false, apperrors.Conflict("job", job.ID, err.Error())
	}
	job.rejectedAt = now

	if _, marked := r.markedForStop[job.ID]; marked {
		r.retire(job.ID, now)
		return true, nil
	}
	return false, nil
}

// DiscardRejected retires a job whose start was refused.
func (r *Registry) DiscardRejected(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.State != StateRejected {
		return false
	}
	r.retire(id, now)
	return true
}

// ExpireRejected retires rejected jobs older than the ack timeout. A start
// caller waiting for the outcome has given up by then.
func (r *Registry) ExpireRejected(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, job := range r.jobs {
		if job.State == StateRejected && now.Sub(job.rejectedAt) > r.cfg.AckTimeout {
			r.retire(id, now)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// MarkForStop adds the job to the stop set and returns the state it had
// before. A Rejected job is removed immediately since nothing is being
// written. Pending and Lost jobs keep their state; the stop is applied when
// the remote reports back.
func (r *Registry) MarkForStop(id string, stopTime, now time.Time) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return 0, apperrors.NotFound("job", id)
	}

	prev := job.State
	switch prev {
	case StateRejected:
		r.retire(id, now)
		return prev, nil
	case StateActive:
		job.State = StateStopRequested
	}

	job.StopTime = stopTime
	job.StopRequested = true
	r.markedForStop[id] = struct{}{}
	return prev, nil
}

// CancelStop returns a StopRequested job to Active after the remote refused
// the stop time, so that the stop can be retried.
func (r *Registry) CancelStop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	if job.State == StateStopRequested {
		job.State = StateActive
	}
	job.StopRequested = false
	job.StopTime = time.Time{}
	delete(r.markedForStop, id)
	return nil
}

// Heartbeat moves the job's deadline forward. Unknown ids are reported and
// never created. The state is not changed; a Lost job stays Lost.
func (r *Registry) Heartbeat(id string, now time.Time, interval time.Duration) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return 0, apperrors.NotFound("job", id)
	}
	if interval > 0 {
		job.UpdateInterval = interval
	}
	r.advance(job, now.Add(job.UpdateInterval))
	return job.State, nil
}

// ConfirmStopped retires the job and returns the state it had.
func (r *Registry) ConfirmStopped(id string, now time.Time) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return 0, apperrors.NotFound("job", id)
	}
	prev := job.State
	if err := job.transition(StateStopped); err != nil {
		return prev, apperrors.Conflict("job", id, err.Error())
	}
	r.retire(id, now)
	return prev, nil
}

// CheckForLost flags watched jobs whose deadline plus the ack timeout has
// passed and returns the newly lost ids. Lost jobs are kept.
func (r *Registry) CheckForLost(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lost []string
	for id, job := range r.jobs {
		if !job.State.Watched() || !job.overdue(now, r.cfg.AckTimeout) {
			continue
		}
		job.State = StateLost
		lost = append(lost, id)
	}
	sort.Strings(lost)
	return lost
}

// Prune forgets retired ids older than the retention window.
func (r *Registry) Prune(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned []string
	for id, at := range r.retired {
		if now.Sub(at) > r.cfg.RetiredRetention {
			delete(r.retired, id)
			pruned = append(pruned, id)
		}
	}
	for id, ack := range r.heldAcks {
		if now.Sub(ack.at) > r.cfg.AckTimeout {
			delete(r.heldAcks, id)
		}
	}
	sort.Strings(pruned)
	return pruned
}

// IsRetired reports whether messages for id should be treated as stale.
func (r *Registry) IsRetired(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.retired[id]
	return ok
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns copies of all jobs ordered by start time.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// ActiveJobs returns the ids of jobs neither stopped nor being stopped.
// Rejected jobs write nothing and are left out.
func (r *Registry) ActiveJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.jobs))
	for id, job := range r.jobs {
		if job.State == StateRejected {
			continue
		}
		if _, marked := r.markedForStop[id]; !marked {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MarkedForStop returns the ids currently marked for stop.
func (r *Registry) MarkedForStop() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.markedForStop))
}

// Summary counts jobs per state.
type Summary struct {
	Total   int // jobs that may be writing; rejected jobs are not counted
	ByState map[State]int
}

// Lost returns the number of lost jobs.
func (s Summary) Lost() int {
	return s.ByState[StateLost]
}

// Summarize returns per-state counts.
func (r *Registry) Summarize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{ByState: make(map[State]int)}
	for _, job := range r.jobs {
		s.ByState[job.State]++
		if job.State != StateRejected {
			s.Total++
		}
	}
	return s
}

// String is used in debug logs.
func (s Summary) String() string {
	return fmt.Sprintf("total=%d pending=%d active=%d stopping=%d lost=%d rejected=%d",
		s.Total, s.ByState[StatePending], s.ByState[StateActive],
		s.ByState[StateStopRequested], s.ByState[StateLost], s.ByState[StateRejected])
}

// advance moves the deadline forward, never backward.
func (r *Registry) advance(job *Job, next time.Time) {
	if next.After(job.NextExpectedUpdate) {
		job.NextExpectedUpdate = next
	}
}

// retire removes the job and the stop mark together and remembers the id.
func (r *Registry) retire(id string, now time.Time) {
	delete(r.jobs, id)
	delete(r.markedForStop, id)
	r.retired[id] = now
}
