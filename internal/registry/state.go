package registry

import (
	"fmt"
	"slices"
	"time"
)

// State is the lifecycle state of a file-writing job as seen locally.
type State int

const (
	StatePending       State = iota // start requested, no ack yet
	StateActive                     // remote confirmed writing
	StateRejected                   // remote refused to start
	StateStopRequested              // stop sent, not yet confirmed
	StateStopped                    // remote confirmed the file is closed
	StateLost                       // no heartbeat within the timeout window
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateStopRequested:
		return "stop_requested"
	case StateStopped:
		return "stopped"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StatePending; st <= StateLost; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", text)
}

// transitions lists the permitted edges. Besides the core lifecycle it allows
// an authoritative stop confirmation from Pending/Active and the return of a
// StopRequested job to Active when the remote refuses the stop time.
var transitions = map[State][]State{
	StatePending:       {StateActive, StateRejected, StateStopped},
	StateActive:        {StateStopRequested, StateLost, StateStopped},
	StateStopRequested: {StateStopped, StateLost, StateActive},
	StateLost:          {StateStopped},
}

// CanTransition reports whether the edge s -> to is permitted.
func (s State) CanTransition(to State) bool {
	return slices.Contains(transitions[s], to)
}

// Terminal reports whether no further local transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Watched reports whether the job is expected to send heartbeats.
func (s State) Watched() bool {
	return s == StateActive || s == StateStopRequested
}

// Job is one instance of the remote service writing a single output file.
type Job struct {
	ID                 string        `json:"id"`
	Counter            int           `json:"counter"`
	Filename           string        `json:"filename,omitempty"`
	State              State         `json:"state"`
	StartTime          time.Time     `json:"startTime"`
	StopTime           time.Time     `json:"stopTime,omitzero"`
	NextExpectedUpdate time.Time     `json:"nextExpectedUpdate"`
	UpdateInterval     time.Duration `json:"updateInterval"`
	StopRequested      bool          `json:"stopRequested"`

	rejectedAt time.Time
}

// overdue reports whether the heartbeat deadline plus grace has passed.
func (j *Job) overdue(now time.Time, timeout time.Duration) bool {
	return now.After(j.NextExpectedUpdate.Add(timeout))
}

func (j *Job) transition(to State) error {
	if !j.State.CanTransition(to) {
		return fmt.Errorf("invalid transition %s -> %s", j.State, to)
	}
	j.State = to
	return nil
}
