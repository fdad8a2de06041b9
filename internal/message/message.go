// Package message decodes file-writer status records into one of the three
// message kinds the status monitor understands.
package message

import (
	"errors"
	"fmt"
	"time"

	"writerctl/pkg/cloudevent"
)

// CloudEvent types emitted by the file writer.
const (
	TypeHeartbeat     = "filewriter.status"
	TypeCommandAck    = "filewriter.ack"
	TypeStopConfirmed = "filewriter.stopped"
)

// Action names the command a CommandAck refers to.
type Action string

const (
	ActionStartJob    Action = "StartJob"
	ActionSetStopTime Action = "SetStopTime"
)

// ErrUnknownType is returned for records whose event type is not a file-writer message.
var ErrUnknownType = errors.New("unknown message type")

// Message is one of Heartbeat, CommandAck or StopConfirmed.
type Message interface {
	JobID() string
	Kind() string
	message()
}

// Heartbeat reports that a job is still writing.
type Heartbeat struct {
	ID               string `json:"jobId"`
	UpdateIntervalMs int64  `json:"updateIntervalMs"`
	Filename         string `json:"filename,omitempty"`
}

// UpdateInterval returns the announced reporting period, or zero if none.
func (h Heartbeat) UpdateInterval() time.Duration {
	if h.UpdateIntervalMs <= 0 {
		return 0
	}
	return time.Duration(h.UpdateIntervalMs) * time.Millisecond
}

// CommandAck acknowledges a start or stop-time command.
type CommandAck struct {
	ID      string `json:"jobId"`
	Action  Action `json:"action"`
	Success bool   `json:"success"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StopConfirmed reports that the writer closed the file.
type StopConfirmed struct {
	ID       string `json:"jobId"`
	Error    bool   `json:"error"`
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func (m Heartbeat) JobID() string     { return m.ID }
func (m CommandAck) JobID() string    { return m.ID }
func (m StopConfirmed) JobID() string { return m.ID }

func (Heartbeat) Kind() string     { return "heartbeat" }
func (CommandAck) Kind() string    { return "command_ack" }
func (StopConfirmed) Kind() string { return "stop_confirmed" }

func (Heartbeat) message()     {}
func (CommandAck) message()    {}
func (StopConfirmed) message() {}

// Decode parses a raw record value.
func Decode(raw []byte) (Message, error) {
	ev, err := cloudevent.Parse(raw)
	if err != nil {
		return nil, err
	}
	return FromEvent(ev)
}

// FromEvent converts an already parsed CloudEvent.
func FromEvent(ev *cloudevent.CloudEvent) (Message, error) {
	var msg Message
	switch ev.Type {
	case TypeHeartbeat:
		var m Heartbeat
		if err := ev.DecodeData(&m); err != nil {
			return nil, err
		}
		msg = m
	case TypeCommandAck:
		var m CommandAck
		if err := ev.DecodeData(&m); err != nil {
			return nil, err
		}
		if m.Action != ActionStartJob && m.Action != ActionSetStopTime {
			return nil, fmt.Errorf("invalid ack action %q", m.Action)
		}
		msg = m
	case TypeStopConfirmed:
		var m StopConfirmed
		if err := ev.DecodeData(&m); err != nil {
			return nil, err
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, ev.Type)
	}

	if msg.JobID() == "" {
		return nil, fmt.Errorf("%s without jobId", ev.Type)
	}
	return msg, nil
}

// Encode wraps m in a CloudEvent from source.
func Encode(source string, m Message) (*cloudevent.CloudEvent, error) {
	var eventType string
	switch m.(type) {
	case Heartbeat:
		eventType = TypeHeartbeat
	case CommandAck:
		eventType = TypeCommandAck
	case StopConfirmed:
		eventType = TypeStopConfirmed
	}
	return cloudevent.New(eventType, source, m.JobID(), m)
}
