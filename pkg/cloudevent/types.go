// Package cloudevent provides CloudEvents 1.0 types.
package cloudevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the only CloudEvents version produced and accepted.
const SpecVersion = "1.0"

// CloudEvent represents a CloudEvents 1.0 specification event with a JSON payload.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	ID              string          `json:"id"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// New creates a CloudEvent with a fresh id, marshalling data as the payload.
func New(eventType, source, subject string, data any) (*CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              uuid.NewString(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            raw,
	}, nil
}

// Parse decodes and validates a structured-mode CloudEvent.
func Parse(b []byte) (*CloudEvent, error) {
	var ev CloudEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, fmt.Errorf("invalid cloudevent: %w", err)
	}
	if ev.SpecVersion != SpecVersion {
		return nil, fmt.Errorf("unsupported specversion %q", ev.SpecVersion)
	}
	if ev.Type == "" {
		return nil, errors.New("cloudevent type is required")
	}
	return &ev, nil
}

// DecodeData unmarshals the payload into v.
func (e *CloudEvent) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("invalid %s data: %w", e.Type, err)
	}
	return nil
}
