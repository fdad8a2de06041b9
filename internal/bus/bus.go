// Package bus is the boundary between the status monitor and the transport
// that carries file-writer messages. Memory is an in-process implementation
// fed by the HTTP event ingress.
package bus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrBufferFull = errors.New("subscription buffer full")
	ErrClosed     = errors.New("bus closed")
)

// Record is one timestamped message as delivered by the transport.
type Record struct {
	Topic     string
	Timestamp time.Time
	Value     []byte
}

// Consumer yields batches of records in delivery order.
type Consumer interface {
	// Poll blocks until at least one record is available or ctx is done.
	Poll(ctx context.Context) ([]Record, error)
}

// Publisher accepts records for a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, value []byte) error
}

// Memory fans published records out to every subscription whose topic
// patterns match.
type Memory struct {
	cfg    Config
	now    func() time.Time
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

// NewMemory creates an in-memory bus.
func NewMemory(cfg Config) *Memory {
	return &Memory{cfg: cfg.withDefaults(), now: time.Now}
}

// Subscribe registers interest in topics matching any of the patterns.
func (m *Memory) Subscribe(patterns ...string) (*Subscription, error) {
	if len(patterns) == 0 {
		return nil, errors.New("at least one topic pattern is required")
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid topic pattern %q", p)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		bus:      m,
		patterns: slices.Clone(patterns),
		ch:       make(chan Record, m.cfg.BufferSize),
		maxBatch: m.cfg.MaxBatch,
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

// Publish delivers value to matching subscriptions without blocking. If any
// matching subscription is full the record is dropped for it and
// ErrBufferFull is returned.
func (m *Memory) Publish(ctx context.Context, topic string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	rec := Record{Topic: topic, Timestamp: m.now(), Value: value}
	var full bool
	for _, sub := range m.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			full = true
		}
	}
	if full {
		return ErrBufferFull
	}
	return nil
}

// Close ends all subscriptions. Pending records can still be polled.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, sub := range m.subs {
		close(sub.ch)
	}
	m.subs = nil
}

func (m *Memory) remove(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.Index(m.subs, sub)
	if i < 0 {
		return
	}
	m.subs = slices.Delete(m.subs, i, i+1)
	close(sub.ch)
}

// Subscription is a Consumer over one set of topic patterns.
type Subscription struct {
	bus      *Memory
	patterns []string
	ch       chan Record
	maxBatch int
}

func (s *Subscription) matches(topic string) bool {
	for _, p := range s.patterns {
		if ok, _ := doublestar.Match(p, topic); ok {
			return true
		}
	}
	return false
}

// Poll blocks for the first record, then drains up to the batch limit.
func (s *Subscription) Poll(ctx context.Context) ([]Record, error) {
	var first Record
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rec, ok := <-s.ch:
		if !ok {
			return nil, ErrClosed
		}
		first = rec
	}

	batch := []Record{first}
	for len(batch) < s.maxBatch {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				return batch, nil
			}
			batch = append(batch, rec)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Pending returns the number of buffered records.
func (s *Subscription) Pending() int {
	return len(s.ch)
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.remove(s)
}
