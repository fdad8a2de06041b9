// Package dispatcher delivers status notifications asynchronously with
// buffering, retry and a per-host circuit breaker.
package dispatcher

import (
	"context"
	"errors"

	"writerctl/pkg/cloudevent"
)

// ErrBufferFull is returned when the dispatcher's buffer is full and the notification is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, notification dropped")

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher handles async delivery of notifications.
type Dispatcher interface {
	// Dispatch queues a notification for async delivery. Non-blocking.
	// Returns ErrBufferFull if it cannot be queued.
	Dispatch(n *Notification) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close gracefully shuts down, attempting to deliver queued notifications.
	// The context deadline controls how long to wait for drain.
	Close(ctx context.Context) error
}

// Notification is a CloudEvent bound for one destination.
type Notification struct {
	Payload     *cloudevent.CloudEvent
	Destination string // callback URL
	SigningKey  string // HMAC key for signing, empty = no signing
	Requeues    int    // times requeued due to an open circuit
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int   // current queue size
	Queued        int64 // total notifications queued
	Delivered     int64 // successful deliveries
	Failed        int64 // failed after retries
	Dropped       int64 // dropped due to full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64 // total retry attempts
	BreakersTotal int   // total circuit breakers
	BreakersOpen  int   // currently open breakers
}
