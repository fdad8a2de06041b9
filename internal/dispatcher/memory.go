package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"writerctl/pkg/backoff"
	"writerctl/pkg/circuitbreaker"
	"writerctl/pkg/cloudevent"
)

// MemoryDispatcher queues notifications in a bounded channel delivered by a
// worker pool. When the buffer is full, notifications are dropped (logged
// and counted).
type MemoryDispatcher struct {
	queue    chan *Notification
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// NewMemory creates and starts an in-memory dispatcher.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()

	d := &MemoryDispatcher{
		queue:  make(chan *Notification, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
		config:   cfg,
		logger:   slog.With("component", "dispatcher"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	if metrics != nil {
		d.wg.Add(1)
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

func (d *MemoryDispatcher) reportQueueSize() {
	defer d.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues a notification for async delivery.
func (d *MemoryDispatcher) Dispatch(n *Notification) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- n:
		d.queued.Add(1)
		return nil
	default:
		d.drop(n, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	breakerStats := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.queue),
		Queued:        d.queued.Load(),
		Delivered:     d.delivered.Load(),
		Failed:        d.failed.Load(),
		Dropped:       d.dropped.Load(),
		Requeued:      d.requeued.Load(),
		RetriesTotal:  d.retriesTotal.Load(),
		BreakersTotal: breakerStats.Total,
		BreakersOpen:  breakerStats.Open,
	}
}

// Close stops the workers after they drain the queue.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			d.drainQueue()
			return
		case n := <-d.queue:
			d.deliver(n)
		}
	}
}

func (d *MemoryDispatcher) drainQueue() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		default:
			return
		}
	}
}

func (d *MemoryDispatcher) deliver(n *Notification) {
	breaker := d.breakers.ForURL(n.Destination)
	if !breaker.Allow() {
		d.requeue(n)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	retries, err := backoff.Retry(ctx, &backoff.Config{MaxRetries: defaultMaxRetries}, cloudevent.IsClientError,
		func(ctx context.Context) error {
			return d.sender.Send(ctx, n.Destination, n.Payload, cloudevent.SendOptions{SigningKey: n.SigningKey})
		})
	d.retriesTotal.Add(int64(retries))

	if err != nil {
		breaker.RecordFailure()
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Delivery failed",
			"destination", circuitbreaker.HostKey(n.Destination),
			"type", n.Payload.Type,
			"error", err,
		)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue puts a notification back after the breaker cooldown.
func (d *MemoryDispatcher) requeue(n *Notification) {
	if n.Requeues >= defaultMaxRequeues {
		d.drop(n, "max requeues reached")
		return
	}

	n.Requeues++
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-d.shutdown:
			d.drop(n, "shutdown during requeue")
			return
		case <-time.After(d.config.BreakerCooldown):
		}

		select {
		case d.queue <- n:
		default:
			d.drop(n, "buffer full on requeue")
		}
	}()
}

func (d *MemoryDispatcher) drop(n *Notification, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn("Notification dropped",
		"reason", reason,
		"destination", circuitbreaker.HostKey(n.Destination),
		"type", n.Payload.Type,
		"requeues", n.Requeues,
	)
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
