package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"voltgrid/internal/metrics"
)

// Sink receives events. Implementations must not block for long; slow or
// failing sinks are logged and skipped.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Dispatcher fans events out to sinks from a bounded queue. Publish never
// blocks the caller: when the queue is full the event is dropped with a
// warning.
type Dispatcher struct {
	sinks  []Sink
	queue  chan Event
	logger *zap.Logger

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDispatcher builds the dispatcher and starts its workers.
func NewDispatcher(queueSize, workers int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		sinks:  sinks,
		queue:  make(chan Event, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish enqueues an event for delivery. Publishing after Stop drops the
// event; the read lock keeps the enqueue from racing the queue close.
func (d *Dispatcher) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.NotifyDropped.Inc()
		d.logger.Warn("dispatcher stopped, event dropped",
			zap.String("type", event.Type),
			zap.Int64("booking_id", event.BookingID),
		)
		return
	}

	select {
	case d.queue <- event:
		metrics.NotifyQueueDepth.Set(float64(len(d.queue)))
	default:
		metrics.NotifyDropped.Inc()
		d.logger.Warn("notification queue full, event dropped",
			zap.String("type", event.Type),
			zap.Int64("booking_id", event.BookingID),
		)
	}
}

// Stop drains the queue and waits for workers.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		metrics.NotifyQueueDepth.Set(float64(len(d.queue)))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, sink := range d.sinks {
			if err := sink.Deliver(ctx, event); err != nil {
				d.logger.Warn("notification delivery failed",
					zap.String("type", event.Type),
					zap.Error(err),
				)
			}
		}
		cancel()
	}
}

// LogSink records events in the service log. It stands in for the outbound
// email channel, which is owned by a separate delivery service.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns the sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver logs the event.
func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.logger.Info("notification",
		zap.String("type", event.Type),
		zap.String("request_id", event.RequestID),
		zap.Int64("booking_id", event.BookingID),
		zap.Int64("session_id", event.SessionID),
		zap.Int64("user_id", event.UserID),
		zap.Int64("host_id", event.HostID),
	)
	return nil
}
