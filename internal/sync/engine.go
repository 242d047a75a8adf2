// Package sync delivers the offline queue to the backend.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
	"github.com/kimhsiao/gatesync/internal/models"
	"github.com/kimhsiao/gatesync/internal/sync/queue"
	"github.com/kimhsiao/gatesync/internal/telemetry"
)

// FlushStatus represents the state of the coordinator.
type FlushStatus string

const (
	FlushStatusIdle     FlushStatus = "idle"
	FlushStatusFlushing FlushStatus = "flushing"
	FlushStatusFailed   FlushStatus = "failed"
)

// BulkSender delivers items in one request. A nil error means every item was accepted.
type BulkSender func(ctx context.Context, items []models.ScanEvent) error

// FlushResult is the outcome of one flush. On failure Sent is 0 and the queue is
// unchanged.
type FlushResult struct {
	StartTime time.Time
	Duration  time.Duration
	Sent      int
	Err       error
}

// OK reports whether the flush succeeded.
func (r FlushResult) OK() bool {
	return r.Err == nil
}

// FlushEventType names a flush notification.
type FlushEventType string

const (
	FlushEventStarted   FlushEventType = "flush.started"
	FlushEventCompleted FlushEventType = "flush.completed"
	FlushEventFailed    FlushEventType = "flush.failed"
)

// FlushEvent is delivered to the EventHandler around every non-empty flush.
type FlushEvent struct {
	Type    FlushEventType
	Pending int
	Sent    int
	Err     error
}

// EventHandler receives flush notifications. It is called synchronously.
type EventHandler interface {
	OnFlushEvent(FlushEvent)
}

// Coordinator flushes the offline queue as one bulk request. Flushes never overlap;
// a second caller waits for the first and then sees whatever is left.
type Coordinator struct {
	queue   *queue.Queue
	metrics *telemetry.Metrics

	flushMu gosync.Mutex

	mu        gosync.RWMutex
	status    FlushStatus
	lastFlush *time.Time
	lastErr   error
	handler   EventHandler
}

// NewCoordinator creates a Coordinator over q. m may be nil.
func NewCoordinator(q *queue.Queue, m *telemetry.Metrics) *Coordinator {
	return &Coordinator{
		queue:   q,
		metrics: m,
		status:  FlushStatusIdle,
	}
}

// SetEventHandler sets the receiver of flush notifications.
func (c *Coordinator) SetEventHandler(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Queue returns the queue being flushed.
func (c *Coordinator) Queue() *queue.Queue {
	return c.queue
}

// Flush sends every queued item through send exactly once and removes them only
// if send succeeds. An empty queue is a no-op that never calls send.
func (c *Coordinator) Flush(ctx context.Context, send BulkSender) (result FlushResult) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	result = FlushResult{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
	}()

	items, err := c.queue.Drain(ctx)
	if err != nil {
		result.Err = err
		c.finish(result)
		return result
	}
	if len(items) == 0 {
		return result
	}

	c.setStatus(FlushStatusFlushing)
	c.emit(FlushEvent{Type: FlushEventStarted, Pending: len(items)})
	logging.Info("flushing offline queue", map[string]interface{}{"pending": len(items)})

	if err := send(ctx, items); err != nil {
		result.Err = err
		logging.ErrorWithCode("offline queue flush failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{"pending": len(items)})
		c.finish(result)
		c.emit(FlushEvent{Type: FlushEventFailed, Pending: len(items), Err: err})
		return result
	}

	if err := c.queue.Ack(ctx, len(items)); err != nil {
		// Delivered but still queued: the next flush resends these items.
		result.Err = err
		logging.Error("could not remove flushed items from queue", err,
			map[string]interface{}{"sent": len(items)})
		c.finish(result)
		c.emit(FlushEvent{Type: FlushEventFailed, Pending: len(items), Err: err})
		return result
	}

	result.Sent = len(items)
	c.metrics.Flushed(ctx, result.Sent)
	logging.Info("offline queue flushed", map[string]interface{}{"sent": result.Sent})
	c.finish(result)

	pending, _ := c.queue.Len(ctx)
	c.emit(FlushEvent{Type: FlushEventCompleted, Sent: result.Sent, Pending: pending})
	return result
}

func (c *Coordinator) finish(r FlushResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Err != nil {
		c.status = FlushStatusFailed
		c.lastErr = r.Err
		return
	}
	now := time.Now()
	c.status = FlushStatusIdle
	c.lastFlush = &now
	c.lastErr = nil
}

func (c *Coordinator) setStatus(s FlushStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

func (c *Coordinator) emit(ev FlushEvent) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h.OnFlushEvent(ev)
	}
}

// Status returns the current flush status.
func (c *Coordinator) Status() FlushStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastFlush returns the time of the last successful non-empty flush.
func (c *Coordinator) LastFlush() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastFlush == nil {
		return nil
	}
	t := *c.lastFlush
	return &t
}

// LastError returns the error of the last flush, or nil if it succeeded.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Pending returns the queue length.
func (c *Coordinator) Pending(ctx context.Context) (int, error) {
	return c.queue.Len(ctx)
}
