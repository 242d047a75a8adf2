// Package queue provides the persisted offline queue of gate scans.
//
// The whole queue lives under one key of a storage.Store as a JSON array, so every
// change is a single read-modify-write of that slot. Entries are never reordered.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
	"github.com/kimhsiao/gatesync/internal/models"
	"github.com/kimhsiao/gatesync/internal/storage"
	"github.com/kimhsiao/gatesync/internal/telemetry"
)

// Queue is the offline queue. A Queue serializes its own read-modify-write cycles;
// two Queue values over the same store and key are not coordinated.
type Queue struct {
	store   storage.Store
	key     string
	mu      sync.Mutex
	metrics *telemetry.Metrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey stores the queue under key instead of storage.KeyQueue.
func WithKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

// WithMetrics counts enqueued entries on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates a Queue over store.
func New(store storage.Store, opts ...Option) *Queue {
	q := &Queue{store: store, key: storage.KeyQueue}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends e and returns the new queue length. The entry is persisted before
// Enqueue returns; on error nothing was written and the caller still owns the scan.
func (q *Queue) Enqueue(ctx context.Context, e models.ScanEvent) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.read(ctx)
	if err != nil {
		return 0, err
	}
	items = append(items, e)
	if err := q.write(ctx, items); err != nil {
		return 0, err
	}

	q.metrics.Enqueued(ctx)
	logging.Info("scan queued offline", map[string]interface{}{
		"day_event_id": e.DayEventID,
		"action":       string(e.Action),
		"depth":        len(items),
	})
	return len(items), nil
}

// Drain returns every queued entry in insertion order without removing any.
func (q *Queue) Drain(ctx context.Context) ([]models.ScanEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read(ctx)
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.Drain(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Clear replaces the queue with an empty one.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.write(ctx, []models.ScanEvent{}); err != nil {
		return err
	}
	logging.Info("offline queue cleared")
	return nil
}

// Ack removes the first n entries, the ones a successful flush delivered. Entries
// appended after the flush read the queue are kept.
func (q *Queue) Ack(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.read(ctx)
	if err != nil {
		return err
	}
	if n > len(items) {
		return errors.New(errors.ErrInternal, fmt.Sprintf("ack %d entries, queue holds %d", n, len(items)))
	}
	return q.write(ctx, append([]models.ScanEvent{}, items[n:]...))
}

func (q *Queue) read(ctx context.Context) ([]models.ScanEvent, error) {
	raw, err := q.store.Get(ctx, q.key)
	if stderrors.Is(err, storage.ErrNotFound) || (err == nil && len(raw) == 0) {
		return []models.ScanEvent{}, nil
	}
	if err != nil {
		return nil, errors.Persistence("read offline queue", err)
	}

	var items []models.ScanEvent
	if err := json.Unmarshal(raw, &items); err != nil {
		// Never reset a queue we cannot read: it may hold scans nobody has delivered.
		return nil, errors.Persistence("offline queue is corrupt", err)
	}
	if items == nil {
		items = []models.ScanEvent{}
	}
	return items, nil
}

func (q *Queue) write(ctx context.Context, items []models.ScanEvent) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "encode offline queue", err)
	}
	if err := q.store.Set(ctx, q.key, raw); err != nil {
		return errors.Persistence("write offline queue", err)
	}
	return nil
}
