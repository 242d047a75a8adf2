package sync

import (
	"context"
	"time"
)

// Flusher is what the auto-flush scheduler drives. It binds a Coordinator to a
// bulk sender; gate.Service implements it.
type Flusher interface {
	// Flush delivers the offline queue.
	Flush(ctx context.Context) FlushResult

	// Pending returns the number of queued items.
	Pending(ctx context.Context) (int, error)

	// LastFlush returns the time of the last successful non-empty flush.
	LastFlush() *time.Time
}
