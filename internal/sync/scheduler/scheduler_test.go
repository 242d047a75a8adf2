// Package scheduler tests for background flush scheduling.
package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/gatesync/internal/errors"
	syncpkg "github.com/kimhsiao/gatesync/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeFlusher counts flushes and returns a configurable result.
type fakeFlusher struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	flushed chan struct{}
	last    *time.Time
}

func newFakeFlusher() *fakeFlusher {
	return &fakeFlusher{flushed: make(chan struct{}, 16)}
}

func (f *fakeFlusher) Flush(ctx context.Context) syncpkg.FlushResult {
	f.mu.Lock()
	f.calls++
	block := f.block
	err := f.err
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err == nil {
		now := time.Now()
		f.mu.Lock()
		f.last = &now
		f.mu.Unlock()
	}
	f.flushed <- struct{}{}
	return syncpkg.FlushResult{Sent: 1, Err: err}
}

func (f *fakeFlusher) Pending(context.Context) (int, error) { return 3, nil }

func (f *fakeFlusher) LastFlush() *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitFlush(t *testing.T, f *fakeFlusher) {
	t.Helper()
	select {
	case <-f.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a flush")
	}
}

// =====================================================
// Construction
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	if config.FlushInterval != 0 {
		t.Errorf("FlushInterval = %v, want 0 (disabled)", config.FlushInterval)
	}
	if config.FlushTimeout != 2*time.Minute {
		t.Errorf("FlushTimeout = %v, want 2m", config.FlushTimeout)
	}
}

// TestNewScheduler_nilConfig verifies the defaults are applied.
func TestNewScheduler_nilConfig(t *testing.T) {
	s := NewScheduler(newFakeFlusher(), nil)
	if s.flushTimeout != 2*time.Minute {
		t.Errorf("flushTimeout = %v, want 2m", s.flushTimeout)
	}
	if !s.IsOnline() {
		t.Error("isOnline should be true by default")
	}
	if s.IsRunning() {
		t.Error("scheduler should not run before Start")
	}
}

// =====================================================
// Start/Stop
// =====================================================

// TestScheduler_StartStop verifies Start and Stop are idempotent.
func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(newFakeFlusher(), &SchedulerConfig{FlushInterval: time.Hour})
	ctx := context.Background()

	s.Start(ctx)
	s.Start(ctx)
	if !s.IsRunning() {
		t.Error("Start() should set isRunning")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("Stop() should clear isRunning")
	}
}

// TestScheduler_periodicFlush verifies the ticker flushes.
func TestScheduler_periodicFlush(t *testing.T) {
	f := newFakeFlusher()
	s := NewScheduler(f, &SchedulerConfig{FlushInterval: 20 * time.Millisecond})
	s.Start(context.Background())
	defer s.Stop()

	waitFlush(t, f)
	waitFlush(t, f)
	if f.count() < 2 {
		t.Errorf("flushes = %d, want at least 2", f.count())
	}
}

// =====================================================
// Online status
// =====================================================

// TestScheduler_reconnectFlushes verifies going online triggers a flush.
func TestScheduler_reconnectFlushes(t *testing.T) {
	f := newFakeFlusher()
	s := NewScheduler(f, nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop()

	s.SetOnlineStatus(ctx, false)
	if f.count() != 0 {
		t.Fatal("going offline should not flush")
	}

	s.SetOnlineStatus(ctx, true)
	waitFlush(t, f)

	s.SetOnlineStatus(ctx, true)
	time.Sleep(20 * time.Millisecond)
	if f.count() != 1 {
		t.Errorf("flushes = %d, want 1 (no flush without a transition)", f.count())
	}
}

// TestScheduler_transientFailureGoesOffline verifies flush outcomes drive the flag.
func TestScheduler_transientFailureGoesOffline(t *testing.T) {
	f := newFakeFlusher()
	f.err = errors.Transient("POST /gate/scan", stderrors.New("no route to host"))
	s := NewScheduler(f, nil)

	if _, err := s.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow() error = %v", err)
	}
	if s.IsOnline() {
		t.Error("a transient failure should mark the scheduler offline")
	}
	if st := s.GetStatus(context.Background()); st.LastError == nil {
		t.Error("status should carry the last error")
	}

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	res, _ := s.FlushNow(context.Background())
	if !res.OK() || !s.IsOnline() {
		t.Error("a successful flush should mark the scheduler online")
	}
}

// TestScheduler_httpFailureKeepsOnline verifies a server rejection is not a connectivity signal.
func TestScheduler_httpFailureKeepsOnline(t *testing.T) {
	f := newFakeFlusher()
	f.err = errors.HTTP(422, "bad item", "")
	s := NewScheduler(f, nil)

	s.FlushNow(context.Background())
	if !s.IsOnline() {
		t.Error("an HTTP error should not mark the scheduler offline")
	}
}

// =====================================================
// Overlap
// =====================================================

// TestScheduler_oneFlushInFlight verifies triggers are dropped while a flush runs.
func TestScheduler_oneFlushInFlight(t *testing.T) {
	f := newFakeFlusher()
	f.block = make(chan struct{})
	s := NewScheduler(f, nil)
	ctx := context.Background()

	if !s.TriggerFlush(ctx) {
		t.Fatal("first TriggerFlush() should start a flush")
	}
	if s.TriggerFlush(ctx) {
		t.Error("second TriggerFlush() should be skipped")
	}
	if _, err := s.FlushNow(ctx); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("FlushNow() during a flush error = %v, want INVALID_INPUT", err)
	}
	if !s.GetStatus(ctx).InProgress {
		t.Error("status should report the running flush")
	}

	close(f.block)
	waitFlush(t, f)
	s.Stop()
	s.wg.Wait()

	if f.count() != 1 {
		t.Errorf("flushes = %d, want 1", f.count())
	}
}

// TestScheduler_GetStatus verifies the status snapshot.
func TestScheduler_GetStatus(t *testing.T) {
	f := newFakeFlusher()
	s := NewScheduler(f, nil)
	s.FlushNow(context.Background())

	st := s.GetStatus(context.Background())
	if st.PendingItems != 3 {
		t.Errorf("PendingItems = %d, want 3", st.PendingItems)
	}
	if st.LastFlush == nil {
		t.Error("LastFlush should be set after a successful flush")
	}
	if st.InProgress || st.IsRunning {
		t.Errorf("status = %+v", st)
	}
}
