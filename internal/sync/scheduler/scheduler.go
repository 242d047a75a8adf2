// Package scheduler runs background flushes of the offline queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
	syncpkg "github.com/kimhsiao/gatesync/internal/sync"
)

// Scheduler flushes the offline queue periodically and once whenever the station
// comes back online. Flush outcomes update the online flag.
type Scheduler struct {
	flusher       syncpkg.Flusher
	flushInterval time.Duration
	flushTimeout  time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
	isRunning     bool
	isOnline      bool
	lastResult    *syncpkg.FlushResult
	inProgress    bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	FlushInterval time.Duration // Periodic flush; zero disables the ticker (default: 0)
	FlushTimeout  time.Duration // Upper bound for one flush (default: 2 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		FlushTimeout: 2 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(flusher syncpkg.Flusher, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	timeout := config.FlushTimeout
	if timeout <= 0 {
		timeout = DefaultSchedulerConfig().FlushTimeout
	}

	return &Scheduler{
		flusher:       flusher,
		flushInterval: config.FlushInterval,
		flushTimeout:  timeout,
		stopCh:        make(chan struct{}),
		isOnline:      true, // Assume online initially
	}
}

// Start starts the periodic flush loop. Without an interval only online
// transitions and TriggerFlush cause flushes.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	if s.flushInterval > 0 {
		s.wg.Add(1)
		go s.periodicFlushLoop(ctx)
	}

	logging.Info("Auto-flush scheduler started", map[string]interface{}{
		"interval_seconds": s.flushInterval.Seconds(),
	})
}

// Stop stops the scheduler and waits for a running flush to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Auto-flush scheduler stopped")
}

// SetOnlineStatus records connectivity. Going from offline to online triggers a flush.
func (s *Scheduler) SetOnlineStatus(ctx context.Context, isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	running := s.isRunning
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	if isOnline && running {
		s.TriggerFlush(ctx)
	}
}

func (s *Scheduler) periodicFlushLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			// Ticks also run while offline; a flush is how connectivity is noticed.
			s.TriggerFlush(ctx)
		}
	}
}

// TriggerFlush starts a background flush. It returns false if one is already running.
func (s *Scheduler) TriggerFlush(ctx context.Context) bool {
	if !s.begin() {
		logging.Debug("Flush already in progress, skipping")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return true
}

// FlushNow flushes and waits for the result. If a background flush is running it
// returns an error instead of queueing a second one.
func (s *Scheduler) FlushNow(ctx context.Context) (syncpkg.FlushResult, error) {
	if !s.begin() {
		return syncpkg.FlushResult{}, errors.New(errors.ErrInvalid, "flush already in progress")
	}
	return s.run(ctx), nil
}

func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return false
	}
	s.inProgress = true
	return true
}

func (s *Scheduler) run(ctx context.Context) syncpkg.FlushResult {
	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	flushCtx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()

	result := s.flusher.Flush(flushCtx)

	s.mu.Lock()
	s.lastResult = &result
	switch {
	case result.Err == nil:
		s.isOnline = true
	case errors.IsTransient(result.Err):
		s.isOnline = false
	}
	s.mu.Unlock()

	if result.Err != nil {
		logging.ErrorWithCode("Auto-flush failed", string(errors.CodeOf(result.Err)), result.Err)
	}
	return result
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning    bool
	IsOnline     bool
	InProgress   bool
	LastFlush    *time.Time
	LastError    error
	PendingItems int
}

// GetStatus returns the current status of the scheduler. PendingItems is -1 when
// the queue cannot be read.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:  s.isRunning,
		IsOnline:   s.isOnline,
		InProgress: s.inProgress,
	}
	if s.lastResult != nil {
		status.LastError = s.lastResult.Err
	}
	s.mu.RUnlock()

	status.LastFlush = s.flusher.LastFlush()
	pending, err := s.flusher.Pending(ctx)
	if err != nil {
		pending = -1
	}
	status.PendingItems = pending
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
