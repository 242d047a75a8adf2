// Package gate submits check-in/check-out scans and falls back to the offline queue
// when the backend cannot be reached.
package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/gatesync/internal/client"
	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
	"github.com/kimhsiao/gatesync/internal/models"
	syncpkg "github.com/kimhsiao/gatesync/internal/sync"
)

const (
	ScanPath  = "/gate/scan"
	StatsPath = "/gate/stats/"

	// DuplicateWindow suppresses repeated reads of the same token from one scanner.
	DuplicateWindow = time.Second
)

// Status is the outcome of a submitted scan.
type Status string

const (
	StatusSent      Status = "sent"
	StatusQueued    Status = "queued"
	StatusDuplicate Status = "duplicate"
)

// Outcome describes what happened to a submitted scan.
type Outcome struct {
	Status Status           `json:"status"`
	Event  models.ScanEvent `json:"event"`
	// Response is the decoded backend answer when Status is StatusSent.
	Response interface{} `json:"response,omitempty"`
	// Depth is the queue length after queuing when Status is StatusQueued.
	Depth int `json:"depth,omitempty"`
}

// Service is the gate station.
type Service struct {
	client   *client.Client
	flusher  *syncpkg.Coordinator
	deviceID string
	now      func() time.Time

	mu       sync.Mutex
	lastRead map[string]time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDeviceID tags scans with id instead of models.DefaultDeviceID.
func WithDeviceID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.deviceID = id
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service sending through c and queuing into coord's queue.
func New(c *client.Client, coord *syncpkg.Coordinator, opts ...Option) *Service {
	s := &Service{
		client:   c,
		flusher:  coord,
		deviceID: models.DefaultDeviceID,
		now:      time.Now,
		lastRead: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeviceID returns the id scans are tagged with.
func (s *Service) DeviceID() string {
	return s.deviceID
}

// Scan posts one scan.
func (s *Service) Scan(ctx context.Context, ev models.ScanEvent) (*client.Result, error) {
	return s.client.Request(ctx, ScanPath, client.Options{Method: http.MethodPost, Body: ev})
}

// Bulk posts items as one {items: [...]} request.
func (s *Service) Bulk(ctx context.Context, items []models.ScanEvent) (*client.Result, error) {
	return s.client.Request(ctx, ScanPath, client.Options{
		Method: http.MethodPost,
		Body:   models.BulkPayload{Items: items},
	})
}

// Stats returns the gate counters of an event.
func (s *Service) Stats(ctx context.Context, eventID string, params url.Values) (interface{}, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, errors.New(errors.ErrInvalid, "event id is required")
	}
	res, err := s.client.Request(ctx, client.WithQuery(StatsPath+url.PathEscape(eventID), params), client.Options{})
	if err != nil {
		return nil, err
	}
	return res.Value(), nil
}

// SubmitRequest is one read from a scanner.
type SubmitRequest struct {
	Token      string
	DayEventID string
	Action     models.Action
	// Source distinguishes scanners for duplicate suppression; empty is one shared source.
	Source string
}

// Submit sends a scan. If the backend cannot be reached the scan is queued and
// Submit succeeds with StatusQueued. Rejections are returned and never queued. A
// queue write failure is returned as PERSISTENCE_ERROR.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Outcome, error) {
	token := strings.TrimSpace(req.Token)
	action := req.Action
	if action == "" {
		action = models.ActionCheckin
	}
	ev := models.NewScanEvent(token, strings.TrimSpace(req.DayEventID), action, s.deviceID, s.now())
	if err := ev.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "invalid scan", err)
	}

	if s.isDuplicate(req.Source, token) {
		logging.Debug("duplicate read suppressed", map[string]interface{}{"source": req.Source})
		return &Outcome{Status: StatusDuplicate, Event: ev}, nil
	}

	res, err := s.Scan(ctx, ev)
	if err == nil {
		return &Outcome{Status: StatusSent, Event: ev, Response: res.Value()}, nil
	}
	if !shouldQueue(err) {
		return nil, err
	}

	depth, qerr := s.flusher.Queue().Enqueue(ctx, ev)
	if qerr != nil {
		logging.ErrorWithCode("scan could not be queued", string(errors.ErrPersistence), qerr,
			map[string]interface{}{"day_event_id": ev.DayEventID})
		return nil, qerr
	}
	return &Outcome{Status: StatusQueued, Event: ev, Depth: depth}, nil
}

// shouldQueue reports whether a failed scan should wait in the offline queue: the
// backend was unreachable, either for the scan or for the token refresh it needed.
func shouldQueue(err error) bool {
	if errors.IsTransient(err) {
		return true
	}
	return errors.Is(err, errors.ErrRefreshFailed) && errors.InChain(err, errors.ErrTransient)
}

func (s *Service) isDuplicate(source, token string) bool {
	key := source + "\x00" + token
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.lastRead {
		if now.Sub(at) >= DuplicateWindow {
			delete(s.lastRead, k)
		}
	}
	if _, seen := s.lastRead[key]; seen {
		return true
	}
	s.lastRead[key] = now
	return false
}

// Flush sends the offline queue as one bulk request.
func (s *Service) Flush(ctx context.Context) syncpkg.FlushResult {
	return s.flusher.Flush(ctx, func(ctx context.Context, items []models.ScanEvent) error {
		_, err := s.Bulk(ctx, items)
		return err
	})
}

// Pending returns the offline queue length.
func (s *Service) Pending(ctx context.Context) (int, error) {
	return s.flusher.Pending(ctx)
}

// LastFlush returns the time of the last successful non-empty flush.
func (s *Service) LastFlush() *time.Time {
	return s.flusher.LastFlush()
}

// Coordinator returns the flush coordinator, e.g. to register an event handler.
func (s *Service) Coordinator() *syncpkg.Coordinator {
	return s.flusher
}

var _ syncpkg.Flusher = (*Service)(nil)

// String implements fmt.Stringer for log lines.
func (o Outcome) String() string {
	switch o.Status {
	case StatusQueued:
		return fmt.Sprintf("queued (%d pending)", o.Depth)
	default:
		return string(o.Status)
	}
}
