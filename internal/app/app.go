// Package app wires the gate client from bootstrap configuration. Both binaries
// build on it.
package app

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/kimhsiao/gatesync/internal/backend"
	"github.com/kimhsiao/gatesync/internal/client"
	"github.com/kimhsiao/gatesync/internal/config"
	"github.com/kimhsiao/gatesync/internal/crypto"
	"github.com/kimhsiao/gatesync/internal/db"
	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/gate"
	"github.com/kimhsiao/gatesync/internal/logging"
	"github.com/kimhsiao/gatesync/internal/session"
	"github.com/kimhsiao/gatesync/internal/storage"
	syncpkg "github.com/kimhsiao/gatesync/internal/sync"
	"github.com/kimhsiao/gatesync/internal/sync/queue"
	"github.com/kimhsiao/gatesync/internal/sync/scheduler"
	"github.com/kimhsiao/gatesync/internal/telemetry"
	"github.com/kimhsiao/gatesync/internal/transport"
	"github.com/kimhsiao/gatesync/internal/uuid"
)

// ServiceName identifies this client in telemetry.
const ServiceName = "gatesync"

// SettingsFile is the JSON store used when GATE_STORE=file.
const SettingsFile = "settings.json"

// App holds the wired components.
type App struct {
	Config    *config.Config
	Store     storage.Store
	Session   *session.Session
	Client    *client.Client
	Gate      *gate.Service
	Backend   *backend.API
	Scheduler *scheduler.Scheduler
	Telemetry *telemetry.Provider
	Metrics   *telemetry.Metrics
}

// Option adjusts wiring, mostly for tests.
type Option func(*options)

type options struct {
	store      storage.Store
	performer  client.Performer
	clientOpts []client.Option
}

// WithStore uses s instead of opening the configured backend.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithPerformer replaces the transport selector.
func WithPerformer(p client.Performer) Option {
	return func(o *options) { o.performer = p }
}

// WithClientOptions passes extra options to the request executor.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// New opens the store, loads the session and wires every component. Call Close when done.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logging.Get().SetLevel(logging.ParseLevel(cfg.LogLevel))

	tp, err := telemetry.NewProvider(ctx, cfg.OTelEndpoint, ServiceName)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "telemetry", err)
	}
	if tp.IsEnabled() {
		tp.SetGlobal()
	}
	metrics, err := telemetry.NewMetrics(tp.MeterProvider)
	if err != nil {
		tp.Shutdown(ctx)
		return nil, errors.Wrap(errors.ErrInternal, "create metrics", err)
	}

	store := o.store
	if store == nil {
		store, err = OpenStore(ctx, cfg)
		if err != nil {
			tp.Shutdown(ctx)
			return nil, err
		}
	}

	a := &App{Config: cfg, Store: store, Telemetry: tp, Metrics: metrics}
	if err := a.wire(ctx, o); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	cfg := a.Config

	var sealer *crypto.Sealer
	if cfg.Secret != "" {
		s, err := crypto.NewSealer(cfg.Secret)
		if err != nil {
			return errors.Wrap(errors.ErrInvalid, "token sealing", err)
		}
		sealer = s
	}

	a.Session = session.New(a.Store, sealer)
	if err := a.Session.Load(ctx, session.Defaults{BaseURL: cfg.BaseURL, Tenant: cfg.Tenant}); err != nil {
		return err
	}

	performer := o.performer
	if performer == nil {
		performer = transport.NewSelector(
			transport.NewDirect(cfg.HTTPTimeoutDuration()),
			transport.NewFallback(cfg.FallbackTimeoutDuration()),
		).WithMetrics(a.Metrics)
	}
	clientOpts := append([]client.Option{client.WithMetrics(a.Metrics)}, o.clientOpts...)
	a.Client = client.New(a.Session, performer, clientOpts...)

	deviceID, err := resolveDeviceID(ctx, a.Store, cfg.DeviceID)
	if err != nil {
		return err
	}

	q := queue.New(a.Store, queue.WithMetrics(a.Metrics))
	coord := syncpkg.NewCoordinator(q, a.Metrics)
	a.Gate = gate.New(a.Client, coord, gate.WithDeviceID(deviceID))
	a.Backend = backend.New(a.Client)
	a.Scheduler = scheduler.NewScheduler(a.Gate, &scheduler.SchedulerConfig{
		FlushInterval: cfg.FlushIntervalDuration(),
	})

	logging.Info("gate client ready", map[string]interface{}{
		"base_url":  a.Session.BaseURL(),
		"tenant":    a.Session.Tenant(),
		"device_id": deviceID,
		"store":     cfg.Store,
		"metrics":   a.Telemetry.IsEnabled(),
	})
	return nil
}

// OpenStore opens the persistence backend selected by cfg.Store.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreFile:
		return storage.NewFileStore(filepath.Join(cfg.DataDir, SettingsFile))
	case config.StoreRedis:
		rc, err := storage.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return storage.NewRedisStore(rc, "gatesync:"+cfg.Tenant+":"), nil
	case config.StoreSQLite, "":
		return db.OpenSettingsStore(cfg.DataDir)
	default:
		return nil, errors.New(errors.ErrInvalid, "unknown store "+cfg.Store)
	}
}

// resolveDeviceID prefers the configured id, then a persisted one. With neither, an
// id is generated and persisted so the station keeps it across restarts.
func resolveDeviceID(ctx context.Context, store storage.Store, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	id, err := storage.GetString(ctx, store, storage.KeyDeviceID, "")
	if err != nil {
		return "", errors.Persistence("read device id", err)
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewDeviceID()
	if err := store.Set(ctx, storage.KeyDeviceID, []byte(id)); err != nil {
		return "", errors.Persistence("save device id", err)
	}
	return id, nil
}

// Close stops the scheduler, flushes metrics and closes the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Telemetry != nil && a.Telemetry.Shutdown != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Hostname is used in status output; it never fails.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
