// Package main provides the kiosk bridge for desktop gate stations. The gate screen
// talks to it via REST/WebSocket on localhost.
package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/gatesync/cmd/desktop/handlers"
	"github.com/kimhsiao/gatesync/internal/app"
	"github.com/kimhsiao/gatesync/internal/config"
	"github.com/kimhsiao/gatesync/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logging.Init(os.Stderr, logging.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		logging.Error("invalid configuration", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		logging.Error("desktop bridge stopped", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	hub := NewWSHub()
	defer hub.Close()
	a.Gate.Coordinator().SetEventHandler(hub)

	a.Scheduler.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("desktop bridge listening", map[string]interface{}{"addr": cfg.ListenAddr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logging.Info("shutting down desktop bridge")
	return srv.Shutdown(shutdownCtx)
}

// newRouter registers every route served to the gate screen.
func newRouter(a *app.App, hub *WSHub) http.Handler {
	gateHandler := handlers.NewGateHandler(a.Gate, a.Scheduler, hub)
	sessionHandler := handlers.NewSessionHandler(a.Client, a.Session)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok","service":"gatesync-desktop"}`))
		})

		r.Post("/scan", gateHandler.Scan)
		r.Post("/flush", gateHandler.Flush)
		r.Get("/queue", gateHandler.Queue)

		r.Get("/session", sessionHandler.Get)
		r.Post("/session/login", sessionHandler.Login)
		r.Post("/session/logout", sessionHandler.Logout)
	})

	r.Get("/ws", HandleWebSocket(hub))
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug("request served", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}
