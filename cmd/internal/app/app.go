// Package app wires the archive server runtime: config, logging, storage,
// HTTP routes, the realtime gateway, and retention.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mam/cmd/identity"
	"mam/cmd/internal/archive"
	"mam/cmd/internal/realtime"
)

// App is the server runtime: it owns the stores, the archive service, and
// the HTTP and realtime wiring.
type App struct {
	cfg Config
	log Logger

	stores  *storeSet
	svc     *archive.Service
	sweeper *archive.Sweeper
	ws      *realtime.Gateway

	registry *prometheus.Registry
	metrics  *archive.Metrics
}

// New constructs a fully wired App: stores are opened and one archive actor
// is started per configured domain.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	stores, err := openStores(ctx, cfg.Archive, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := archive.NewMetrics(reg)

	policy, err := optOutPolicy(cfg.Archive.OptOut)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	router := realtime.NewRouter(log)
	svc := archive.NewService(archive.ServiceConfig{
		Emitter:          router,
		Policy:           policy,
		IgnoreGroupChats: cfg.Archive.IgnoreGroupChat,
		MailboxSize:      cfg.Archive.MailboxSize,
		EmissionLimit:    cfg.Archive.EmissionLimit,
		WriteTimeout:     cfg.Archive.WriteTimeout,
		Log:              log,
		Metrics:          metrics,
	})
	for domain, st := range stores.Stores() {
		if err := svc.Start(domain, st); err != nil {
			_ = svc.Close()
			_ = stores.Close()
			return nil, err
		}
	}

	sweeper, err := archive.NewSweeper(archive.SweeperConfig{
		Cron:    cfg.Archive.RetentionCron,
		MaxAge:  cfg.Archive.RetentionMaxAge,
		Stores:  svc.Stores,
		Log:     log,
		Metrics: metrics,
	})
	if err != nil {
		_ = svc.Close()
		_ = stores.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		stores:   stores,
		svc:      svc,
		sweeper:  sweeper,
		ws:       realtime.NewGateway(log, router, svc, cfg.WS),
		registry: reg,
		metrics:  metrics,
	}, nil
}

func optOutPolicy(owners []string) (archive.Policy, error) {
	if len(owners) == 0 {
		return archive.AlwaysArchive, nil
	}
	jids := make([]identity.JID, 0, len(owners))
	for _, o := range owners {
		j, err := identity.ParseJID(o)
		if err != nil {
			return nil, err
		}
		jids = append(jids, j)
	}
	return archive.NewOptOutPolicy(jids...), nil
}

// Handler returns the HTTP handler with request logging applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.svc, a.ws, a.registry)
	return WithRequestLogging(mux, a.log)
}

// Run starts the HTTP server and the retention sweeper and blocks until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"backend", a.cfg.Archive.Backend,
		"domains", a.svc.Domains(),
		"retention", a.sweeper.Enabled(),
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		_ = a.sweeper.Run(sweepCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	stopSweep()
	<-sweepDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	if err := a.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Migrate creates the archive layout in every configured store.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.stores.Migrate(ctx); err != nil {
		return err
	}
	a.log.Info("archive.migrate.ok", "backend", a.cfg.Archive.Backend, "domains", a.svc.Domains())
	return nil
}

// Purge deletes records archived before cutoff from every store.
func (a *App) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return archive.PurgeAll(ctx, a.svc.Stores(), cutoff, a.log, a.metrics)
}

// Close stops the archive actors, then closes the stores they used.
func (a *App) Close() error {
	_ = a.svc.Close()
	return a.stores.Close()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
