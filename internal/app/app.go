// Package app provides the unified application lifecycle management for Telemetra.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	httpapi "github.com/telemetra/telemetra/internal/api/http"
	"github.com/telemetra/telemetra/internal/archive"
	"github.com/telemetra/telemetra/internal/audit"
	"github.com/telemetra/telemetra/internal/catalog"
	"github.com/telemetra/telemetra/internal/config"
	"github.com/telemetra/telemetra/internal/deadletter"
	"github.com/telemetra/telemetra/internal/intake"
	"github.com/telemetra/telemetra/internal/metrics"
	"github.com/telemetra/telemetra/internal/pipeline"
	"github.com/telemetra/telemetra/internal/query/executor"
	"github.com/telemetra/telemetra/internal/server"
	"github.com/telemetra/telemetra/internal/storage"
	"github.com/telemetra/telemetra/internal/store"
	"github.com/telemetra/telemetra/pkg/retry"
	"github.com/telemetra/telemetra/pkg/types"
)

// App manages all Telemetra service lifecycles.
type App struct {
	cfg *config.Config

	// Shared resources
	store    *store.SQLiteStore
	metrics  *metrics.Metrics
	auditor  audit.Sink
	shutdown *server.ShutdownManager

	// Intake components
	dlq      *deadletter.FileSink
	sink     *pipeline.Sink
	natsConn *nats.Conn
	natsSub  *intake.Subscriber

	// Catalog and query components
	refresher *catalog.Refresher
	engine    *executor.Engine

	// Cold-tier archiver
	archiver *archive.Archiver

	// Servers
	intakeServer *http.Server
	queryServer  *http.Server
	opsServer    *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg: cfg,
	}, nil
}

// Start initializes shared resources and starts all configured services.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	// The catalog refresher must come up before the query service; query
	// answers depend on a catalog snapshot being available.
	if a.cfg.ShouldRunCatalog() {
		if err := a.startCatalogService(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start catalog service: %w", err)
		}
	}

	if a.cfg.ShouldRunIntake() {
		if err := a.startIntakeService(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start intake service: %w", err)
		}
	}

	if a.cfg.ShouldRunQuery() {
		if err := a.startQueryService(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start query service: %w", err)
		}
	}

	if a.cfg.Archive.Enabled {
		if err := a.startArchiver(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start archiver: %w", err)
		}
	}

	a.startOpsServer()

	log.Printf("Telemetra started in %s mode", a.cfg.Mode)
	return nil
}

// initSharedResources initializes the record store, metrics, audit sink,
// and shutdown manager.
func (a *App) initSharedResources() error {
	var err error

	a.store, err = store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	log.Printf("Record store opened: %s", a.cfg.Store.Path)

	a.metrics = metrics.New()

	if a.cfg.Store.AuditPath != "" {
		fileSink, err := audit.NewFileSink(a.cfg.Store.AuditPath)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		a.auditor = fileSink
		log.Printf("Audit log opened: %s", a.cfg.Store.AuditPath)
	} else {
		a.auditor = audit.LogSink{}
	}

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	a.shutdown.RegisterCloser(a.store)
	a.shutdown.RegisterCloser(a.auditor)

	return nil
}

// startCatalogService opens the catalog database and starts the periodic
// refresh loop.
func (a *App) startCatalogService(ctx context.Context) error {
	var err error
	a.refresher, err = catalog.NewRefresher(a.store, catalog.Options{
		Path:       a.cfg.Catalog.Path,
		SampleSize: a.cfg.Catalog.SampleSize,
		Interval:   a.cfg.Catalog.RefreshInterval,
		Auditor:    a.auditor,
		Metrics:    a.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.shutdown.RegisterCloser(a.refresher)
	log.Printf("Catalog opened: %s (refresh every %s, sample %d)",
		a.cfg.Catalog.Path, a.cfg.Catalog.RefreshInterval, a.cfg.Catalog.SampleSize)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.refresher.Run(ctx)
	}()

	// Refresh once at startup so queries have a snapshot without waiting
	// a full interval. Failure is tolerable if a persisted entry exists.
	if _, err := a.refresher.Refresh(ctx); err != nil {
		log.Printf("Initial catalog refresh failed: %v", err)
	}

	return nil
}

// startIntakeService builds the processing pipeline, subscribes to the
// telemetry subject, and starts the intake HTTP server.
func (a *App) startIntakeService(ctx context.Context) error {
	dlq, err := deadletter.NewFileSink(a.cfg.Store.DeadLetterDir, 0)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter sink: %w", err)
	}
	a.dlq = dlq
	a.shutdown.RegisterCloser(dlq)
	log.Printf("Dead-letter sink opened: %s", a.cfg.Store.DeadLetterDir)

	writer := store.NewRetryWriter(a.store, retry.Config{
		MaxAttempts:  a.cfg.Store.RetryAttempts,
		InitialDelay: a.cfg.Store.RetryInitialDelay,
		MaxDelay:     a.cfg.Store.RetryMaxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}, a.metrics)
	processor := pipeline.NewProcessor(
		pipeline.NewRangeTable(a.cfg.Pipeline.Ranges),
		a.cfg.Pipeline.MaxClockSkew,
	)
	a.sink = pipeline.NewSink(writer, dlq, a.auditor, a.metrics)

	if a.cfg.NATS.Enabled {
		conn, err := intake.Connect(a.cfg.NATS)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
		}
		a.natsConn = conn

		handler := func(ctx context.Context, msg *types.TelemetryMessage, receivedAt time.Time) error {
			record, flags := processor.Process(msg, receivedAt)
			return a.sink.Write(ctx, record, flags)
		}
		a.natsSub = intake.NewSubscriber(conn, a.cfg.NATS, handler, a.auditor, a.metrics)
		if err := a.natsSub.Start(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", a.cfg.NATS.Subject, err)
		}
		a.shutdown.RegisterCloser(server.CloserFunc(func() error {
			err := a.natsSub.Stop()
			a.natsConn.Close()
			return err
		}))
	} else {
		log.Printf("NATS intake disabled; accepting telemetry over HTTP only")
	}

	ingestHandler := httpapi.NewIngestHandler(processor, a.sink, a.auditor, a.metrics)

	mux := http.NewServeMux()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)
	mux.Handle("/v1/ingest", middleware(ingestHandler))
	mux.Handle("/health", httpapi.NewHealthHandler(string(a.cfg.Mode)))

	a.intakeServer = &http.Server{
		Addr:         a.cfg.HTTP.IntakeAddr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.serveHTTP("intake", a.intakeServer)

	return nil
}

// startQueryService starts the query HTTP server. The query engine reads
// the live store and the catalog snapshot owned by the refresher.
func (a *App) startQueryService(ctx context.Context) error {
	if a.refresher == nil {
		return fmt.Errorf("query service requires the catalog refresher")
	}

	a.engine = executor.New(a.store, a.refresher, a.metrics)

	queryHandler := httpapi.NewQueryHandler(a.engine)
	catalogHandler := httpapi.NewCatalogHandler(a.refresher)

	mux := http.NewServeMux()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)
	mux.Handle("/v1/query", middleware(queryHandler))
	mux.Handle("/v1/catalog", middleware(http.HandlerFunc(catalogHandler.Current)))
	mux.Handle("/v1/catalog/refresh", middleware(http.HandlerFunc(catalogHandler.Refresh)))
	mux.Handle("/health", httpapi.NewHealthHandler(string(a.cfg.Mode)))

	a.queryServer = &http.Server{
		Addr:         a.cfg.HTTP.QueryAddr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.serveHTTP("query", a.queryServer)

	return nil
}

// startArchiver starts the cold-tier sweep loop. Archived segments are
// registered in the catalog so operators can locate them later.
func (a *App) startArchiver(ctx context.Context) error {
	if a.refresher == nil {
		return fmt.Errorf("archiver requires the catalog for segment registration")
	}

	objects, err := storage.New(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}
	log.Printf("Object storage initialized: type=%s", a.cfg.Storage.Type)

	a.archiver = archive.New(a.store, a.refresher, objects, archive.Options{
		HotWindow: a.cfg.Archive.HotWindow,
		Interval:  a.cfg.Archive.Interval,
		WorkDir:   a.cfg.Archive.WorkDir,
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.archiver.Run(ctx)
	}()
	log.Printf("Archiver started: hot window %s, sweep every %s",
		a.cfg.Archive.HotWindow, a.cfg.Archive.Interval)

	return nil
}

// startOpsServer exposes Prometheus metrics and a health endpoint on the
// operations address.
func (a *App) startOpsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/health", httpapi.NewHealthHandler(string(a.cfg.Mode)))

	a.opsServer = &http.Server{
		Addr:         a.cfg.HTTP.OpsAddr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.serveHTTP("ops", a.opsServer)
}

// serveHTTP runs an HTTP server in the app's wait group.
func (a *App) serveHTTP(name string, srv *http.Server) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("%s HTTP server listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("%s HTTP server error: %v", name, err)
		}
	}()
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	// Stop accepting new work first: unsubscribe from NATS, then drain
	// the HTTP servers. The record store closes last via the shutdown
	// manager's LIFO closer order.
	if a.natsSub != nil {
		if err := a.natsSub.Stop(); err != nil {
			log.Printf("NATS unsubscribe error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{a.intakeServer, a.queryServer, a.opsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	// Cancel background loops (catalog refresher, archiver).
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	if err := a.shutdown.Shutdown(shutdownCtx, "app stop"); err != nil {
		log.Printf("Resource cleanup error: %v", err)
	}

	log.Printf("Telemetra stopped")
	return nil
}

// cleanup releases resources after a failed start.
func (a *App) cleanup() {
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.dlq != nil {
		a.dlq.Close()
	}
	if a.refresher != nil {
		a.refresher.Close()
	}
	if a.auditor != nil {
		a.auditor.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
