package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/analyzer"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/events"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/gateway"
	httpadapter "github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownGrace = 10 * time.Second

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	healthSrv  *health.Server
	registry   *gateway.Registry
	relay      *cache.NotificationRelay
	sweeper    func(context.Context) error
	workers    []func(context.Context) error
	cleanup    func()
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	w := &wiring{cfg: cfg, logger: logger, checks: map[string]httpadapter.ReadinessCheck{}}
	rt, err := w.build(ctx)
	if err != nil {
		w.close()
		return nil, err
	}
	return rt, nil
}

func (w *wiring) build(ctx context.Context) (*Runtime, error) {
	repos, err := w.repositories(ctx)
	if err != nil {
		return nil, err
	}
	fileStorage, err := w.storage(ctx)
	if err != nil {
		return nil, err
	}

	bus := eventadapter.NewBus(w.cfg.NotificationBuffer)
	deps := application.Dependencies{
		Config:   w.applicationConfig(),
		Sessions: repos.sessions,
		Files:    repos.files,
		Jobs:     repos.jobs,
		Outbox:   repos.outbox,
		Storage:  fileStorage,
		Analyzer: analyzer.NewRouter(fileStorage, analyzer.NewRemoteAnalyzer(w.cfg.AnalyzerURL, w.cfg.AnalyzerTimeout)),
		Notifier: bus,
	}
	relay, err := w.redis(ctx, &deps, bus)
	if err != nil {
		return nil, err
	}
	if w.cfg.InMemory() && !w.cfg.EmbeddedWorker {
		w.degraded(ctx, "embedded worker forced on while running without durable dependencies")
		w.cfg.EmbeddedWorker = true
	}
	service := application.NewService(deps)

	verifier, err := newVerifier(w.cfg)
	if err != nil {
		return nil, err
	}
	w.logDevToken(ctx, verifier)

	registry := gateway.NewRegistry()
	sockets := gateway.New(w.logger, service, bus, verifier, registry, gateway.Config{
		ReadTimeout:    w.cfg.SocketReadTimeout,
		AllowedOrigins: w.cfg.AllowedOrigins,
	})
	router := httpadapter.NewRouter(httpadapter.NewHandler(service, verifier, w.checks), sockets)

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", w.cfg.GRPCPort))
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, lis)

	publisher, consumer := w.events(ctx)
	workers := []func(context.Context) error{
		eventadapter.NewOutboxWorker(w.logger, repos.outbox, publisher, w.cfg.OutboxPollInterval, w.cfg.OutboxBatchSize).Run,
		eventadapter.NewJobWorker(w.logger, service, w.cfg.JobPollInterval).Run,
		eventadapter.NewReaperWorker(w.logger, service, w.cfg.ReaperInterval).Run,
	}
	if consumer != nil {
		workers = append(workers, eventadapter.NewConsumerWorker(w.logger, consumer, service, w.cfg.ConsumerPollInterval).Run)
	}

	closers := w.closers
	return &Runtime{
		cfg:    w.cfg,
		logger: w.logger,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", w.cfg.HTTPPort),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcServer: grpcServer,
		grpcLis:    lis,
		healthSrv:  healthSrv,
		registry:   registry,
		relay:      relay,
		sweeper:    eventadapter.NewSessionSweepWorker(w.logger, service, w.cfg.ReaperInterval).Run,
		workers:    workers,
		cleanup: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, len(r.workers)+4)

	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- err
		}
	}()
	if r.relay != nil {
		r.spawn(ctx, errCh, r.relay.Run)
	}
	r.spawn(ctx, errCh, r.sweeper)
	if r.cfg.EmbeddedWorker {
		r.startWorkers(ctx, errCh)
	}
	r.logger.InfoContext(ctx, "api runtime started",
		"module", "bootstrap",
		"operation", "run_api",
		"http_port", r.cfg.HTTPPort,
		"grpc_port", r.cfg.GRPCPort,
		"embedded_worker", r.cfg.EmbeddedWorker,
		"workers", len(r.workers),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "module", "bootstrap", "operation", "run_api", "error", runErr)
	}

	r.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	closed := r.registry.CloseAll("server shutting down")
	r.logger.InfoContext(shutdownCtx, "closed websocket connections",
		"module", "bootstrap",
		"operation", "run_api",
		"connections", closed,
	)
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanup()
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, len(r.workers))
	r.startWorkers(ctx, errCh)
	r.logger.InfoContext(ctx, "worker runtime started", "module", "bootstrap", "operation", "run_worker", "workers", len(r.workers))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	r.grpcServer.Stop()
	r.cleanup()
	return runErr
}

func (r *Runtime) startWorkers(ctx context.Context, errCh chan<- error) {
	for _, run := range r.workers {
		r.spawn(ctx, errCh, run)
	}
}

func (r *Runtime) spawn(ctx context.Context, errCh chan<- error, run func(context.Context) error) {
	go func() {
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
}
