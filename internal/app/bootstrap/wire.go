package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/events"
	httpadapter "github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/storage"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/contracts"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

// wiring accumulates what NewRuntime opened so a failure halfway through can release it.
type wiring struct {
	cfg     Config
	logger  *slog.Logger
	closers []io.Closer
	checks  map[string]httpadapter.ReadinessCheck
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		_ = w.closers[i].Close()
	}
	w.closers = nil
}

func (w *wiring) degraded(ctx context.Context, msg string) {
	w.logger.WarnContext(ctx, msg,
		"module", "bootstrap",
		"operation", "new_runtime",
		"outcome", "degraded",
	)
}

type repositories struct {
	sessions ports.SessionRepository
	files    ports.FileRepository
	jobs     ports.JobRepository
	outbox   ports.OutboxRepository
}

func (w *wiring) repositories(ctx context.Context) (repositories, error) {
	if w.cfg.DatabaseURL == "" {
		w.degraded(ctx, "no database configured, records are kept in memory")
		mem := memory.NewRepositories()
		return repositories{sessions: mem.Sessions, files: mem.Files, jobs: mem.Jobs, outbox: mem.Outbox}, nil
	}
	db, pool, err := postgres.Open(ctx, postgres.Options{URL: w.cfg.DatabaseURL, MaxConns: w.cfg.MaxDBConns})
	if err != nil {
		return repositories{}, err
	}
	w.closers = append(w.closers, pool)
	if err := postgres.RunMigrations(ctx, db); err != nil {
		return repositories{}, err
	}
	w.checks["postgres"] = pool.PingContext
	pg := postgres.NewRepositories(db)
	return repositories{sessions: pg.Sessions, files: pg.Files, jobs: pg.Jobs, outbox: pg.Outbox}, nil
}

func (w *wiring) storage(ctx context.Context) (ports.FileStorage, error) {
	if w.cfg.StorageDriver != "s3" {
		return storage.NewFilesystemStorage(w.cfg.StorageDir)
	}
	s3Storage, err := storage.NewS3Storage(ctx, storage.S3Config{
		Bucket:       w.cfg.S3Bucket,
		Region:       w.cfg.S3Region,
		Endpoint:     w.cfg.S3Endpoint,
		Prefix:       w.cfg.S3Prefix,
		UsePathStyle: w.cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	w.checks["s3"] = s3Storage.Ping
	return s3Storage, nil
}

// redis swaps the in-process queue and notifier for their shared counterparts. The
// returned relay is nil when no redis is configured.
func (w *wiring) redis(ctx context.Context, deps *application.Dependencies, bus *eventadapter.Bus) (*cache.NotificationRelay, error) {
	if w.cfg.RedisURL == "" {
		w.degraded(ctx, "no redis configured, job queue and notifications stay in process")
		deps.Queue = eventadapter.NewMemoryJobQueue()
		return nil, nil
	}
	client, err := cache.Connect(ctx, w.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, client)
	w.checks["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, client) }
	deps.Queue = cache.NewRedisJobQueue(client, w.cfg.RedisQueueKey)
	deps.Cache = cache.NewRedisResultCache(client)
	deps.Notifier = cache.NewRedisNotificationPublisher(client)
	return cache.NewNotificationRelay(w.logger, client, bus), nil
}

// events picks the outbox publisher and, when FileReady should trigger extraction, the
// consumer feeding it back. Without kafka both sides are an in-process broker.
func (w *wiring) events(ctx context.Context) (ports.EventPublisher, eventadapter.Consumer) {
	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(w.logger)
	if len(w.cfg.KafkaBrokers) == 0 {
		if !w.cfg.AutoMetadataExtraction {
			return publisher, nil
		}
		broker := eventadapter.NewMemoryBroker(publisher, contracts.EventFileReady)
		return broker, broker
	}

	kp, err := eventadapter.NewKafkaPublisher(w.cfg.KafkaBrokers, map[string]string{
		contracts.EventFileReady:            w.cfg.KafkaTopicFileReady,
		contracts.EventAnalysisCompleted:    w.cfg.KafkaTopicAnalysisCompleted,
		contracts.EventAnalysisDeadLettered: w.cfg.KafkaTopicAnalysisDLQ,
	})
	if err != nil {
		w.logger.WarnContext(ctx, "kafka publisher disabled, events are only logged", "module", "bootstrap", "error", err)
	} else {
		publisher = kp
		w.closers = append(w.closers, kp)
	}
	if !w.cfg.AutoMetadataExtraction {
		return publisher, nil
	}
	kc, err := eventadapter.NewKafkaConsumer(eventadapter.KafkaConsumerConfig{
		Brokers: w.cfg.KafkaBrokers,
		GroupID: w.cfg.KafkaConsumerGroup,
		Topics:  []string{w.cfg.KafkaTopicFileReady},
	})
	if err != nil {
		w.logger.WarnContext(ctx, "kafka consumer disabled, file ready events will not start extraction", "module", "bootstrap", "error", err)
		return publisher, nil
	}
	w.closers = append(w.closers, kc)
	return publisher, kc
}

func newVerifier(cfg Config) (*security.JWTVerifier, error) {
	switch {
	case cfg.JWTPrivateKey != "":
		return security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTPrivateKey, cfg.JWTPublicKey)
	case cfg.JWTPublicKey != "":
		return security.NewJWTVerifier(cfg.JWTPublicKey)
	default:
		return security.NewEphemeralJWTVerifier(cfg.JWTKeyID)
	}
}

// logDevToken prints a day-long token for an ephemeral key, which nobody else can mint.
func (w *wiring) logDevToken(ctx context.Context, verifier *security.JWTVerifier) {
	if w.cfg.JWTPublicKey != "" || w.cfg.JWTPrivateKey != "" {
		return
	}
	now := time.Now().UTC()
	token, err := verifier.Sign(ports.AuthClaims{UserID: "dev-user", Role: "creator", IssuedAt: now, ExpiresAt: now.Add(24 * time.Hour)})
	if err != nil {
		return
	}
	w.logger.WarnContext(ctx, "using ephemeral signing key, issued development token",
		"module", "bootstrap",
		"operation", "new_runtime",
		"outcome", "degraded",
		"user_id", "dev-user",
		"token", token,
	)
}

func (w *wiring) applicationConfig() application.Config {
	return application.Config{
		ServiceName:            w.cfg.ServiceID,
		WorkerID:               w.cfg.WorkerID,
		SessionTTL:             w.cfg.SessionTTL,
		MaxUploadBytes:         w.cfg.MaxUploadBytes,
		MinChunkSize:           w.cfg.MinChunkSize,
		MaxChunksPerSession:    w.cfg.MaxChunksPerSession,
		AllowedContentTypes:    w.cfg.AllowedContentTypes,
		JobBackoff:             w.cfg.JobBackoff,
		JobLivenessTimeout:     w.cfg.JobLivenessTimeout,
		AnalyzerTimeout:        w.cfg.AnalyzerTimeout,
		ResultCacheTTL:         w.cfg.ResultCacheTTL,
		AutoMetadataExtraction: w.cfg.AutoMetadataExtraction,
		ReaperBatchSize:        w.cfg.OutboxBatchSize,
	}
}
