package application

import (
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

type Config struct {
	ServiceName string
	WorkerID    string

	SessionTTL          time.Duration
	MaxUploadBytes      int64
	MinChunkSize        int64
	MaxChunksPerSession int
	AllowedContentTypes []string

	MaxJobAttempts         int
	JobBackoff             time.Duration
	JobLivenessTimeout     time.Duration
	AnalyzerTimeout        time.Duration
	ResultCacheTTL         time.Duration
	AutoMetadataExtraction bool

	ReaperBatchSize int
}

type Actor struct {
	UserID    string
	RequestID string
}

type Service struct {
	cfg Config

	sessions ports.SessionRepository
	files    ports.FileRepository
	jobs     ports.JobRepository
	outbox   ports.OutboxRepository

	storage  ports.FileStorage
	analyzer ports.ContentAnalyzer
	cache    ports.ResultCache
	queue    ports.JobQueue
	notifier ports.NotificationPublisher

	slots *sessionSlots
	nowFn func() time.Time
}

type Dependencies struct {
	Config Config

	Sessions ports.SessionRepository
	Files    ports.FileRepository
	Jobs     ports.JobRepository
	Outbox   ports.OutboxRepository

	Storage  ports.FileStorage
	Analyzer ports.ContentAnalyzer
	Cache    ports.ResultCache
	Queue    ports.JobQueue
	Notifier ports.NotificationPublisher
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "M07-Media-Upload-Service"
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = cfg.ServiceName
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = domain.DefaultSessionTTL
	}
	if cfg.MaxChunksPerSession <= 0 {
		cfg.MaxChunksPerSession = domain.DefaultMaxChunks
	}
	if cfg.MaxJobAttempts <= 0 {
		cfg.MaxJobAttempts = domain.MaxJobAttempts
	}
	if cfg.JobBackoff <= 0 {
		cfg.JobBackoff = domain.DefaultJobBackoff
	}
	if cfg.JobLivenessTimeout <= 0 {
		cfg.JobLivenessTimeout = 30 * time.Minute
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = 10 * time.Minute
	}
	if cfg.ResultCacheTTL <= 0 {
		cfg.ResultCacheTTL = 2 * time.Hour
	}
	if cfg.ReaperBatchSize <= 0 {
		cfg.ReaperBatchSize = 100
	}
	return &Service{
		cfg:      cfg,
		sessions: deps.Sessions,
		files:    deps.Files,
		jobs:     deps.Jobs,
		outbox:   deps.Outbox,
		storage:  deps.Storage,
		analyzer: deps.Analyzer,
		cache:    deps.Cache,
		queue:    deps.Queue,
		notifier: deps.Notifier,
		slots:    newSessionSlots(),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests use it to step past TTLs and backoffs.
func (s *Service) SetClock(now func() time.Time) {
	s.nowFn = now
}

func (s *Service) Config() Config {
	return s.cfg
}
