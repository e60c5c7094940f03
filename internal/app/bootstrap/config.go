package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceID string
	WorkerID  string

	HTTPPort int
	GRPCPort int

	DatabaseURL                 string
	RedisURL                    string
	RedisQueueKey               string
	MaxDBConns                  int32
	KafkaBrokers                []string
	KafkaConsumerGroup          string
	KafkaTopicFileReady         string
	KafkaTopicAnalysisCompleted string
	KafkaTopicAnalysisDLQ       string
	AnalyzerURL                 string

	StorageDriver  string
	StorageDir     string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3Prefix       string
	S3UsePathStyle bool

	JWTKeyID       string
	JWTPublicKey   string
	JWTPrivateKey  string
	AllowedOrigins []string

	SessionTTL          time.Duration
	MaxUploadBytes      int64
	MinChunkSize        int64
	MaxChunksPerSession int
	AllowedContentTypes []string

	JobBackoff             time.Duration
	JobLivenessTimeout     time.Duration
	AnalyzerTimeout        time.Duration
	ResultCacheTTL         time.Duration
	AutoMetadataExtraction bool

	EmbeddedWorker       bool
	JobPollInterval      time.Duration
	ReaperInterval       time.Duration
	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	ConsumerPollInterval time.Duration
	SocketReadTimeout    time.Duration
	NotificationBuffer   int
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		WorkerID string `yaml:"worker_id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL                 string   `yaml:"postgres_url"`
		RedisURL                    string   `yaml:"redis_url"`
		KafkaBrokers                []string `yaml:"kafka_brokers"`
		KafkaConsumerGroup          string   `yaml:"kafka_consumer_group"`
		KafkaTopicFileReady         string   `yaml:"kafka_topic_file_ready"`
		KafkaTopicAnalysisCompleted string   `yaml:"kafka_topic_analysis_completed"`
		KafkaTopicAnalysisDLQ       string   `yaml:"kafka_topic_analysis_dlq"`
		AnalyzerURL                 string   `yaml:"analyzer_url"`
	} `yaml:"dependencies"`
	Storage struct {
		Driver         string `yaml:"driver"`
		Directory      string `yaml:"directory"`
		S3Bucket       string `yaml:"s3_bucket"`
		S3Region       string `yaml:"s3_region"`
		S3Endpoint     string `yaml:"s3_endpoint"`
		S3Prefix       string `yaml:"s3_prefix"`
		S3UsePathStyle bool   `yaml:"s3_use_path_style"`
	} `yaml:"storage"`
	Auth struct {
		JWTKeyID       string   `yaml:"jwt_key_id"`
		JWTPublicKey   string   `yaml:"jwt_public_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"auth"`
	Uploads struct {
		SessionTTLHours     int      `yaml:"session_ttl_hours"`
		MaxUploadMB         int      `yaml:"max_upload_mb"`
		MinChunkKB          int      `yaml:"min_chunk_kb"`
		MaxChunks           int      `yaml:"max_chunks"`
		AllowedContentTypes []string `yaml:"allowed_content_types"`
	} `yaml:"uploads"`
	Jobs struct {
		BackoffSeconds         int   `yaml:"backoff_seconds"`
		LivenessTimeoutMinutes int   `yaml:"liveness_timeout_minutes"`
		AnalyzerTimeoutMinutes int   `yaml:"analyzer_timeout_minutes"`
		ResultCacheMinutes     int   `yaml:"result_cache_minutes"`
		AutoMetadataExtraction *bool `yaml:"auto_metadata_extraction"`
	} `yaml:"jobs"`
	Workers struct {
		Embedded            *bool `yaml:"embedded"`
		JobPollMillis       int   `yaml:"job_poll_millis"`
		ReaperSeconds       int   `yaml:"reaper_seconds"`
		OutboxPollSeconds   int   `yaml:"outbox_poll_seconds"`
		OutboxBatchSize     int   `yaml:"outbox_batch_size"`
		ConsumerPollSeconds int   `yaml:"consumer_poll_seconds"`
		SocketReadSeconds   int   `yaml:"socket_read_seconds"`
		NotificationBuffer  int   `yaml:"notification_buffer"`
	} `yaml:"workers"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:                   "M07-Media-Upload-Service",
		HTTPPort:                    8080,
		GRPCPort:                    9090,
		MaxDBConns:                  20,
		KafkaConsumerGroup:          "m07-media-upload-service",
		KafkaTopicFileReady:         "media.file_ready",
		KafkaTopicAnalysisCompleted: "media.analysis.completed",
		KafkaTopicAnalysisDLQ:       "media.analysis.dead_lettered",
		StorageDriver:               "filesystem",
		StorageDir:                  "./data/uploads",
		JWTKeyID:                    "m07-key-1",
		SessionTTL:                  24 * time.Hour,
		MaxUploadBytes:              2 << 30,
		MinChunkSize:                64 << 10,
		MaxChunksPerSession:         domain.DefaultMaxChunks,
		AllowedContentTypes:         []string{"video/"},
		JobBackoff:                  60 * time.Second,
		JobLivenessTimeout:          30 * time.Minute,
		AnalyzerTimeout:             10 * time.Minute,
		ResultCacheTTL:              2 * time.Hour,
		AutoMetadataExtraction:      true,
		EmbeddedWorker:              true,
		JobPollInterval:             500 * time.Millisecond,
		ReaperInterval:              time.Minute,
		OutboxPollInterval:          2 * time.Second,
		OutboxBatchSize:             100,
		ConsumerPollInterval:        2 * time.Second,
		SocketReadTimeout:           60 * time.Second,
		NotificationBuffer:          64,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyConfigFile(&cfg, f)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.WorkerID = envOrDefault("WORKER_ID", cfg.WorkerID)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaTopicFileReady = envOrDefault("KAFKA_TOPIC_FILE_READY", cfg.KafkaTopicFileReady)
	cfg.KafkaTopicAnalysisCompleted = envOrDefault("KAFKA_TOPIC_ANALYSIS_COMPLETED", cfg.KafkaTopicAnalysisCompleted)
	cfg.KafkaTopicAnalysisDLQ = envOrDefault("KAFKA_TOPIC_ANALYSIS_DLQ", cfg.KafkaTopicAnalysisDLQ)
	cfg.AnalyzerURL = envOrDefault("ANALYZER_URL", cfg.AnalyzerURL)
	cfg.StorageDriver = strings.ToLower(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.StorageDir = envOrDefault("STORAGE_DIR", cfg.StorageDir)
	cfg.S3Bucket = envOrDefault("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Region = envOrDefault("S3_REGION", cfg.S3Region)
	cfg.S3Endpoint = envOrDefault("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Prefix = envOrDefault("S3_PREFIX", cfg.S3Prefix)
	cfg.S3UsePathStyle = envBool("S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.JWTPublicKey = envOrDefault("JWT_PUBLIC_KEY", cfg.JWTPublicKey)
	cfg.JWTPrivateKey = envOrDefault("JWT_PRIVATE_KEY", cfg.JWTPrivateKey)
	cfg.AllowedOrigins = envCSV("WS_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.RedisQueueKey = envOrDefault("REDIS_QUEUE_KEY", cfg.RedisQueueKey)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.SessionTTL = time.Duration(envInt("SESSION_TTL_HOURS", int(cfg.SessionTTL.Hours()))) * time.Hour
	cfg.MaxUploadBytes = int64(envInt("MAX_UPLOAD_MB", int(cfg.MaxUploadBytes>>20))) << 20
	cfg.MinChunkSize = int64(envInt("MIN_CHUNK_KB", int(cfg.MinChunkSize>>10))) << 10
	cfg.MaxChunksPerSession = envInt("MAX_CHUNKS", cfg.MaxChunksPerSession)
	cfg.AllowedContentTypes = envCSV("ALLOWED_CONTENT_TYPES", cfg.AllowedContentTypes)
	cfg.JobBackoff = time.Duration(envInt("JOB_BACKOFF_SECONDS", int(cfg.JobBackoff.Seconds()))) * time.Second
	cfg.JobLivenessTimeout = time.Duration(envInt("JOB_LIVENESS_TIMEOUT_MINUTES", int(cfg.JobLivenessTimeout.Minutes()))) * time.Minute
	cfg.AnalyzerTimeout = time.Duration(envInt("ANALYZER_TIMEOUT_MINUTES", int(cfg.AnalyzerTimeout.Minutes()))) * time.Minute
	cfg.ResultCacheTTL = time.Duration(envInt("RESULT_CACHE_MINUTES", int(cfg.ResultCacheTTL.Minutes()))) * time.Minute
	cfg.AutoMetadataExtraction = envBool("AUTO_METADATA_EXTRACTION", cfg.AutoMetadataExtraction)
	cfg.EmbeddedWorker = envBool("EMBEDDED_WORKER", cfg.EmbeddedWorker)
	cfg.JobPollInterval = time.Duration(envInt("JOB_POLL_MILLIS", int(cfg.JobPollInterval.Milliseconds()))) * time.Millisecond
	cfg.ReaperInterval = time.Duration(envInt("REAPER_SECONDS", int(cfg.ReaperInterval.Seconds()))) * time.Second
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second
	cfg.SocketReadTimeout = time.Duration(envInt("SOCKET_READ_SECONDS", int(cfg.SocketReadTimeout.Seconds()))) * time.Second
	cfg.NotificationBuffer = envInt("NOTIFICATION_BUFFER", cfg.NotificationBuffer)

	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = strings.TrimSpace(cfg.ServiceID + "@" + host)
	}
	switch cfg.StorageDriver {
	case "filesystem":
		if cfg.StorageDir == "" {
			return Config{}, fmt.Errorf("missing STORAGE_DIR for filesystem storage")
		}
	case "s3":
		if cfg.S3Bucket == "" {
			return Config{}, fmt.Errorf("missing S3_BUCKET for s3 storage")
		}
	default:
		return Config{}, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("max upload size must be positive")
	}
	if cfg.MaxChunksPerSession <= 0 || cfg.MaxChunksPerSession > domain.MaxChunksCeiling {
		return Config{}, fmt.Errorf("max chunks per session must be between 1 and %d", domain.MaxChunksCeiling)
	}
	if cfg.MinChunkSize < 0 {
		return Config{}, fmt.Errorf("min chunk size must not be negative")
	}
	return cfg, nil
}

// InMemory reports whether any durable dependency is missing, which forces the API
// process to run the workers itself.
func (c Config) InMemory() bool {
	return c.DatabaseURL == "" || c.RedisURL == ""
}

func applyConfigFile(cfg *Config, f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.WorkerID != "" {
		cfg.WorkerID = f.Service.WorkerID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaConsumerGroup != "" {
		cfg.KafkaConsumerGroup = f.Dependencies.KafkaConsumerGroup
	}
	if f.Dependencies.KafkaTopicFileReady != "" {
		cfg.KafkaTopicFileReady = f.Dependencies.KafkaTopicFileReady
	}
	if f.Dependencies.KafkaTopicAnalysisCompleted != "" {
		cfg.KafkaTopicAnalysisCompleted = f.Dependencies.KafkaTopicAnalysisCompleted
	}
	if f.Dependencies.KafkaTopicAnalysisDLQ != "" {
		cfg.KafkaTopicAnalysisDLQ = f.Dependencies.KafkaTopicAnalysisDLQ
	}
	cfg.AnalyzerURL = f.Dependencies.AnalyzerURL

	if f.Storage.Driver != "" {
		cfg.StorageDriver = strings.ToLower(f.Storage.Driver)
	}
	if f.Storage.Directory != "" {
		cfg.StorageDir = f.Storage.Directory
	}
	cfg.S3Bucket = f.Storage.S3Bucket
	cfg.S3Region = f.Storage.S3Region
	cfg.S3Endpoint = f.Storage.S3Endpoint
	cfg.S3Prefix = f.Storage.S3Prefix
	cfg.S3UsePathStyle = f.Storage.S3UsePathStyle

	if f.Auth.JWTKeyID != "" {
		cfg.JWTKeyID = f.Auth.JWTKeyID
	}
	cfg.JWTPublicKey = f.Auth.JWTPublicKey
	cfg.AllowedOrigins = trimNonEmpty(f.Auth.AllowedOrigins)

	if f.Uploads.SessionTTLHours > 0 {
		cfg.SessionTTL = time.Duration(f.Uploads.SessionTTLHours) * time.Hour
	}
	if f.Uploads.MaxUploadMB > 0 {
		cfg.MaxUploadBytes = int64(f.Uploads.MaxUploadMB) << 20
	}
	if f.Uploads.MinChunkKB > 0 {
		cfg.MinChunkSize = int64(f.Uploads.MinChunkKB) << 10
	}
	if f.Uploads.MaxChunks > 0 {
		cfg.MaxChunksPerSession = f.Uploads.MaxChunks
	}
	if len(f.Uploads.AllowedContentTypes) > 0 {
		cfg.AllowedContentTypes = trimNonEmpty(f.Uploads.AllowedContentTypes)
	}

	if f.Jobs.BackoffSeconds > 0 {
		cfg.JobBackoff = time.Duration(f.Jobs.BackoffSeconds) * time.Second
	}
	if f.Jobs.LivenessTimeoutMinutes > 0 {
		cfg.JobLivenessTimeout = time.Duration(f.Jobs.LivenessTimeoutMinutes) * time.Minute
	}
	if f.Jobs.AnalyzerTimeoutMinutes > 0 {
		cfg.AnalyzerTimeout = time.Duration(f.Jobs.AnalyzerTimeoutMinutes) * time.Minute
	}
	if f.Jobs.ResultCacheMinutes > 0 {
		cfg.ResultCacheTTL = time.Duration(f.Jobs.ResultCacheMinutes) * time.Minute
	}
	if f.Jobs.AutoMetadataExtraction != nil {
		cfg.AutoMetadataExtraction = *f.Jobs.AutoMetadataExtraction
	}

	if f.Workers.Embedded != nil {
		cfg.EmbeddedWorker = *f.Workers.Embedded
	}
	if f.Workers.JobPollMillis > 0 {
		cfg.JobPollInterval = time.Duration(f.Workers.JobPollMillis) * time.Millisecond
	}
	if f.Workers.ReaperSeconds > 0 {
		cfg.ReaperInterval = time.Duration(f.Workers.ReaperSeconds) * time.Second
	}
	if f.Workers.OutboxPollSeconds > 0 {
		cfg.OutboxPollInterval = time.Duration(f.Workers.OutboxPollSeconds) * time.Second
	}
	if f.Workers.OutboxBatchSize > 0 {
		cfg.OutboxBatchSize = f.Workers.OutboxBatchSize
	}
	if f.Workers.ConsumerPollSeconds > 0 {
		cfg.ConsumerPollInterval = time.Duration(f.Workers.ConsumerPollSeconds) * time.Second
	}
	if f.Workers.SocketReadSeconds > 0 {
		cfg.SocketReadTimeout = time.Duration(f.Workers.SocketReadSeconds) * time.Second
	}
	if f.Workers.NotificationBuffer > 0 {
		cfg.NotificationBuffer = f.Workers.NotificationBuffer
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	items := strings.Split(raw, ",")
	return trimNonEmpty(items)
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
