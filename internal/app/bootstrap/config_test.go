package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.JobBackoff != 60*time.Second {
		t.Fatalf("unexpected timing defaults %+v", cfg)
	}
	if cfg.MaxUploadBytes != 2<<30 || !cfg.AutoMetadataExtraction || cfg.StorageDriver != "filesystem" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MinChunkSize != 64<<10 || cfg.MaxChunksPerSession != 10_000 {
		t.Fatalf("unexpected chunk limits min=%d max=%d", cfg.MinChunkSize, cfg.MaxChunksPerSession)
	}
	if !cfg.InMemory() {
		t.Fatalf("expected in-memory mode without database and redis")
	}
	if cfg.WorkerID == "" {
		t.Fatalf("expected a derived worker id")
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
service:
  http_port: 8181
dependencies:
  postgres_url: postgres://file
  kafka_brokers: [" k1:9092 ", ""]
uploads:
  session_ttl_hours: 2
  max_upload_mb: 10
  min_chunk_kb: 256
jobs:
  auto_metadata_extraction: false
workers:
  embedded: false
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("JOB_BACKOFF_SECONDS", "5")
	t.Setenv("ALLOWED_CONTENT_TYPES", "video/, audio/")
	t.Setenv("MAX_CHUNKS", "500")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 9191 {
		t.Fatalf("expected env to override file port, got %d", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "postgres://file" || cfg.RedisURL != "redis://cache:6379/0" {
		t.Fatalf("unexpected dependency urls %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "k1:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.SessionTTL != 2*time.Hour || cfg.MaxUploadBytes != 10<<20 || cfg.JobBackoff != 5*time.Second {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.MinChunkSize != 256<<10 || cfg.MaxChunksPerSession != 500 {
		t.Fatalf("unexpected chunk limits min=%d max=%d", cfg.MinChunkSize, cfg.MaxChunksPerSession)
	}
	if cfg.AutoMetadataExtraction || cfg.EmbeddedWorker {
		t.Fatalf("expected file to disable auto extraction and the embedded worker")
	}
	if len(cfg.AllowedContentTypes) != 2 || cfg.AllowedContentTypes[1] != "audio/" {
		t.Fatalf("unexpected content types %v", cfg.AllowedContentTypes)
	}
	if cfg.InMemory() {
		t.Fatalf("expected durable mode with database and redis set")
	}
}

func TestLoadConfigRejectsBadStorage(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "s3")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected s3 without bucket to fail")
	}
	t.Setenv("STORAGE_DRIVER", "ftp")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
	t.Setenv("STORAGE_DRIVER", "filesystem")
	t.Setenv("MAX_CHUNKS", "2000000")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected a chunk cap above the ceiling to fail")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("M07_TEST_BOOL", "yes")
	t.Setenv("M07_TEST_INT", "abc")
	if !envBool("M07_TEST_BOOL", false) {
		t.Fatalf("expected yes to parse as true")
	}
	if envInt("M07_TEST_INT", 7) != 7 {
		t.Fatalf("expected unparsable int to fall back")
	}
	if got := trimNonEmpty([]string{" a ", "", "b"}); len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected trim result %v", got)
	}
}
