package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

func TestFilesystemStorageRoundTrip(t *testing.T) {
	t.Parallel()
	store, err := NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	ctx := context.Background()
	payload := bytes.Repeat([]byte("chunk"), 1000)

	if err := store.Put(ctx, "user-1/file-1.mp4", bytes.NewReader(payload), int64(len(payload)), "video/mp4"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := store.Open(ctx, "user-1/file-1.mp4")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(got, payload) {
		t.Fatalf("stored bytes differ")
	}

	if err := store.Delete(ctx, "user-1/file-1.mp4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "user-1/file-1.mp4"); err != nil {
		t.Fatalf("expected deleting a missing object to succeed, got %v", err)
	}
	if _, err := store.Open(ctx, "user-1/file-1.mp4"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestFilesystemStorageRejectsShortWritesAndEscapes(t *testing.T) {
	t.Parallel()
	store, err := NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "user-1/short.mp4", strings.NewReader("abc"), 10, "video/mp4"); err == nil {
		t.Fatalf("expected size mismatch to fail")
	}
	if _, err := store.Open(ctx, "user-1/short.mp4"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected failed write to leave nothing behind, got %v", err)
	}
	if err := store.Put(ctx, "../outside", strings.NewReader("x"), 1, ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected path escape to be rejected, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := store.Put(cancelled, "user-1/late.mp4", strings.NewReader("abc"), 3, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled context to abort the write, got %v", err)
	}
}

func TestS3NotFoundClassification(t *testing.T) {
	t.Parallel()

	if !isNotFound(&types.NoSuchKey{}) {
		t.Fatalf("expected NoSuchKey to be not found")
	}
	if !isNotFound(&smithy.GenericAPIError{Code: "NotFound"}) {
		t.Fatalf("expected HeadObject NotFound to be not found")
	}
	if isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}) {
		t.Fatalf("expected access denied to be a real error")
	}
	store := NewS3StorageWithClient(nil, "media", "/uploads/")
	if got := store.key("/u/f.mp4"); got != "uploads/u/f.mp4" {
		t.Fatalf("unexpected prefixed key %q", got)
	}
}
