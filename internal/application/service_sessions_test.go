package application_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/contracts"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

var alice = application.Actor{UserID: "user-alice"}

func openSession(t *testing.T, h *harness, size, chunkSize int64) domain.UploadSession {
	t.Helper()
	session, err := h.svc.OpenSession(context.Background(), alice, domain.OpenSessionInput{
		Filename:  "clip.mp4",
		TotalSize: size,
		ChunkSize: chunkSize,
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return session
}

func TestOpenSessionComputesChunksAndTTL(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	session := openSession(t, h, 10_000_000, 1<<20)
	if session.TotalChunks != 10 {
		t.Fatalf("expected 10 chunks, got %d", session.TotalChunks)
	}
	if session.Status != domain.SessionStatusActive {
		t.Fatalf("expected active session, got %s", session.Status)
	}
	if want := h.clock.Now().Add(24 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, session.ExpiresAt)
	}
	if len(session.Token) < 40 {
		t.Fatalf("expected an unguessable token, got %q", session.Token)
	}

	_, err := h.svc.OpenSession(context.Background(), alice, domain.OpenSessionInput{Filename: "big.mp4", TotalSize: 65 << 20, ChunkSize: 1 << 20})
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("expected payload too large, got %v", err)
	}
	_, err = h.svc.OpenSession(context.Background(), application.Actor{}, domain.OpenSessionInput{Filename: "a.mp4", TotalSize: 1, ChunkSize: 1})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without actor, got %v", err)
	}
}

func TestOpenSessionRejectsOversizedChunkCounts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *application.Config) {
		cfg.MaxUploadBytes = 2 << 30
		cfg.MinChunkSize = 64 << 10
	})

	cases := []domain.OpenSessionInput{
		{Filename: "big.mp4", TotalSize: 2 << 30, ChunkSize: 1},
		{Filename: "big.mp4", TotalSize: 64 << 20, ChunkSize: 1},
		{Filename: "big.mp4", TotalSize: 2 << 30, ChunkSize: 64 << 10},
	}
	for _, input := range cases {
		if _, err := h.svc.OpenSession(context.Background(), alice, input); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected %d bytes in %d-byte chunks to be rejected, got %v", input.TotalSize, input.ChunkSize, err)
		}
	}
	session := openSession(t, h, 2<<30, 1<<20)
	if session.TotalChunks != 2048 {
		t.Fatalf("expected 2048 chunks, got %d", session.TotalChunks)
	}
}

func TestReverseOrderUploadAssemblesFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	const size, chunkSize = 10_000_000, 1 << 20
	payload := patterned(size)
	session := openSession(t, h, size, chunkSize)

	var last domain.SessionProgress
	for idx := session.TotalChunks - 1; idx >= 0; idx-- {
		progress, err := h.svc.AcceptChunk(context.Background(), session.Token, idx, chunkOf(payload, chunkSize, idx))
		if err != nil {
			t.Fatalf("accept chunk %d: %v", idx, err)
		}
		if idx > 0 && progress.Completed {
			t.Fatalf("session completed early at chunk %d", idx)
		}
		last = progress
	}
	if !last.Completed || last.File == nil {
		t.Fatalf("expected final chunk to complete the session")
	}
	if last.UploadedChunks != 10 || last.Percent() != 100 {
		t.Fatalf("unexpected final progress %+v", last)
	}
	stored, ok := h.storage.get(last.File.StorageKey)
	if !ok {
		t.Fatalf("expected assembled file in storage")
	}
	if !bytes.Equal(stored, payload) {
		t.Fatalf("assembled bytes differ from the original upload")
	}
	if last.File.Size != size || last.File.Checksum == "" {
		t.Fatalf("unexpected stored file %+v", last.File)
	}
	if types := h.outboxTypes(); len(types) != 1 || types[0] != contracts.EventFileReady {
		t.Fatalf("expected a single file ready event, got %v", types)
	}
	if h.notifier.count(contracts.NotificationUploadCompleted) != 1 {
		t.Fatalf("expected one upload_completed notification, got %v", h.notifier.events())
	}

	view, err := h.svc.GetSession(context.Background(), alice, session.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.Session.Status != domain.SessionStatusCompleted || view.Session.FileID != last.File.FileID {
		t.Fatalf("expected completed session linked to file, got %+v", view.Session)
	}
}

func TestAnyArrivalOrderProducesSameFile(t *testing.T) {
	t.Parallel()
	const size, chunkSize = 1000, 64
	payload := patterned(size)
	rng := rand.New(rand.NewPCG(7, 11))

	for round := 0; round < 5; round++ {
		h := newHarness(t, nil)
		session := openSession(t, h, size, chunkSize)
		var file *domain.StoredFile
		for _, idx := range rng.Perm(session.TotalChunks) {
			progress, err := h.svc.AcceptChunk(context.Background(), session.Token, idx, chunkOf(payload, chunkSize, idx))
			if err != nil {
				t.Fatalf("round %d chunk %d: %v", round, idx, err)
			}
			if progress.Completed {
				file = progress.File
			}
		}
		if file == nil {
			t.Fatalf("round %d: session never completed", round)
		}
		stored, _ := h.storage.get(file.StorageKey)
		if !bytes.Equal(stored, payload) {
			t.Fatalf("round %d: assembled bytes differ", round)
		}
	}
}

func TestDuplicateChunkIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	payload := patterned(10)
	session := openSession(t, h, 10, 4)

	for i := 0; i < 3; i++ {
		progress, err := h.svc.AcceptChunk(context.Background(), session.Token, 0, chunkOf(payload, 4, 0))
		if err != nil {
			t.Fatalf("resend chunk 0: %v", err)
		}
		if progress.UploadedChunks != 1 {
			t.Fatalf("expected duplicate to keep count at 1, got %d", progress.UploadedChunks)
		}
	}
	view, err := h.svc.ResumeSession(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(view.ReceivedChunks) != 1 || view.ReceivedChunks[0] != 0 {
		t.Fatalf("unexpected received chunks %v", view.ReceivedChunks)
	}
	if len(view.MissingChunks) != 2 || view.MissingChunks[0] != 1 || view.MissingChunks[1] != 2 {
		t.Fatalf("unexpected missing chunks %v", view.MissingChunks)
	}
}

func TestAcceptChunkValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	session := openSession(t, h, 10, 4)

	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 3, []byte("zz")); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, -1, []byte("zzzz")); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("expected out of range for negative index, got %v", err)
	}
	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 0, []byte("zz")); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for short chunk, got %v", err)
	}
	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 2, []byte("zzzz")); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for oversized tail chunk, got %v", err)
	}
	if _, err := h.svc.AcceptChunk(context.Background(), "missing-token", 0, []byte("zzzz")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown token, got %v", err)
	}
}

func TestConcurrentChunksCompleteExactlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	const size, chunkSize = 4096, 128
	payload := patterned(size)
	session := openSession(t, h, size, chunkSize)

	var completions atomic.Int32
	var wg sync.WaitGroup
	for idx := 0; idx < session.TotalChunks; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			progress, err := h.svc.AcceptChunk(context.Background(), session.Token, idx, chunkOf(payload, chunkSize, idx))
			if err != nil {
				t.Errorf("chunk %d: %v", idx, err)
				return
			}
			if progress.Completed {
				completions.Add(1)
			}
		}(idx)
	}
	wg.Wait()
	if completions.Load() != 1 {
		t.Fatalf("expected exactly one completion, got %d", completions.Load())
	}
	if h.storage.size() != 1 {
		t.Fatalf("expected exactly one stored object, got %d", h.storage.size())
	}
}

func TestCancelSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	session := openSession(t, h, 10, 4)
	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 0, patterned(4)); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := h.svc.CancelSession(context.Background(), application.Actor{UserID: "user-bob"}, session.Token); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected other users to see not found, got %v", err)
	}
	if err := h.svc.CancelSession(context.Background(), alice, session.Token); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := h.svc.CancelSession(context.Background(), alice, session.Token); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected second cancel to be invalid state, got %v", err)
	}
	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 1, patterned(4)); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected chunk after cancel to be invalid state, got %v", err)
	}
	view, err := h.svc.GetSession(context.Background(), alice, session.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.Session.Status != domain.SessionStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", view.Session.Status)
	}
	if h.notifier.count(contracts.NotificationUploadCancelled) != 1 {
		t.Fatalf("expected one cancel notification, got %v", h.notifier.events())
	}
	if len(h.repos.Outbox.Records()) != 0 {
		t.Fatalf("expected no file ready after cancel")
	}
}

func TestCancelSessionLeavesNoBufferForRejectedTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	session := openSession(t, h, 10, 4)
	if _, err := h.svc.AcceptChunk(ctx, session.Token, 0, patterned(4)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := h.svc.CancelSession(ctx, alice, fmt.Sprintf("missing-%d", i)); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected unknown token to be not found, got %v", err)
		}
	}
	if err := h.svc.CancelSession(ctx, application.Actor{UserID: "user-bob"}, session.Token); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected other users to see not found, got %v", err)
	}
	if got := h.svc.BufferedSessions(); got != 1 {
		t.Fatalf("expected only the owner's buffer, got %d", got)
	}

	done := openSession(t, h, 4, 4)
	if _, err := h.svc.AcceptChunk(ctx, done.Token, 0, patterned(4)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := h.svc.CancelSession(ctx, alice, done.Token); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected cancel after completion to be invalid state, got %v", err)
	}
	if got := h.svc.BufferedSessions(); got != 1 {
		t.Fatalf("expected completed session to hold no buffer, got %d", got)
	}
	if err := h.svc.CancelSession(ctx, alice, session.Token); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.svc.BufferedSessions(); got != 0 {
		t.Fatalf("expected cancel to release the buffer, got %d", got)
	}
}

func TestSweepReleasesBuffersForSessionsClosedElsewhere(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	workerNotifier := &recordingNotifier{}
	worker := application.NewService(application.Dependencies{
		Config:   h.svc.Config(),
		Sessions: h.repos.Sessions,
		Files:    h.repos.Files,
		Jobs:     h.repos.Jobs,
		Outbox:   h.repos.Outbox,
		Storage:  h.storage,
		Analyzer: h.analyzer,
		Queue:    h.queue,
		Notifier: workerNotifier,
	})
	worker.SetClock(h.clock.Now)

	kept := openSession(t, h, 10, 4)
	cancelled := openSession(t, h, 10, 4)
	for _, token := range []string{kept.Token, cancelled.Token} {
		if _, err := h.svc.AcceptChunk(ctx, token, 0, patterned(4)); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}

	if err := worker.CancelSession(ctx, alice, cancelled.Token); err != nil {
		t.Fatalf("cancel from the other process: %v", err)
	}
	if got := h.svc.BufferedSessions(); got != 2 {
		t.Fatalf("expected the api process to still hold both buffers, got %d", got)
	}
	if released, err := h.svc.SweepLocalSessions(ctx); err != nil || released != 1 {
		t.Fatalf("expected the cancelled buffer released, got %d (%v)", released, err)
	}
	if got := h.svc.BufferedSessions(); got != 1 {
		t.Fatalf("expected the active session to keep its buffer, got %d", got)
	}

	h.clock.Advance(24*time.Hour + time.Second)
	if n, err := worker.ExpireSessions(ctx); err != nil || n != 1 {
		t.Fatalf("expected the other process to expire the session, got %d (%v)", n, err)
	}
	if released, err := h.svc.SweepLocalSessions(ctx); err != nil || released != 1 {
		t.Fatalf("expected the expired buffer released, got %d (%v)", released, err)
	}
	if got := h.svc.BufferedSessions(); got != 0 {
		t.Fatalf("expected no buffers left, got %d", got)
	}
	if h.notifier.count(contracts.NotificationUploadExpired) != 0 || workerNotifier.count(contracts.NotificationUploadExpired) != 1 {
		t.Fatalf("expected expiry to be announced once by the process that won it")
	}
}

func TestSweepExpiresOverdueLocalSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	session := openSession(t, h, 10, 4)
	if _, err := h.svc.AcceptChunk(ctx, session.Token, 0, patterned(4)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if released, err := h.svc.SweepLocalSessions(ctx); err != nil || released != 0 {
		t.Fatalf("expected nothing released before the deadline, got %d (%v)", released, err)
	}
	h.clock.Advance(24 * time.Hour)
	if released, err := h.svc.SweepLocalSessions(ctx); err != nil || released != 1 {
		t.Fatalf("expected the overdue buffer released, got %d (%v)", released, err)
	}
	if _, err := h.svc.ResumeSession(ctx, session.Token); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected the session to be expired, got %v", err)
	}
	if h.notifier.count(contracts.NotificationUploadExpired) != 1 {
		t.Fatalf("expected one expiry notification, got %v", h.notifier.events())
	}
}

func TestChunkAfterCompletionIsInvalidState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	session := openSession(t, h, 4, 4)
	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 0, patterned(4)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 0, patterned(4)); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state after completion, got %v", err)
	}
}

func TestExpirySweepObservedExactlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	tokens := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		session := openSession(t, h, 10, 4)
		if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 0, patterned(4)); err != nil {
			t.Fatalf("accept: %v", err)
		}
		tokens = append(tokens, session.Token)
	}
	h.clock.Advance(24*time.Hour + time.Second)

	var expired atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := h.svc.ExpireSessions(context.Background())
			if err != nil {
				t.Errorf("expire sessions: %v", err)
				return
			}
			expired.Add(int64(n))
		}()
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			_, _ = h.svc.AcceptChunk(context.Background(), token, 1, patterned(4))
		}(tokens[i%len(tokens)])
	}
	wg.Wait()

	if h.notifier.count(contracts.NotificationUploadExpired) != 3 {
		t.Fatalf("expected each session to expire exactly once, got %v", h.notifier.events())
	}
	if expired.Load() > 3 {
		t.Fatalf("sweeps reported %d expirations for 3 sessions", expired.Load())
	}
	for _, token := range tokens {
		if _, err := h.svc.AcceptChunk(context.Background(), token, 1, patterned(4)); !errors.Is(err, domain.ErrExpired) {
			t.Fatalf("expected expired after sweep, got %v", err)
		}
		if _, err := h.svc.ResumeSession(context.Background(), token); !errors.Is(err, domain.ErrExpired) {
			t.Fatalf("expected resume to report expired, got %v", err)
		}
	}
	if n, err := h.svc.ExpireSessions(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected idle sweep, got n=%d err=%v", n, err)
	}
}

func TestLazyExpiryOnChunk(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	session := openSession(t, h, 10, 4)
	h.clock.Advance(24 * time.Hour)

	if _, err := h.svc.AcceptChunk(context.Background(), session.Token, 0, patterned(4)); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired at the ttl boundary, got %v", err)
	}
	if err := h.svc.CancelSession(context.Background(), alice, session.Token); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected cancel of expired session to be invalid state, got %v", err)
	}
	if h.notifier.count(contracts.NotificationUploadExpired) != 1 {
		t.Fatalf("expected one expiry notification, got %v", h.notifier.events())
	}
}

func TestUploadSimple(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	body := patterned(2048)

	file, err := h.svc.UploadSimple(context.Background(), alice, application.SimpleUploadInput{
		Filename:    "short.mp4",
		ContentType: "video/mp4",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("upload simple: %v", err)
	}
	if file.Source != domain.FileSourceSimple || !strings.HasSuffix(file.StorageKey, ".mp4") {
		t.Fatalf("unexpected file %+v", file)
	}
	stored, _ := h.storage.get(file.StorageKey)
	if !bytes.Equal(stored, body) {
		t.Fatalf("stored bytes differ")
	}
	if types := h.outboxTypes(); len(types) != 1 || types[0] != contracts.EventFileReady {
		t.Fatalf("expected file ready event, got %v", types)
	}
	if _, err := h.svc.GetFile(context.Background(), application.Actor{UserID: "user-bob"}, file.FileID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected other users to see not found, got %v", err)
	}

	_, err = h.svc.UploadSimple(context.Background(), alice, application.SimpleUploadInput{
		Filename: "notes.txt", ContentType: "text/plain", Size: 3, Body: strings.NewReader("abc"),
	})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected rejected content type, got %v", err)
	}

	_, err = h.svc.UploadSimple(context.Background(), alice, application.SimpleUploadInput{
		Filename: "short.mp4", ContentType: "video/mp4", Size: 10, Body: strings.NewReader("abc"),
	})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected size mismatch to be invalid, got %v", err)
	}
	if h.storage.size() != 1 {
		t.Fatalf("expected short upload to be removed, found %d objects", h.storage.size())
	}
}
