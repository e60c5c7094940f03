package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/contracts"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"golang.org/x/crypto/blake2b"
)

func (s *Service) OpenSession(ctx context.Context, actor Actor, input domain.OpenSessionInput) (domain.UploadSession, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return domain.UploadSession{}, domain.ErrUnauthorized
	}
	limits := domain.SessionLimits{
		MaxUploadBytes: s.cfg.MaxUploadBytes,
		MinChunkSize:   s.cfg.MinChunkSize,
		MaxChunks:      s.cfg.MaxChunksPerSession,
	}
	if err := domain.ValidateOpenSession(input, limits); err != nil {
		return domain.UploadSession{}, err
	}
	token, err := newSessionToken()
	if err != nil {
		return domain.UploadSession{}, err
	}
	now := s.nowFn()
	session := domain.UploadSession{
		Token:       token,
		UserID:      actor.UserID,
		Filename:    strings.TrimSpace(input.Filename),
		TotalSize:   input.TotalSize,
		ChunkSize:   input.ChunkSize,
		TotalChunks: domain.TotalChunks(input.TotalSize, input.ChunkSize),
		Status:      domain.SessionStatusActive,
		ExpiresAt:   now.Add(s.cfg.SessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return domain.UploadSession{}, err
	}
	return session, nil
}

// GetSession is the owner-scoped resume query.
func (s *Service) GetSession(ctx context.Context, actor Actor, token string) (domain.SessionView, error) {
	view, err := s.ResumeSession(ctx, token)
	if err != nil {
		return domain.SessionView{}, err
	}
	if view.Session.UserID != actor.UserID {
		return domain.SessionView{}, domain.ErrNotFound
	}
	return view, nil
}

// ResumeSession reports what the server currently holds for token. The token itself
// is the capability, which is how the upload socket attaches.
func (s *Service) ResumeSession(ctx context.Context, token string) (domain.SessionView, error) {
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return domain.SessionView{}, err
	}
	if session.Status == domain.SessionStatusExpired {
		return domain.SessionView{}, domain.ErrExpired
	}
	if session.Status == domain.SessionStatusActive && session.IsExpired(s.nowFn()) {
		slot := s.slots.get(token)
		slot.mu.Lock()
		s.expireLocked(ctx, slot, session)
		slot.mu.Unlock()
		return domain.SessionView{}, domain.ErrExpired
	}

	view := domain.SessionView{Session: session, ReceivedChunks: []int{}, MissingChunks: []int{}}
	if session.Status != domain.SessionStatusActive {
		return view, nil
	}
	if slot, ok := s.slots.peek(token); ok {
		slot.mu.Lock()
		if slot.arena != nil {
			view.ReceivedChunks = slot.arena.receivedIndices()
			view.MissingChunks = slot.arena.missingIndices()
		}
		slot.mu.Unlock()
	}
	if len(view.ReceivedChunks) == 0 {
		view.MissingChunks = make([]int, session.TotalChunks)
		for i := range view.MissingChunks {
			view.MissingChunks[i] = i
		}
	}
	return view, nil
}

func (s *Service) AcceptChunk(ctx context.Context, token string, index int, chunk []byte) (domain.SessionProgress, error) {
	slot := s.slots.get(token)
	slot.mu.Lock()

	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		slot.mu.Unlock()
		if errors.Is(err, domain.ErrNotFound) {
			s.slots.drop(token)
		}
		return domain.SessionProgress{}, err
	}
	if session.Status == domain.SessionStatusActive && session.IsExpired(s.nowFn()) {
		s.expireLocked(ctx, slot, session)
		slot.mu.Unlock()
		return domain.SessionProgress{}, domain.ErrExpired
	}
	if session.Status != domain.SessionStatusActive {
		slot.discard()
		slot.mu.Unlock()
		s.slots.drop(token)
		if session.Status == domain.SessionStatusExpired {
			return domain.SessionProgress{}, domain.ErrExpired
		}
		return domain.SessionProgress{}, fmt.Errorf("%w: session is %s", domain.ErrInvalidState, session.Status)
	}
	if slot.sealed {
		slot.mu.Unlock()
		return domain.SessionProgress{}, fmt.Errorf("%w: upload is being finalized", domain.ErrInvalidState)
	}
	if index < 0 || index >= session.TotalChunks {
		slot.mu.Unlock()
		return domain.SessionProgress{}, domain.ErrOutOfRange
	}
	if want := session.ExpectedChunkLen(index); int64(len(chunk)) != want {
		slot.mu.Unlock()
		return domain.SessionProgress{}, fmt.Errorf("%w: chunk %d must be %d bytes, got %d", domain.ErrInvalidRequest, index, want, len(chunk))
	}

	if slot.arena == nil {
		slot.arena = newChunkArena(session.TotalSize, session.ChunkSize, session.TotalChunks)
	}
	slot.arena.put(index, chunk)
	progress := domain.SessionProgress{
		Token:          token,
		ChunkIndex:     index,
		UploadedChunks: slot.arena.count,
		TotalChunks:    session.TotalChunks,
	}
	if !slot.arena.complete() {
		slot.mu.Unlock()
		return progress, nil
	}

	slot.sealed = true
	payload := slot.arena.bytes()
	slot.mu.Unlock()

	file, err := s.finalizeSession(ctx, session, payload)

	slot.mu.Lock()
	if err != nil {
		slot.sealed = false
		slot.mu.Unlock()
		return domain.SessionProgress{}, err
	}
	slot.discard()
	slot.mu.Unlock()
	s.slots.drop(token)

	progress.Completed = true
	progress.File = &file
	return progress, nil
}

// finalizeSession runs without the session lock: it performs the slow storage write
// and then lets the store decide, via its active-status condition, whether this
// completion still wins against a concurrent cancel or expiry.
func (s *Service) finalizeSession(ctx context.Context, session domain.UploadSession, payload []byte) (domain.StoredFile, error) {
	file := s.newStoredFile(session.UserID, session.Filename, int64(len(payload)), domain.FileSourceSession)
	file.ContentType = http.DetectContentType(payload[:min(len(payload), 512)])
	sum := blake2b.Sum256(payload)
	file.Checksum = hex.EncodeToString(sum[:])

	if err := s.storage.Put(ctx, file.StorageKey, bytes.NewReader(payload), file.Size, file.ContentType); err != nil {
		return domain.StoredFile{}, domain.Transient("store assembled upload", err)
	}
	event, err := s.newOutboxEvent(contracts.EventFileReady, file.FileID, s.fileReady(file, session.Token))
	if err != nil {
		s.discardStored(ctx, file.StorageKey)
		return domain.StoredFile{}, err
	}
	if err := s.sessions.Complete(ctx, session.Token, file, event); err != nil {
		s.discardStored(ctx, file.StorageKey)
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound) {
			return domain.StoredFile{}, fmt.Errorf("%w: session is no longer active", domain.ErrInvalidState)
		}
		return domain.StoredFile{}, domain.Transient("record completed upload", err)
	}

	s.notify(ctx, session.UserID, contracts.UploadNotification{
		Event:        contracts.NotificationUploadCompleted,
		SessionToken: session.Token,
		FileID:       file.FileID,
		Filename:     file.Filename,
		OccurredAt:   s.nowFn(),
	})
	return file, nil
}

func (s *Service) CancelSession(ctx context.Context, actor Actor, token string) error {
	// Ownership never changes, so it is checked before a slot exists for the token.
	owned, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if owned.UserID != actor.UserID {
		return domain.ErrNotFound
	}

	slot := s.slots.get(token)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		slot.discard()
		s.slots.drop(token)
		return err
	}
	if session.Status == domain.SessionStatusActive && session.IsExpired(s.nowFn()) {
		s.expireLocked(ctx, slot, session)
		return fmt.Errorf("%w: session expired", domain.ErrInvalidState)
	}
	if session.Status != domain.SessionStatusActive {
		if !slot.sealed {
			slot.discard()
			s.slots.drop(token)
		}
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidState, session.Status)
	}
	if err := s.sessions.Transition(ctx, token, domain.SessionStatusCancelled, s.nowFn()); err != nil {
		return err
	}
	slot.discard()
	s.slots.drop(token)
	s.notify(ctx, session.UserID, contracts.UploadNotification{
		Event:        contracts.NotificationUploadCancelled,
		SessionToken: token,
		Filename:     session.Filename,
		OccurredAt:   s.nowFn(),
	})
	return nil
}

// ExpireSessions is the reaper sweep. It returns how many sessions this call expired.
func (s *Service) ExpireSessions(ctx context.Context) (int, error) {
	overdue, err := s.sessions.ListExpiredActive(ctx, s.nowFn(), s.cfg.ReaperBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	var errs []error
	for _, session := range overdue {
		slot := s.slots.get(session.Token)
		slot.mu.Lock()
		ok, expErr := s.expire(ctx, slot, session)
		slot.mu.Unlock()
		if expErr != nil {
			errs = append(errs, expErr)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// SweepLocalSessions releases chunk buffers this process holds for sessions that are
// no longer active in the store, or are past their deadline. Another process may have
// expired or cancelled them, in which case nothing here would otherwise touch the token
// again. It returns how many buffers were released.
func (s *Service) SweepLocalSessions(ctx context.Context) (int, error) {
	now := s.nowFn()
	released := 0
	var errs []error
	for _, token := range s.slots.tokens() {
		slot, ok := s.slots.peek(token)
		if !ok {
			continue
		}
		slot.mu.Lock()
		if slot.sealed {
			slot.mu.Unlock()
			continue
		}
		session, err := s.sessions.GetByToken(ctx, token)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			slot.discard()
			s.slots.drop(token)
			released++
		case err != nil:
			errs = append(errs, err)
		case session.Status != domain.SessionStatusActive:
			slot.discard()
			s.slots.drop(token)
			released++
		case session.IsExpired(now):
			if _, expErr := s.expire(ctx, slot, session); expErr != nil {
				errs = append(errs, expErr)
			} else {
				released++
			}
		}
		slot.mu.Unlock()
	}
	return released, errors.Join(errs...)
}

// BufferedSessions reports how many sessions hold a chunk buffer in this process.
func (s *Service) BufferedSessions() int {
	return s.slots.size()
}

// expireLocked is used on request paths where the caller reports ErrExpired regardless
// of who won the transition.
func (s *Service) expireLocked(ctx context.Context, slot *sessionSlot, session domain.UploadSession) {
	if _, err := s.expire(ctx, slot, session); err != nil {
		slog.Default().WarnContext(ctx, "failed to expire upload session",
			"module", "application",
			"operation", "expire_session",
			"outcome", "failure",
			"error", err,
		)
	}
}

// expire must be called with slot.mu held. Only the caller whose conditional
// transition succeeds notifies subscribers, so expiry is observed exactly once.
func (s *Service) expire(ctx context.Context, slot *sessionSlot, session domain.UploadSession) (bool, error) {
	err := s.sessions.Transition(ctx, session.Token, domain.SessionStatusExpired, s.nowFn())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrNotFound):
		slot.discard()
		s.slots.drop(session.Token)
		return false, nil
	default:
		return false, err
	}
	slot.discard()
	s.slots.drop(session.Token)
	s.notify(ctx, session.UserID, contracts.UploadNotification{
		Event:        contracts.NotificationUploadExpired,
		SessionToken: session.Token,
		Filename:     session.Filename,
		OccurredAt:   s.nowFn(),
	})
	return true, nil
}

type SimpleUploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadSimple stores a small file in one request and emits the same FileReady event
// as a completed session.
func (s *Service) UploadSimple(ctx context.Context, actor Actor, input SimpleUploadInput) (domain.StoredFile, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return domain.StoredFile{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(input.Filename) == "" || input.Size <= 0 || input.Body == nil {
		return domain.StoredFile{}, domain.ErrInvalidRequest
	}
	if s.cfg.MaxUploadBytes > 0 && input.Size > s.cfg.MaxUploadBytes {
		return domain.StoredFile{}, domain.ErrPayloadTooLarge
	}
	if !domain.IsAllowedContentType(input.ContentType, s.cfg.AllowedContentTypes) {
		return domain.StoredFile{}, fmt.Errorf("%w: content type %q is not accepted", domain.ErrInvalidRequest, input.ContentType)
	}

	file := s.newStoredFile(actor.UserID, strings.TrimSpace(input.Filename), input.Size, domain.FileSourceSimple)
	file.ContentType = input.ContentType
	hasher, _ := blake2b.New256(nil)
	counter := &countingReader{r: io.TeeReader(io.LimitReader(input.Body, input.Size+1), hasher)}
	err := s.storage.Put(ctx, file.StorageKey, counter, input.Size, file.ContentType)
	if err != nil && counter.n == input.Size {
		return domain.StoredFile{}, domain.Transient("store simple upload", err)
	}
	if counter.n != input.Size {
		s.discardStored(ctx, file.StorageKey)
		return domain.StoredFile{}, fmt.Errorf("%w: declared %d bytes, received %d", domain.ErrInvalidRequest, input.Size, counter.n)
	}
	file.Checksum = hex.EncodeToString(hasher.Sum(nil))

	event, err := s.newOutboxEvent(contracts.EventFileReady, file.FileID, s.fileReady(file, ""))
	if err != nil {
		s.discardStored(ctx, file.StorageKey)
		return domain.StoredFile{}, err
	}
	if err := s.files.Create(ctx, file, event); err != nil {
		s.discardStored(ctx, file.StorageKey)
		return domain.StoredFile{}, domain.Transient("record simple upload", err)
	}
	s.notify(ctx, actor.UserID, contracts.UploadNotification{
		Event:      contracts.NotificationUploadCompleted,
		FileID:     file.FileID,
		Filename:   file.Filename,
		OccurredAt: s.nowFn(),
	})
	return file, nil
}

func (s *Service) GetFile(ctx context.Context, actor Actor, fileID string) (domain.StoredFile, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return domain.StoredFile{}, err
	}
	if file.UserID != actor.UserID {
		return domain.StoredFile{}, domain.ErrNotFound
	}
	return file, nil
}

func (s *Service) newStoredFile(userID, filename string, size int64, source domain.FileSource) domain.StoredFile {
	fileID := uuid.NewString()
	return domain.StoredFile{
		FileID:     fileID,
		UserID:     userID,
		Filename:   filename,
		StorageKey: domain.StorageKeyFor(userID, fileID, filename),
		Size:       size,
		Source:     source,
		CreatedAt:  s.nowFn(),
	}
}

func (s *Service) fileReady(file domain.StoredFile, token string) domain.FileReady {
	return domain.FileReady{
		FileID:     file.FileID,
		UserID:     file.UserID,
		Token:      token,
		StorageKey: file.StorageKey,
		Size:       file.Size,
		OccurredAt: s.nowFn(),
	}
}

func (s *Service) discardStored(ctx context.Context, key string) {
	if err := s.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
		slog.Default().WarnContext(ctx, "failed to remove orphaned upload",
			"module", "application",
			"operation", "discard_stored",
			"outcome", "failure",
			"storage_key", key,
			"error", err,
		)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
