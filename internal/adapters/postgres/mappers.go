package postgres

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

func toDomainSession(rec uploadSessionModel) domain.UploadSession {
	session := domain.UploadSession{
		Token:       rec.Token,
		UserID:      rec.UserID,
		Filename:    rec.Filename,
		TotalSize:   rec.TotalSize,
		ChunkSize:   rec.ChunkSize,
		TotalChunks: rec.TotalChunks,
		Status:      domain.SessionStatus(rec.Status),
		ExpiresAt:   rec.ExpiresAt.UTC(),
		CreatedAt:   rec.CreatedAt.UTC(),
		UpdatedAt:   rec.UpdatedAt.UTC(),
	}
	if rec.FileID != nil {
		session.FileID = rec.FileID.String()
	}
	return session
}

func fromDomainSession(session domain.UploadSession) uploadSessionModel {
	return uploadSessionModel{
		Token:       session.Token,
		UserID:      session.UserID,
		Filename:    session.Filename,
		TotalSize:   session.TotalSize,
		ChunkSize:   session.ChunkSize,
		TotalChunks: session.TotalChunks,
		Status:      string(session.Status),
		ExpiresAt:   session.ExpiresAt,
		CreatedAt:   session.CreatedAt,
		UpdatedAt:   session.UpdatedAt,
	}
}

func toDomainFile(rec storedFileModel) domain.StoredFile {
	return domain.StoredFile{
		FileID:      rec.FileID.String(),
		UserID:      rec.UserID,
		Filename:    rec.Filename,
		StorageKey:  rec.StorageKey,
		Size:        rec.SizeBytes,
		ContentType: rec.ContentType,
		Checksum:    rec.Checksum,
		Source:      domain.FileSource(rec.Source),
		CreatedAt:   rec.CreatedAt.UTC(),
	}
}

func fromDomainFile(file domain.StoredFile) (storedFileModel, error) {
	fileID, err := parseID(file.FileID)
	if err != nil {
		return storedFileModel{}, err
	}
	return storedFileModel{
		FileID:      fileID,
		UserID:      file.UserID,
		Filename:    file.Filename,
		StorageKey:  file.StorageKey,
		SizeBytes:   file.Size,
		ContentType: file.ContentType,
		Checksum:    file.Checksum,
		Source:      string(file.Source),
		CreatedAt:   file.CreatedAt,
	}, nil
}

func toDomainJob(rec analysisJobModel) domain.AnalysisJob {
	job := domain.AnalysisJob{
		JobID:         rec.JobID.String(),
		FileID:        rec.FileID.String(),
		UserID:        rec.UserID,
		Kind:          rec.Kind,
		Status:        domain.JobStatus(rec.Status),
		ErrorMessage:  rec.ErrorMessage,
		Attempts:      rec.Attempts,
		WorkerID:      rec.WorkerID,
		ProcessingMS:  rec.ProcessingMS,
		NextAttemptAt: rec.NextAttemptAt.UTC(),
		CreatedAt:     rec.CreatedAt.UTC(),
		StartedAt:     rec.StartedAt,
		CompletedAt:   rec.CompletedAt,
	}
	if rec.Result != nil {
		job.Result = json.RawMessage(*rec.Result)
	}
	return job
}

func fromDomainJob(job domain.AnalysisJob) (analysisJobModel, error) {
	jobID, err := parseID(job.JobID)
	if err != nil {
		return analysisJobModel{}, err
	}
	fileID, err := parseID(job.FileID)
	if err != nil {
		return analysisJobModel{}, err
	}
	rec := analysisJobModel{
		JobID:         jobID,
		FileID:        fileID,
		UserID:        job.UserID,
		Kind:          job.Kind,
		Status:        string(job.Status),
		ErrorMessage:  job.ErrorMessage,
		Attempts:      job.Attempts,
		WorkerID:      job.WorkerID,
		ProcessingMS:  job.ProcessingMS,
		NextAttemptAt: job.NextAttemptAt,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
	if len(job.Result) > 0 {
		result := string(job.Result)
		rec.Result = &result
	}
	return rec, nil
}

func fromOutboxEvent(event ports.OutboxEvent) outboxModel {
	return outboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      string(event.Payload),
		CreatedAt:    event.OccurredAt,
		FirstSeenAt:  event.OccurredAt,
	}
}

func toOutboxRecord(row outboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID: row.OutboxID, EventType: row.EventType, PartitionKey: row.PartitionKey,
		Payload: []byte(row.Payload), RetryCount: row.RetryCount, PublishedAt: row.PublishedAt,
		LastError: row.LastError, LastErrorAt: row.LastErrorAt, FirstSeenAt: row.FirstSeenAt,
	}
}

// parseID maps malformed ids to ErrNotFound: no record can carry them.
func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ErrNotFound
	}
	return id, nil
}
