package gateway

import (
	"errors"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

const (
	FrameSessionInfo     = "session_info"
	FrameProgress        = "progress"
	FrameUploadComplete  = "upload_complete"
	FrameUploadCancelled = "upload_cancelled"
	FrameConnected       = "connected"
	FrameNotification    = "notification"
	FramePong            = "pong"
	FrameError           = "error"
)

// Close codes beyond the RFC 6455 set.
const (
	CloseUnauthorized = 4001
)

type inboundFrame struct {
	Type       string `json:"type"`
	ChunkIndex *int   `json:"chunk_index,omitempty"`
	ChunkData  string `json:"chunk_data,omitempty"`
}

// dataFrame is the shape of every frame that carries a body: the body sits under
// "data" next to the frame type.
type dataFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type sessionInfo struct {
	Token          string `json:"token"`
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	ChunkSize      int64  `json:"chunk_size"`
	TotalChunks    int    `json:"total_chunks"`
	UploadedChunks int    `json:"uploaded_chunks"`
	ReceivedChunks []int  `json:"received_chunks"`
	MissingChunks  []int  `json:"missing_chunks"`
}

type progressUpdate struct {
	ChunkIndex     int     `json:"chunk_index"`
	UploadedChunks int     `json:"uploaded_chunks"`
	TotalChunks    int     `json:"total_chunks"`
	Progress       float64 `json:"progress"`
}

type uploadComplete struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

type connectedFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type typeFrame struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toErrorFrame(err error) errorFrame {
	frame := errorFrame{Type: FrameError, Code: "INTERNAL_ERROR", Message: "internal error"}
	switch {
	case errors.Is(err, domain.ErrOutOfRange):
		frame.Code, frame.Message = "OUT_OF_RANGE", "chunk index out of range"
	case errors.Is(err, domain.ErrInvalidRequest):
		frame.Code, frame.Message = "INVALID_REQUEST", err.Error()
	case errors.Is(err, domain.ErrPayloadTooLarge):
		frame.Code, frame.Message = "PAYLOAD_TOO_LARGE", err.Error()
	case errors.Is(err, domain.ErrExpired):
		frame.Code, frame.Message = "EXPIRED", "upload session expired"
	case errors.Is(err, domain.ErrNotFound):
		frame.Code, frame.Message = "NOT_FOUND", "upload session not found"
	case errors.Is(err, domain.ErrInvalidState):
		frame.Code, frame.Message = "INVALID_STATE", err.Error()
	case errors.Is(err, domain.ErrTransientFailure):
		frame.Code, frame.Message = "TRANSIENT_FAILURE", "storage temporarily unavailable, resend the chunk"
	}
	return frame
}
