package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/events"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// Gateway terminates the upload and notification websockets.
type Gateway struct {
	logger   *slog.Logger
	service  *application.Service
	bus      *events.Bus
	verifier ports.TokenVerifier
	registry *Registry
	upgrader websocket.Upgrader
	cfg      Config
}

func New(logger *slog.Logger, service *application.Service, bus *events.Bus, verifier ports.TokenVerifier, registry *Registry, cfg Config) *Gateway {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	g := &Gateway{
		logger:   logger,
		service:  service,
		bus:      bus,
		verifier: verifier,
		registry: registry,
		cfg:      cfg,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 16 << 10,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// keepalive arms the read deadline, extends it on every pong and pings at nine tenths
// of the deadline until done closes.
func (g *Gateway) keepalive(conn *Conn, done <-chan struct{}) {
	_ = conn.ws.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
	})
	go func() {
		ticker := time.NewTicker(g.cfg.ReadTimeout * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()
}

func (g *Gateway) ServeUpload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"module", "gateway",
			"layer", "adapter",
			"operation", "upgrade_upload",
			"outcome", "failure",
			"error", err,
		)
		return
	}
	ctx := context.WithoutCancel(r.Context())

	view, err := g.service.ResumeSession(ctx, token)
	if err != nil {
		conn := newConn(ws, ConnKindUpload, "", g.cfg.WriteTimeout)
		_ = conn.WriteJSON(toErrorFrame(err))
		conn.Close(websocket.CloseNormalClosure, "session unavailable")
		return
	}
	if view.Session.Status != domain.SessionStatusActive {
		conn := newConn(ws, ConnKindUpload, view.Session.UserID, g.cfg.WriteTimeout)
		_ = conn.WriteJSON(toErrorFrame(domain.ErrInvalidState))
		conn.Close(websocket.CloseNormalClosure, "session is "+string(view.Session.Status))
		return
	}

	conn := newConn(ws, ConnKindUpload, view.Session.UserID, g.cfg.WriteTimeout)
	g.registry.Add(conn)
	defer g.registry.Remove(conn.ID)
	defer conn.Close(websocket.CloseNormalClosure, "")

	// base64 grows a chunk by a third; the envelope adds a little more.
	ws.SetReadLimit(view.Session.ChunkSize*4/3 + 4096)
	done := make(chan struct{})
	defer close(done)
	g.keepalive(conn, done)

	if err := conn.WriteJSON(dataFrame{Type: FrameSessionInfo, Data: sessionInfo{
		Token:          view.Session.Token,
		Filename:       view.Session.Filename,
		FileSize:       view.Session.TotalSize,
		ChunkSize:      view.Session.ChunkSize,
		TotalChunks:    view.Session.TotalChunks,
		UploadedChunks: len(view.ReceivedChunks),
		ReceivedChunks: view.ReceivedChunks,
		MissingChunks:  view.MissingChunks,
	}}); err != nil {
		return
	}

	owner := application.Actor{UserID: view.Session.UserID}
	for {
		frame, ok := g.readFrame(conn)
		if !ok {
			return
		}
		switch frame.Type {
		case "ping":
			if err := conn.WriteJSON(typeFrame{Type: FramePong}); err != nil {
				return
			}
		case "cancel":
			if err := g.service.CancelSession(ctx, owner, token); err != nil {
				_ = conn.WriteJSON(toErrorFrame(err))
				if g.sessionGone(ctx, token, err) {
					return
				}
				continue
			}
			_ = conn.WriteJSON(typeFrame{Type: FrameUploadCancelled})
			return
		case "chunk":
			if !g.handleChunk(ctx, conn, token, frame) {
				return
			}
		default:
			conn.Close(websocket.CloseProtocolError, "unknown frame type")
			return
		}
	}
}

// handleChunk reports whether the connection should stay open.
func (g *Gateway) handleChunk(ctx context.Context, conn *Conn, token string, frame inboundFrame) bool {
	if frame.ChunkIndex == nil {
		return conn.WriteJSON(toErrorFrame(fmt.Errorf("%w: chunk_index is required", domain.ErrInvalidRequest))) == nil
	}
	data, err := base64.StdEncoding.DecodeString(frame.ChunkData)
	if err != nil {
		return conn.WriteJSON(toErrorFrame(fmt.Errorf("%w: chunk_data is not valid base64", domain.ErrInvalidRequest))) == nil
	}
	progress, err := g.service.AcceptChunk(ctx, token, *frame.ChunkIndex, data)
	if err != nil {
		if writeErr := conn.WriteJSON(toErrorFrame(err)); writeErr != nil {
			return false
		}
		return !g.sessionGone(ctx, token, err)
	}
	if progress.Completed && progress.File != nil {
		_ = conn.WriteJSON(dataFrame{Type: FrameUploadComplete, Data: uploadComplete{
			FileID:   progress.File.FileID,
			Filename: progress.File.Filename,
			Message:  "File uploaded successfully",
		}})
		return false
	}
	return conn.WriteJSON(dataFrame{Type: FrameProgress, Data: progressUpdate{
		ChunkIndex:     progress.ChunkIndex,
		UploadedChunks: progress.UploadedChunks,
		TotalChunks:    progress.TotalChunks,
		Progress:       progress.Percent(),
	}}) == nil
}

// sessionGone reports whether err means the session can no longer accept chunks.
// InvalidState is also returned while a completion is in flight, so it is confirmed
// against the stored status.
func (g *Gateway) sessionGone(ctx context.Context, token string, err error) bool {
	switch {
	case errors.Is(err, domain.ErrExpired), errors.Is(err, domain.ErrNotFound):
		return true
	case errors.Is(err, domain.ErrInvalidState):
		view, resumeErr := g.service.ResumeSession(ctx, token)
		return resumeErr != nil || view.Session.Status != domain.SessionStatusActive
	default:
		return false
	}
}

// readFrame returns false once the connection is unusable. Frames that are not valid
// JSON close the socket with 1002.
func (g *Gateway) readFrame(conn *Conn) (inboundFrame, bool) {
	_, raw, err := conn.ws.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			g.logger.Debug("websocket read ended", "connection_id", conn.ID, "error", err)
		}
		return inboundFrame{}, false
	}
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		conn.Close(websocket.CloseProtocolError, "malformed frame")
		return inboundFrame{}, false
	}
	return frame, true
}

func (g *Gateway) ServeNotifications(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"module", "gateway",
			"layer", "adapter",
			"operation", "upgrade_notifications",
			"outcome", "failure",
			"error", err,
		)
		return
	}
	claims, err := g.verifier.ParseAndValidate(r.URL.Query().Get("token"))
	if err != nil {
		conn := newConn(ws, ConnKindNotifications, "", g.cfg.WriteTimeout)
		conn.Close(CloseUnauthorized, "unauthorized")
		return
	}

	conn := newConn(ws, ConnKindNotifications, claims.UserID, g.cfg.WriteTimeout)
	g.registry.Add(conn)
	defer g.registry.Remove(conn.ID)
	defer conn.Close(websocket.CloseNormalClosure, "")

	ws.SetReadLimit(4096)
	sub := g.bus.Subscribe(domain.UserTopic(claims.UserID))
	defer g.bus.Unsubscribe(sub)

	done := make(chan struct{})
	defer close(done)
	g.keepalive(conn, done)

	if err := conn.WriteJSON(connectedFrame{Type: FrameConnected, UserID: claims.UserID}); err != nil {
		return
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case <-sub.Done():
				return
			case msg := <-sub.C():
				if err := conn.WriteJSON(dataFrame{Type: FrameNotification, Data: json.RawMessage(msg)}); err != nil {
					conn.Close(websocket.CloseGoingAway, "write failed")
					return
				}
			}
		}
	}()

	for {
		frame, ok := g.readFrame(conn)
		if !ok {
			return
		}
		switch frame.Type {
		case "ping":
			if err := conn.WriteJSON(typeFrame{Type: FramePong}); err != nil {
				return
			}
		default:
			// Clients only send keepalives on this socket.
		}
	}
}
