package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type ConnKind string

const (
	ConnKindUpload        ConnKind = "upload"
	ConnKindNotifications ConnKind = "notifications"
)

// Conn wraps one websocket. gorilla connections allow a single concurrent writer, so
// every write goes through writeMu.
type Conn struct {
	ID          string
	Kind        ConnKind
	UserID      string
	ConnectedAt time.Time

	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func newConn(ws *websocket.Conn, kind ConnKind, userID string, writeTimeout time.Duration) *Conn {
	return &Conn{
		ID:           uuid.NewString(),
		Kind:         kind,
		UserID:       userID,
		ConnectedAt:  time.Now().UTC(),
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame with code and tears down the socket. Only the first call
// has any effect.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

// Registry tracks every live socket of the process so shutdown can close them.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: map[string]*Conn{}}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) CountByUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.conns {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

// CloseAll closes every tracked connection with code 1001 (going away).
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, reason)
	}
	return len(conns)
}
