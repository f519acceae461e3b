package clientws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	ws "nhooyr.io/websocket"
)

var ErrNoClient = errors.New("no client connected")

// Registry keeps at most one client connection per session. Writes to a
// connection are serialized by its own lock.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*conn
}

type conn struct {
	mu sync.Mutex
	c  *ws.Conn
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]*conn)} }

// Replace sets the connection for a session and closes the previous one if present.
func (r *Registry) Replace(sessionID string, c *ws.Conn) (prevClosed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[sessionID]; ok && old != nil {
		_ = old.c.Close(ws.StatusNormalClosure, "replaced")
		prevClosed = true
	}
	r.conns[sessionID] = &conn{c: c}
	return
}

// Remove forgets c if it is still the session's connection.
func (r *Registry) Remove(sessionID string, c *ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[sessionID]; ok && cur.c == c {
		delete(r.conns, sessionID)
	}
}

func (r *Registry) Connected(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[sessionID] != nil
}

// Close drops and closes the session's connection.
func (r *Registry) Close(sessionID, reason string) {
	r.mu.Lock()
	cur := r.conns[sessionID]
	delete(r.conns, sessionID)
	r.mu.Unlock()
	if cur != nil {
		_ = cur.c.Close(ws.StatusNormalClosure, reason)
	}
}

func (r *Registry) SendJSON(ctx context.Context, sessionID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.write(ctx, sessionID, ws.MessageText, b)
}

func (r *Registry) SendBinary(ctx context.Context, sessionID string, b []byte) error {
	return r.write(ctx, sessionID, ws.MessageBinary, b)
}

func (r *Registry) write(ctx context.Context, sessionID string, typ ws.MessageType, b []byte) error {
	r.mu.Lock()
	cur := r.conns[sessionID]
	r.mu.Unlock()
	if cur == nil {
		return ErrNoClient
	}
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if err := cur.c.Write(ctx, typ, b); err != nil {
		metricSendErrors.Inc()
		return err
	}
	return nil
}
