package clientws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
	ws "nhooyr.io/websocket"

	"yuzu/meeting/internal/auth"
	"yuzu/meeting/internal/events"
)

// Inbound receives what a connected browser sends.
type Inbound interface {
	OnMessage(ctx context.Context, sessionID string, msg Message)
	OnAudio(sessionID string, pcm []byte)
	OnDisconnect(sessionID string)
}

type Server struct {
	Reg    *Registry
	Issuer auth.Issuer
	Events *events.Store
	// Exists reports whether a session id is live.
	Exists func(sessionID string) bool
	In     Inbound

	log *zap.Logger
}

func NewServer(reg *Registry, iss auth.Issuer, ev *events.Store, exists func(string) bool, in Inbound, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Reg: reg, Issuer: iss, Events: ev, Exists: exists, In: in, log: logger.With(zap.String("component", "clientws"))}
}

// HandleClientWS upgrades an authenticated browser connection for one
// session. The token comes from ?token= or an Authorization bearer header.
func (s *Server) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	if s.Exists != nil && !s.Exists(sessionID) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	token := q.Get("token")
	if authz := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(authz, "Bearer ") {
		token = strings.TrimPrefix(authz, "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := s.Issuer.Validate(token, sessionID); err != nil {
		s.log.Info("client token rejected", zap.String("session_id", sessionID), zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("ws accept", zap.Error(err))
		return
	}
	c.SetReadLimit(4 << 20)
	if s.Reg.Replace(sessionID, c) {
		s.journal(sessionID, "client_replaced", nil)
	}
	s.journal(sessionID, "client_connected", nil)
	metricConnections.Inc()
	log := s.log.With(zap.String("session_id", sessionID))
	log.Info("client connected")

	ctx := r.Context()
	_ = s.Reg.SendJSON(ctx, sessionID, NewMessage(TypeHello, sessionID, nil))
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ == ws.MessageBinary {
			if s.In != nil {
				s.In.OnAudio(sessionID, data)
			}
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			metricInvalid.Inc()
			reason := "missing type"
			if err != nil {
				reason = err.Error()
			}
			s.journal(sessionID, "client_msg_invalid", map[string]any{"error": reason})
			continue
		}
		msg.SessionID = sessionID
		if s.In != nil {
			s.In.OnMessage(ctx, sessionID, msg)
		}
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	s.Reg.Remove(sessionID, c)
	metricConnections.Dec()
	if s.In != nil && !s.Reg.Connected(sessionID) {
		s.In.OnDisconnect(sessionID)
	}
	s.journal(sessionID, "client_disconnected", nil)
	log.Info("client disconnected")
}

func (s *Server) journal(sessionID, typ string, payload map[string]any) {
	if s.Events != nil {
		s.Events.Append(sessionID, typ, payload)
	}
}
