package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("session not found")

// Builder assembles the components of a new session.
type Builder func(id string) (*Session, error)

// Registry holds the live sessions of this process and reaps idle ones.
type Registry struct {
	build Builder
	idle  time.Duration
	log   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	onRemove []func(id string)
}

// NewRegistry returns a registry that builds sessions with build. Sessions
// without activity for idle are closed by Reap; idle <= 0 disables reaping.
func NewRegistry(build Builder, idle time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{build: build, idle: idle, log: logger.With(zap.String("component", "sessions")), sessions: make(map[string]*Session)}
}

// OnRemove registers fn to run after a session is closed and forgotten.
func (r *Registry) OnRemove(fn func(id string)) {
	r.mu.Lock()
	r.onRemove = append(r.onRemove, fn)
	r.mu.Unlock()
}

func (r *Registry) Create() (*Session, error) {
	sess, err := r.build(randomID())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	n := len(r.sessions)
	r.mu.Unlock()
	metricActive.Set(float64(n))
	r.log.Info("session created", zap.String("session_id", sess.ID))
	return sess, nil
}

func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Exists reports whether id names a live session.
func (r *Registry) Exists(id string) bool { return r.Get(id) != nil }

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	sess := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	hooks := append([]func(string){}, r.onRemove...)
	r.mu.Unlock()
	if sess == nil {
		return ErrNotFound
	}
	metricActive.Set(float64(n))
	sess.Close()
	for _, fn := range hooks {
		fn(id)
	}
	r.log.Info("session removed", zap.String("session_id", id))
	return nil
}

// Reap removes sessions idle since before now-idle, and sessions already
// closed. It returns the removed ids.
func (r *Registry) Reap(now time.Time) []string {
	var stale []string
	r.mu.RLock()
	for id, s := range r.sessions {
		if !s.Meeting.Alive() || (r.idle > 0 && now.Sub(s.Meeting.LastActivity()) > r.idle) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range stale {
		if r.Remove(id) == nil {
			metricReaped.Inc()
		}
	}
	return stale
}

// Run reaps on a ticker until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if ids := r.Reap(now); len(ids) > 0 {
				r.log.Info("reaped idle sessions", zap.Strings("session_ids", ids))
			}
		}
	}
}

// CloseAll removes every session; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Remove(id)
	}
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
