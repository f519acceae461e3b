package clientws

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"yuzu/meeting/internal/tts"
	"yuzu/meeting/internal/types"
)

var ErrPlaybackTimeout = errors.New("client did not report playback end")

// Player plays synthesized audio in the browser. Play sends a tts_play
// header followed by the audio as one binary frame, then waits for the
// client's tts_stopped acknowledgement for that job.
type Player struct {
	reg       *Registry
	sessionID string
	timeout   time.Duration
	log       *zap.Logger

	mu      sync.Mutex
	job     uint64
	waiting chan error
	// ended is set once the client reported the current job finished or
	// was told to stop.
	ended bool
}

func NewPlayer(reg *Registry, sessionID string, timeout time.Duration, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Player{reg: reg, sessionID: sessionID, timeout: timeout, log: logger.With(zap.String("component", "player"))}
}

func (p *Player) Play(ctx context.Context, job uint64, role types.Role, audio tts.Audio) error {
	done := make(chan error, 1)
	p.mu.Lock()
	p.job = job
	p.waiting = done
	p.ended = false
	p.mu.Unlock()
	defer p.release(job)

	hdr := NewMessage(TypeTTSPlay, p.sessionID, map[string]any{
		"role":         string(role),
		"content_type": audio.ContentType,
		"bytes":        len(audio.Data),
	})
	hdr.JobID = job
	if err := p.reg.SendJSON(ctx, p.sessionID, hdr); err != nil {
		return err
	}
	if err := p.reg.SendBinary(ctx, p.sessionID, audio.Data); err != nil {
		return err
	}
	metricPlaybacks.Inc()

	t := time.NewTimer(p.timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrPlaybackTimeout
	}
}

// Stop tells the client to halt playback. It is safe to call when nothing
// is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	job := p.job
	if job == 0 || p.ended {
		p.mu.Unlock()
		return
	}
	p.ended = true
	p.mu.Unlock()
	msg := NewMessage(TypeTTSStop, p.sessionID, nil)
	msg.JobID = job
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.reg.SendJSON(ctx, p.sessionID, msg); err != nil && !errors.Is(err, ErrNoClient) {
		p.log.Debug("tts_stop send failed", zap.Error(err))
	}
}

// Ack delivers the client's playback-ended report. reason "error" fails the
// play call; any other reason ends it normally. Acks for other jobs are
// ignored.
func (p *Player) Ack(job uint64, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job != p.job {
		return
	}
	p.ended = true
	if p.waiting == nil {
		return
	}
	var err error
	if reason == "error" {
		err = errors.New("client playback failed")
	}
	p.waiting <- err
	p.waiting = nil
}

func (p *Player) release(job uint64) {
	p.mu.Lock()
	if p.job == job {
		p.waiting = nil
	}
	p.mu.Unlock()
}
