package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"yuzu/meeting/internal/types"
)

// Audio is a playable payload returned by a synthesis provider.
type Audio struct {
	Data        []byte
	ContentType string
}

// Provider turns text into audio for one voice.
type Provider interface {
	Synthesize(ctx context.Context, text, language, voiceID string) (Audio, error)
}

// Player plays audio for a job and returns when playback ends, fails, or ctx
// is canceled. Stop halts whatever is playing and must be safe to call when
// nothing is.
type Player interface {
	Play(ctx context.Context, job uint64, role types.Role, audio Audio) error
	Stop()
}

type Callbacks struct {
	OnSpeaking func(speaking bool)
	OnError    func(err error)
}

type Options struct {
	Language     string
	DefaultVoice string
	Voices       map[types.Role]string
	// Grace is the pause between canceling a previous job and starting the
	// next one.
	Grace time.Duration
}

// Controller plays at most one agent utterance at a time. Every Speak call
// takes a new job id; a synthesis result whose job is no longer current is
// dropped without playing.
type Controller struct {
	provider Provider
	player   Player
	cb       Callbacks
	opts     Options
	log      *zap.Logger

	mu       sync.Mutex
	job      uint64
	busy     bool
	speaking bool
	stopPlay context.CancelFunc

	notifyMu  sync.Mutex
	published bool

	sleep func(ctx context.Context, d time.Duration) error
}

func NewController(p Provider, pl Player, cb Callbacks, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		provider: p,
		player:   pl,
		cb:       cb,
		opts:     opts,
		log:      logger.With(zap.String("component", "synthesis")),
		sleep:    sleepCtx,
	}
}

// Speak synthesizes and plays text in the voice mapped to role. Blank text
// and the user's own role are ignored. It blocks until playback ends.
func (c *Controller) Speak(ctx context.Context, text string, role types.Role) error {
	text = strings.TrimSpace(text)
	if text == "" || role == types.RoleUser {
		return nil
	}

	// The job is taken before the grace wait so a Cancel during the wait
	// supersedes this call too.
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.job++
	job := c.job
	busy := c.busy
	stop := c.stopPlay
	c.stopPlay = nil
	c.busy = true
	c.speaking = false
	c.mu.Unlock()

	if busy {
		if stop != nil {
			stop()
		}
		if c.player != nil {
			c.player.Stop()
		}
		c.publish()
		err := c.sleep(ctx, c.opts.Grace)
		c.mu.Lock()
		current := c.job == job
		if current && err != nil {
			c.busy = false
		}
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if !current {
			metricSynthesis.WithLabelValues("superseded").Inc()
			c.log.Debug("discarding job canceled during grace", zap.Uint64("job", job))
			return nil
		}
	}

	start := time.Now()
	audio, err := c.provider.Synthesize(ctx, text, c.opts.Language, c.voice(role))
	metricProviderLatencyMS.Observe(float64(time.Since(start).Milliseconds()))

	c.mu.Lock()
	if c.job != job {
		c.mu.Unlock()
		metricSynthesis.WithLabelValues("superseded").Inc()
		c.log.Debug("discarding superseded synthesis", zap.Uint64("job", job), zap.Error(err))
		return nil
	}
	if err != nil {
		c.busy = false
		c.mu.Unlock()
		metricSynthesis.WithLabelValues("error").Inc()
		c.log.Warn("synthesis failed", zap.Uint64("job", job), zap.String("role", string(role)), zap.Error(err))
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		return fmt.Errorf("synthesize job %d: %w", job, err)
	}
	playCtx, stop := context.WithCancel(ctx)
	c.stopPlay = stop
	c.speaking = true
	c.mu.Unlock()
	c.publish()

	err = c.player.Play(playCtx, job, role, audio)
	stop()

	c.mu.Lock()
	current := c.job == job
	if current {
		c.busy = false
		c.speaking = false
		c.stopPlay = nil
	}
	c.mu.Unlock()
	if !current {
		// Canceled mid-playback; Cancel already published the change.
		metricSynthesis.WithLabelValues("canceled").Inc()
		return nil
	}
	c.publish()

	if err != nil && !errors.Is(err, context.Canceled) {
		metricSynthesis.WithLabelValues("error").Inc()
		c.log.Warn("playback failed", zap.Uint64("job", job), zap.Error(err))
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		return fmt.Errorf("play job %d: %w", job, err)
	}
	metricSynthesis.WithLabelValues("ok").Inc()
	return nil
}

// Cancel invalidates the current job and halts playback. It is safe to call
// at any time.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.job++
	stop := c.stopPlay
	c.stopPlay = nil
	c.busy = false
	c.speaking = false
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if c.player != nil {
		c.player.Stop()
	}
	c.publish()
}

// Speaking reports whether audio is currently playing.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// publish reports the latest speaking state if it differs from the last one
// reported. Serializing here keeps callers from seeing true after false.
func (c *Controller) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	on := c.speaking
	c.mu.Unlock()
	if on == c.published {
		return
	}
	c.published = on
	if c.cb.OnSpeaking != nil {
		c.cb.OnSpeaking(on)
	}
}

func (c *Controller) voice(role types.Role) string {
	if v, ok := c.opts.Voices[role]; ok && v != "" {
		return v
	}
	return c.opts.DefaultVoice
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
