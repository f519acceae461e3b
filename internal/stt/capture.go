package stt

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Callbacks carry capture changes upward. All are optional and are invoked
// without the controller lock held.
type Callbacks struct {
	OnListening func(listening bool)
	// OnPreview receives committed text plus the current interim hypothesis.
	OnPreview func(text string)
	// OnCommit receives the committed text after each final segment.
	OnCommit func(text string)
	OnError  func(err *CaptureError)
}

// Controller runs one capture at a time on top of a Source. Each Start opens
// a new generation; events from an older generation are dropped.
type Controller struct {
	src Source
	cb  Callbacks
	log *zap.Logger

	mu        sync.Mutex
	gen       uint64
	active    bool
	listening bool
	stopping  bool
	base      string
	finals    string
}

func NewController(src Source, cb Callbacks, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{src: src, cb: cb, log: logger.With(zap.String("component", "capture"))}
}

// Supported reports whether the underlying recognizer is available.
func (c *Controller) Supported() bool {
	return c.src != nil && c.src.Supported()
}

func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Start begins capture. base is the text already in the input buffer; final
// segments are appended to it. Starting while a capture is running, or when
// the recognizer is unsupported, does nothing.
func (c *Controller) Start(ctx context.Context, base string) error {
	if !c.Supported() {
		c.log.Debug("capture start ignored: unsupported")
		return nil
	}
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.active = true
	c.stopping = false
	c.base = strings.TrimSpace(base)
	c.finals = ""
	c.mu.Unlock()

	events, err := c.src.Start(ctx)
	if err != nil {
		var ce *CaptureError
		if !errors.As(err, &ce) {
			ce = &CaptureError{Category: Unknown, Err: err}
		}
		c.mu.Lock()
		if c.gen == gen {
			c.active = false
		}
		c.mu.Unlock()
		c.report(ce)
		return err
	}
	metricCaptures.Inc()
	go c.pump(gen, events)
	return nil
}

// Stop ends the running capture. Stopping while idle does nothing. The
// recognizer's resulting abort is not reported as an error.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()
	return c.src.Stop()
}

func (c *Controller) pump(gen uint64, events <-chan Event) {
	for ev := range events {
		c.handle(gen, ev)
	}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.active = false
	was := c.listening
	c.listening = false
	c.mu.Unlock()
	if was {
		c.notifyListening(false)
	}
}

func (c *Controller) handle(gen uint64, ev Event) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	switch ev.Type {
	case EventListening:
		changed := c.listening != ev.Listening
		c.listening = ev.Listening
		c.mu.Unlock()
		if changed {
			c.notifyListening(ev.Listening)
		}

	case EventInterim:
		preview := join(join(c.base, c.finals), strings.TrimSpace(ev.Text))
		c.mu.Unlock()
		if c.cb.OnPreview != nil {
			c.cb.OnPreview(preview)
		}

	case EventFinal:
		seg := strings.TrimSpace(ev.Text)
		if seg == "" {
			c.mu.Unlock()
			return
		}
		c.finals = join(c.finals, seg)
		committed := join(c.base, c.finals)
		c.mu.Unlock()
		metricFinals.Inc()
		if c.cb.OnCommit != nil {
			c.cb.OnCommit(committed)
		}

	case EventError:
		cat := Classify(ev.Code)
		if cat == Aborted || c.stopping {
			c.mu.Unlock()
			c.log.Debug("capture abort suppressed", zap.String("code", ev.Code))
			return
		}
		// The failed run is finished; anything it still emits is stale.
		c.gen++
		c.active = false
		was := c.listening
		c.listening = false
		c.mu.Unlock()
		_ = c.src.Stop()
		if was {
			c.notifyListening(false)
		}
		c.report(&CaptureError{Category: cat, Code: ev.Code})

	default:
		c.mu.Unlock()
	}
}

func (c *Controller) report(err *CaptureError) {
	if err.Category == Aborted {
		return
	}
	metricErrors.WithLabelValues(string(err.Category)).Inc()
	c.log.Warn("capture failed", zap.String("category", string(err.Category)), zap.String("code", err.Code), zap.Error(err.Err))
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

func (c *Controller) notifyListening(on bool) {
	if c.cb.OnListening != nil {
		c.cb.OnListening(on)
	}
}

func join(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
