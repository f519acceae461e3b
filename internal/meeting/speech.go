package meeting

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"yuzu/meeting/internal/stt"
	"yuzu/meeting/internal/types"
)

// StartCapture begins speech capture on top of the current input. Agent
// speech, playing or still being synthesized, is canceled first. It does
// nothing unless the meeting is active and capture is supported.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	ok := c.alive && c.lifecycle == Active && !c.ending
	base := c.input
	capture := c.capture
	c.mu.Unlock()
	if !ok || capture == nil || !capture.Supported() || capture.Listening() {
		return nil
	}
	if dec := c.floor.RequestCapture(); dec.StopSynthesis {
		c.log.Debug("stopping agent speech", zap.String("reason", dec.Reason))
	}
	c.cancelSynthesis()
	return capture.Start(ctx, base)
}

func (c *Controller) StopCapture() error {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture == nil {
		return nil
	}
	return capture.Stop()
}

// speak hands text to the synthesizer in the background. Capture is stopped
// first if it is running. ctx and gen are taken under mu together with the
// decision to speak; the request is dropped if either is stale by the time it
// runs.
func (c *Controller) speak(ctx context.Context, gen uint64, text string, role types.Role) {
	c.mu.Lock()
	capture, synth := c.capture, c.synth
	c.mu.Unlock()
	if synth == nil || ctx.Err() != nil {
		return
	}
	if dec := c.floor.RequestSynthesis(); dec.StopCapture && capture != nil {
		c.log.Debug("stopping capture", zap.String("reason", dec.Reason))
		_ = capture.Stop()
	}
	c.async(func() {
		c.mu.Lock()
		ok := c.alive && c.gen == gen && c.lifecycle == Active && !c.ending && c.ttsEnabled
		c.mu.Unlock()
		if !ok {
			c.log.Debug("dropping stale speech", zap.Uint64("gen", gen))
			return
		}
		if err := synth.Speak(ctx, text, role); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Debug("speak", zap.Error(err))
		}
	})
}

// cancelSynthesis cancels agent speech, including requests dispatched but not
// yet handed to the synthesizer. Callers must not hold mu.
func (c *Controller) cancelSynthesis() {
	c.mu.Lock()
	c.silenceLocked()
	synth := c.synth
	c.mu.Unlock()
	if synth != nil {
		synth.Cancel()
	}
}

// silenceLocked cancels the context every speech request so far was given and
// opens a fresh one. Caller holds mu.
func (c *Controller) silenceLocked() {
	c.speechCancel()
	c.speechCtx, c.speechCancel = context.WithCancel(c.ctx)
}

// HandleRecording receives capture listening changes.
func (c *Controller) HandleRecording(on bool) {
	if !c.Alive() {
		return
	}
	if on {
		if dec := c.floor.RequestCapture(); dec.StopSynthesis {
			c.cancelSynthesis()
		}
	}
	c.floor.SetRecording(on)
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	if !on {
		c.preview = ""
	}
	c.unlockAndEmit(Update{Kind: UpdateRecording, On: on})
}

// HandleSpeaking receives synthesis playback changes.
func (c *Controller) HandleSpeaking(on bool) {
	if !c.Alive() {
		return
	}
	if on {
		if dec := c.floor.RequestSynthesis(); dec.StopCapture {
			c.mu.Lock()
			capture := c.capture
			c.mu.Unlock()
			if capture != nil {
				_ = capture.Stop()
			}
		}
	}
	c.floor.SetSpeaking(on)
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.unlockAndEmit(Update{Kind: UpdateSpeaking, On: on})
}

// HandlePreview receives the live transcript (committed plus interim).
func (c *Controller) HandlePreview(text string) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.preview = text
	c.unlockAndEmit(Update{Kind: UpdatePreview, Text: text})
}

// HandleCommit receives committed capture text; it becomes the input buffer.
func (c *Controller) HandleCommit(text string) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.input = text
	c.preview = ""
	c.touch()
	c.unlockAndEmit(Update{Kind: UpdateInput, Text: text}, Update{Kind: UpdatePreview})
}

func (c *Controller) HandleCaptureError(err *stt.CaptureError) {
	if err == nil || !c.Alive() {
		return
	}
	c.log.Info("capture error", zap.String("category", string(err.Category)), zap.String("code", err.Code))
	c.floor.SetRecording(false)
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.preview = ""
	c.unlockAndEmit(
		Update{Kind: UpdateRecording, On: false},
		Update{Kind: UpdateNotice, Text: err.Category.Message()},
	)
}

func (c *Controller) HandleSynthesisError(err error) {
	if err == nil {
		return
	}
	c.log.Warn("synthesis error", zap.Error(err))
	c.notify("Agent audio could not be played.")
}
