// Package meeting owns one simulated meeting: its lifecycle, transcript and
// turn counters, and the sequencing of agent replies against speech capture
// and speech synthesis.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yuzu/meeting/internal/floor"
	"yuzu/meeting/internal/llm"
	"yuzu/meeting/internal/summary"
	"yuzu/meeting/internal/types"
)

type Lifecycle string

const (
	Uninitialized Lifecycle = "uninitialized"
	AwaitingStart Lifecycle = "awaiting_start"
	Active        Lifecycle = "active"
	Ended         Lifecycle = "ended"
)

var (
	ErrScenarioNotFound = errors.New("scenario not found")
	ErrEnded            = errors.New("meeting already ended")
	ErrClosed           = errors.New("session closed")
)

// Catalog is the read-only scenario and persona lookup.
type Catalog interface {
	Scenario(id string) (types.Scenario, bool)
	PersonaForRole(role types.Role) (types.Persona, bool)
}

// Capture is the speech capture subsystem as seen by the meeting.
type Capture interface {
	Supported() bool
	Listening() bool
	Start(ctx context.Context, base string) error
	Stop() error
}

// Synthesizer is the speech synthesis subsystem as seen by the meeting.
type Synthesizer interface {
	Speak(ctx context.Context, text string, role types.Role) error
	Cancel()
}

type Deps struct {
	Catalog   Catalog
	Responder llm.Responder
	Sink      summary.Sink
	Listeners []Listener
}

type Options struct {
	SessionID    string
	LearningMode bool
	TTSEnabled   bool
	// Grace is how long End waits after canceling speech before it flips
	// the lifecycle.
	Grace time.Duration

	StartPrompt    string
	Apology        string
	ClosingMessage string
}

func (o *Options) defaults() {
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.StartPrompt == "" {
		o.StartPrompt = "Press Start when you're ready to begin the meeting."
	}
	if o.Apology == "" {
		o.Apology = "Sorry, something went wrong while preparing a response. Please try again."
	}
	if o.ClosingMessage == "" {
		o.ClosingMessage = "We've reached the end of this meeting. Thank you, everyone."
	}
}

// State is a point-in-time copy of the session.
type State struct {
	SessionID         string          `json:"session_id"`
	ScenarioID        string          `json:"scenario_id,omitempty"`
	Lifecycle         Lifecycle       `json:"lifecycle"`
	Messages          []types.Message `json:"messages"`
	Roster            []types.Role    `json:"roster"`
	CurrentTurn       int             `json:"current_turn"`
	CurrentAgentIndex int             `json:"current_agent_index"`
	MaxTurns          int             `json:"max_turns,omitempty"`
	IsRecording       bool            `json:"is_recording"`
	IsSpeaking        bool            `json:"is_speaking"`
	TTSEnabled        bool            `json:"tts_enabled"`
	Pending           bool            `json:"pending"`
	Input             string          `json:"input,omitempty"`
	Preview           string          `json:"preview,omitempty"`
	CaptureSupported  bool            `json:"capture_supported"`
}

// Controller is the session state machine. All mutation happens under mu;
// provider calls, speech calls and grace waits happen outside it, and any
// result that comes back after the session moved on is dropped by comparing
// generations.
type Controller struct {
	id        string
	catalog   Catalog
	responder llm.Responder
	sink      summary.Sink
	listeners []Listener
	opts      Options
	log       *zap.Logger
	floor     *floor.Manager

	ctx    context.Context
	cancel context.CancelFunc

	// set once by AttachSpeech before the session is used
	capture Capture
	synth   Synthesizer

	async func(func())
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu          sync.Mutex
	emitMu      sync.Mutex
	alive       bool
	lifecycle   Lifecycle
	scenario    types.Scenario
	messages    []types.Message
	startID     string
	turn        int
	agentIndex  int
	pending     bool
	ending      bool
	ttsEnabled  bool
	input       string
	preview     string
	gen         uint64
	spokenFor   string
	lastTouched time.Time

	// speechCtx is handed to every dispatched speech request and replaced
	// whenever speech is canceled.
	speechCtx    context.Context
	speechCancel context.CancelFunc
}

func New(deps Deps, opts Options, logger *zap.Logger) *Controller {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:          opts.SessionID,
		catalog:     deps.Catalog,
		responder:   deps.Responder,
		sink:        deps.Sink,
		listeners:   deps.Listeners,
		opts:        opts,
		log:         logger.With(zap.String("component", "meeting"), zap.String("session_id", opts.SessionID)),
		floor:       floor.New(),
		ctx:         ctx,
		cancel:      cancel,
		async:       func(fn func()) { go fn() },
		sleep:       sleepCtx,
		now:         time.Now,
		alive:       true,
		lifecycle:   Uninitialized,
		ttsEnabled:  opts.TTSEnabled,
		lastTouched: time.Now(),
	}
	c.speechCtx, c.speechCancel = context.WithCancel(ctx)
	return c
}

// AttachSpeech wires the capture and synthesis subsystems. Either may be nil.
// The subsystems report back through the Handle* methods.
func (c *Controller) AttachSpeech(capture Capture, synth Synthesizer) {
	c.mu.Lock()
	c.capture = capture
	c.synth = synth
	c.mu.Unlock()
}

func (c *Controller) ID() string { return c.id }

// Load resolves scenarioID and resets the session to wait for the start
// action. Any capture, speech or pending reply from before is abandoned.
func (c *Controller) Load(ctx context.Context, scenarioID string) error {
	sc, ok := c.catalog.Scenario(scenarioID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrScenarioNotFound, scenarioID)
	}

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.lifecycle == Ended || c.ending {
		c.mu.Unlock()
		return ErrEnded
	}
	c.mu.Unlock()

	c.stopSpeech()

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.lifecycle == Ended || c.ending {
		c.mu.Unlock()
		return ErrEnded
	}
	c.gen++
	c.scenario = sc
	prompt := c.newMessage(types.RoleSystem, "", c.opts.StartPrompt)
	prompt.Action = types.ActionStartMeeting
	c.startID = prompt.ID
	c.messages = []types.Message{prompt}
	c.turn = 0
	c.agentIndex = 0
	c.pending = false
	c.ending = false
	c.input = ""
	c.preview = ""
	c.lifecycle = AwaitingStart
	c.touch()
	c.log.Info("scenario loaded", zap.String("scenario_id", sc.ID), zap.Int("roster", len(sc.AgentsInvolved)))
	c.unlockAndEmit(
		Update{Kind: UpdateLifecycle, Lifecycle: AwaitingStart},
		messageUpdate(UpdateMessage, prompt),
	)
	return nil
}

// Start runs the start action: the start prompt loses its action, the
// scenario's opening line is appended, and it is spoken at most once per
// scenario. Outside AwaitingStart this does nothing.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive || c.lifecycle != AwaitingStart {
		c.mu.Unlock()
		return nil
	}
	var ups []Update
	if i := c.indexOf(c.startID); i >= 0 {
		c.messages[i].Action = ""
		ups = append(ups, messageUpdate(UpdateMessageUpdated, c.messages[i]))
	}

	sc := c.scenario
	role, name := types.RoleSystem, ""
	if len(sc.AgentsInvolved) > 0 {
		role = sc.AgentsInvolved[0]
		name = c.displayName(role)
	}
	var opening *types.Message
	if strings.TrimSpace(sc.InitialMessage) != "" {
		m := c.newMessage(role, name, sc.InitialMessage)
		c.messages = append(c.messages, m)
		opening = &m
		ups = append(ups, messageUpdate(UpdateMessage, m))
	}
	c.lifecycle = Active
	ups = append(ups, Update{Kind: UpdateLifecycle, Lifecycle: Active})

	speak := opening != nil && c.ttsEnabled && c.spokenFor != sc.ID
	if speak {
		c.spokenFor = sc.ID
	}
	gen, speechCtx := c.gen, c.speechCtx
	c.touch()
	metricMeetings.WithLabelValues("started").Inc()
	c.log.Info("meeting started", zap.String("scenario_id", sc.ID))
	c.unlockAndEmit(ups...)

	if speak {
		c.speak(speechCtx, gen, opening.Text, opening.Role)
	}
	return nil
}

// End closes an active meeting. Capture and synthesis are stopped and given
// the grace interval to settle before the lifecycle flips, so no audio can
// resume after the meeting reports ended. The summary is then handed to the
// sink; a sink failure is returned but the meeting stays ended.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive || c.lifecycle != Active || c.ending {
		c.mu.Unlock()
		return nil
	}
	c.ending = true
	c.silenceLocked()
	c.mu.Unlock()
	return c.finish(ctx, "requested")
}

func (c *Controller) finish(ctx context.Context, reason string) error {
	c.stopSpeech()
	if err := c.sleep(ctx, c.opts.Grace); err != nil {
		c.log.Debug("grace wait interrupted", zap.Error(err))
	}

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	c.lifecycle = Ended
	c.ttsEnabled = false
	c.pending = false
	c.ending = false
	c.preview = ""
	sum := types.Summary{
		SessionID:     c.id,
		ScenarioID:    c.scenario.ID,
		ScenarioTitle: c.scenario.Title,
		Objective:     c.scenario.Objective,
		Messages:      c.transcript(),
		EndedAt:       c.now().UTC(),
	}
	c.touch()
	metricMeetings.WithLabelValues("ended_" + reason).Inc()
	c.log.Info("meeting ended", zap.String("reason", reason), zap.Int("turns", c.turn), zap.Int("messages", len(sum.Messages)))
	c.unlockAndEmit(Update{Kind: UpdateLifecycle, Lifecycle: Ended})

	if c.sink == nil {
		return nil
	}
	if err := c.sink.SaveSummary(context.WithoutCancel(ctx), sum); err != nil {
		c.log.Warn("summary not saved", zap.Error(err))
		c.notify("The meeting ended, but its summary could not be saved. The report may be incomplete.")
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// Close tears the session down. Both speech subsystems are stopped and no
// later callback or reply changes state.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	c.gen++
	c.mu.Unlock()

	c.cancel()
	c.stopSpeech()
	c.floor.Reset()
	c.log.Debug("session closed")
}

// SetInput replaces the pending input buffer.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.input = text
	c.touch()
	c.unlockAndEmit(Update{Kind: UpdateInput, Text: text})
}

// SetTTSEnabled toggles agent speech. Turning it off cancels playback. It
// cannot be re-enabled once the meeting ended.
func (c *Controller) SetTTSEnabled(on bool) {
	c.mu.Lock()
	if !c.alive || (on && c.lifecycle == Ended) {
		c.mu.Unlock()
		return
	}
	c.ttsEnabled = on
	c.mu.Unlock()
	if !on {
		c.cancelSynthesis()
	}
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		SessionID:         c.id,
		ScenarioID:        c.scenario.ID,
		Lifecycle:         c.lifecycle,
		Messages:          append([]types.Message(nil), c.messages...),
		Roster:            append([]types.Role(nil), c.scenario.AgentsInvolved...),
		CurrentTurn:       c.turn,
		CurrentAgentIndex: c.agentIndex,
		MaxTurns:          c.scenario.MaxTurns,
		IsRecording:       c.floor.Recording(),
		IsSpeaking:        c.floor.Speaking(),
		TTSEnabled:        c.ttsEnabled,
		Pending:           c.pending,
		Input:             c.input,
		Preview:           c.preview,
	}
	if c.capture != nil {
		st.CaptureSupported = c.capture.Supported()
	}
	return st
}

// LastActivity is when the session last changed, used for idle reaping.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTouched
}

// Alive reports whether Close has not been called yet.
func (c *Controller) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// unlockAndEmit releases mu and delivers ups to listeners. emitMu is taken
// before mu is released so updates leave in the order state changed.
func (c *Controller) unlockAndEmit(ups ...Update) {
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	for _, u := range ups {
		u.SessionID = c.id
		for _, l := range c.listeners {
			l(u)
		}
	}
}

func (c *Controller) notify(text string) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.unlockAndEmit(Update{Kind: UpdateNotice, Text: text})
}

// stopSpeech stops capture and cancels synthesis. Callers must not hold mu.
func (c *Controller) stopSpeech() {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture != nil && capture.Listening() {
		if err := capture.Stop(); err != nil {
			c.log.Debug("capture stop", zap.Error(err))
		}
	}
	c.cancelSynthesis()
}

// transcript is the log without the start prompt. Caller holds mu.
func (c *Controller) transcript() []types.Message {
	out := make([]types.Message, 0, len(c.messages))
	for _, m := range c.messages {
		if m.ID == c.startID {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Controller) indexOf(id string) int {
	for i, m := range c.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) newMessage(role types.Role, name, text string) types.Message {
	return types.Message{
		ID:          uuid.NewString(),
		Role:        role,
		DisplayName: name,
		Text:        text,
		TimestampMs: c.now().UnixMilli(),
	}
}

func (c *Controller) touch() { c.lastTouched = c.now() }

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
