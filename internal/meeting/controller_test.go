package meeting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"yuzu/meeting/internal/llm"
	"yuzu/meeting/internal/store"
	"yuzu/meeting/internal/stt"
	"yuzu/meeting/internal/types"
)

const unaddressed = "okay, please go on"

type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.ops
	l.ops = nil
	return out
}

type fakeResponder struct {
	mu    sync.Mutex
	reqs  []llm.Request
	fn    func(req llm.Request) (string, error)
	block chan struct{}
	entry chan struct{}
}

func (f *fakeResponder) Respond(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block, entry, fn := f.block, f.entry, f.fn
	f.mu.Unlock()
	if entry != nil {
		entry <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if fn != nil {
		return fn(req)
	}
	return string(req.Role) + " reply", nil
}

func (f *fakeResponder) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.reqs...)
}

type fakeSink struct {
	mu    sync.Mutex
	saved []types.Summary
	err   error
}

func (s *fakeSink) SaveSummary(ctx context.Context, sum types.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, sum)
	return nil
}

type fakeSynth struct {
	log    *opLog
	mu     sync.Mutex
	spoken []string
}

func (f *fakeSynth) Speak(ctx context.Context, text string, role types.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.spoken = append(f.spoken, string(role)+": "+text)
	f.mu.Unlock()
	return nil
}

func (f *fakeSynth) Cancel() { f.log.add("synth_cancel") }

func (f *fakeSynth) said() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type fakeCapture struct {
	log       *opLog
	mu        sync.Mutex
	listening bool
}

func (f *fakeCapture) Supported() bool { return true }

func (f *fakeCapture) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *fakeCapture) Start(ctx context.Context, base string) error {
	f.log.add("capture_start")
	f.mu.Lock()
	f.listening = true
	f.mu.Unlock()
	return nil
}

func (f *fakeCapture) Stop() error {
	f.log.add("capture_stop")
	f.mu.Lock()
	f.listening = false
	f.mu.Unlock()
	return nil
}

type harness struct {
	c       *Controller
	resp    *fakeResponder
	sink    *fakeSink
	synth   *fakeSynth
	capture *fakeCapture
	log     *opLog

	mu      sync.Mutex
	updates []Update
}

func (h *harness) notices() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, u := range h.updates {
		if u.Kind == UpdateNotice {
			out = append(out, u.Text)
		}
	}
	return out
}

var testPersonas = []types.Persona{
	{ID: "p1", Name: "Alex", Role: "CTO", InstructionPrompt: "Catalog CTO prompt."},
	{ID: "p2", Name: "Dana", Role: "Finance", InstructionPrompt: "You guard the budget."},
}

func newHarness(t *testing.T, sc types.Scenario, tts bool) *harness {
	t.Helper()
	cat, err := store.New([]types.Scenario{sc}, testPersonas)
	require.NoError(t, err)

	h := &harness{resp: &fakeResponder{}, sink: &fakeSink{}, log: &opLog{}}
	h.synth = &fakeSynth{log: h.log}
	h.capture = &fakeCapture{log: h.log}
	h.c = New(Deps{
		Catalog:   cat,
		Responder: h.resp,
		Sink:      h.sink,
		Listeners: []Listener{func(u Update) {
			h.mu.Lock()
			h.updates = append(h.updates, u)
			h.mu.Unlock()
			if u.Kind == UpdateLifecycle && u.Lifecycle == Ended {
				h.log.add("ended")
			}
		}},
	}, Options{SessionID: "s1", TTSEnabled: tts, LearningMode: true, Grace: 50 * time.Millisecond}, zaptest.NewLogger(t))
	h.c.AttachSpeech(h.capture, h.synth)
	h.c.async = func(fn func()) { fn() }
	h.c.sleep = func(ctx context.Context, d time.Duration) error {
		h.log.add("grace")
		return nil
	}
	t.Cleanup(h.c.Close)
	return h
}

// deferSpeech queues background work instead of running it inline. The
// returned func runs whatever was queued.
func deferSpeech(h *harness) func() {
	var mu sync.Mutex
	var queued []func()
	h.c.async = func(fn func()) {
		mu.Lock()
		queued = append(queued, fn)
		mu.Unlock()
	}
	return func() {
		mu.Lock()
		fns := queued
		queued = nil
		mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
}

func active(t *testing.T, sc types.Scenario, tts bool) *harness {
	t.Helper()
	h := newHarness(t, sc, tts)
	ctx := context.Background()
	require.NoError(t, h.c.Load(ctx, sc.ID))
	require.NoError(t, h.c.Start(ctx))
	h.log.take()
	return h
}

func roles(rs ...string) []types.Role {
	out := make([]types.Role, len(rs))
	for i, r := range rs {
		out[i] = types.Role(r)
	}
	return out
}

func TestLoadUnknownScenario(t *testing.T) {
	h := newHarness(t, types.Scenario{ID: "budget"}, false)
	err := h.c.Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrScenarioNotFound)
	assert.Equal(t, Uninitialized, h.c.Snapshot().Lifecycle)
}

func TestLoadThenStart(t *testing.T) {
	sc := types.Scenario{ID: "budget", Title: "Budget", InitialMessage: "Welcome, let's review Q3.", AgentsInvolved: roles("CTO", "Finance")}
	h := newHarness(t, sc, true)
	ctx := context.Background()

	require.NoError(t, h.c.Load(ctx, "budget"))
	st := h.c.Snapshot()
	assert.Equal(t, AwaitingStart, st.Lifecycle)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, types.ActionStartMeeting, st.Messages[0].Action)

	// Nothing is accepted before the start action.
	require.NoError(t, h.c.SubmitUserResponse(ctx, "hello"))
	assert.Len(t, h.c.Snapshot().Messages, 1)

	require.NoError(t, h.c.Start(ctx))
	st = h.c.Snapshot()
	assert.Equal(t, Active, st.Lifecycle)
	require.Len(t, st.Messages, 2)
	assert.Empty(t, st.Messages[0].Action, "start prompt keeps its place without the action")
	assert.Equal(t, types.Role("CTO"), st.Messages[1].Role)
	assert.Equal(t, "Alex", st.Messages[1].DisplayName)
	assert.Equal(t, []string{"CTO: Welcome, let's review Q3."}, h.synth.said())

	// Start is a no-op once active.
	require.NoError(t, h.c.Start(ctx))
	assert.Len(t, h.c.Snapshot().Messages, 2)

	// Reloading the same scenario does not replay the opening line.
	require.NoError(t, h.c.Load(ctx, "budget"))
	require.NoError(t, h.c.Start(ctx))
	assert.Len(t, h.synth.said(), 1)
}

func TestStartWithEmptyRosterUsesSystem(t *testing.T) {
	h := active(t, types.Scenario{ID: "solo", InitialMessage: "Practice alone."}, false)
	st := h.c.Snapshot()
	assert.Equal(t, types.RoleSystem, st.Messages[1].Role)

	// No responder, but the turn still completes.
	require.NoError(t, h.c.SubmitUserResponse(context.Background(), "hi"))
	st = h.c.Snapshot()
	assert.Equal(t, 1, st.CurrentTurn)
	assert.Empty(t, h.resp.requests())
}

func TestRoundRobinIndexIsTurnsModRoster(t *testing.T) {
	all := roles("CTO", "Finance", "Product", "Legal", "Sales")
	for n := 1; n <= len(all); n++ {
		sc := types.Scenario{ID: "s", AgentsInvolved: all[:n]}
		h := active(t, sc, false)
		for turnNo := 1; turnNo <= 7; turnNo++ {
			require.NoError(t, h.c.SubmitUserResponse(context.Background(), unaddressed))
			st := h.c.Snapshot()
			assert.Equal(t, turnNo%n, st.CurrentAgentIndex, "roster %d turn %d", n, turnNo)
			assert.Equal(t, turnNo, st.CurrentTurn)
		}
	}
}

func TestThreeUnaddressedTurnsRotate(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO", "Finance")}, false)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.c.SubmitUserResponse(context.Background(), unaddressed))
	}
	var got []types.Role
	for _, r := range h.resp.requests() {
		got = append(got, r.Role)
	}
	assert.Equal(t, roles("CTO", "Finance", "CTO"), got)
}

func TestExplicitReferenceKeepsIndex(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO", "Finance", "Product")}, false)
	require.NoError(t, h.c.SubmitUserResponse(context.Background(), "Finance, what's your take?"))

	st := h.c.Snapshot()
	assert.Equal(t, 0, st.CurrentAgentIndex)
	assert.Equal(t, 1, st.CurrentTurn)
	last := st.Messages[len(st.Messages)-1]
	assert.Equal(t, types.Role("Finance"), last.Role)
	assert.Equal(t, "Dana", last.DisplayName)

	// Addressing by persona name works too.
	require.NoError(t, h.c.SubmitUserResponse(context.Background(), "Alex, thoughts?"))
	reqs := h.resp.requests()
	assert.Equal(t, types.Role("CTO"), reqs[1].Role)
	assert.Equal(t, 0, h.c.Snapshot().CurrentAgentIndex)
}

func TestRequestCarriesPersonaAndOtherAgents(t *testing.T) {
	sc := types.Scenario{
		ID:             "s",
		Objective:      "Agree on hiring",
		AgentsInvolved: roles("CTO", "Finance", "Product"),
		PersonaConfig:  map[string]string{"cto": "Scenario CTO prompt."},
	}
	h := active(t, sc, false)
	require.NoError(t, h.c.SubmitUserResponse(context.Background(), unaddressed))

	req := h.resp.requests()[0]
	assert.Equal(t, types.Role("CTO"), req.Role)
	assert.Equal(t, "Scenario CTO prompt.", req.PersonaPrompt, "scenario configuration wins over the catalog")
	assert.Equal(t, "Agree on hiring", req.Objective)
	assert.True(t, req.LearningMode)
	require.Len(t, req.History, 1)
	assert.Equal(t, types.RoleUser, req.History[0].Role)
	require.Len(t, req.OtherAgents, 2)
	assert.Equal(t, llm.AgentInfo{Role: "Finance", Name: "Dana", PersonaPrompt: "You guard the budget."}, req.OtherAgents[0])
	assert.Equal(t, types.Role("Product"), req.OtherAgents[1].Role)
	assert.Contains(t, req.OtherAgents[1].PersonaPrompt, "Product")
}

func TestDuplicateSubmitWhilePendingIsIgnored(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, false)
	h.resp.block = make(chan struct{})
	h.resp.entry = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.c.SubmitUserResponse(context.Background(), "first") }()
	<-h.resp.entry

	require.NoError(t, h.c.SubmitUserResponse(context.Background(), "second"))
	assert.True(t, h.c.Snapshot().Pending)
	close(h.resp.block)
	require.NoError(t, <-done)

	var users int
	for _, m := range h.c.Snapshot().Messages {
		if m.Role == types.RoleUser {
			users++
		}
	}
	assert.Equal(t, 1, users)
	assert.Len(t, h.resp.requests(), 1)
}

func TestProviderFailureAppendsApology(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO", "Finance")}, false)
	boom := errors.New("provider down")
	h.resp.fn = func(llm.Request) (string, error) { return "", boom }

	err := h.c.SubmitUserResponse(context.Background(), unaddressed)
	require.ErrorIs(t, err, boom)

	st := h.c.Snapshot()
	assert.Equal(t, Active, st.Lifecycle)
	assert.False(t, st.Pending)
	assert.Equal(t, 0, st.CurrentTurn)
	assert.Equal(t, 0, st.CurrentAgentIndex)
	last := st.Messages[len(st.Messages)-1]
	assert.Equal(t, types.RoleSystem, last.Role)
	assert.NotEmpty(t, h.notices())

	// The user may retry.
	h.resp.fn = nil
	require.NoError(t, h.c.SubmitUserResponse(context.Background(), unaddressed))
	assert.Equal(t, 1, h.c.Snapshot().CurrentTurn)
}

func TestMaxTurnsEndsMeeting(t *testing.T) {
	sc := types.Scenario{ID: "s", Title: "Budget", Objective: "Decide", InitialMessage: "Let's start.", AgentsInvolved: roles("CTO", "Finance"), MaxTurns: 3}
	h := active(t, sc, true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.c.SubmitUserResponse(ctx, unaddressed))
	}

	st := h.c.Snapshot()
	assert.Equal(t, Ended, st.Lifecycle)
	assert.False(t, st.TTSEnabled)
	assert.Equal(t, 3, st.CurrentTurn)
	last := st.Messages[len(st.Messages)-1]
	assert.Equal(t, types.RoleSystem, last.Role)

	require.Len(t, h.sink.saved, 1)
	sum := h.sink.saved[0]
	assert.Equal(t, "Budget", sum.ScenarioTitle)
	assert.Equal(t, "Decide", sum.Objective)
	assert.Equal(t, st.Messages[1:], sum.Messages, "every message except the start prompt, in order")
	assert.Equal(t, last, sum.Messages[len(sum.Messages)-1])

	said := h.synth.said()
	require.Len(t, said, 3, "the opening and the first two replies; the reply that hits the limit is not spoken")
	assert.Equal(t, "CTO: Let's start.", said[0])

	// Ended is terminal.
	require.NoError(t, h.c.SubmitUserResponse(ctx, unaddressed))
	require.NoError(t, h.c.Start(ctx))
	require.ErrorIs(t, h.c.Load(ctx, "s"), ErrEnded)
	assert.Len(t, h.c.Snapshot().Messages, len(st.Messages))
}

func TestEndStopsSpeechBeforeFlipping(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, true)
	ctx := context.Background()
	require.NoError(t, h.c.StartCapture(ctx))
	h.log.take()

	require.NoError(t, h.c.End(ctx))
	assert.Equal(t, []string{"capture_stop", "synth_cancel", "grace", "ended"}, h.log.take())
	assert.Equal(t, Ended, h.c.Snapshot().Lifecycle)
	require.Len(t, h.sink.saved, 1)

	// A second End does nothing.
	require.NoError(t, h.c.End(ctx))
	assert.Len(t, h.sink.saved, 1)
}

func TestSinkFailureStillEnds(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, false)
	h.sink.err = errors.New("disk full")

	err := h.c.End(context.Background())
	require.Error(t, err)
	assert.Equal(t, Ended, h.c.Snapshot().Lifecycle)
	assert.Len(t, h.notices(), 1)
}

func TestStaleReplyAfterEndIsDropped(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, false)
	h.resp.block = make(chan struct{})
	h.resp.entry = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.c.SubmitUserResponse(context.Background(), "status?") }()
	<-h.resp.entry

	require.NoError(t, h.c.End(context.Background()))
	n := len(h.c.Snapshot().Messages)
	close(h.resp.block)
	require.NoError(t, <-done)

	st := h.c.Snapshot()
	assert.Len(t, st.Messages, n, "late reply must not be appended")
	assert.Equal(t, 0, st.CurrentTurn)
}

func TestStartCaptureCancelsSynthesisFirst(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, true)
	h.c.HandleSpeaking(true)
	require.True(t, h.c.Snapshot().IsSpeaking)

	require.NoError(t, h.c.StartCapture(context.Background()))
	assert.Equal(t, []string{"synth_cancel", "capture_start"}, h.log.take())

	h.c.HandleRecording(true)
	st := h.c.Snapshot()
	assert.True(t, st.IsRecording)
	assert.False(t, st.IsSpeaking)
}

func TestAgentSpeechStopsCapture(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, true)
	require.NoError(t, h.c.StartCapture(context.Background()))
	h.c.HandleRecording(true)
	h.log.take()

	h.c.HandleSpeaking(true)
	assert.Equal(t, []string{"capture_stop"}, h.log.take())
	st := h.c.Snapshot()
	assert.False(t, st.IsRecording)
	assert.True(t, st.IsSpeaking)
}

func TestReplyIsSpokenWhenEnabled(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, true)
	require.NoError(t, h.c.SubmitUserResponse(context.Background(), unaddressed))
	assert.Equal(t, []string{"CTO: CTO reply"}, h.synth.said())
	assert.Contains(t, h.log.take(), "synth_cancel", "a new user turn cancels earlier speech")

	h.c.SetTTSEnabled(false)
	assert.Equal(t, []string{"synth_cancel"}, h.log.take())
	require.NoError(t, h.c.SubmitUserResponse(context.Background(), unaddressed))
	assert.Len(t, h.synth.said(), 1)
}

func TestSpeechQueuedBeforeEndIsDropped(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, true)
	run := deferSpeech(h)
	ctx := context.Background()

	require.NoError(t, h.c.SubmitUserResponse(ctx, unaddressed))
	require.NoError(t, h.c.End(ctx))
	run()

	assert.Empty(t, h.synth.said())
	assert.Equal(t, Ended, h.c.Snapshot().Lifecycle)
}

func TestSpeechQueuedBeforeLoadIsDropped(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, true)
	run := deferSpeech(h)
	ctx := context.Background()

	require.NoError(t, h.c.SubmitUserResponse(ctx, unaddressed))
	require.NoError(t, h.c.Load(ctx, "s"))
	run()

	assert.Empty(t, h.synth.said())
	assert.Equal(t, AwaitingStart, h.c.Snapshot().Lifecycle)
}

func TestSpeechQueuedBeforeCloseIsDropped(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, true)
	run := deferSpeech(h)

	require.NoError(t, h.c.SubmitUserResponse(context.Background(), unaddressed))
	h.c.Close()
	run()

	assert.Empty(t, h.synth.said())
}

func TestOnlyLatestTurnIsSpoken(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO", "Finance")}, true)
	run := deferSpeech(h)
	ctx := context.Background()

	require.NoError(t, h.c.SubmitUserResponse(ctx, unaddressed))
	require.NoError(t, h.c.SubmitUserResponse(ctx, unaddressed))
	run()

	said := h.synth.said()
	require.Len(t, said, 1)
	assert.Contains(t, said[0], "Finance")
}

func TestStartCaptureDropsQueuedSpeech(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, true)
	run := deferSpeech(h)
	ctx := context.Background()

	require.NoError(t, h.c.SubmitUserResponse(ctx, unaddressed))
	require.NoError(t, h.c.StartCapture(ctx))
	run()

	assert.Empty(t, h.synth.said())
	assert.True(t, h.capture.Listening())
}

func TestCapturePermissionDenied(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, false)
	require.NoError(t, h.c.StartCapture(context.Background()))
	h.c.HandleRecording(true)
	h.c.HandlePreview("I think we")

	h.c.HandleCaptureError(&stt.CaptureError{Category: stt.PermissionDenied, Code: "not-allowed"})
	st := h.c.Snapshot()
	assert.False(t, st.IsRecording)
	assert.Empty(t, st.Preview)
	assert.Equal(t, []string{stt.PermissionDenied.Message()}, h.notices())
}

func TestCommitFeedsInput(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, false)
	h.c.SetInput("draft")
	h.c.HandleCommit("draft and more")
	assert.Equal(t, "draft and more", h.c.Snapshot().Input)

	require.NoError(t, h.c.SubmitUserResponse(context.Background(), h.c.Snapshot().Input))
	st := h.c.Snapshot()
	assert.Empty(t, st.Input)
	assert.Equal(t, "draft and more", st.Messages[1].Text)
}

func TestCloseBlocksLateCallbacks(t *testing.T) {
	h := active(t, types.Scenario{ID: "s", AgentsInvolved: roles("CTO")}, false)
	h.c.Close()
	assert.Contains(t, h.log.take(), "synth_cancel")

	h.mu.Lock()
	before := len(h.updates)
	h.mu.Unlock()

	h.c.HandlePreview("late")
	h.c.HandleSpeaking(true)
	h.c.HandleCaptureError(&stt.CaptureError{Category: stt.NetworkFailure})
	require.NoError(t, h.c.SubmitUserResponse(context.Background(), "hello"))

	h.mu.Lock()
	assert.Len(t, h.updates, before)
	h.mu.Unlock()
	assert.Empty(t, h.c.Snapshot().Preview)
	assert.False(t, h.c.Alive())
}
