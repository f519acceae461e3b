package loop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"yuzu/meeting/internal/clientws"
	"yuzu/meeting/internal/events"
	"yuzu/meeting/internal/llm"
	"yuzu/meeting/internal/meeting"
	"yuzu/meeting/internal/sessions"
	"yuzu/meeting/internal/store"
	"yuzu/meeting/internal/tts"
	"yuzu/meeting/internal/types"
)

type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, req llm.Request) (string, error) {
	return string(req.Role) + " heard " + req.UserText, nil
}

type fixture struct {
	d    *Dispatcher
	sess *sessions.Session
	ev   *events.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := store.New([]types.Scenario{{
		ID:             "hiring",
		Title:          "Hiring plan",
		InitialMessage: "We need two engineers.",
		AgentsInvolved: []types.Role{"CTO", "Finance"},
	}}, nil)
	require.NoError(t, err)
	ev := events.NewStore(0)
	clients := clientws.NewRegistry()
	f := &sessions.Factory{
		Catalog:   cat,
		Responder: echoResponder{},
		Speech:    tts.NewElevenLabs("", ""),
		Clients:   clients,
		Events:    ev,
		Log:       zaptest.NewLogger(t),
	}
	reg := sessions.NewRegistry(f.Build, 0, nil)
	sess, err := reg.Create()
	require.NoError(t, err)

	d := New(reg.Get, clients, ev, zaptest.NewLogger(t))
	d.async = func(fn func()) { fn() }
	return &fixture{d: d, sess: sess, ev: ev}
}

func (f *fixture) send(typ string, payload map[string]any) {
	f.d.OnMessage(context.Background(), f.sess.ID, clientws.NewMessage(typ, f.sess.ID, payload))
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, e := range f.ev.List(f.sess.ID) {
		out = append(out, e.Type)
	}
	return out
}

func TestMeetingCommands(t *testing.T) {
	f := newFixture(t)
	f.send(MsgLoad, map[string]any{"scenario_id": "hiring"})
	assert.Equal(t, meeting.AwaitingStart, f.sess.Meeting.Snapshot().Lifecycle)

	f.send(MsgStart, nil)
	f.send(MsgSubmit, map[string]any{"text": "Finance, can we afford it?"})

	st := f.sess.Meeting.Snapshot()
	assert.Equal(t, meeting.Active, st.Lifecycle)
	last := st.Messages[len(st.Messages)-1]
	assert.Equal(t, "Finance heard Finance, can we afford it?", last.Text)

	f.send(MsgEnd, nil)
	assert.Equal(t, meeting.Ended, f.sess.Meeting.Snapshot().Lifecycle)
	assert.Contains(t, f.eventTypes(), "client_load")
	assert.Contains(t, f.eventTypes(), "client_end")
}

func TestFailedCommandIsJournaled(t *testing.T) {
	f := newFixture(t)
	f.send(MsgLoad, map[string]any{"scenario_id": "missing"})
	assert.Equal(t, meeting.Uninitialized, f.sess.Meeting.Snapshot().Lifecycle)

	var failed []types.Event
	for _, e := range f.ev.List(f.sess.ID) {
		if e.Type == "command_failed" {
			failed = append(failed, e)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, MsgLoad, failed[0].Payload["type"])
}

func TestInputAndTTSToggle(t *testing.T) {
	f := newFixture(t)
	f.send(MsgLoad, map[string]any{"scenario_id": "hiring"})
	f.send(MsgInput, map[string]any{"text": "draft"})
	f.send(MsgTTS, map[string]any{"enabled": true})

	st := f.sess.Meeting.Snapshot()
	assert.Equal(t, "draft", st.Input)
	assert.True(t, st.TTSEnabled)

	f.send(MsgTTS, map[string]any{"enabled": false})
	assert.False(t, f.sess.Meeting.Snapshot().TTSEnabled)
}

func TestRecognizerHelloAndDisconnect(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.sess.Capture.Supported())
	f.send(MsgRecognizerHello, map[string]any{"supported": true})
	assert.True(t, f.sess.Capture.Supported())

	f.d.OnDisconnect(f.sess.ID)
	assert.False(t, f.sess.Capture.Supported())
}

func TestUnknownSessionAndType(t *testing.T) {
	f := newFixture(t)
	f.d.OnMessage(context.Background(), "nope", clientws.NewMessage(MsgStart, "nope", nil))
	f.d.OnAudio("nope", []byte{1})
	f.d.OnAudio(f.sess.ID, []byte{1})
	f.d.OnDisconnect("nope")

	f.send("dance", nil)
	assert.Contains(t, f.eventTypes(), "client_msg_unknown")
}
