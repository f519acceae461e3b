package clientws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	ws "nhooyr.io/websocket"

	"yuzu/meeting/internal/auth"
	"yuzu/meeting/internal/events"
	"yuzu/meeting/internal/tts"
	"yuzu/meeting/internal/types"
)

type fakeInbound struct {
	msgs  chan Message
	audio chan []byte
	gone  chan string
}

func newFakeInbound() *fakeInbound {
	return &fakeInbound{msgs: make(chan Message, 8), audio: make(chan []byte, 8), gone: make(chan string, 1)}
}

func (f *fakeInbound) OnMessage(_ context.Context, _ string, m Message) { f.msgs <- m }
func (f *fakeInbound) OnAudio(_ string, b []byte)                        { f.audio <- b }
func (f *fakeInbound) OnDisconnect(id string)                            { f.gone <- id }

type harness struct {
	srv *Server
	ts  *httptest.Server
	in  *fakeInbound
	iss auth.Issuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	iss := auth.Issuer{Secret: "s3cret", TTL: time.Minute}
	in := newFakeInbound()
	srv := NewServer(NewRegistry(), iss, events.NewStore(0), func(id string) bool { return id == "s1" }, in, zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleClientWS))
	t.Cleanup(ts.Close)
	return &harness{srv: srv, ts: ts, in: in, iss: iss}
}

func (h *harness) dial(t *testing.T, ctx context.Context) *ws.Conn {
	t.Helper()
	tok, _, err := h.iss.Issue("s1")
	require.NoError(t, err)
	u := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/client?session_id=s1&token=" + tok
	c, _, err := ws.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ws.StatusNormalClosure, "") })

	var hello Message
	readJSON(t, ctx, c, &hello)
	require.Equal(t, TypeHello, hello.Type)
	return c
}

func readJSON(t *testing.T, ctx context.Context, c *ws.Conn, v any) {
	t.Helper()
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, ws.MessageText, typ)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/client"

	_, resp, err := ws.Dial(ctx, base, nil)
	require.Error(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	_, resp, err = ws.Dial(ctx, base+"?session_id=nope&token=x", nil)
	require.Error(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	_, resp, err = ws.Dial(ctx, base+"?session_id=s1&token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	other, _, _ := h.iss.Issue("s2")
	_, resp, err = ws.Dial(ctx, base+"?session_id=s1&token="+other, nil)
	require.Error(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestRoutesFramesToInbound(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := h.dial(t, ctx)

	require.NoError(t, c.Write(ctx, ws.MessageText, []byte(`{"type":"submit","payload":{"text":"hi"}}`)))
	require.NoError(t, c.Write(ctx, ws.MessageBinary, []byte{1, 2, 3}))
	require.NoError(t, c.Write(ctx, ws.MessageText, []byte(`not json`)))

	select {
	case m := <-h.in.msgs:
		assert.Equal(t, "submit", m.Type)
		assert.Equal(t, "s1", m.SessionID)
		assert.Equal(t, "hi", m.String("text"))
	case <-ctx.Done():
		t.Fatal("no message")
	}
	select {
	case b := <-h.in.audio:
		assert.Equal(t, []byte{1, 2, 3}, b)
	case <-ctx.Done():
		t.Fatal("no audio")
	}

	require.NoError(t, c.Close(ws.StatusNormalClosure, "bye"))
	select {
	case id := <-h.in.gone:
		assert.Equal(t, "s1", id)
	case <-ctx.Done():
		t.Fatal("no disconnect")
	}
	var kinds []string
	for _, e := range h.srv.Events.List("s1") {
		kinds = append(kinds, e.Type)
	}
	assert.Contains(t, kinds, "client_connected")
	assert.Contains(t, kinds, "client_msg_invalid")
}

func TestPlayerWaitsForAck(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := h.dial(t, ctx)

	p := NewPlayer(h.srv.Reg, "s1", time.Second, zap.NewNop())
	done := make(chan error, 1)
	go func() {
		done <- p.Play(ctx, 7, types.Role("CTO"), tts.Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"})
	}()

	var hdr Message
	readJSON(t, ctx, c, &hdr)
	assert.Equal(t, TypeTTSPlay, hdr.Type)
	assert.Equal(t, uint64(7), hdr.JobID)
	assert.Equal(t, "CTO", hdr.String("role"))
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageBinary, typ)
	assert.Equal(t, []byte("mp3"), data)

	p.Ack(6, "ended")
	select {
	case <-done:
		t.Fatal("stale ack ended playback")
	case <-time.After(50 * time.Millisecond):
	}
	p.Ack(7, "ended")
	require.NoError(t, <-done)

	// Already ended: no tts_stop goes out.
	p.Stop()
	readCtx, rc := context.WithTimeout(ctx, 100*time.Millisecond)
	defer rc()
	_, _, err = c.Read(readCtx)
	assert.Error(t, err)
}

func TestPlayerStopAndTimeout(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := h.dial(t, ctx)

	p := NewPlayer(h.srv.Reg, "s1", 200*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- p.Play(ctx, 1, types.Role("CTO"), tts.Audio{Data: []byte("x")}) }()

	var hdr Message
	readJSON(t, ctx, c, &hdr)
	_, _, err := c.Read(ctx)
	require.NoError(t, err)

	p.Stop()
	var stop Message
	readJSON(t, ctx, c, &stop)
	assert.Equal(t, TypeTTSStop, stop.Type)
	assert.Equal(t, uint64(1), stop.JobID)

	assert.ErrorIs(t, <-done, ErrPlaybackTimeout)
}

func TestPlayerWithoutClient(t *testing.T) {
	p := NewPlayer(NewRegistry(), "s1", time.Second, nil)
	err := p.Play(context.Background(), 1, types.Role("CTO"), tts.Audio{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNoClient)
	p.Stop()
}
