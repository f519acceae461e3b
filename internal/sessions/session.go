package sessions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"yuzu/meeting/internal/clientws"
	"yuzu/meeting/internal/events"
	"yuzu/meeting/internal/llm"
	"yuzu/meeting/internal/meeting"
	"yuzu/meeting/internal/stt"
	"yuzu/meeting/internal/summary"
	"yuzu/meeting/internal/tts"
)

const (
	CaptureBrowser  = "browser"
	CaptureDeepgram = "deepgram"
)

// Session bundles one meeting with the speech components that serve it.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Meeting *meeting.Controller `json:"-"`
	Capture *stt.Controller     `json:"-"`
	Synth   *tts.Controller     `json:"-"`
	Player  *clientws.Player    `json:"-"`
	// Browser is always present so a client can report recognizer events;
	// Deepgram is set only when capture runs server side.
	Browser  *stt.BrowserSource  `json:"-"`
	Deepgram *stt.DeepgramSource `json:"-"`
}

// Close ends the meeting's background work, including a capture that is
// still connecting.
func (s *Session) Close() {
	s.Meeting.Close()
	if s.Capture != nil {
		_ = s.Capture.Stop()
	}
}

// Factory wires sessions against the shared process components.
type Factory struct {
	Catalog   meeting.Catalog
	Responder llm.Responder
	Sink      summary.Sink
	Speech    tts.Provider
	Clients   *clientws.Registry
	Events    *events.Store

	Meeting meeting.Options
	TTS     tts.Options
	// CaptureSource is CaptureBrowser or CaptureDeepgram.
	CaptureSource   string
	Deepgram        stt.DGConfig
	DeepgramKey     string
	PlaybackTimeout time.Duration

	Log *zap.Logger
}

// Build implements Builder.
func (f *Factory) Build(id string) (*Session, error) {
	if f.Catalog == nil || f.Responder == nil {
		return nil, errors.New("sessions: factory missing catalog or responder")
	}
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("session_id", id))

	opts := f.Meeting
	opts.SessionID = id
	m := meeting.New(meeting.Deps{
		Catalog:   f.Catalog,
		Responder: f.Responder,
		Sink:      f.Sink,
		Listeners: []meeting.Listener{f.forward(id, log)},
	}, opts, log)

	sess := &Session{ID: id, CreatedAt: time.Now().UTC(), Meeting: m}
	sess.Browser = stt.NewBrowserSource(func(ctx context.Context, command string) error {
		return f.Clients.SendJSON(ctx, id, clientws.NewMessage(command, id, nil))
	})
	var src stt.Source = sess.Browser
	if f.CaptureSource == CaptureDeepgram {
		sess.Deepgram = stt.NewDeepgramSource(f.Deepgram, f.DeepgramKey, log)
		src = sess.Deepgram
	}
	sess.Capture = stt.NewController(src, stt.Callbacks{
		OnListening: m.HandleRecording,
		OnPreview:   m.HandlePreview,
		OnCommit:    m.HandleCommit,
		OnError:     m.HandleCaptureError,
	}, log)

	sess.Player = clientws.NewPlayer(f.Clients, id, f.PlaybackTimeout, log)
	sess.Synth = tts.NewController(f.Speech, sess.Player, tts.Callbacks{
		OnSpeaking: m.HandleSpeaking,
		OnError:    m.HandleSynthesisError,
	}, f.TTS, log)

	m.AttachSpeech(sess.Capture, sess.Synth)
	return sess, nil
}

// forward pushes meeting updates to the session's client and journals the
// ones worth keeping.
func (f *Factory) forward(id string, log *zap.Logger) meeting.Listener {
	return func(u meeting.Update) {
		if f.Events != nil {
			switch u.Kind {
			case meeting.UpdateMessage, meeting.UpdateLifecycle, meeting.UpdateNotice:
				f.Events.Append(id, "meeting_"+string(u.Kind), updatePayload(u))
			}
		}
		if f.Clients == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := f.Clients.SendJSON(ctx, id, clientws.NewMessage(clientws.TypeUpdate, id, map[string]any{"update": u}))
		if err != nil && !errors.Is(err, clientws.ErrNoClient) {
			log.Debug("update not delivered", zap.String("kind", string(u.Kind)), zap.Error(err))
		}
	}
}

func updatePayload(u meeting.Update) map[string]any {
	p := map[string]any{}
	if u.Message != nil {
		p["message_id"] = u.Message.ID
		p["role"] = string(u.Message.Role)
		p["text"] = u.Message.Text
	}
	if u.Lifecycle != "" {
		p["lifecycle"] = string(u.Lifecycle)
	}
	if u.Text != "" {
		p["text"] = u.Text
	}
	return p
}
