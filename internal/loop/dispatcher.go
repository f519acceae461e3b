// Package loop routes what a browser client sends into its session.
package loop

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"yuzu/meeting/internal/clientws"
	"yuzu/meeting/internal/events"
	"yuzu/meeting/internal/sessions"
	"yuzu/meeting/internal/stt"
)

// Inbound message types.
const (
	MsgLoad            = "load"
	MsgStart           = "start"
	MsgSubmit          = "submit"
	MsgEnd             = "end"
	MsgInput           = "input"
	MsgCaptureStart    = "capture_start"
	MsgCaptureStop     = "capture_stop"
	MsgTTS             = "tts"
	MsgTTSStopped      = "tts_stopped"
	MsgRecognizerHello = "recognizer_hello"
	MsgRecognizerEvent = "recognizer_event"
)

var known = map[string]bool{
	MsgLoad: true, MsgStart: true, MsgSubmit: true, MsgEnd: true, MsgInput: true,
	MsgCaptureStart: true, MsgCaptureStop: true, MsgTTS: true, MsgTTSStopped: true,
	MsgRecognizerHello: true, MsgRecognizerEvent: true,
}

// Dispatcher implements clientws.Inbound.
type Dispatcher struct {
	lookup  func(id string) *sessions.Session
	clients *clientws.Registry
	events  *events.Store
	log     *zap.Logger

	// async runs commands that can block on a provider.
	async func(func())
}

var _ clientws.Inbound = (*Dispatcher)(nil)

func New(lookup func(string) *sessions.Session, clients *clientws.Registry, ev *events.Store, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		lookup:  lookup,
		clients: clients,
		events:  ev,
		log:     logger.With(zap.String("component", "dispatcher")),
		async:   func(fn func()) { go fn() },
	}
}

// OnMessage processes one client message.
func (d *Dispatcher) OnMessage(ctx context.Context, sessionID string, msg clientws.Message) {
	s := d.lookup(sessionID)
	if s == nil {
		return
	}
	m := s.Meeting
	// Commands outlive the frame that carried them.
	bg := context.WithoutCancel(ctx)

	if known[msg.Type] {
		metricMessages.WithLabelValues(msg.Type).Inc()
	} else {
		metricMessages.WithLabelValues("unknown").Inc()
	}

	switch msg.Type {
	case MsgLoad:
		d.journal(sessionID, msg)
		d.result(bg, sessionID, msg, m.Load(bg, msg.String("scenario_id")))
	case MsgStart:
		d.journal(sessionID, msg)
		d.result(bg, sessionID, msg, m.Start(bg))
	case MsgSubmit:
		text := msg.String("text")
		d.async(func() { d.result(bg, sessionID, msg, m.SubmitUserResponse(bg, text)) })
	case MsgEnd:
		d.journal(sessionID, msg)
		d.async(func() { d.result(bg, sessionID, msg, m.End(bg)) })
	case MsgInput:
		m.SetInput(msg.String("text"))
	case MsgCaptureStart:
		d.result(bg, sessionID, msg, m.StartCapture(bg))
	case MsgCaptureStop:
		d.result(bg, sessionID, msg, m.StopCapture())
	case MsgTTS:
		m.SetTTSEnabled(msg.Bool("enabled"))
	case MsgTTSStopped:
		s.Player.Ack(msg.JobID, msg.String("reason"))
	case MsgRecognizerHello:
		s.Browser.SetSupported(msg.Bool("supported"))
		d.journal(sessionID, msg)
	case MsgRecognizerEvent:
		d.recognizerEvent(s, msg)
	default:
		d.log.Debug("unknown client message", zap.String("session_id", sessionID), zap.String("type", msg.Type))
		d.events.Append(sessionID, "client_msg_unknown", map[string]any{"type": msg.Type})
	}
}

func (d *Dispatcher) recognizerEvent(s *sessions.Session, msg clientws.Message) {
	kind := msg.String("kind")
	if kind == "end" {
		s.Browser.End()
		return
	}
	ev := stt.Event{Type: stt.EventType(kind), Text: msg.String("text"), Code: msg.String("code")}
	switch ev.Type {
	case stt.EventListening:
		ev.Listening = msg.Bool("listening")
	case stt.EventInterim, stt.EventFinal, stt.EventError:
	default:
		return
	}
	s.Browser.Push(ev)
}

// OnAudio forwards microphone audio to the server-side recognizer, if any.
func (d *Dispatcher) OnAudio(sessionID string, pcm []byte) {
	s := d.lookup(sessionID)
	if s == nil || s.Deepgram == nil {
		return
	}
	s.Deepgram.Write(pcm)
}

// OnDisconnect stops whatever depended on the client: its recognizer and
// audio playback.
func (d *Dispatcher) OnDisconnect(sessionID string) {
	s := d.lookup(sessionID)
	if s == nil {
		return
	}
	s.Browser.SetSupported(false)
	if err := s.Meeting.StopCapture(); err != nil {
		d.log.Debug("capture stop on disconnect", zap.String("session_id", sessionID), zap.Error(err))
	}
	s.Synth.Cancel()
}

// result reports a failed command back to the client.
func (d *Dispatcher) result(ctx context.Context, sessionID string, msg clientws.Message, err error) {
	if err == nil {
		return
	}
	metricFailures.WithLabelValues(msg.Type).Inc()
	d.log.Info("client command failed", zap.String("session_id", sessionID), zap.String("type", msg.Type), zap.Error(err))
	d.events.Append(sessionID, "command_failed", map[string]any{"type": msg.Type, "error": err.Error()})
	out := clientws.NewMessage(clientws.TypeError, sessionID, map[string]any{"for": msg.Type, "error": err.Error()})
	out.CommandID = msg.CommandID
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = d.clients.SendJSON(sctx, sessionID, out)
}

func (d *Dispatcher) journal(sessionID string, msg clientws.Message) {
	p := map[string]any{"ts_ms": msg.TsMs}
	if msg.CommandID != "" {
		p["command_id"] = msg.CommandID
	}
	for k, v := range msg.Payload {
		p[k] = v
	}
	d.events.Append(sessionID, "client_"+strings.ToLower(msg.Type), p)
}
