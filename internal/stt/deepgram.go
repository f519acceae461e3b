package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type DGConfig struct {
	Model         string
	Language      string
	EndpointingMs int
	UtterEndMs    int
	BaseURL       string
}

// DeepgramSource streams PCM16@16k audio pushed by the client to Deepgram's
// live endpoint and turns its results into capture events. One websocket is
// opened per capture run.
type DeepgramSource struct {
	apiKey string
	url    string
	log    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	sendQ  chan []byte
}

func NewDeepgramSource(cfg DGConfig, apiKey string, logger *zap.Logger) *DeepgramSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := url.Values{}
	q.Set("model", orDefault(cfg.Model, "nova-2"))
	q.Set("language", orDefault(cfg.Language, "en-US"))
	q.Set("smart_format", "true")
	q.Set("endpointing", fmt.Sprintf("%d", nzd(cfg.EndpointingMs, 1000)))
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", fmt.Sprintf("%d", nzd(cfg.UtterEndMs, 1500)))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")
	base := orDefault(cfg.BaseURL, "wss://api.deepgram.com/v1/listen")
	return &DeepgramSource{
		apiKey: apiKey,
		url:    base + "?" + q.Encode(),
		log:    logger.With(zap.String("component", "deepgram")),
	}
}

func (d *DeepgramSource) Supported() bool { return d.apiKey != "" }

func (d *DeepgramSource) Start(parent context.Context) (<-chan Event, error) {
	hdr := make(http.Header)
	hdr.Set("Authorization", "Token "+d.apiKey)

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	start := time.Now()
	ws, _, err := websocket.Dial(dialCtx, d.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		cancel()
		return nil, &CaptureError{Category: NetworkFailure, Code: "network", Err: err}
	}
	metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))
	d.log.Debug("connected", zap.Duration("took", time.Since(start)))

	sendQ := make(chan []byte, 8)
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.sendQ = sendQ
	d.mu.Unlock()

	events := make(chan Event, 32)
	events <- Event{Type: EventListening, Listening: true}
	go d.pumpAudio(ctx, ws, sendQ)
	go d.readLoop(ctx, ws, events)
	return events, nil
}

// Stop closes the live connection. The read loop sees the cancellation and
// ends the run without reporting an error.
func (d *DeepgramSource) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.sendQ = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Write enqueues one audio frame; frames are dropped when the queue is full
// or no capture is running.
func (d *DeepgramSource) Write(pcm16k []byte) bool {
	d.mu.Lock()
	q := d.sendQ
	d.mu.Unlock()
	if q == nil {
		return false
	}
	select {
	case q <- pcm16k:
		metricAudioBytes.Add(float64(len(pcm16k)))
		return true
	default:
		metricDrops.Inc()
		return false
	}
}

func (d *DeepgramSource) pumpAudio(ctx context.Context, ws *websocket.Conn, q chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-q:
			if len(b) == 0 {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := ws.Write(wctx, websocket.MessageBinary, b)
			cancel()
			if err != nil {
				d.log.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}

func (d *DeepgramSource) readLoop(ctx context.Context, ws *websocket.Conn, events chan<- Event) {
	defer close(events)
	defer ws.Close(websocket.StatusNormalClosure, "bye")

	// pending is the latest interim not yet covered by a final.
	var pending string
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				events <- Event{Type: EventError, Code: "network"}
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			d.log.Debug("bad frame", zap.Error(err))
			continue
		}
		typ := toString(m["type"])
		switch {
		case strings.EqualFold(typ, "Error") || m["error"] != nil:
			events <- Event{Type: EventError, Code: "network", Text: orDefault(toString(m["error"]), toString(m["message"]))}
			return

		case strings.EqualFold(typ, "Results") || m["channel"] != nil:
			text := transcript(m)
			if text == "" {
				continue
			}
			if toBool(m["is_final"]) || toBool(m["speech_final"]) {
				pending = ""
				events <- Event{Type: EventFinal, Text: text}
			} else {
				pending = text
				events <- Event{Type: EventInterim, Text: text}
			}

		case strings.EqualFold(typ, "UtteranceEnd"):
			// Fall back to the last interim if the provider never finalized it.
			if pending != "" {
				events <- Event{Type: EventFinal, Text: pending}
				pending = ""
			}
		}
	}
}

// transcript reads channel.alternatives[0].transcript.
func transcript(m map[string]any) string {
	channel, _ := m["channel"].(map[string]any)
	if channel == nil {
		return ""
	}
	alts, _ := channel["alternatives"].([]any)
	if len(alts) == 0 {
		return ""
	}
	a0, _ := alts[0].(map[string]any)
	return strings.TrimSpace(toString(a0["transcript"]))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nzd(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
