package clientws

import "time"

// Message is the JSON envelope used in both directions on the client socket.
type Message struct {
	Type      string         `json:"type"`
	TsMs      int64          `json:"ts_ms"`
	SessionID string         `json:"session_id,omitempty"`
	Seq       int64          `json:"seq,omitempty"`
	CommandID string         `json:"command_id,omitempty"`
	JobID     uint64         `json:"job_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Outbound types.
const (
	TypeUpdate          = "update"
	TypeTTSPlay         = "tts_play"
	TypeTTSStop         = "tts_stop"
	TypeRecognizerStart = "recognizer_start"
	TypeRecognizerStop  = "recognizer_stop"
	TypeError           = "error"
	TypeHello           = "hello"
)

func NewMessage(typ, sessionID string, payload map[string]any) Message {
	return Message{Type: typ, TsMs: time.Now().UnixMilli(), SessionID: sessionID, Payload: payload}
}

// String returns the payload value at key if it is a string.
func (m Message) String(key string) string {
	if m.Payload == nil {
		return ""
	}
	s, _ := m.Payload[key].(string)
	return s
}

// Bool returns the payload value at key if it is a bool.
func (m Message) Bool(key string) bool {
	if m.Payload == nil {
		return false
	}
	b, _ := m.Payload[key].(bool)
	return b
}
