package meeting

import "yuzu/meeting/internal/types"

type UpdateKind string

const (
	UpdateMessage        UpdateKind = "message"
	UpdateMessageUpdated UpdateKind = "message_updated"
	UpdateLifecycle      UpdateKind = "lifecycle"
	UpdatePreview        UpdateKind = "preview"
	UpdateInput          UpdateKind = "input"
	UpdateNotice         UpdateKind = "notice"
	UpdateRecording      UpdateKind = "recording"
	UpdateSpeaking       UpdateKind = "speaking"
)

// Update describes one visible state change. Only the fields relevant to
// Kind are set.
type Update struct {
	SessionID string         `json:"session_id"`
	Kind      UpdateKind     `json:"kind"`
	Message   *types.Message `json:"message,omitempty"`
	Lifecycle Lifecycle      `json:"lifecycle,omitempty"`
	Text      string         `json:"text,omitempty"`
	On        bool           `json:"on,omitempty"`
}

// Listener receives updates in the order they were produced. It must not
// call back into the controller that invoked it.
type Listener func(Update)

func messageUpdate(kind UpdateKind, m types.Message) Update {
	return Update{Kind: kind, Message: &m}
}
