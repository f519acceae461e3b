package stt

import "context"

type EventType string

const (
	EventListening EventType = "listening"
	EventInterim   EventType = "interim"
	EventFinal     EventType = "final"
	EventError     EventType = "error"
)

// Event is one notification from a recognition source.
type Event struct {
	Type      EventType
	Text      string
	Listening bool
	// Code is the recognizer's raw error code for EventError.
	Code string
}

// Source is a continuous speech recognizer. Start returns a channel that is
// closed when the recognizer ends, whether by Stop, an error, or on its own.
type Source interface {
	Supported() bool
	Start(ctx context.Context) (<-chan Event, error)
	Stop() error
}
