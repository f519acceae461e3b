package stt

import (
	"errors"
	"strings"
)

// Category is the user-facing classification of a capture failure.
type Category string

const (
	NoSpeechDetected    Category = "no_speech"
	AudioCaptureFailure Category = "audio_capture"
	PermissionDenied    Category = "permission_denied"
	NetworkFailure      Category = "network"
	Unknown             Category = "unknown"
	// Aborted means the caller stopped capture itself. It is never reported.
	Aborted Category = "aborted"
)

var ErrUnsupported = errors.New("speech capture is not supported")

// Classify maps a recognizer error code to a category. Codes follow the
// platform recognizer vocabulary ("no-speech", "not-allowed", ...).
func Classify(code string) Category {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "no-speech", "no_speech":
		return NoSpeechDetected
	case "audio-capture", "audio_capture":
		return AudioCaptureFailure
	case "not-allowed", "service-not-allowed", "permission_denied":
		return PermissionDenied
	case "network":
		return NetworkFailure
	case "aborted":
		return Aborted
	default:
		return Unknown
	}
}

// Message is the notification text shown for the category.
func (c Category) Message() string {
	switch c {
	case NoSpeechDetected:
		return "No speech was detected. Please try again."
	case AudioCaptureFailure:
		return "No microphone was found or it could not be accessed."
	case PermissionDenied:
		return "Microphone permission was denied. Allow microphone access to speak your responses."
	case NetworkFailure:
		return "A network error interrupted speech recognition."
	case Aborted:
		return "Speech recognition was stopped."
	default:
		return "Speech recognition failed. Please try again."
	}
}

// CaptureError is reported to the caller for any non-aborted failure.
type CaptureError struct {
	Category Category
	Code     string
	Err      error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return string(e.Category) + ": " + e.Err.Error()
	}
	return string(e.Category) + ": " + e.Code
}

func (e *CaptureError) Unwrap() error { return e.Err }
