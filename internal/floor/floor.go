// Package floor keeps speech capture and speech synthesis from running at
// the same time. Callers ask for the floor before starting either subsystem
// and act on the returned Decision before proceeding.
package floor

import "sync"

// Decision represents the action the floor manager wants the caller to take
// before it proceeds.
type Decision struct {
	StopSynthesis bool
	StopCapture   bool
	Reason        string
}

type Manager struct {
	mu        sync.Mutex
	recording bool
	speaking  bool
}

func New() *Manager { return &Manager{} }

// RequestCapture is called before capture starts. A user about to speak
// should not have to listen to agent audio.
func (m *Manager) RequestCapture() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.speaking {
		return Decision{StopSynthesis: true, Reason: "capture_start"}
	}
	return Decision{}
}

// RequestSynthesis is called before agent audio starts.
func (m *Manager) RequestSynthesis() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recording {
		return Decision{StopCapture: true, Reason: "synthesis_start"}
	}
	return Decision{}
}

// UserTurn is called when a new user message is submitted; any agent still
// speaking belongs to a previous turn.
func (m *Manager) UserTurn() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.speaking {
		return Decision{StopSynthesis: true, Reason: "user_turn"}
	}
	return Decision{}
}

// SetRecording records the acknowledged capture state. Turning recording on
// clears speaking so the two flags are never both set.
func (m *Manager) SetRecording(on bool) {
	m.mu.Lock()
	m.recording = on
	if on {
		m.speaking = false
	}
	m.mu.Unlock()
}

// SetSpeaking records the acknowledged playback state.
func (m *Manager) SetSpeaking(on bool) {
	m.mu.Lock()
	m.speaking = on
	if on {
		m.recording = false
	}
	m.mu.Unlock()
}

func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

func (m *Manager) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

// Reset clears both flags, e.g. after both subsystems were torn down.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.recording = false
	m.speaking = false
	m.mu.Unlock()
}
