package types

import "time"

// Role identifies a meeting participant. Agent roles are open-ended and
// come from scenario data; only User and System are fixed.
type Role string

const (
	RoleUser   Role = "User"
	RoleSystem Role = "System"
)

// Action is an affordance attached to a message, e.g. the start button
// rendered under the start prompt.
type Action string

const ActionStartMeeting Action = "start_meeting"

type Message struct {
	ID          string `json:"id"`
	Role        Role   `json:"participant_role"`
	DisplayName string `json:"display_name,omitempty"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp_ms"`
	Action      Action `json:"attached_action,omitempty"`
}

type Persona struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	Role              Role   `json:"role" yaml:"role"`
	InstructionPrompt string `json:"instruction_prompt" yaml:"instruction_prompt"`
	Avatar            string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}

type Scenario struct {
	ID             string            `json:"id" yaml:"id"`
	Title          string            `json:"title" yaml:"title"`
	Objective      string            `json:"objective" yaml:"objective"`
	InitialMessage string            `json:"initial_message" yaml:"initial_message"`
	AgentsInvolved []Role            `json:"agents_involved" yaml:"agents_involved"`
	PersonaConfig  map[string]string `json:"persona_config,omitempty" yaml:"persona_config,omitempty"`
	MaxTurns       int               `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`
}

// Summary is the finalized transcript handed to the summary sink when a
// meeting ends.
type Summary struct {
	SessionID     string    `json:"session_id"`
	ScenarioID    string    `json:"scenario_id"`
	ScenarioTitle string    `json:"scenario_title"`
	Objective     string    `json:"objective"`
	Messages      []Message `json:"messages"`
	EndedAt       time.Time `json:"ended_at"`
}

type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Ts        time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
