package llm

import (
	"context"
	"fmt"
	"strings"

	"yuzu/meeting/internal/types"
)

// AgentInfo describes another participant at the table.
type AgentInfo struct {
	Role          types.Role
	Name          string
	PersonaPrompt string
}

// Request is everything the provider needs to answer as one agent.
type Request struct {
	UserText      string
	Role          types.Role
	DisplayName   string
	PersonaPrompt string
	Objective     string
	History       []types.Message
	// OtherAgents never includes the responder itself.
	OtherAgents  []AgentInfo
	LearningMode bool
}

// Responder produces the reply text for one agent turn.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildMessages(req Request) []chatMessage {
	out := make([]chatMessage, 0, len(req.History)+2)
	out = append(out, chatMessage{Role: "system", Content: systemPrompt(req)})

	lastUser := ""
	for _, m := range req.History {
		text := strings.TrimSpace(m.Text)
		if text == "" || m.Action != "" {
			continue
		}
		switch m.Role {
		case types.RoleUser:
			out = append(out, chatMessage{Role: "user", Content: text})
			lastUser = text
			continue
		case req.Role:
			out = append(out, chatMessage{Role: "assistant", Content: text})
		default:
			out = append(out, chatMessage{Role: "user", Content: fmt.Sprintf("[%s]: %s", speaker(m), text)})
		}
		lastUser = ""
	}
	if u := strings.TrimSpace(req.UserText); u != "" && u != lastUser {
		out = append(out, chatMessage{Role: "user", Content: u})
	}
	return out
}

func systemPrompt(req Request) string {
	var b strings.Builder
	name := req.DisplayName
	if name == "" {
		name = string(req.Role)
	}
	fmt.Fprintf(&b, "You are %s, the %s, in a simulated business meeting.\n", name, req.Role)
	if p := strings.TrimSpace(req.PersonaPrompt); p != "" {
		b.WriteString(p)
		b.WriteString("\n")
	}
	if o := strings.TrimSpace(req.Objective); o != "" {
		fmt.Fprintf(&b, "Meeting objective: %s\n", o)
	}
	if len(req.OtherAgents) > 0 {
		b.WriteString("Other participants:\n")
		for _, a := range req.OtherAgents {
			if a.Name != "" {
				fmt.Fprintf(&b, "- %s (%s)", a.Name, a.Role)
			} else {
				fmt.Fprintf(&b, "- %s", a.Role)
			}
			if p := strings.TrimSpace(a.PersonaPrompt); p != "" {
				fmt.Fprintf(&b, ": %s", p)
			}
			b.WriteString("\n")
		}
	}
	if req.LearningMode {
		b.WriteString("The user is practicing. After your reply, add one short coaching tip on how they could phrase their point better.\n")
	}
	b.WriteString("Reply in character, briefly, as spoken dialogue.")
	return b.String()
}

func speaker(m types.Message) string {
	if m.DisplayName != "" {
		return fmt.Sprintf("%s (%s)", m.DisplayName, m.Role)
	}
	return string(m.Role)
}
