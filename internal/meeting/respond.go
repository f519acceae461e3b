package meeting

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"yuzu/meeting/internal/llm"
	"yuzu/meeting/internal/turn"
	"yuzu/meeting/internal/types"
)

// SubmitUserResponse runs one user turn: the text is appended, a responder
// is chosen, and its reply is appended and spoken. Calls are ignored unless
// the meeting is active, the text is non-blank, no reply is pending and the
// meeting is not ending. A provider failure appends an apology and is
// returned; the turn counters do not move in that case.
func (c *Controller) SubmitUserResponse(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if !c.alive || c.lifecycle != Active || text == "" || c.pending || c.ending {
		c.mu.Unlock()
		return nil
	}
	c.pending = true
	user := c.newMessage(types.RoleUser, "", text)
	c.messages = append(c.messages, user)
	c.input = ""
	c.preview = ""

	roster := c.scenario.AgentsInvolved
	d := turn.Decide(text, roster, c.rosterPersonas(roster), c.agentIndex)
	gen := c.gen
	var req llm.Request
	if d.Found {
		req = c.request(text, d.Role)
	}
	c.silenceLocked()
	synth := c.synth
	c.touch()
	c.unlockAndEmit(
		messageUpdate(UpdateMessage, user),
		Update{Kind: UpdateInput},
		Update{Kind: UpdatePreview},
	)

	// A new user turn makes any agent audio from an earlier turn stale.
	if dec := c.floor.UserTurn(); dec.StopSynthesis {
		c.log.Debug("stopping agent speech", zap.String("reason", dec.Reason))
	}
	if synth != nil {
		synth.Cancel()
	}

	var reply string
	var err error
	if d.Found {
		metricReplies.WithLabelValues(selection(d)).Inc()
		reply, err = c.responder.Respond(ctx, req)
	}
	return c.complete(ctx, gen, d, req.DisplayName, reply, err)
}

// complete applies the outcome of a user turn if the session has not moved on
// since it began.
func (c *Controller) complete(ctx context.Context, gen uint64, d turn.Decision, name, reply string, err error) error {
	c.mu.Lock()
	if !c.alive || c.gen != gen {
		c.mu.Unlock()
		metricStaleReplies.Inc()
		c.log.Debug("discarding stale reply", zap.Uint64("gen", gen))
		return nil
	}
	c.pending = false

	if err != nil {
		apology := c.newMessage(types.RoleSystem, "", c.opts.Apology)
		c.messages = append(c.messages, apology)
		c.touch()
		c.log.Warn("agent reply failed", zap.String("role", string(d.Role)), zap.Error(err))
		c.unlockAndEmit(
			messageUpdate(UpdateMessage, apology),
			Update{Kind: UpdateNotice, Text: "The agent could not respond. Please try again."},
		)
		return fmt.Errorf("agent response: %w", err)
	}

	var ups []Update
	var spoken *types.Message
	if d.Found {
		m := c.newMessage(d.Role, name, reply)
		c.messages = append(c.messages, m)
		ups = append(ups, messageUpdate(UpdateMessage, m))
		spoken = &m
		if !d.Explicit {
			c.agentIndex = d.NextIndex
		}
	}
	c.turn++

	limit := c.scenario.MaxTurns > 0 && c.turn >= c.scenario.MaxTurns
	if limit {
		closing := c.newMessage(types.RoleSystem, "", c.opts.ClosingMessage)
		c.messages = append(c.messages, closing)
		ups = append(ups, messageUpdate(UpdateMessage, closing))
		c.ending = true
	}
	// A reply that hits the turn limit is shown but not spoken; the meeting
	// ends right after it and ending cancels speech anyway.
	speak := spoken != nil && c.ttsEnabled && !limit
	speechCtx := c.speechCtx
	c.touch()
	c.log.Debug("turn completed",
		zap.Int("turn", c.turn),
		zap.Int("agent_index", c.agentIndex),
		zap.String("responder", string(d.Role)),
		zap.Bool("explicit", d.Explicit))
	c.unlockAndEmit(ups...)

	if limit {
		return c.finish(ctx, "turn_limit")
	}
	if speak {
		c.speak(speechCtx, gen, spoken.Text, spoken.Role)
	}
	return nil
}

// request assembles the provider input for role. Caller holds mu.
func (c *Controller) request(text string, role types.Role) llm.Request {
	req := llm.Request{
		UserText:      text,
		Role:          role,
		DisplayName:   c.displayName(role),
		PersonaPrompt: c.instruction(role),
		Objective:     c.scenario.Objective,
		History:       c.transcript(),
		LearningMode:  c.opts.LearningMode,
	}
	for _, r := range c.scenario.AgentsInvolved {
		if r == role {
			continue
		}
		req.OtherAgents = append(req.OtherAgents, llm.AgentInfo{
			Role:          r,
			Name:          c.displayName(r),
			PersonaPrompt: c.instruction(r),
		})
	}
	return req
}

// instruction resolves the persona text for role: the scenario's own
// configuration first, then the persona catalog, then a generic line.
func (c *Controller) instruction(role types.Role) string {
	if p := lookupFold(c.scenario.PersonaConfig, string(role)); strings.TrimSpace(p) != "" {
		return p
	}
	if p, ok := c.catalog.PersonaForRole(role); ok && strings.TrimSpace(p.InstructionPrompt) != "" {
		return p.InstructionPrompt
	}
	return fmt.Sprintf("You are the %s in this meeting. Answer from the point of view of that role.", role)
}

func (c *Controller) displayName(role types.Role) string {
	if p, ok := c.catalog.PersonaForRole(role); ok {
		return p.Name
	}
	return ""
}

// rosterPersonas returns the known personas of roster roles only, so a
// by-name match can never pick an agent outside the meeting.
func (c *Controller) rosterPersonas(roster []types.Role) []types.Persona {
	var out []types.Persona
	for _, r := range roster {
		if p, ok := c.catalog.PersonaForRole(r); ok && p.Name != "" {
			p.Role = r
			out = append(out, p)
		}
	}
	return out
}

func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func selection(d turn.Decision) string {
	if d.Explicit {
		return "explicit"
	}
	return "round_robin"
}
