package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"yuzu/meeting/internal/auth"
	"yuzu/meeting/internal/events"
	"yuzu/meeting/internal/health"
	"yuzu/meeting/internal/meeting"
	"yuzu/meeting/internal/sessions"
	"yuzu/meeting/internal/types"
)

// CatalogReader lists the loaded scenarios and personas.
type CatalogReader interface {
	Scenarios() []types.Scenario
	Personas() []types.Persona
}

// SummaryLister reads stored meeting summaries, newest first.
type SummaryLister interface {
	List(scenarioID string, limit int) ([]types.Summary, error)
}

type Handlers struct {
	sessions  *sessions.Registry
	catalog   CatalogReader
	summaries SummaryLister
	events    *events.Store
	issuer    auth.Issuer
	health    *health.Checker
	log       *zap.Logger
}

func NewHandlers(reg *sessions.Registry, cat CatalogReader, sum SummaryLister, ev *events.Store, iss auth.Issuer, hc *health.Checker, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hc == nil {
		hc = &health.Checker{}
	}
	return &Handlers{sessions: reg, catalog: cat, summaries: sum, events: ev, issuer: iss, health: hc, log: logger.With(zap.String("component", "api"))}
}

type scenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type respondRequest struct {
	Text string `json:"text"`
}

type ttsRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	sess, err := h.sessions.Create()
	if err != nil {
		h.log.Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.events.Append(sess.ID, "session_created", map[string]any{"scenario_id": req.ScenarioID})
	if req.ScenarioID != "" {
		if err := sess.Meeting.Load(r.Context(), req.ScenarioID); err != nil {
			_ = h.sessions.Remove(sess.ID)
			h.fail(w, sess.ID, "load", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"created_at": sess.CreatedAt,
		"state":      sess.Meeting.Snapshot(),
	})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	writeJSON(w, http.StatusOK, sess.Meeting.Snapshot())
}

func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	_ = h.sessions.Remove(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleLoad(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	var req scenarioRequest
	if !decode(w, r, &req) {
		return
	}
	if err := sess.Meeting.Load(r.Context(), req.ScenarioID); err != nil {
		h.fail(w, sess.ID, "load", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Meeting.Snapshot())
}

func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	if err := sess.Meeting.Start(r.Context()); err != nil {
		h.fail(w, sess.ID, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Meeting.Snapshot())
}

// HandleRespond submits user text and waits for the agent's reply.
func (h *Handlers) HandleRespond(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	var req respondRequest
	if !decode(w, r, &req) {
		return
	}
	if err := sess.Meeting.SubmitUserResponse(r.Context(), req.Text); err != nil {
		h.fail(w, sess.ID, "respond", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Meeting.Snapshot())
}

func (h *Handlers) HandleEnd(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	if err := sess.Meeting.End(r.Context()); err != nil {
		h.fail(w, sess.ID, "end", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Meeting.Snapshot())
}

func (h *Handlers) HandleTTS(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	var req ttsRequest
	if !decode(w, r, &req) {
		return
	}
	sess.Meeting.SetTTSEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, sess.Meeting.Snapshot())
}

// HandleClientToken mints the token a browser needs to open /ws/client.
func (h *Handlers) HandleClientToken(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	tok, exp, err := h.issuer.Issue(sess.ID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.events.Append(sess.ID, "client_token_issued", map[string]any{"expires_at": exp.Unix()})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"expires_at": exp.Unix(),
		"ws_url":     "/ws/client?session_id=" + sess.ID + "&token=" + tok,
	})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"events":     h.events.List(sess.ID),
	})
}

func (h *Handlers) HandleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": h.catalog.Scenarios()})
}

func (h *Handlers) HandleListPersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personas": h.catalog.Personas()})
}

func (h *Handlers) HandleListSummaries(w http.ResponseWriter, r *http.Request) {
	if h.summaries == nil {
		writeError(w, http.StatusServiceUnavailable, "summary store not configured")
		return
	}
	q := r.URL.Query()
	limit := 20
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.summaries.List(q.Get("scenario_id"), limit)
	if err != nil {
		h.log.Error("list summaries", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []types.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": list})
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	st := h.health.CheckAll(r.Context())
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// fail maps a meeting error to a status and journals it.
func (h *Handlers) fail(w http.ResponseWriter, sessionID, op string, err error) {
	h.events.Append(sessionID, "command_failed", map[string]any{"type": op, "error": err.Error()})
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, meeting.ErrScenarioNotFound):
		code = http.StatusNotFound
	case errors.Is(err, meeting.ErrEnded):
		code = http.StatusConflict
	case errors.Is(err, meeting.ErrClosed):
		code = http.StatusGone
	}
	writeError(w, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
