package api

import (
	"net/http"
	"strings"

	"yuzu/meeting/internal/sessions"
)

// NewRouter mounts the REST surface. clientWS serves /ws/client and metrics
// serves /metrics; either may be nil.
func NewRouter(h *Handlers, clientWS http.HandlerFunc, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", h.HandleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	if clientWS != nil {
		mux.HandleFunc("/ws/client", clientWS)
	}

	mux.HandleFunc("/scenarios", method(http.MethodGet, h.HandleListScenarios))
	mux.HandleFunc("/personas", method(http.MethodGet, h.HandleListPersonas))
	mux.HandleFunc("/summaries", method(http.MethodGet, h.HandleListSummaries))
	mux.HandleFunc("/sessions", method(http.MethodPost, h.HandleCreateSession))

	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		// /sessions/{id}[/start|/respond|/end|/load|/tts|/client-token|/events]
		path := strings.TrimSuffix(r.URL.Path, "/")
		const prefix = "/sessions/"
		if !strings.HasPrefix(path, prefix) {
			http.NotFound(w, r)
			return
		}
		parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
		if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
			http.NotFound(w, r)
			return
		}
		sess := h.sessions.Get(parts[0])
		if sess == nil {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}

		var fn func(http.ResponseWriter, *http.Request, *sessions.Session)
		want := http.MethodPost
		switch tail {
		case "":
			switch r.Method {
			case http.MethodGet:
				fn, want = h.HandleGetSession, http.MethodGet
			case http.MethodDelete:
				fn, want = h.HandleDeleteSession, http.MethodDelete
			default:
				want = ""
			}
		case "load":
			fn = h.HandleLoad
		case "start":
			fn = h.HandleStart
		case "respond":
			fn = h.HandleRespond
		case "end":
			fn = h.HandleEnd
		case "tts":
			fn = h.HandleTTS
		case "client-token":
			fn = h.HandleClientToken
		case "events":
			fn, want = h.HandleListEvents, http.MethodGet
		default:
			http.NotFound(w, r)
			return
		}
		if fn == nil || r.Method != want {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r, sess)
	})

	return mux
}

func method(m string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}
