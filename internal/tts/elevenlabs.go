package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("elevenlabs: missing api key or voice id")

// ElevenLabs calls the non-streaming text-to-speech REST endpoint.
type ElevenLabs struct {
	httpc   *http.Client
	apiKey  string
	modelID string
	baseURL string
}

func NewElevenLabs(apiKey, modelID string) *ElevenLabs {
	return &ElevenLabs{
		httpc:   &http.Client{Timeout: 30 * time.Second},
		apiKey:  apiKey,
		modelID: modelID,
		baseURL: "https://api.elevenlabs.io",
	}
}

// WithBaseURL points the client at another host, e.g. a test server.
func (e *ElevenLabs) WithBaseURL(u string) *ElevenLabs {
	e.baseURL = strings.TrimRight(u, "/")
	return e
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, language, voiceID string) (Audio, error) {
	if e.apiKey == "" || voiceID == "" {
		return Audio{}, ErrNotConfigured
	}
	body := map[string]any{"text": text}
	if e.modelID != "" {
		body["model_id"] = e.modelID
	}
	if lang := primaryTag(language); lang != "" {
		body["language_code"] = lang
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return Audio{}, err
	}
	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("accept", "audio/mpeg")
	req.Header.Set("content-type", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Audio{}, fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs read: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return Audio{Data: data, ContentType: ct}, nil
}

// primaryTag turns "en-US" into "en".
func primaryTag(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
