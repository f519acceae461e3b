package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("llm: missing azure endpoint, key or deployment")
	ErrEmptyReply    = errors.New("llm: empty reply")
)

type AzureConfig struct {
	Endpoint    string
	APIKey      string
	Deployment  string
	APIVersion  string
	MaxTokens   int
	Temperature float64
}

// Azure answers agent turns with Azure OpenAI chat completions, streamed as
// server-sent events and concatenated into one reply.
type Azure struct {
	cfg   AzureConfig
	httpc *http.Client
	log   *zap.Logger
}

func NewAzure(cfg AzureConfig, logger *zap.Logger) *Azure {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Azure{cfg: cfg, httpc: &http.Client{}, log: logger.With(zap.String("component", "llm"))}
}

func (a *Azure) Configured() bool {
	return a.cfg.Endpoint != "" && a.cfg.APIKey != "" && a.cfg.Deployment != ""
}

func (a *Azure) Respond(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	reply, err := a.respond(ctx, req)
	metricLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metricRequests.WithLabelValues("error").Inc()
		return "", err
	}
	metricRequests.WithLabelValues("ok").Inc()
	return reply, nil
}

func (a *Azure) respond(ctx context.Context, req Request) (string, error) {
	if !a.Configured() {
		return "", ErrNotConfigured
	}
	body := map[string]any{
		"stream":   true,
		"messages": buildMessages(req),
	}
	if a.cfg.MaxTokens > 0 {
		body["max_tokens"] = a.cfg.MaxTokens
	}
	if a.cfg.Temperature > 0 {
		body["temperature"] = a.cfg.Temperature
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(a.cfg.Endpoint, "/"), a.cfg.Deployment, a.cfg.APIVersion)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("api-key", a.cfg.APIKey)
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpc.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("azure request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("azure: status=%d body=%s", resp.StatusCode, string(b))
	}

	var out strings.Builder
	sent := time.Now()
	first := true
	dec := newSSEDecoder(bufio.NewReader(resp.Body))
	for {
		_, data, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("azure stream: %w", err)
		}
		if string(data) == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			metricTokens.Add(float64(chunk.Usage.TotalTokens))
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if first {
			metricTTFTMS.Observe(float64(time.Since(sent).Milliseconds()))
			first = false
		}
		out.WriteString(chunk.Choices[0].Delta.Content)
	}

	reply := strings.TrimSpace(out.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	a.log.Debug("agent reply", zap.String("role", string(req.Role)), zap.Int("chars", len(reply)))
	return reply, nil
}
