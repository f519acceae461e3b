package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

type CheckResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		fmt.Fprintf(&b, "  %s %s (%dms)", mark, c.Name, c.LatencyMs)
		if c.Error != "" {
			fmt.Fprintf(&b, " - %s", c.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Check returns nil when the dependency is usable.
type Check func(ctx context.Context) error

type named struct {
	name string
	fn   Check
}

// Checker runs a fixed set of dependency checks concurrently.
type Checker struct {
	checks []named
}

func (c *Checker) Add(name string, fn Check) {
	c.checks = append(c.checks, named{name: name, fn: fn})
}

// CheckAll runs all checks and returns combined status.
func (c *Checker) CheckAll(ctx context.Context) HealthStatus {
	results := make([]CheckResult, len(c.checks))
	var wg sync.WaitGroup
	for i, ch := range c.checks {
		wg.Add(1)
		go func(i int, ch named) {
			defer wg.Done()
			start := time.Now()
			err := ch.fn(ctx)
			results[i] = CheckResult{Name: ch.name, OK: err == nil, LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, ch)
	}
	wg.Wait()

	allOK := true
	for _, r := range results {
		if !r.OK {
			allOK = false
		}
	}
	return HealthStatus{OK: allOK, Checks: results, CheckedAt: time.Now().UTC()}
}

// Required fails with msg when ok is false.
func Required(ok bool, msg string) Check {
	return func(context.Context) error {
		if !ok {
			return errors.New(msg)
		}
		return nil
	}
}

// ElevenLabsVoice verifies the key and that voiceID exists.
func ElevenLabsVoice(httpc *http.Client, baseURL, apiKey, voiceID string) Check {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return func(ctx context.Context) error {
		if apiKey == "" || voiceID == "" {
			return errors.New("ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/voices/"+voiceID, nil)
		if err != nil {
			return fmt.Errorf("request build failed: %w", err)
		}
		req.Header.Set("xi-api-key", apiKey)
		resp, err := httpc.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return errors.New("invalid API key (401)")
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("voice ID %q not found", voiceID)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
}
