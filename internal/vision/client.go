package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/event"
	"github.com/technosupport/sentry-bridge/internal/metrics"
)

// Request carries everything the prompt needs for one analysis pass.
type Request struct {
	Camera    string
	EventID   string
	ImagePath string // snapshot file in the detection store
	MediaRel  string // workspace-relative reference for the MEDIA line
	Context   event.Context

	// Confirmation pass: set when re-checking a prior decision.
	Confirm bool
	Initial *event.Decision
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Images  []string               `json:"images"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Client talks to the vision endpoint (Ollama-style generate API) with an
// optional cloud fallback. It never surfaces a parse failure: whenever an
// endpoint answered, Analyze returns a usable Decision. An unreadable image
// or a failed call on every endpoint returns an error instead.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func New(log zerolog.Logger) *Client {
	// Per-call deadlines come from the request context.
	return &Client{http: &http.Client{}, log: log}
}

// Analyze runs one vision pass and extracts the Decision. The raw prose
// (JSON and MEDIA lines stripped) is returned for the alert body.
func (c *Client) Analyze(ctx context.Context, cfg *config.Config, req Request) (event.Decision, string, error) {
	img, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return event.Decision{}, "", fmt.Errorf("read staged image: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(img)
	prompt := buildPrompt(req)

	timeout := time.Duration(cfg.Vision.TimeoutSeconds) * time.Second

	text, err := c.generate(ctx, cfg.Vision.Endpoint, cfg.Vision.Model, prompt, b64, cfg, timeout, "primary")
	if err != nil && cfg.Vision.FallbackEndpoint != "" {
		c.log.Warn().Err(err).Msg("primary vision endpoint failed, trying fallback")
		model := cfg.Vision.FallbackModel
		if model == "" {
			model = cfg.Vision.Model
		}
		text, err = c.generate(ctx, cfg.Vision.FallbackEndpoint, model, prompt, b64, cfg, timeout, "fallback")
	}
	if err != nil {
		return event.Decision{}, "", fmt.Errorf("vision analysis: %w", err)
	}

	decision, strategy, ok := ParseDecision(text)
	if !ok {
		decision = FallbackDecision(text)
		strategy = "fallback"
	}
	metrics.RecordParse(strategy)
	decision = Sanitize(decision)

	return decision, StripMachineLines(text), nil
}

func (c *Client) generate(ctx context.Context, endpoint, model, prompt, image string, cfg *config.Config, timeout time.Duration, label string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := generateRequest{
		Model:  model,
		Prompt: prompt,
		Images: []string{image},
		Stream: false,
		Options: map[string]interface{}{
			"num_predict": cfg.Vision.NumPredict,
			"temperature": cfg.Vision.Temperature,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.RecordVisionLatency(label, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return "", fmt.Errorf("vision call via %s: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", fmt.Errorf("vision endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode vision response: %w", err)
	}
	if out.Response == "" {
		return "", fmt.Errorf("vision endpoint returned empty response")
	}
	c.log.Info().Str("endpoint", label).Str("model", model).Msg("vision analysis completed")
	return out.Response, nil
}

// Alive probes the endpoint's tag listing. Used by the operational API.
func (c *Client) Alive(ctx context.Context, cfg *config.Config) error {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, cfg.Vision.Endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vision liveness returned %d", resp.StatusCode)
	}
	return nil
}
