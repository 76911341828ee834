package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
	"github.com/technosupport/sentry-bridge/internal/event"
	"github.com/technosupport/sentry-bridge/internal/metrics"
)

// forwardInstruction tells the agent to relay the alert untouched instead
// of rewriting it.
const forwardInstruction = "DELIVERY MODE. Forward the EXACT message below to the recipient verbatim. " +
	"Do not rewrite or add anything. Preserve all formatting:\n\n"

type envelope struct {
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
	Channel        string `json:"channel"`
	To             string `json:"to"`
	Name           string `json:"name"`
	SessionKey     string `json:"sessionKey"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// Client posts formatted alerts to the agent gateway webhook.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func New(log zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 60 * time.Second},
		log:  log,
	}
}

// ShouldDeliver applies the chat filter: only medium and above go to chat;
// low-risk events keep their bus publication and actions but stay quiet.
func ShouldDeliver(cfg *config.Config, level event.RiskLevel) bool {
	return cfg.Gateway.ChatEnabled && event.Rank(level) >= event.Rank(event.RiskMedium)
}

// Send delivers one alert to every configured recipient. The message leads
// with the snapshot media reference and, when available, ends with the clip
// reference; both must be workspace-relative paths.
func (c *Client) Send(ctx context.Context, cfg *config.Config, ev *event.DetectionEvent, body, snapshotRel, clipRel string) {
	message := "MEDIA:" + snapshotRel + "\n" + body
	if clipRel != "" {
		message += "\nMEDIA:" + clipRel
	}

	for _, to := range cfg.Gateway.Recipients {
		env := envelope{
			Message:        forwardInstruction + message,
			Deliver:        true,
			Channel:        cfg.Gateway.Channel,
			To:             to,
			Name:           "Frigate",
			SessionKey:     fmt.Sprintf("frigate:%s:%s", ev.Camera, ev.ID),
			TimeoutSeconds: cfg.Gateway.TimeoutSeconds,
		}
		if err := c.post(ctx, cfg, env); err != nil {
			metrics.RecordDelivery("fail")
			c.log.Error().Err(err).Str("to", to).Str("event_id", ev.ID).Msg("chat alert delivery failed")
			continue
		}
		metrics.RecordDelivery("ok")
		c.log.Info().Str("to", to).Str("event_id", ev.ID).Bool("clip", clipRel != "").Msg("chat alert accepted")
	}
}

func (c *Client) post(ctx context.Context, cfg *config.Config, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Gateway.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.Gateway.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway POST: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		io.Copy(io.Discard, resp.Body)
		return nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, snippet)
	}
}
