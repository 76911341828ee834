package actions

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
)

// HubCaller issues smart-home service calls. Every call gets one retry on
// transient failure; a failed call is the caller's problem to log, never a
// reason to stop the pipeline.
type HubCaller struct {
	http *http.Client
	log  zerolog.Logger

	retryPause time.Duration
}

func NewHubCaller(log zerolog.Logger) *HubCaller {
	return &HubCaller{
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log,
		retryPause: time.Second,
	}
}

// Call POSTs /api/services/{domain}/{service} with entity data.
func (h *HubCaller) Call(ctx context.Context, cfg *config.Config, domain, service string, data map[string]interface{}) error {
	url := fmt.Sprintf("%s/api/services/%s/%s", cfg.Hub.URL, domain, service)
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+cfg.Hub.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.http.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
				h.log.Info().Str("service", domain+"/"+service).Int("attempt", attempt).Msg("hub service call ok")
				return nil
			}
			lastErr = fmt.Errorf("hub service %s/%s returned %d", domain, service, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// Client errors are permanent; a retry would fail the same way.
				h.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("hub service call rejected")
				return lastErr
			}
		} else {
			lastErr = fmt.Errorf("hub service %s/%s: %w", domain, service, err)
		}

		h.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("hub service call failed")
		if attempt == 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.retryPause):
			}
		}
	}
	return lastErr
}
