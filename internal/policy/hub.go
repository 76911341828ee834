package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
)

// hubStateTTL bounds how stale a cached hub entity state may be.
const hubStateTTL = 30 * time.Second

// HubClient reads entity states from the smart-home hub. States are cached
// briefly so a burst of detections does not hammer the hub.
type HubClient struct {
	http  *http.Client
	cache *expirable.LRU[string, string]
	log   zerolog.Logger
}

func NewHubClient(log zerolog.Logger) *HubClient {
	return &HubClient{
		http:  &http.Client{Timeout: 6 * time.Second},
		cache: expirable.NewLRU[string, string](32, nil, hubStateTTL),
		log:   log,
	}
}

type hubState struct {
	State string `json:"state"`
}

// State returns one entity's state, or "" with ok=false when the hub is
// unreachable. Hub failures never block the pipeline; callers fall back to
// safe defaults.
func (h *HubClient) State(ctx context.Context, cfg *config.Config, entity string) (string, bool) {
	if entity == "" || cfg.Hub.URL == "" {
		return "", false
	}
	if v, ok := h.cache.Get(entity); ok {
		return v, true
	}

	url := fmt.Sprintf("%s/api/states/%s", cfg.Hub.URL, entity)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Hub.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		h.log.Warn().Err(err).Str("entity", entity).Msg("hub state read failed")
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.log.Warn().Int("status", resp.StatusCode).Str("entity", entity).Msg("hub state read rejected")
		return "", false
	}

	var st hubState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return "", false
	}
	state := strings.TrimSpace(st.State)
	h.cache.Add(entity, state)
	return state, true
}
