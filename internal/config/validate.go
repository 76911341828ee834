package config

import (
	"fmt"
	"strings"
)

var validRoles = map[string]bool{"admin": true, "operator": true, "viewer": true}

var validRisks = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// Validate checks required fields, enum domains and numeric ranges.
// A failing config must never become the active snapshot.
func Validate(c *Config) error {
	var errs []string

	req := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Sprintf("%s is required", name))
		}
	}

	req("bus.host", c.Bus.Host)
	req("bus.subscribe_topic", c.Bus.SubscribeTopic)
	req("bus.publish_topic", c.Bus.PublishTopic)
	req("nvr.api", c.NVR.API)
	req("nvr.storage_dir", c.NVR.StorageDir)
	req("nvr.workspace_dir", c.NVR.WorkspaceDir)
	req("vision.endpoint", c.Vision.Endpoint)
	req("vision.model", c.Vision.Model)
	req("gateway.webhook", c.Gateway.Webhook)
	req("history.file", c.History.File)

	if c.Bus.Port < 1 || c.Bus.Port > 65535 {
		errs = append(errs, fmt.Sprintf("bus.port %d out of range", c.Bus.Port))
	}
	if c.QuietHoursStart < 0 || c.QuietHoursStart > 23 {
		errs = append(errs, fmt.Sprintf("quiet_hours_start %d out of range", c.QuietHoursStart))
	}
	if c.QuietHoursEnd < 0 || c.QuietHoursEnd > 23 {
		errs = append(errs, fmt.Sprintf("quiet_hours_end %d out of range", c.QuietHoursEnd))
	}
	for _, h := range [][2]interface{}{
		{"day_start_hour", c.DayStartHour},
		{"evening_start_hour", c.EveningStartHour},
		{"night_start_hour", c.NightStartHour},
	} {
		if v := h[1].(int); v < 0 || v > 23 {
			errs = append(errs, fmt.Sprintf("%s %d out of range", h[0], v))
		}
	}
	if c.CooldownSeconds < 0 {
		errs = append(errs, "cooldown_seconds must be >= 0")
	}
	if c.SnapshotDelaySeconds < 0 {
		errs = append(errs, "snapshot_delay_seconds must be >= 0")
	}
	if c.RecentWindowSeconds <= 0 {
		errs = append(errs, "recent_events_window_seconds must be > 0")
	}
	if c.History.MaxLines <= 0 {
		errs = append(errs, "history.max_lines must be > 0")
	}
	if c.History.WindowSeconds <= 0 {
		errs = append(errs, "history.window_seconds must be > 0")
	}
	if c.Confirm.DelaySeconds < 0 {
		errs = append(errs, "confirm.delay_seconds must be >= 0")
	}
	if c.Confirm.TimeoutSeconds <= 0 {
		errs = append(errs, "confirm.timeout_seconds must be > 0")
	}
	for _, r := range c.Confirm.Risks {
		if !validRisks[strings.ToLower(r)] {
			errs = append(errs, fmt.Sprintf("confirm.risks contains unknown band %q", r))
		}
	}
	if c.Vision.TimeoutSeconds <= 0 {
		errs = append(errs, "vision.timeout_seconds must be > 0")
	}
	if c.Vision.Temperature < 0 || c.Vision.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("vision.temperature %v out of range", c.Vision.Temperature))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, "queue_size must be > 0")
	}
	if c.Workers <= 0 {
		errs = append(errs, "workers must be > 0")
	}
	if c.Gateway.ChatEnabled && len(c.Gateway.Recipients) == 0 {
		errs = append(errs, "gateway.recipients required when chat is enabled")
	}
	for name, u := range c.Users {
		if !validRoles[strings.ToLower(u.Role)] {
			errs = append(errs, fmt.Sprintf("users.%s.role %q unknown", name, u.Role))
		}
		if u.Password == "" {
			errs = append(errs, fmt.Sprintf("users.%s.password is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}
