package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is one immutable snapshot of the runtime configuration. The Store
// owns the authoritative copy; every event captures a snapshot pointer at
// intake and keeps it for the whole pipeline.
type Config struct {
	LogLevel string `koanf:"log_level"`

	Bus     BusConfig     `koanf:"bus"`
	NVR     NVRConfig     `koanf:"nvr"`
	Vision  VisionConfig  `koanf:"vision"`
	Gateway GatewayConfig `koanf:"gateway"`
	Hub     HubConfig     `koanf:"hub"`

	Cameras           map[string]CameraConfig `koanf:"cameras"`
	ZoneDefault       string                  `koanf:"zone_default"`
	LightsDefault     []string                `koanf:"lights_default"`
	AlarmEntity       string                  `koanf:"alarm_entity"`
	SpeakerEntities   []string                `koanf:"speaker_entities"`
	QuietHoursStart   int                     `koanf:"quiet_hours_start"`
	QuietHoursEnd     int                     `koanf:"quiet_hours_end"`
	EveningStartHour  int                     `koanf:"evening_start_hour"`
	NightStartHour    int                     `koanf:"night_start_hour"`
	DayStartHour      int                     `koanf:"day_start_hour"`

	CooldownSeconds      int `koanf:"cooldown_seconds"`
	SnapshotDelaySeconds int `koanf:"snapshot_delay_seconds"`
	RecentWindowSeconds  int `koanf:"recent_events_window_seconds"`

	History HistoryConfig `koanf:"history"`
	Confirm ConfirmConfig `koanf:"confirm"`
	Toggles ToggleConfig  `koanf:"toggles"`
	Audit   AuditConfig   `koanf:"audit"`

	QueueSize  int    `koanf:"queue_size"`
	Workers    int    `koanf:"workers"`
	ListenAddr string `koanf:"listen_addr"`

	StagingTTLSeconds int `koanf:"staging_ttl_seconds"`

	SecretsEnvFile string `koanf:"secrets_env_file"`

	Users map[string]UserConfig `koanf:"users"`
}

type BusConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	Username       string `koanf:"username"`
	Password       string `koanf:"password"`
	ClientID       string `koanf:"client_id"`
	SubscribeTopic string `koanf:"subscribe_topic"`
	PublishTopic   string `koanf:"publish_topic"`
}

type NVRConfig struct {
	API          string `koanf:"api"`
	StorageDir   string `koanf:"storage_dir"`   // detection store root; snapshots under ai-snapshots/, clips under ai-clips/
	WorkspaceDir string `koanf:"workspace_dir"` // staging store root; agent accepts relative paths below it
}

type VisionConfig struct {
	Endpoint         string  `koanf:"endpoint"`
	Model            string  `koanf:"model"`
	FallbackEndpoint string  `koanf:"fallback_endpoint"`
	FallbackModel    string  `koanf:"fallback_model"`
	TimeoutSeconds   int     `koanf:"timeout_seconds"`
	NumPredict       int     `koanf:"num_predict"`
	Temperature      float64 `koanf:"temperature"`
}

type GatewayConfig struct {
	Webhook        string   `koanf:"webhook"`
	Token          string   `koanf:"token"`
	AgentName      string   `koanf:"agent_name"`
	Channel        string   `koanf:"channel"`
	Recipients     []string `koanf:"recipients"`
	ChatEnabled    bool     `koanf:"chat_enabled"`
	TimeoutSeconds int      `koanf:"timeout_seconds"`
}

type HubConfig struct {
	URL              string `koanf:"url"`
	Token            string `koanf:"token"`
	HomeModeEntity   string `koanf:"home_mode_entity"`
	KnownFacesEntity string `koanf:"known_faces_entity"`
}

type CameraConfig struct {
	Zone   string   `koanf:"zone"`
	Notes  string   `koanf:"notes"`
	Lights []string `koanf:"lights"`
}

type HistoryConfig struct {
	File          string `koanf:"file"`
	WindowSeconds int    `koanf:"window_seconds"`
	MaxLines      int    `koanf:"max_lines"`
}

type ConfirmConfig struct {
	Enabled        bool     `koanf:"enabled"`
	DelaySeconds   int      `koanf:"delay_seconds"`
	TimeoutSeconds int      `koanf:"timeout_seconds"`
	Risks          []string `koanf:"risks"`
}

type ToggleConfig struct {
	Policy bool `koanf:"policy"`
	Memory bool `koanf:"memory"`
	Audit  bool `koanf:"audit"`
}

type AuditConfig struct {
	File       string `koanf:"file"`
	SigningKey string `koanf:"signing_key"`
}

type UserConfig struct {
	Password string `koanf:"password"`
	Role     string `koanf:"role"`
}

// load reads and unmarshals one config document, applies defaults and the
// secrets overlay, and validates. It does not touch Store state.
func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applySecretsEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel: "info",
		Bus: BusConfig{
			Port:           1883,
			ClientID:       "sentry-bridge",
			SubscribeTopic: "frigate/events",
			PublishTopic:   "sentry/frigate/analysis",
		},
		Vision: VisionConfig{
			TimeoutSeconds: 60,
			NumPredict:     350,
			Temperature:    0.1,
		},
		Gateway: GatewayConfig{
			AgentName:      "main",
			Channel:        "whatsapp",
			ChatEnabled:    true,
			TimeoutSeconds: 60,
		},
		ZoneDefault:          "entry",
		QuietHoursStart:      23,
		QuietHoursEnd:        6,
		DayStartHour:         6,
		EveningStartHour:     18,
		NightStartHour:       23,
		CooldownSeconds:      30,
		SnapshotDelaySeconds: 3,
		RecentWindowSeconds:  600,
		History: HistoryConfig{
			WindowSeconds: 1800,
			MaxLines:      5000,
		},
		Confirm: ConfirmConfig{
			Enabled:        true,
			DelaySeconds:   4,
			TimeoutSeconds: 90,
			Risks:          []string{"high", "critical"},
		},
		Toggles: ToggleConfig{
			Policy: true,
			Memory: true,
			Audit:  true,
		},
		QueueSize:         64,
		Workers:           4,
		ListenAddr:        ":8127",
		StagingTTLSeconds: 3600,
	}
}

// applySecretsEnv overlays secrets from a KEY=VALUE env file onto the
// loaded config. Only the known secret slots are honoured.
func applySecretsEnv(cfg *Config) {
	if cfg.SecretsEnvFile == "" {
		return
	}
	vals, err := godotenv.Read(cfg.SecretsEnvFile)
	if err != nil {
		return // optional file; missing is fine
	}
	if v := vals["BRIDGE_MQTT_PASS"]; v != "" {
		cfg.Bus.Password = v
	}
	if v := vals["GATEWAY_TOKEN"]; v != "" {
		cfg.Gateway.Token = v
	}
	if v := vals["HUB_TOKEN"]; v != "" {
		cfg.Hub.Token = v
	}
	if v := vals["AUDIT_SIGNING_KEY"]; v != "" {
		cfg.Audit.SigningKey = v
	}
}

// maskedSecret reports whether a value is a masked placeholder from the
// control panel ("********…"). Masked values must never overwrite a real
// secret on reload.
func maskedSecret(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), "********")
}

// ZoneFor resolves the policy zone tag for a camera.
func (c *Config) ZoneFor(camera string) string {
	if cam, ok := c.Cameras[camera]; ok && cam.Zone != "" {
		return cam.Zone
	}
	return c.ZoneDefault
}

// NotesFor resolves the free-form policy note for a camera.
func (c *Config) NotesFor(camera string) string {
	if cam, ok := c.Cameras[camera]; ok && cam.Notes != "" {
		return cam.Notes
	}
	return "unspecified"
}

// LightsFor resolves the zone light entities for a camera.
func (c *Config) LightsFor(camera string) []string {
	if cam, ok := c.Cameras[camera]; ok && len(cam.Lights) > 0 {
		return cam.Lights
	}
	return c.LightsDefault
}

// ConfirmsRisk reports whether the confirmation pass applies to a band.
func (c *Config) ConfirmsRisk(level string) bool {
	for _, r := range c.Confirm.Risks {
		if strings.EqualFold(r, level) {
			return true
		}
	}
	return false
}
