package bus

import "time"

// AnalysisPayload is the outbound wire object on the analysis topic. The
// same event_id appears in the pending and final publication so consumers
// can update in place.
type AnalysisPayload struct {
	Camera             string    `json:"camera"`
	Label              string    `json:"label"`
	Risk               string    `json:"risk"`
	RiskScore          int       `json:"risk_score"`
	RiskConfidence     float64   `json:"risk_confidence"`
	EventType          string    `json:"event_type"`
	Action             string    `json:"action"`
	Reason             string    `json:"reason"`
	Analysis           string    `json:"analysis"`
	TTS                string    `json:"tts"`
	Behavior           string    `json:"behavior"`
	SubjectIdentity    string    `json:"subject_identity"`
	SubjectDescription string    `json:"subject_description"`
	CameraZone         string    `json:"camera_zone"`
	HomeMode           string    `json:"home_mode"`
	TimeOfDay          string    `json:"time_of_day"`
	MediaSnapshot      bool      `json:"media_snapshot"`
	MediaClip          bool      `json:"media_clip"`
	ClipURL            *string   `json:"clip_url"`
	SnapshotPath       string    `json:"snapshot_path"`
	Timestamp          time.Time `json:"timestamp"`
	EventID            string    `json:"event_id"`
}
