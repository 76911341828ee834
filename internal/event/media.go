package event

// MediaPlan is what gets captured and attached for a given risk band.
type MediaPlan struct {
	Snapshot   bool `json:"snapshot"`
	Clip       bool `json:"clip"`
	ClipLength int  `json:"clip_length"` // seconds
	Monitoring bool `json:"monitoring"`
}

var mediaTable = map[RiskLevel]MediaPlan{
	RiskLow:      {Snapshot: true},
	RiskMedium:   {Snapshot: true, Clip: true, ClipLength: 15},
	RiskHigh:     {Snapshot: true, Clip: true, ClipLength: 30, Monitoring: true},
	RiskCritical: {Snapshot: true, Clip: true, ClipLength: 60, Monitoring: true},
}

// MediaFor maps a risk band to its media requirements.
func MediaFor(level RiskLevel) MediaPlan {
	if p, ok := mediaTable[level]; ok {
		return p
	}
	return MediaPlan{Snapshot: true}
}
