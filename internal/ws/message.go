package ws

import (
	"time"

	"sitewatch/internal/pipeline"
)

// VerdictMessage is the per-frame broadcast sent to dashboard clients
type VerdictMessage struct {
	Type        string    `json:"type"` // "verdict"
	CameraID    string    `json:"camera_id"`
	FrameSeq    uint64    `json:"frame_seq"`
	Timestamp   time.Time `json:"timestamp"`
	Persons     []Person  `json:"persons"`
	Counter     int       `json:"counter"`
	Phase       string    `json:"phase"` // "clear", "warning", "alerting"
	Alert       bool      `json:"alert"`
	Breach      bool      `json:"breach"`
	Reason      string    `json:"reason,omitempty"`
	InferenceMs float32   `json:"inference_ms"`
}

// Person is one tracked person in a verdict
type Person struct {
	BBox     []float32 `json:"bbox"`     // [x, y, w, h] in pixels
	Equipped bool      `json:"equipped"` // Protective equipment matched
	InZone   bool      `json:"in_zone"`  // Foot point inside the restricted zone
}

// NewVerdictMessage converts a verdict event for the wire
func NewVerdictMessage(e *pipeline.VerdictEvent) *VerdictMessage {
	inZone := make(map[int]bool, len(e.Offenders))
	for _, i := range e.Offenders {
		inZone[i] = true
	}

	persons := make([]Person, len(e.Persons))
	for i, b := range e.Persons {
		persons[i] = Person{
			BBox:   []float32{b.X1, b.Y1, b.X2 - b.X1, b.Y2 - b.Y1},
			InZone: inZone[i],
		}
		if i < len(e.Equipped) {
			persons[i].Equipped = e.Equipped[i]
		}
	}

	return &VerdictMessage{
		Type:        "verdict",
		CameraID:    e.CameraID,
		FrameSeq:    e.FrameSeq,
		Timestamp:   e.Timestamp,
		Persons:     persons,
		Counter:     e.Counter,
		Phase:       e.Phase,
		Alert:       e.Alert,
		Breach:      e.Breach,
		Reason:      e.Reason,
		InferenceMs: e.InferenceMs,
	}
}
