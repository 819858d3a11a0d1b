package pipeline

import (
	"time"

	"sitewatch/internal/geometry"
)

// FrameData represents a captured video frame
type FrameData struct {
	CameraID  string    // Camera identifier
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width (if known)
	Height    int       // Frame height (if known)
}

// DetectorRole identifies which model a detector stands in for
type DetectorRole string

const (
	// DetectorRolePerson - the person model, required for a session to start
	DetectorRolePerson DetectorRole = "person"
	// DetectorRoleEquipment - the protective-equipment model, optional
	DetectorRoleEquipment DetectorRole = "equipment"
)

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 float32 `json:"x1"` // Left
	Y1 float32 `json:"y1"` // Top
	X2 float32 `json:"x2"` // Right
	Y2 float32 `json:"y2"` // Bottom
}

// Rect converts the wire box to engine geometry
func (b BBox) Rect() geometry.Rect {
	return geometry.Rect{X1: float64(b.X1), Y1: float64(b.Y1), X2: float64(b.X2), Y2: float64(b.Y2)}
}

// BBoxFromRect converts engine geometry back to the wire box
func BBoxFromRect(r geometry.Rect) BBox {
	return BBox{X1: float32(r.X1), Y1: float32(r.Y1), X2: float32(r.X2), Y2: float32(r.Y2)}
}

// Detection represents a single raw model output, before normalization
type Detection struct {
	Class      string  `json:"class"`      // Model class name (person, hardhat, ...)
	ClassID    int     `json:"class_id"`   // Model class index
	Confidence float32 `json:"confidence"` // Detection confidence [0-1]
	BBox       BBox    `json:"bbox"`       // Bounding box
}

// VerdictEvent is the serializable per-frame outcome published on the event bus
type VerdictEvent struct {
	CameraID    string    `json:"camera_id"`
	FrameSeq    uint64    `json:"frame_seq"`
	Timestamp   time.Time `json:"timestamp"`
	PersonCount int       `json:"person_count"`
	Persons     []BBox    `json:"persons"`
	Equipped    []bool    `json:"equipped"`
	Offenders   []int     `json:"offenders,omitempty"`
	Breach      bool      `json:"breach"`
	Unequipped  bool      `json:"unequipped"`
	Counter     int       `json:"counter"`
	Phase       string    `json:"phase"`
	Alert       bool      `json:"alert"`
	Routine     bool      `json:"routine"`
	Reason      string    `json:"reason,omitempty"`
	InferenceMs float32   `json:"inference_ms"`
}

// CaptureStats contains frame capture statistics
type CaptureStats struct {
	CameraID       string `json:"camera_id"`
	FramesCaptured uint64 `json:"frames_captured"`
	FramesReplaced uint64 `json:"frames_replaced"` // overwritten before being read
	LastFrameTime  int64  `json:"last_frame_time"` // Unix timestamp
}
