package pipeline

import (
	"context"
	"errors"
)

// ErrSourceUnavailable is returned when a camera or a required model cannot be initialised
var ErrSourceUnavailable = errors.New("source unavailable")

// Detector is the unified interface for detection model backends
type Detector interface {
	// Name returns the detector identifier (e.g., "person", "equipment")
	Name() string

	// IsHealthy returns true if the detector is operational
	IsHealthy() bool

	// Detect runs inference on a frame, keeping detections at or above confidence
	Detect(ctx context.Context, frame *FrameData, confidence float32) ([]Detection, error)

	// Close releases detector resources
	Close() error
}

// FrameSource produces frames in the background and exposes the most recent one
type FrameSource interface {
	// Start begins capture; returns ErrSourceUnavailable when the device cannot be opened
	Start(ctx context.Context) error

	// Latest returns the most recently captured frame, or nil before the first one.
	// It never blocks waiting for a new frame.
	Latest() *FrameData

	// Stop halts capture
	Stop() error

	// Stats returns capture statistics
	Stats() CaptureStats
}

// VerdictHandler receives verdict events
type VerdictHandler interface {
	// OnVerdict is called once per processed frame
	OnVerdict(event *VerdictEvent)
}

// VerdictHandlerFunc adapts a function to VerdictHandler
type VerdictHandlerFunc func(event *VerdictEvent)

// OnVerdict implements VerdictHandler
func (f VerdictHandlerFunc) OnVerdict(event *VerdictEvent) {
	f(event)
}

// DetectorRegistry manages available detectors
type DetectorRegistry interface {
	// Register adds a detector to the registry
	Register(detector Detector) error

	// Get returns a detector by name
	Get(name string) (Detector, bool)

	// GetHealthy returns the named detector only if it is healthy
	GetHealthy(name string) (Detector, bool)

	// Close releases all detector resources
	Close() error
}
