package detectors

import (
	"context"
	"fmt"

	"sitewatch/internal/detection"
	"sitewatch/internal/pipeline"
)

// GRPCAdapter wraps GRPCDetector to implement the unified Detector interface
type GRPCAdapter struct {
	role     pipeline.DetectorRole
	detector *detection.GRPCDetector
}

// NewGRPCAdapter creates a detector for the given role backed by a gRPC service
func NewGRPCAdapter(role pipeline.DetectorRole, detector *detection.GRPCDetector) *GRPCAdapter {
	return &GRPCAdapter{
		role:     role,
		detector: detector,
	}
}

func (a *GRPCAdapter) Name() string {
	return string(a.role)
}

func (a *GRPCAdapter) IsHealthy() bool {
	return a.detector != nil && a.detector.IsHealthy()
}

func (a *GRPCAdapter) Detect(ctx context.Context, frame *pipeline.FrameData, confidence float32) ([]pipeline.Detection, error) {
	if a.detector == nil {
		return nil, fmt.Errorf("%s detector not configured", a.role)
	}

	result, err := a.detector.Detect(ctx, frame.CameraID, frame.Seq, frame.Data, confidence)
	if err != nil {
		return nil, fmt.Errorf("%s detection failed: %w", a.role, err)
	}

	return convertDetections(result.Detections), nil
}

func (a *GRPCAdapter) Close() error {
	if a.detector == nil {
		return nil
	}
	return a.detector.Close()
}

// Ensure GRPCAdapter implements Detector
var _ pipeline.Detector = (*GRPCAdapter)(nil)
