package detectors

import (
	"context"
	"fmt"

	"sitewatch/internal/detection"
	"sitewatch/internal/pipeline"
)

// YOLOAdapter wraps the HTTP YOLODetector to implement the unified Detector interface
type YOLOAdapter struct {
	role     pipeline.DetectorRole
	detector *detection.YOLODetector
}

// NewYOLOAdapter creates a detector for the given role backed by an HTTP YOLO service
func NewYOLOAdapter(role pipeline.DetectorRole, detector *detection.YOLODetector) *YOLOAdapter {
	return &YOLOAdapter{
		role:     role,
		detector: detector,
	}
}

func (a *YOLOAdapter) Name() string {
	return string(a.role)
}

func (a *YOLOAdapter) IsHealthy() bool {
	if a.detector == nil {
		return false
	}
	return a.detector.IsHealthy()
}

func (a *YOLOAdapter) Detect(ctx context.Context, frame *pipeline.FrameData, confidence float32) ([]pipeline.Detection, error) {
	if a.detector == nil {
		return nil, fmt.Errorf("%s detector not configured", a.role)
	}

	result, err := a.detector.DetectObjects(ctx, frame.Data, confidence)
	if err != nil {
		return nil, fmt.Errorf("%s detection failed: %w", a.role, err)
	}

	return convertDetections(result.Detections), nil
}

func (a *YOLOAdapter) Close() error {
	// HTTP client based, nothing to release
	return nil
}

// convertDetections maps service detections to pipeline detections.
// Boxes with fewer than four coordinates become zero boxes and are
// rejected downstream by the normalizer.
func convertDetections(in []detection.Detection) []pipeline.Detection {
	out := make([]pipeline.Detection, 0, len(in))
	for _, d := range in {
		var bbox pipeline.BBox
		if len(d.BBox) >= 4 {
			bbox = pipeline.BBox{
				X1: d.BBox[0],
				Y1: d.BBox[1],
				X2: d.BBox[2],
				Y2: d.BBox[3],
			}
		}

		out = append(out, pipeline.Detection{
			Class:      d.Class,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			BBox:       bbox,
		})
	}
	return out
}

// Ensure YOLOAdapter implements Detector
var _ pipeline.Detector = (*YOLOAdapter)(nil)
