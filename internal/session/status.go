package session

import (
	"errors"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"sitewatch/internal/alert"
	"sitewatch/internal/annotate"
	"sitewatch/internal/pipeline"
)

// ErrNoFrame is returned by Snapshot before the first frame is processed
var ErrNoFrame = errors.New("no frame processed yet")

// Status is a point-in-time view of a session
type Status struct {
	CameraID          string                 `json:"camera_id"`
	Running           bool                   `json:"running"`
	StartedAt         time.Time              `json:"started_at"`
	EquipmentDegraded bool                   `json:"equipment_degraded"`
	Counter           int                    `json:"counter"`
	Phase             string                 `json:"phase"`
	FramesProcessed   uint64                 `json:"frames_processed"`
	FramesSkipped     uint64                 `json:"frames_skipped"`
	DetectorErrors    uint64                 `json:"detector_errors"`
	AlertFrames       uint64                 `json:"alert_frames"`
	RoutineScans      uint64                 `json:"routine_scans"`
	InferenceP50Ms    float64                `json:"inference_p50_ms"`
	InferenceP95Ms    float64                `json:"inference_p95_ms"`
	LastVerdict       *pipeline.VerdictEvent `json:"last_verdict,omitempty"`
	Capture           pipeline.CaptureStats  `json:"capture"`
	Channels          []alert.ChannelStatus  `json:"channels"`
}

// Status returns the current session snapshot
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		CameraID:          s.cameraID,
		Running:           s.running,
		StartedAt:         s.startedAt,
		EquipmentDegraded: s.engine.EquipmentDegraded(),
		Phase:             "clear",
		FramesProcessed:   s.counters.processed,
		FramesSkipped:     s.counters.skipped,
		DetectorErrors:    s.counters.detectorErrors,
		AlertFrames:       s.counters.alerts,
		RoutineScans:      s.counters.routine,
		LastVerdict:       s.last,
	}
	window := slices.Clone(s.latencies)
	s.mu.RUnlock()

	if st.LastVerdict != nil {
		st.Counter = st.LastVerdict.Counter
		st.Phase = st.LastVerdict.Phase
	}
	st.InferenceP50Ms, st.InferenceP95Ms = latencyQuantiles(window)
	st.Capture = s.source.Stats()
	st.Channels = s.dispatcher.Status()
	return st
}

// Snapshot returns the last processed frame annotated with the verdict
func (s *Session) Snapshot() ([]byte, error) {
	s.mu.RLock()
	frame, scene := s.lastFrame, s.lastScene
	degraded := s.engine.EquipmentDegraded()
	s.mu.RUnlock()

	if frame == nil {
		return nil, ErrNoFrame
	}

	banner := "Status: Monitoring"
	if scene.alert {
		banner = "ALERT: SAFETY VIOLATION"
	}
	return annotate.Annotate(frame.Data, annotate.Scene{
		Persons:          scene.persons,
		Equipped:         scene.equipped,
		Offenders:        scene.offenders,
		EquipmentChecked: !degraded,
		Zone:             scene.zone,
		Banner:           banner,
	})
}

// latencyQuantiles returns the empirical p50 and p95 of the samples
func latencyQuantiles(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	slices.Sort(samples)
	return stat.Quantile(0.5, stat.Empirical, samples, nil),
		stat.Quantile(0.95, stat.Empirical, samples, nil)
}
