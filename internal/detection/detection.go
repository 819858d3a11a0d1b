package detection

// Detection represents a detected object as returned by a model service
type Detection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// DetectionResult represents the full detection response
type DetectionResult struct {
	Detections      []Detection `json:"detections"`
	Count           int         `json:"count"`
	InferenceTimeMs float32     `json:"inference_time_ms"`
	Device          string      `json:"device"`
	ModelSize       string      `json:"model_size"`
	ConfThreshold   float32     `json:"conf_threshold"`
	FilterApplied   string      `json:"filter_applied,omitempty"`
}

// HealthResponse represents a model service health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}
