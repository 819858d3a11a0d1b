package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

// healthCacheTTL is how long a successful health check is trusted
const healthCacheTTL = 30 * time.Second

// YOLODetector is an HTTP client for a YOLO inference service
type YOLODetector struct {
	endpoint      string
	client        *http.Client
	confThreshold float32
	classesFilter string
	healthy       bool
	healthCheck   time.Time
	mu            sync.RWMutex
}

// YOLOConfig holds configuration for the detector
type YOLOConfig struct {
	ServiceEndpoint     string        // Base URL, e.g. http://yolo:8081
	ConfidenceThreshold float32       // Used when the caller passes no threshold
	ClassesFilter       string        // Comma-separated class names forwarded to the service
	Timeout             time.Duration // Per-request timeout
}

// NewYOLODetector creates a new YOLO detector
func NewYOLODetector(endpoint string) *YOLODetector {
	return &YOLODetector{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 15 * time.Second, // Longer timeout for GPU inference
		},
		confThreshold: 0.5,
	}
}

// NewYOLODetectorWithConfig creates a new YOLO detector with configuration
func NewYOLODetectorWithConfig(cfg YOLOConfig) *YOLODetector {
	d := NewYOLODetector(cfg.ServiceEndpoint)
	if cfg.ConfidenceThreshold > 0 {
		d.confThreshold = cfg.ConfidenceThreshold
	}
	if cfg.Timeout > 0 {
		d.client.Timeout = cfg.Timeout
	}
	d.classesFilter = cfg.ClassesFilter
	return d
}

// IsHealthy checks if the YOLO service is available
func (yd *YOLODetector) IsHealthy() bool {
	yd.mu.RLock()
	// Cache health check for 30 seconds
	if yd.healthy && time.Since(yd.healthCheck) < healthCacheTTL {
		yd.mu.RUnlock()
		return true
	}
	yd.mu.RUnlock()

	health, err := yd.GetHealthInfo()
	ok := err == nil && health.ModelLoaded

	yd.mu.Lock()
	yd.healthy = ok
	if ok {
		yd.healthCheck = time.Now()
	}
	yd.mu.Unlock()

	return ok
}

// GetHealthInfo returns detailed health information
func (yd *YOLODetector) GetHealthInfo() (*HealthResponse, error) {
	resp, err := yd.client.Get(yd.GetEndpoint() + "/health")
	if err != nil {
		return nil, fmt.Errorf("failed to check YOLO health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("YOLO health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return &health, nil
}

// DetectObjects performs YOLO object detection on a JPEG image
func (yd *YOLODetector) DetectObjects(ctx context.Context, imageData []byte, confThreshold float32) (*DetectionResult, error) {
	yd.mu.RLock()
	endpoint := yd.endpoint
	classesFilter := yd.classesFilter
	if confThreshold <= 0 {
		confThreshold = yd.confThreshold
	}
	yd.mu.RUnlock()

	// Create multipart form data
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, err
	}

	w.WriteField("conf_threshold", fmt.Sprintf("%.3f", confThreshold))
	if classesFilter != "" {
		w.WriteField("classes_filter", classesFilter)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := yd.client.Do(req)
	if err != nil {
		yd.markUnhealthy()
		return nil, fmt.Errorf("YOLO request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("YOLO detection failed (%d): %s", resp.StatusCode, string(body))
	}

	var result DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	return &result, nil
}

// UpdateConfig updates the detector configuration
func (yd *YOLODetector) UpdateConfig(cfg YOLOConfig) {
	yd.mu.Lock()
	defer yd.mu.Unlock()

	if cfg.ServiceEndpoint != "" {
		yd.endpoint = cfg.ServiceEndpoint
	}
	if cfg.ConfidenceThreshold > 0 {
		yd.confThreshold = cfg.ConfidenceThreshold
	}
	yd.classesFilter = cfg.ClassesFilter

	// Reset health check to force re-validation
	yd.healthCheck = time.Time{}
	yd.healthy = false
}

// GetEndpoint returns the service endpoint
func (yd *YOLODetector) GetEndpoint() string {
	yd.mu.RLock()
	defer yd.mu.RUnlock()
	return yd.endpoint
}

func (yd *YOLODetector) markUnhealthy() {
	yd.mu.Lock()
	yd.healthy = false
	yd.mu.Unlock()
}
