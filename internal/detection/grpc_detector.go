package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// DetectMethod is the full gRPC method name of the unary detection call.
// Requests and responses are google.protobuf.Struct messages.
const DetectMethod = "/sitewatch.detection.v1.DetectionService/Detect"

// DetectionServiceName is the service name reported to grpc.health.v1
const DetectionServiceName = "sitewatch.detection.v1.DetectionService"

// GRPCDetector provides gRPC-based object detection
type GRPCDetector struct {
	endpoint   string
	conn       *grpc.ClientConn
	health     healthpb.HealthClient
	classes    []string
	timeout    time.Duration
	healthy    bool
	healthMu   sync.RWMutex
	lastHealth time.Time
}

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint    string
	Classes     []string          // Optional class filter forwarded with every request
	Timeout     time.Duration     // Per-call deadline
	DialOptions []grpc.DialOption // Extra options, e.g. a custom dialer in tests
}

// NewGRPCDetector creates a new gRPC-based detector.
// The connection is established lazily by the gRPC runtime.
func NewGRPCDetector(config GRPCDetectorConfig) (*GRPCDetector, error) {
	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", config.Endpoint, err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	log.Printf("[GRPCDetector] Client created for %s", config.Endpoint)

	return &GRPCDetector{
		endpoint: config.Endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		classes:  config.Classes,
		timeout:  timeout,
	}, nil
}

// IsHealthy checks if the gRPC detection service is serving
func (gd *GRPCDetector) IsHealthy() bool {
	gd.healthMu.RLock()
	if time.Since(gd.lastHealth) < healthCacheTTL && gd.healthy {
		gd.healthMu.RUnlock()
		return true
	}
	gd.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{Service: DetectionServiceName})
	if err != nil {
		log.Printf("[GRPCDetector] Health check failed: %v", err)
		gd.healthMu.Lock()
		gd.healthy = false
		gd.healthMu.Unlock()
		return false
	}

	gd.healthMu.Lock()
	gd.healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	gd.lastHealth = time.Now()
	gd.healthMu.Unlock()

	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Detect runs one unary detection call on a JPEG image
func (gd *GRPCDetector) Detect(ctx context.Context, cameraID string, frameSeq uint64, imageData []byte, confThreshold float32) (*DetectionResult, error) {
	classes := make([]interface{}, 0, len(gd.classes))
	for _, c := range gd.classes {
		classes = append(classes, c)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"camera_id":      cameraID,
		"frame_seq":      float64(frameSeq),
		"timestamp_ns":   float64(time.Now().UnixNano()),
		"jpeg_b64":       base64.StdEncoding.EncodeToString(imageData),
		"conf_threshold": float64(confThreshold),
		"classes":        classes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, gd.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := gd.conn.Invoke(ctx, DetectMethod, req, resp); err != nil {
		gd.healthMu.Lock()
		gd.healthy = false
		gd.healthMu.Unlock()
		return nil, fmt.Errorf("detect call failed: %w", err)
	}

	return convertResponse(resp), nil
}

// convertResponse converts a Struct response to the internal format.
// Entries with a malformed box are skipped.
func convertResponse(resp *structpb.Struct) *DetectionResult {
	fields := resp.GetFields()
	items := fields["detections"].GetListValue().GetValues()

	detections := make([]Detection, 0, len(items))
	for _, item := range items {
		det := item.GetStructValue().GetFields()
		box := det["bbox"].GetListValue().GetValues()
		if len(box) < 4 {
			continue
		}

		detections = append(detections, Detection{
			Class:      det["class_name"].GetStringValue(),
			ClassID:    int(det["class_id"].GetNumberValue()),
			Confidence: float32(det["confidence"].GetNumberValue()),
			BBox: []float32{
				float32(box[0].GetNumberValue()),
				float32(box[1].GetNumberValue()),
				float32(box[2].GetNumberValue()),
				float32(box[3].GetNumberValue()),
			},
		})
	}

	return &DetectionResult{
		Detections:      detections,
		Count:           len(detections),
		InferenceTimeMs: float32(fields["inference_ms"].GetNumberValue()),
		Device:          fields["device"].GetStringValue(),
	}
}

// Close shuts down the gRPC connection
func (gd *GRPCDetector) Close() error {
	if gd.conn != nil {
		return gd.conn.Close()
	}
	return nil
}
