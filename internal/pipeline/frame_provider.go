package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder for DecodeConfig
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SourceConfig describes a camera device
type SourceConfig struct {
	CameraID string // Camera identifier
	Device   string // rtsp://, http(s)://, or a V4L2 device path
	FPS      int    // Capture rate requested from ffmpeg
	Width    int    // V4L2 capture width
	Height   int    // V4L2 capture height
}

// FFmpegSource captures frames with FFmpeg (or HTTP snapshot polling)
// into a single-slot holder. Readers always get the most recent frame.
type FFmpegSource struct {
	config SourceConfig
	slot   *LatestFrame
	client *http.Client

	frameSeq atomic.Uint64

	mu  sync.Mutex
	run *captureRun // Current capture, nil when never started or stopped
}

// captureRun holds the per-Start state so a source can be restarted
type captureRun struct {
	stopCh chan struct{}
	done   chan struct{}
	cmd    *exec.Cmd
}

// NewFFmpegSource creates a frame source for the given device
func NewFFmpegSource(config SourceConfig) *FFmpegSource {
	if config.FPS <= 0 {
		config.FPS = 15
	}
	if config.CameraID == "" {
		config.CameraID = "default"
	}
	return &FFmpegSource{
		config: config,
		slot:   NewLatestFrame(config.CameraID),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start opens the device and begins capturing in the background.
// Failing to open the device returns ErrSourceUnavailable.
func (s *FFmpegSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		select {
		case <-s.run.done:
			// The previous capture ended on its own (EOF or ctx), a new one may start
			if s.run.cmd != nil {
				s.run.cmd.Wait()
			}
			s.run = nil
		default:
			return fmt.Errorf("camera %s already started", s.config.CameraID)
		}
	}

	run := &captureRun{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if s.isHTTPImageEndpoint() {
		// Probe once so a dead endpoint fails the session start
		frame, err := s.fetchSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.config.Device, err)
		}
		s.publish(frame)

		s.run = run
		go s.captureHTTPImages(ctx, run)
		log.Printf("[FrameProvider] Started snapshot polling for camera %s (device: %s, fps: %d)",
			s.config.CameraID, s.config.Device, s.config.FPS)
		return nil
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("%w: ffmpeg not found: %v", ErrSourceUnavailable, err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", s.ffmpegArgs()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: creating stdout pipe: %v", ErrSourceUnavailable, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: creating stderr pipe: %v", ErrSourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting ffmpeg for %s: %v", ErrSourceUnavailable, s.config.Device, err)
	}

	run.cmd = cmd

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	s.run = run
	go s.captureFFmpeg(stdout, run)

	log.Printf("[FrameProvider] Started capture for camera %s (device: %s, fps: %d)",
		s.config.CameraID, s.config.Device, s.config.FPS)
	return nil
}

// Latest returns the most recently captured frame
func (s *FFmpegSource) Latest() *FrameData {
	return s.slot.Latest()
}

// Stop halts capture and waits for the capture loop to exit.
// The source can be started again afterwards.
func (s *FFmpegSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.run
	if run == nil {
		return nil
	}
	s.run = nil

	close(run.stopCh)
	if run.cmd != nil && run.cmd.Process != nil {
		run.cmd.Process.Kill()
	}

	select {
	case <-run.done:
		if run.cmd != nil {
			run.cmd.Wait()
		}
	case <-time.After(5 * time.Second):
		log.Printf("[FrameProvider] Timed out waiting for camera %s capture loop", s.config.CameraID)
	}

	log.Printf("[FrameProvider] Stopped capture for camera %s", s.config.CameraID)
	return nil
}

// Stats returns capture statistics
func (s *FFmpegSource) Stats() CaptureStats {
	return s.slot.Stats()
}

// IsRunning reports whether the capture loop is active
func (s *FFmpegSource) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return false
	}
	select {
	case <-s.run.done:
		return false
	default:
		return true
	}
}

func (s *FFmpegSource) isHTTPImageEndpoint() bool {
	d := s.config.Device
	return (strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://")) &&
		(strings.Contains(d, ".jpg") || strings.Contains(d, ".jpeg") || strings.Contains(d, "image") || strings.Contains(d, "snapshot"))
}

func (s *FFmpegSource) ffmpegArgs() []string {
	d := s.config.Device
	fps := fmt.Sprintf("%d", s.config.FPS)

	switch {
	case strings.HasPrefix(d, "rtsp://"):
		return []string{
			"-rtsp_transport", "tcp",
			"-i", d,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fps,
			"-q:v", "5",
			"-",
		}
	case strings.HasPrefix(d, "http://"), strings.HasPrefix(d, "https://"):
		return []string{
			"-i", d,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fps,
			"-q:v", "5",
			"-",
		}
	default:
		// V4L2 device (USB camera)
		args := []string{"-f", "v4l2"}
		if s.config.Width > 0 && s.config.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", s.config.Width, s.config.Height))
		}
		return append(args,
			"-framerate", fps,
			"-i", d,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		)
	}
}

func (s *FFmpegSource) fetchSnapshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Device, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (s *FFmpegSource) captureHTTPImages(ctx context.Context, run *captureRun) {
	defer close(run.done)

	interval := time.Second / time.Duration(s.config.FPS)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-run.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := s.fetchSnapshot(ctx)
			if err != nil {
				log.Printf("[FrameProvider] Error fetching frame from %s: %v", s.config.Device, err)
				continue
			}
			s.publish(frame)
		}
	}
}

func (s *FFmpegSource) captureFFmpeg(stdout io.Reader, run *captureRun) {
	defer close(run.done)

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-run.stopCh:
			return
		default:
		}

		n, err := stdout.Read(chunk)
		if err != nil {
			if err != io.EOF {
				log.Printf("[FrameProvider] Error reading frame: %v", err)
			}
			return
		}

		frameBuffer = append(frameBuffer, chunk[:n]...)

		// Extract complete JPEG frames
		for {
			frame := extractJPEGFrame(&frameBuffer)
			if frame == nil {
				break
			}
			s.publish(frame)
		}
	}
}

func (s *FFmpegSource) publish(data []byte) {
	seq := s.frameSeq.Add(1)

	frame := &FrameData{
		CameraID:  s.config.CameraID,
		Data:      data,
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     s.config.Width,
		Height:    s.config.Height,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		frame.Width = cfg.Width
		frame.Height = cfg.Height
	}

	s.slot.Put(frame)

	if seq%100 == 0 {
		stats := s.slot.Stats()
		log.Printf("[FrameProvider] Camera %s: frame %d, %d replaced before read",
			s.config.CameraID, seq, stats.FramesReplaced)
	}
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	// JPEG start marker (FFD8)
	startIdx := bytes.Index(buf, []byte{0xFF, 0xD8})
	if startIdx == -1 {
		return nil
	}

	// JPEG end marker (FFD9)
	end := bytes.Index(buf[startIdx+2:], []byte{0xFF, 0xD9})
	if end == -1 {
		return nil
	}
	endIdx := startIdx + 2 + end + 2

	frame := make([]byte, endIdx-startIdx)
	copy(frame, buf[startIdx:endIdx])
	*buffer = buf[endIdx:]

	return frame
}

// Ensure FFmpegSource implements FrameSource
var _ FrameSource = (*FFmpegSource)(nil)
