package pipeline

import (
	"sync"
	"time"
)

// LatestFrame is a single-slot, most-recent-wins frame holder.
// A producer overwrites the slot; readers never block and never see a partial frame.
type LatestFrame struct {
	mu       sync.Mutex
	frame    *FrameData
	consumed bool
	stats    CaptureStats
}

// NewLatestFrame creates an empty holder for the given camera
func NewLatestFrame(cameraID string) *LatestFrame {
	return &LatestFrame{
		stats: CaptureStats{CameraID: cameraID},
	}
}

// Put stores a frame, replacing any frame not yet read
func (l *LatestFrame) Put(frame *FrameData) {
	if frame == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frame != nil && !l.consumed {
		l.stats.FramesReplaced++
	}
	l.frame = frame
	l.consumed = false
	l.stats.FramesCaptured++
	l.stats.LastFrameTime = frame.Timestamp.Unix()
}

// Latest returns the most recent frame, or nil if nothing was captured yet.
// The same frame is returned until a newer one is stored; callers dedupe on Seq.
func (l *LatestFrame) Latest() *FrameData {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consumed = true
	return l.frame
}

// Age returns how long ago the current frame was captured
func (l *LatestFrame) Age(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frame == nil {
		return 0
	}
	return now.Sub(l.frame.Timestamp)
}

// Stats returns a copy of the holder statistics
func (l *LatestFrame) Stats() CaptureStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
