package eventlog

import (
	"context"
	"errors"
	"time"
)

// Entry is one persisted violation record
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Magnitude int       `json:"magnitude"` // Persons in the frame
	Status    string    `json:"status"`    // Composed violation reason
	CameraID  string    `json:"camera_id"`
	FrameSeq  uint64    `json:"frame_seq"`
	Counter   int       `json:"counter"`
	Kind      string    `json:"kind"`
}

// Recorder appends entries to persistent storage
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(ctx context.Context, e Entry) error

// Record implements Recorder
func (f RecorderFunc) Record(ctx context.Context, e Entry) error {
	return f(ctx, e)
}

// Multi writes every entry to all recorders, attempting each one
// even when an earlier one fails
type Multi []Recorder

// Record implements Recorder
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
