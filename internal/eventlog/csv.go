package eventlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// CSVHeader is written once when the file is created
var CSVHeader = []string{"Timestamp", "Magnitude", "Status"}

// CSVTimeFormat is the timestamp layout of the activity log
const CSVTimeFormat = "2006-01-02 15:04:05"

// CSVRecorder appends entries to a CSV activity log
type CSVRecorder struct {
	path string
	mu   sync.Mutex
}

// NewCSVRecorder opens (or creates) the log, writing the header if absent
func NewCSVRecorder(path string) (*CSVRecorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to create activity log: %w", err)
		}
		w := csv.NewWriter(f)
		w.Write(CSVHeader)
		w.Flush()
		if err := errors.Join(w.Error(), f.Close()); err != nil {
			return nil, fmt.Errorf("failed to write activity log header: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat activity log: %w", err)
	}

	return &CSVRecorder{path: path}, nil
}

// Record implements Recorder
func (r *CSVRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open activity log: %w", err)
	}

	w := csv.NewWriter(f)
	w.Write([]string{
		e.Timestamp.Format(CSVTimeFormat),
		strconv.Itoa(e.Magnitude),
		e.Status,
	})
	w.Flush()

	if err := errors.Join(w.Error(), f.Close()); err != nil {
		return fmt.Errorf("failed to append activity log: %w", err)
	}
	return nil
}

// Path returns the log file location
func (r *CSVRecorder) Path() string {
	return r.path
}

// Ensure CSVRecorder implements Recorder
var _ Recorder = (*CSVRecorder)(nil)
