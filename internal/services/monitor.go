package services

import (
	"context"
	"errors"
	"fmt"

	"sitewatch/internal/alert"
	"sitewatch/internal/pipeline"
	"sitewatch/internal/session"
)

// Monitor is the session surface exposed over HTTP
type Monitor interface {
	CameraID() string
	Status() session.Status
	Snapshot() ([]byte, error)
	Running() bool
	Start(ctx context.Context) error
	Stop() error
}

// NarrationSource exposes the latest vision escalation
type NarrationSource interface {
	LastNarration() alert.Narration
}

// MonitorService controls and inspects the monitoring session
type MonitorService struct {
	// base outlives requests; the processing loop is bound to it
	base      context.Context
	monitor   Monitor
	narration NarrationSource // Optional
}

// NewMonitorService creates a monitor service. Sessions started through it
// run until base is cancelled or Stop is called.
func NewMonitorService(base context.Context, monitor Monitor, narration NarrationSource) *MonitorService {
	return &MonitorService{base: base, monitor: monitor, narration: narration}
}

// Status returns the session status
func (m *MonitorService) Status(ctx context.Context) (*session.Status, error) {
	st := m.monitor.Status()
	return &st, nil
}

// Start begins monitoring
func (m *MonitorService) Start(ctx context.Context) (*session.Status, error) {
	if !m.monitor.Running() {
		if err := m.monitor.Start(m.base); err != nil {
			if errors.Is(err, pipeline.ErrSourceUnavailable) {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return nil, err
		}
	}
	return m.Status(ctx)
}

// Stop halts monitoring
func (m *MonitorService) Stop(ctx context.Context) (*session.Status, error) {
	if err := m.monitor.Stop(); err != nil {
		return nil, err
	}
	return m.Status(ctx)
}

// Snapshot returns the annotated last frame as JPEG
func (m *MonitorService) Snapshot(ctx context.Context) ([]byte, error) {
	frame, err := m.monitor.Snapshot()
	if errors.Is(err, session.ErrNoFrame) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return frame, err
}

// Narration returns the latest vision escalation result
func (m *MonitorService) Narration(ctx context.Context) (*alert.Narration, error) {
	if m.narration == nil {
		return nil, fmt.Errorf("%w: vision escalation is not configured", ErrNotFound)
	}
	n := m.narration.LastNarration()
	if n.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: no narration yet", ErrNotFound)
	}
	return &n, nil
}
