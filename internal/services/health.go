package services

import (
	"context"
	"fmt"
)

// Pinger checks a storage dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyResult describes readiness
type ReadyResult struct {
	Database   string `json:"database"`
	Monitoring bool   `json:"monitoring"`
}

// HealthService implements the liveness and readiness probes
type HealthService struct {
	db      Pinger // Optional
	monitor Monitor
}

// NewHealthService creates a new health service
func NewHealthService(db Pinger, monitor Monitor) *HealthService {
	return &HealthService{db: db, monitor: monitor}
}

// Healthz is alive as long as the process serves requests
func (h *HealthService) Healthz(ctx context.Context) error {
	return nil
}

// Readyz requires a reachable event store and a running session
func (h *HealthService) Readyz(ctx context.Context) (*ReadyResult, error) {
	res := &ReadyResult{Database: "disabled", Monitoring: h.monitor.Running()}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			return res, fmt.Errorf("%w: database: %v", ErrUnavailable, err)
		}
		res.Database = "ok"
	}
	if !res.Monitoring {
		return res, fmt.Errorf("%w: monitoring is not running", ErrUnavailable)
	}
	return res, nil
}
