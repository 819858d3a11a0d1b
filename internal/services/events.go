package services

import (
	"context"
	"fmt"
	"time"

	"sitewatch/internal/database"
	"sitewatch/internal/eventlog"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventStore reads recorded violations
type EventStore interface {
	ListEvents(ctx context.Context, f database.EventFilter) ([]*eventlog.Entry, error)
	GetEvent(ctx context.Context, id string) (*eventlog.Entry, error)
	CountEvents(ctx context.Context) (int, error)
}

// ListPayload is the events query
type ListPayload struct {
	CameraID string
	Since    string // RFC 3339
	Limit    int
}

// EventList is a page of events
type EventList struct {
	Events []*eventlog.Entry `json:"events"`
	Total  int               `json:"total"`
}

// EventsService serves the violation history
type EventsService struct {
	store EventStore
}

// NewEventsService creates a new events service
func NewEventsService(store EventStore) *EventsService {
	return &EventsService{store: store}
}

// List returns recent violations, newest first
func (s *EventsService) List(ctx context.Context, p *ListPayload) (*EventList, error) {
	filter := database.EventFilter{CameraID: p.CameraID, Limit: p.Limit}
	if filter.Limit <= 0 {
		filter.Limit = defaultEventLimit
	}
	if filter.Limit > maxEventLimit {
		filter.Limit = maxEventLimit
	}
	if p.Since != "" {
		since, err := time.Parse(time.RFC3339, p.Since)
		if err != nil {
			return nil, fmt.Errorf("%w: since must be RFC 3339: %v", ErrBadRequest, err)
		}
		filter.Since = since
	}

	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountEvents(ctx)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*eventlog.Entry{}
	}
	return &EventList{Events: events, Total: total}, nil
}

// Get returns one violation by id
func (s *EventsService) Get(ctx context.Context, id string) (*eventlog.Entry, error) {
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	return e, nil
}
