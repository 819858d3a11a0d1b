package services

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/middleware"
)

// Services groups the HTTP-exposed services
type Services struct {
	Health  *HealthService
	Monitor *MonitorService
	Events  *EventsService // Optional, nil without an event store
	Auth    *AuthService
}

// Mount describes one mounted route
type Mount struct {
	Method  string
	Verb    string
	Pattern string
}

// ErrorResponse is the JSON body of failed requests
type ErrorResponse struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Server maps the services onto a goa muxer
type Server struct {
	Mounts []*Mount

	svc    Services
	mux    goahttp.Muxer
	dec    func(*http.Request) goahttp.Decoder
	enc    func(context.Context, http.ResponseWriter) goahttp.Encoder
	logger *log.Logger
}

// New creates the HTTP server for the services
func New(svc Services, mux goahttp.Muxer, logger *log.Logger) *Server {
	return &Server{
		svc:    svc,
		mux:    mux,
		dec:    goahttp.RequestDecoder,
		enc:    goahttp.ResponseEncoder,
		logger: logger,
	}
}

// Mount registers every route on the muxer
func (s *Server) Mount() {
	s.handle("Healthz", "GET", "/health", s.healthz)
	s.handle("Readyz", "GET", "/ready", s.readyz)

	s.handle("Status", "GET", "/api/v1/monitor/status", s.status)
	s.handle("Start", "POST", "/api/v1/monitor/start", s.start)
	s.handle("Stop", "POST", "/api/v1/monitor/stop", s.stop)
	s.handle("Snapshot", "GET", "/api/v1/monitor/snapshot", s.snapshot)
	s.handle("Narration", "GET", "/api/v1/monitor/narration", s.narration)

	if s.svc.Events != nil {
		s.handle("ListEvents", "GET", "/api/v1/events", s.listEvents)
		s.handle("GetEvent", "GET", "/api/v1/events/{id}", s.getEvent)
	}

	s.handle("Login", "POST", "/api/v1/auth/login", s.login)
	s.handle("AuthStatus", "GET", "/api/v1/auth/status", s.authStatus)
}

func (s *Server) handle(name, verb, pattern string, fn func(http.ResponseWriter, *http.Request) error) {
	s.mux.Handle(verb, pattern, func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			s.encodeError(r.Context(), w, err)
		}
	})
	s.Mounts = append(s.Mounts, &Mount{Method: name, Verb: verb, Pattern: pattern})
}

func (s *Server) encode(ctx context.Context, w http.ResponseWriter, status int, v interface{}) error {
	enc := s.enc(ctx, w)
	w.WriteHeader(status)
	return enc.Encode(v)
}

func (s *Server) encodeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, name := http.StatusInternalServerError, "fault"
	switch {
	case errors.Is(err, ErrNotFound):
		status, name = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBadRequest):
		status, name = http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrUnauthorized):
		status, name = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrUnavailable):
		status, name = http.StatusServiceUnavailable, "unavailable"
	}

	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	if status == http.StatusInternalServerError && s.logger != nil {
		s.logger.Printf("[%s] ERROR: %s", id, err.Error())
	}

	if encErr := s.encode(ctx, w, status, &ErrorResponse{ID: id, Name: name, Message: err.Error()}); encErr != nil && s.logger != nil {
		s.logger.Printf("[%s] failed to encode error: %v", id, encErr)
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) error {
	if err := s.svc.Health.Healthz(r.Context()); err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) error {
	res, err := s.svc.Health.Readyz(r.Context())
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) error {
	res, err := s.svc.Monitor.Status(r.Context())
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) error {
	res, err := s.svc.Monitor.Start(r.Context())
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) error {
	res, err := s.svc.Monitor.Stop(r.Context())
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) error {
	frame, err := s.svc.Monitor.Snapshot(r.Context())
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(frame)
	return err
}

func (s *Server) narration(w http.ResponseWriter, r *http.Request) error {
	res, err := s.svc.Monitor.Narration(r.Context())
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	p := &ListPayload{CameraID: q.Get("camera_id"), Since: q.Get("since")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errors.Join(ErrBadRequest, errors.New("limit must be an integer"))
		}
		p.Limit = n
	}

	res, err := s.svc.Events.List(r.Context(), p)
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) error {
	res, err := s.svc.Events.Get(r.Context(), s.mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) error {
	var p LoginPayload
	if err := s.dec(r).Decode(&p); err != nil {
		return errors.Join(ErrBadRequest, err)
	}

	res, err := s.svc.Auth.Login(r.Context(), &p)
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) error {
	res, err := s.svc.Auth.Status(r.Context())
	if err != nil {
		return err
	}
	return s.encode(r.Context(), w, http.StatusOK, res)
}
