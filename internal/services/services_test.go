package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goahttp "goa.design/goa/v3/http"

	"sitewatch/internal/alert"
	"sitewatch/internal/auth"
	"sitewatch/internal/database"
	"sitewatch/internal/eventlog"
	"sitewatch/internal/pipeline"
	"sitewatch/internal/session"
)

type fakeMonitor struct {
	running  bool
	startErr error
	startCtx context.Context
	snapshot []byte
	snapErr  error
}

func (m *fakeMonitor) CameraID() string { return "yard" }

func (m *fakeMonitor) Status() session.Status {
	return session.Status{CameraID: "yard", Running: m.running, Phase: "clear"}
}

func (m *fakeMonitor) Snapshot() ([]byte, error) { return m.snapshot, m.snapErr }
func (m *fakeMonitor) Running() bool             { return m.running }

func (m *fakeMonitor) Start(ctx context.Context) error {
	m.startCtx = ctx
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *fakeMonitor) Stop() error {
	m.running = false
	return nil
}

type fakeStore struct {
	events []*eventlog.Entry
	filter database.EventFilter
}

func (s *fakeStore) ListEvents(_ context.Context, f database.EventFilter) ([]*eventlog.Entry, error) {
	s.filter = f
	return s.events, nil
}

func (s *fakeStore) GetEvent(_ context.Context, id string) (*eventlog.Entry, error) {
	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CountEvents(context.Context) (int, error) { return len(s.events), nil }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeNarration struct{ n alert.Narration }

func (f fakeNarration) LastNarration() alert.Narration { return f.n }

type fixture struct {
	handler http.Handler
	monitor *fakeMonitor
	store   *fakeStore
	db      *fakePinger
	base    context.Context
}

func newFixture(t *testing.T, narration NarrationSource) *fixture {
	t.Helper()
	f := &fixture{
		monitor: &fakeMonitor{},
		store:   &fakeStore{},
		db:      &fakePinger{},
		base:    context.WithValue(context.Background(), ctxKey{}, "base"),
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{Enabled: true, Password: "pw", JWTSecret: "k"})
	require.NoError(t, err)

	mux := goahttp.NewMuxer()
	srv := New(Services{
		Health:  NewHealthService(f.db, f.monitor),
		Monitor: NewMonitorService(f.base, f.monitor, narration),
		Events:  NewEventsService(f.store),
		Auth:    NewAuthService(authenticator),
	}, mux, nil)
	srv.Mount()
	f.handler = mux
	return f
}

type ctxKey struct{}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewReader(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusOK, f.do("GET", "/health", nil).Code)

	rec := f.do("GET", "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var e ErrorResponse
	decode(t, rec, &e)
	assert.Equal(t, "unavailable", e.Name)
	assert.Contains(t, e.Message, "monitoring is not running")

	f.monitor.running = true
	assert.Equal(t, http.StatusOK, f.do("GET", "/ready", nil).Code)

	f.db.err = errors.New("disk I/O error")
	assert.Equal(t, http.StatusServiceUnavailable, f.do("GET", "/ready", nil).Code)
}

func TestMonitorStartUsesBaseContext(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do("POST", "/api/v1/monitor/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st session.Status
	decode(t, rec, &st)
	assert.True(t, st.Running)
	assert.Equal(t, "base", f.monitor.startCtx.Value(ctxKey{}), "the loop must outlive the request")

	rec = f.do("POST", "/api/v1/monitor/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.monitor.running)
}

func TestMonitorStart_SourceUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.monitor.startErr = errors.Join(pipeline.ErrSourceUnavailable, errors.New("person detector not available"))

	rec := f.do("POST", "/api/v1/monitor/start", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.monitor.snapErr = session.ErrNoFrame
	assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/v1/monitor/snapshot", nil).Code)

	f.monitor.snapErr = nil
	f.monitor.snapshot = []byte{0xFF, 0xD8, 0xFF, 0xD9}
	rec := f.do("GET", "/api/v1/monitor/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, rec.Body.Bytes())
}

func TestNarration(t *testing.T) {
	f := newFixture(t, fakeNarration{})
	assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/v1/monitor/narration", nil).Code)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f = newFixture(t, fakeNarration{n: alert.Narration{Text: "Worker in red vest, put on your helmet.", Timestamp: at}})
	rec := f.do("GET", "/api/v1/monitor/narration", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var n alert.Narration
	decode(t, rec, &n)
	assert.Equal(t, "Worker in red vest, put on your helmet.", n.Text)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.store.events = []*eventlog.Entry{{ID: "e1", CameraID: "yard", Status: alert.ReasonNoHelmet, Magnitude: 1}}

	rec := f.do("GET", "/api/v1/events?camera_id=yard&limit=1000&since=2026-03-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list EventList
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Events, 1)
	assert.Equal(t, maxEventLimit, f.store.filter.Limit)
	assert.Equal(t, "yard", f.store.filter.CameraID)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), f.store.filter.Since)

	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/v1/events?since=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/v1/events?limit=many", nil).Code)

	rec = f.do("GET", "/api/v1/events/e1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/v1/events/missing", nil).Code)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do("POST", "/api/v1/auth/login", []byte(`{"username":"admin","password":"pw"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var res LoginResult
	decode(t, rec, &res)
	assert.NotEmpty(t, res.Token)

	rec = f.do("POST", "/api/v1/auth/login", []byte(`{"username":"admin","password":"nope"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do("POST", "/api/v1/auth/login", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
