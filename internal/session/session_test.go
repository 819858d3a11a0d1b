package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/alert"
	"sitewatch/internal/config"
	"sitewatch/internal/geometry"
	"sitewatch/internal/pipeline"
	"sitewatch/internal/pipeline/detectors"
)

type fakeSource struct {
	mu       sync.Mutex
	frame    *pipeline.FrameData
	startErr error
	started  bool
	stopped  bool
	starts   int
}

func (f *fakeSource) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.stopped = false
	f.starts++
	return nil
}

func (f *fakeSource) state() (starts int, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stopped
}

func (f *fakeSource) Latest() *pipeline.FrameData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func (f *fakeSource) Put(frame *pipeline.FrameData) {
	f.mu.Lock()
	f.frame = frame
	f.mu.Unlock()
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Stats() pipeline.CaptureStats {
	return pipeline.CaptureStats{CameraID: "test"}
}

type fakeDetector struct {
	name    string
	healthy bool
	mu      sync.Mutex
	dets    []pipeline.Detection
	err     error
	block   chan struct{} // When set, Detect waits for it to close
	entered chan struct{}
}

func (d *fakeDetector) Name() string    { return d.name }
func (d *fakeDetector) IsHealthy() bool { return d.healthy }
func (d *fakeDetector) Close() error    { return nil }

func (d *fakeDetector) Detect(context.Context, *pipeline.FrameData, float32) ([]pipeline.Detection, error) {
	d.mu.Lock()
	block, entered := d.block, d.entered
	d.mu.Unlock()

	if block != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-block
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dets, d.err
}

func (d *fakeDetector) set(dets []pipeline.Detection, err error) {
	d.mu.Lock()
	d.dets, d.err = dets, err
	d.mu.Unlock()
}

type captureChannel struct {
	name  string
	kinds map[alert.Kind]bool
	mu    sync.Mutex
	got   []alert.Alert
}

func (c *captureChannel) Name() string             { return c.name }
func (c *captureChannel) Handles(k alert.Kind) bool { return c.kinds[k] }

func (c *captureChannel) Notify(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	c.got = append(c.got, a)
	c.mu.Unlock()
	return nil
}

func (c *captureChannel) alerts() []alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Alert(nil), c.got...)
}

func box(class string, conf float32, x1, y1, x2, y2 float32) pipeline.Detection {
	return pipeline.Detection{Class: class, Confidence: conf, BBox: pipeline.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	session    *Session
	source     *fakeSource
	person     *fakeDetector
	equipment  *fakeDetector
	registry   *detectors.Registry
	dispatcher *alert.Dispatcher
	clock      *clock
}

func newFixture(t *testing.T, mutate func(*config.Session)) *fixture {
	t.Helper()

	settings := config.Default()
	settings.AlertThreshold = 2
	settings.ProcessingFPS = 200
	settings.DrainTimeout = time.Second
	if mutate != nil {
		mutate(&settings)
	}

	f := &fixture{
		source:    &fakeSource{},
		person:    &fakeDetector{name: "person", healthy: true},
		equipment: &fakeDetector{name: "equipment", healthy: true},
		registry:  detectors.NewRegistry(),
		clock:     &clock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, f.registry.Register(f.person))
	require.NoError(t, f.registry.Register(f.equipment))
	f.dispatcher = alert.NewDispatcher(context.Background(), alert.DispatcherConfig{Now: f.clock.Now})

	s, err := New(Config{
		CameraID:   "yard",
		Settings:   settings,
		Source:     f.source,
		Detectors:  f.registry,
		Dispatcher: f.dispatcher,
		Now:        f.clock.Now,
	})
	require.NoError(t, err)
	f.session = s
	return f
}

func frame(seq uint64) *pipeline.FrameData {
	return &pipeline.FrameData{CameraID: "yard", Seq: seq, Width: 1000, Height: 600, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
}

func TestStart_RequiresPersonDetector(t *testing.T) {
	f := newFixture(t, nil)
	f.person.healthy = false

	err := f.session.Start(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSourceUnavailable)
	assert.False(t, f.source.started, "the camera is not opened without a person model")
}

func TestStart_SourceFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.source.startErr = errors.New("device busy")

	err := f.session.Start(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "device busy")
	assert.False(t, f.session.Running())
}

func TestStart_DegradedWithoutEquipmentModel(t *testing.T) {
	f := newFixture(t, nil)
	f.equipment.healthy = false

	require.NoError(t, f.session.Start(context.Background()))
	defer f.session.Stop()

	assert.True(t, f.session.Status().EquipmentDegraded)
}

func TestProcessFrame_EquipmentViolationAlerts(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.resolveDetectors())

	push := &captureChannel{name: "push", kinds: map[alert.Kind]bool{alert.KindEquipment: true}}
	f.dispatcher.Register(push, alert.NewCooldownGate(15*time.Second))

	verdicts, unsubscribe := f.session.Bus().SubscribeChannel(10)
	defer unsubscribe()

	f.person.set([]pipeline.Detection{box("person", 0.9, 100, 100, 300, 500)}, nil)
	f.equipment.set(nil, nil)

	var last *pipeline.VerdictEvent
	for seq := uint64(1); seq <= 3; seq++ {
		f.clock.Advance(100 * time.Millisecond)
		last = f.session.ProcessFrame(context.Background(), frame(seq))
	}
	f.dispatcher.Wait()

	assert.Equal(t, 3, last.Counter)
	assert.True(t, last.Alert)
	assert.Equal(t, "alerting", last.Phase)
	assert.Equal(t, alert.ReasonNoHelmet, last.Reason)
	assert.Len(t, verdicts, 3, "one verdict per processed frame")

	got := push.alerts()
	require.Len(t, got, 1)
	assert.Equal(t, alert.KindEquipment, got[0].Kind)
	assert.Equal(t, uint64(3), got[0].FrameSeq)
	assert.Equal(t, 1, got[0].PersonCount)
	assert.Equal(t, []bool{false}, got[0].Equipped)
}

func TestProcessFrame_EquippedPersonStaysClear(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.resolveDetectors())

	f.person.set([]pipeline.Detection{box("person", 0.9, 100, 100, 300, 500)}, nil)
	f.equipment.set([]pipeline.Detection{box("helmet", 0.9, 170, 85, 230, 115)}, nil)

	v := f.session.ProcessFrame(context.Background(), frame(1))

	assert.Equal(t, []bool{true}, v.Equipped)
	assert.Equal(t, 0, v.Counter)
	assert.Equal(t, "clear", v.Phase)
	assert.False(t, v.Alert)
}

func TestProcessFrame_DetectorErrorIsEmptyFrame(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.resolveDetectors())

	f.person.set([]pipeline.Detection{box("person", 0.9, 100, 100, 300, 500)}, nil)
	f.session.ProcessFrame(context.Background(), frame(1))

	f.person.set(nil, errors.New("inference timeout"))
	v := f.session.ProcessFrame(context.Background(), frame(2))

	assert.Equal(t, 0, v.PersonCount)
	assert.Equal(t, 0, v.Counter, "no persons resets the counter")
	assert.Equal(t, uint64(1), f.session.Status().DetectorErrors)
}

func TestProcessFrame_ZoneBreachReasonComesFirst(t *testing.T) {
	f := newFixture(t, func(s *config.Session) {
		s.ZonePolygonFraction = geometry.Polygon{{X: 0.5, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0.5, Y: 1}}
	})
	require.NoError(t, f.session.resolveDetectors())

	f.person.set([]pipeline.Detection{box("person", 0.9, 600, 100, 800, 560)}, nil)
	v := f.session.ProcessFrame(context.Background(), frame(1))

	assert.True(t, v.Breach)
	assert.True(t, v.Alert, "a breach alerts immediately")
	assert.Equal(t, "Restricted Zone Violation + No Helmet Detected", v.Reason)
	assert.Equal(t, []int{0}, v.Offenders)
}

func TestProcessFrame_RoutineScanGoesToVision(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.resolveDetectors())

	vision := &captureChannel{name: "vision", kinds: map[alert.Kind]bool{alert.KindRoutine: true}}
	f.dispatcher.Register(vision, alert.NewCooldownGate(10*time.Second))

	f.session.ProcessFrame(context.Background(), frame(1))
	f.clock.Advance(16 * time.Second)
	v := f.session.ProcessFrame(context.Background(), frame(2))
	f.dispatcher.Wait()

	assert.True(t, v.Routine)
	got := vision.alerts()
	require.Len(t, got, 1)
	assert.Equal(t, alert.KindRoutine, got[0].Kind)
	assert.Equal(t, alert.ReasonRoutine, got[0].Reason)
}

func TestRun_SkipsAlreadyProcessedFrames(t *testing.T) {
	f := newFixture(t, nil)
	f.source.Put(frame(1))

	require.NoError(t, f.session.Start(context.Background()))

	require.Eventually(t, func() bool {
		st := f.session.Status()
		return st.FramesProcessed == 1 && st.FramesSkipped >= 3
	}, 2*time.Second, 5*time.Millisecond)

	f.source.Put(frame(2))
	require.Eventually(t, func() bool {
		return f.session.Status().FramesProcessed == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.session.Stop())
	assert.True(t, f.source.stopped)
	assert.False(t, f.session.Running())
	assert.Equal(t, uint64(2), f.session.Status().FramesProcessed)
}

func TestStopStart_RealSnapshotSource(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := newFixture(t, nil)
	src := pipeline.NewFFmpegSource(pipeline.SourceConfig{CameraID: "yard", Device: srv.URL + "/snapshot.jpg", FPS: 20})

	settings := config.Default()
	settings.ProcessingFPS = 200
	settings.DrainTimeout = time.Second
	s, err := New(Config{
		CameraID:   "yard",
		Settings:   settings,
		Source:     src,
		Detectors:  f.registry,
		Dispatcher: f.dispatcher,
	})
	require.NoError(t, err)

	for round := 1; round <= 3; round++ {
		require.NoError(t, s.Start(context.Background()), "start round %d", round)
		require.Eventually(t, func() bool {
			return s.Status().FramesProcessed >= 2
		}, 2*time.Second, 5*time.Millisecond, "frames flow in round %d", round)

		require.NoError(t, s.Stop())
		assert.False(t, s.Running())
		assert.False(t, src.IsRunning())
	}
}

func TestStart_WaitsForConcurrentStop(t *testing.T) {
	f := newFixture(t, nil)
	release := make(chan struct{})
	f.person.block = release
	f.person.entered = make(chan struct{}, 1)

	f.source.Put(frame(1))
	require.NoError(t, f.session.Start(context.Background()))

	select {
	case <-f.person.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("the loop never reached the detector")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- f.session.Stop() }()
	require.Eventually(t, func() bool { return !f.session.Running() }, time.Second, time.Millisecond)

	started := make(chan error, 1)
	go func() { started <- f.session.Start(context.Background()) }()

	select {
	case err := <-started:
		t.Fatalf("Start returned while the old loop was still running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	f.person.mu.Lock()
	f.person.block = nil
	f.person.mu.Unlock()
	close(release)

	require.NoError(t, <-stopped)
	require.NoError(t, <-started)

	starts, sourceStopped := f.source.state()
	assert.Equal(t, 2, starts)
	assert.False(t, sourceStopped, "the restarted session keeps its camera open")
	assert.True(t, f.session.Running())

	require.NoError(t, f.session.Stop())
	_, sourceStopped = f.source.state()
	assert.True(t, sourceStopped)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.resolveDetectors())

	_, err := f.session.Snapshot()
	assert.ErrorIs(t, err, ErrNoFrame)

	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	f.person.set([]pipeline.Detection{box("person", 0.9, 40, 40, 120, 230)}, nil)
	f.session.ProcessFrame(context.Background(), &pipeline.FrameData{Seq: 1, Data: buf.Bytes()})

	out, err := f.session.Snapshot()
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 1, f.session.Status().LastVerdict.PersonCount, "frame size decoded from the JPEG header")
}

func TestLatencyQuantiles(t *testing.T) {
	samples := make([]float64, 0, 100)
	for i := 100; i >= 1; i-- {
		samples = append(samples, float64(i))
	}

	p50, p95 := latencyQuantiles(samples)
	assert.Equal(t, 50.0, p50)
	assert.Equal(t, 95.0, p95)

	p50, p95 = latencyQuantiles(nil)
	assert.Zero(t, p50)
	assert.Zero(t, p95)
}

func TestAppendBounded(t *testing.T) {
	var w []float64
	for i := 1; i <= 5; i++ {
		w = appendBounded(w, float64(i), 3)
	}
	assert.Equal(t, []float64{3, 4, 5}, w)
}
