package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"log"
	"sync"
	"time"

	"sitewatch/internal/alert"
	"sitewatch/internal/config"
	"sitewatch/internal/geometry"
	"sitewatch/internal/pipeline"
	"sitewatch/internal/safety"
)

// maxLatencySamples bounds the inference latency window used for quantiles
const maxLatencySamples = 512

// Observer receives per-frame measurements, typically for metrics
type Observer interface {
	FrameProcessed(event *pipeline.VerdictEvent, inference time.Duration)
	FrameSkipped()
	DetectorFailed(role string)
}

// Config wires a session to its collaborators
type Config struct {
	CameraID   string
	Settings   config.Session
	Source     pipeline.FrameSource
	Detectors  pipeline.DetectorRegistry
	Dispatcher *alert.Dispatcher
	Bus        *pipeline.EventBus // Optional, created when nil
	Observer   Observer           // Optional
	Now        func() time.Time   // Clock, overridable in tests
}

// Session drives one camera: it pulls the latest frame on every tick, runs the
// detectors and the decision engine synchronously, hands alerts to the
// dispatcher and publishes a verdict per processed frame.
type Session struct {
	cameraID   string
	settings   config.Session
	source     pipeline.FrameSource
	detectors  pipeline.DetectorRegistry
	dispatcher *alert.Dispatcher
	bus        *pipeline.EventBus
	observer   Observer
	now        func() time.Time
	engine     *safety.Engine

	// Owned by the processing goroutine
	state      *safety.ViolationState
	person     pipeline.Detector
	equipment  pipeline.Detector
	lastSeq    uint64
	lastReason string
	lastKind   alert.Kind

	// lifecycle serializes Start and Stop so a start issued while a stop is
	// draining waits for it instead of racing the old loop
	lifecycle sync.Mutex

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	counters  counters
	latencies []float64
	last      *pipeline.VerdictEvent
	lastFrame *pipeline.FrameData
	lastScene sceneInfo
}

type counters struct {
	processed      uint64
	skipped        uint64
	detectorErrors uint64
	alerts         uint64
	routine        uint64
}

// sceneInfo keeps what is needed to annotate the last processed frame
type sceneInfo struct {
	persons   []geometry.Rect
	equipped  []bool
	offenders []int
	zone      geometry.Polygon
	alert     bool
}

// New creates a session. Start must be called to begin processing.
func New(cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, errors.New("session needs a frame source")
	}
	if cfg.Detectors == nil {
		return nil, errors.New("session needs a detector registry")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("session needs an alert dispatcher")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.CameraID == "" {
		cfg.CameraID = "default"
	}
	if cfg.Bus == nil {
		cfg.Bus = pipeline.NewEventBus()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Session{
		cameraID:   cfg.CameraID,
		settings:   cfg.Settings,
		source:     cfg.Source,
		detectors:  cfg.Detectors,
		dispatcher: cfg.Dispatcher,
		bus:        cfg.Bus,
		observer:   cfg.Observer,
		now:        cfg.Now,
		engine:     safety.NewEngine(cfg.Settings.Engine()),
		lastKind:   alert.KindEquipment,
		lastReason: alert.ReasonNoHelmet,
	}, nil
}

// Bus returns the verdict bus
func (s *Session) Bus() *pipeline.EventBus {
	return s.bus
}

// CameraID returns the monitored camera
func (s *Session) CameraID() string {
	return s.cameraID
}

// Start resolves the detectors, opens the frame source and launches the
// processing loop. It fails with pipeline.ErrSourceUnavailable when the
// camera or the person model cannot be used. A missing equipment model only
// degrades the session.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Running() {
		return errors.New("session already running")
	}

	if err := s.resolveDetectors(); err != nil {
		return err
	}

	if err := s.source.Start(ctx); err != nil {
		if errors.Is(err, pipeline.ErrSourceUnavailable) {
			return fmt.Errorf("failed to start camera %s: %w", s.cameraID, err)
		}
		return fmt.Errorf("failed to start camera %s: %w: %w", s.cameraID, pipeline.ErrSourceUnavailable, err)
	}

	now := s.now()
	s.state = safety.NewViolationState(now)
	s.lastSeq = 0

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.startedAt = now
	s.counters = counters{}
	s.latencies = s.latencies[:0]
	s.cancel = cancel
	s.done = done
	s.running = true
	s.mu.Unlock()

	go s.run(loopCtx, done)

	log.Printf("[Session] Started camera %s at %.1f fps (equipment checks: %v)",
		s.cameraID, s.settings.ProcessingFPS, !s.engine.EquipmentDegraded())
	return nil
}

func (s *Session) resolveDetectors() error {
	person, ok := s.detectors.GetHealthy(string(pipeline.DetectorRolePerson))
	if !ok {
		return fmt.Errorf("%w: person detector not available", pipeline.ErrSourceUnavailable)
	}
	s.person = person

	equipment, ok := s.detectors.GetHealthy(string(pipeline.DetectorRoleEquipment))
	if !ok {
		s.equipment = nil
		s.engine.SetEquipmentDegraded(true)
		log.Printf("[Session] %v: equipment detector not available, only zone checks are active", safety.ErrDegradedCapability)
		return nil
	}
	s.equipment = equipment
	s.engine.SetEquipmentDegraded(false)
	return nil
}

// Stop halts the processing loop and the frame source, then waits up to the
// drain timeout for in-flight alerts. A concurrent Start waits until Stop returns.
func (s *Session) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	err := s.source.Stop()

	if !s.dispatcher.WaitTimeout(s.settings.DrainTimeout) {
		log.Printf("[Session] Abandoning in-flight alerts after %v", s.settings.DrainTimeout)
	}

	log.Printf("[Session] Stopped camera %s", s.cameraID)
	if err != nil {
		return fmt.Errorf("failed to stop camera: %w", err)
	}
	return nil
}

// Running reports whether the processing loop is active
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.settings.FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick processes the newest frame unless it was already seen
func (s *Session) tick(ctx context.Context) {
	frame := s.source.Latest()
	if frame == nil || frame.Seq == s.lastSeq {
		s.mu.Lock()
		s.counters.skipped++
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.FrameSkipped()
		}
		return
	}
	s.lastSeq = frame.Seq
	s.ProcessFrame(ctx, frame)
}

// ProcessFrame runs one frame through detection, the decision engine and the
// dispatcher. It must only be called from one goroutine at a time.
func (s *Session) ProcessFrame(ctx context.Context, frame *pipeline.FrameData) *pipeline.VerdictEvent {
	if s.state == nil {
		s.state = safety.NewViolationState(s.now())
	}
	width, height := frameSize(frame)

	start := time.Now()
	persons := s.detect(ctx, s.person, pipeline.DetectorRolePerson, frame, s.settings.PersonConfidenceFloor)
	var equipment []pipeline.Detection
	if !s.engine.EquipmentDegraded() {
		equipment = s.detect(ctx, s.equipment, pipeline.DetectorRoleEquipment, frame, s.settings.EquipmentConfidenceFloor)
	}
	inference := time.Since(start)

	now := s.now()
	v := s.engine.Process(s.state, safety.Input{
		Persons:   persons,
		Equipment: equipment,
		Width:     width,
		Height:    height,
		Now:       now,
	})

	s.mu.Lock()
	s.counters.processed++
	frameNo := s.counters.processed
	s.mu.Unlock()

	event := s.verdictEvent(frame, v, now, inference)
	zone := s.engine.ZonePolygon(width, height)
	boxes := rects(v.Persons)
	s.rememberViolation(v.Signals)

	if v.Decision.Alert {
		event.Reason = s.lastReason
		s.dispatcher.Dispatch(s.newAlert(s.lastKind, s.lastReason, frame, v, boxes, zone, width, height, now), frameNo)
	}

	if v.Decision.Routine {
		log.Printf("[Session] Routine hazard scan on frame %d", frame.Seq)
		s.dispatcher.Dispatch(s.newAlert(alert.KindRoutine, alert.ReasonRoutine, frame, v, boxes, zone, width, height, now), frameNo)
	}

	s.mu.Lock()
	if v.Decision.Alert {
		s.counters.alerts++
	}
	if v.Decision.Routine {
		s.counters.routine++
	}
	s.latencies = appendBounded(s.latencies, float64(inference)/float64(time.Millisecond), maxLatencySamples)
	s.last = event
	s.lastFrame = frame
	s.lastScene = sceneInfo{
		persons:   boxes,
		equipped:  v.Association.Equipped,
		offenders: v.Zone.Offenders,
		zone:      zone,
		alert:     v.Decision.Alert,
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.FrameProcessed(event, inference)
	}
	s.bus.Publish(event)
	return event
}

// rememberViolation tracks the reason of the latest violating frame.
// While the counter stays above threshold on clean frames that reason is reused.
func (s *Session) rememberViolation(sig safety.Signals) {
	if sig.Breach || sig.AnyUnequipped {
		s.lastKind = alert.ViolationKind(sig.Breach, sig.AnyUnequipped)
		s.lastReason = alert.ComposeReason(sig.Breach, sig.AnyUnequipped)
	}
}

func (s *Session) detect(ctx context.Context, d pipeline.Detector, role pipeline.DetectorRole, frame *pipeline.FrameData, floor float64) []pipeline.Detection {
	if d == nil {
		return nil
	}
	dets, err := d.Detect(ctx, frame, float32(floor))
	if err != nil {
		log.Printf("[Session] %s detector failed on frame %d: %v", role, frame.Seq, err)
		s.mu.Lock()
		s.counters.detectorErrors++
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.DetectorFailed(string(role))
		}
		return nil
	}
	return dets
}

func (s *Session) verdictEvent(frame *pipeline.FrameData, v safety.Verdict, now time.Time, inference time.Duration) *pipeline.VerdictEvent {
	persons := make([]pipeline.BBox, len(v.Persons))
	for i, p := range v.Persons {
		persons[i] = pipeline.BBoxFromRect(p.Box)
	}
	return &pipeline.VerdictEvent{
		CameraID:    s.cameraID,
		FrameSeq:    frame.Seq,
		Timestamp:   now,
		PersonCount: v.Signals.PersonCount,
		Persons:     persons,
		Equipped:    v.Association.Equipped,
		Offenders:   v.Zone.Offenders,
		Breach:      v.Signals.Breach,
		Unequipped:  v.Signals.AnyUnequipped,
		Counter:     v.Decision.Counter,
		Phase:       v.Decision.Phase.String(),
		Alert:       v.Decision.Alert,
		Routine:     v.Decision.Routine,
		InferenceMs: float32(inference) / float32(time.Millisecond),
	}
}

func (s *Session) newAlert(kind alert.Kind, reason string, frame *pipeline.FrameData, v safety.Verdict, persons []geometry.Rect, zone geometry.Polygon, width, height int, now time.Time) alert.Alert {
	return alert.Alert{
		Kind:              kind,
		Reason:            reason,
		CameraID:          s.cameraID,
		FrameSeq:          frame.Seq,
		Timestamp:         now,
		Frame:             bytes.Clone(frame.Data),
		Width:             width,
		Height:            height,
		Persons:           persons,
		Equipped:          v.Association.Equipped,
		Offenders:         v.Zone.Offenders,
		Zone:              zone,
		PersonCount:       v.Signals.PersonCount,
		Counter:           v.Decision.Counter,
		EquipmentDegraded: v.EquipmentDegraded,
	}
}

// frameSize returns the frame dimensions, decoding the JPEG header when the
// source did not report them
func frameSize(frame *pipeline.FrameData) (int, int) {
	if frame.Width > 0 && frame.Height > 0 {
		return frame.Width, frame.Height
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(frame.Data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func rects(dets []safety.Detection) []geometry.Rect {
	out := make([]geometry.Rect, len(dets))
	for i, d := range dets {
		out[i] = d.Box
	}
	return out
}

func appendBounded(window []float64, v float64, limit int) []float64 {
	if len(window) >= limit {
		copy(window, window[1:])
		window = window[:len(window)-1]
	}
	return append(window, v)
}
