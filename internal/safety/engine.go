package safety

import (
	"time"

	"sitewatch/internal/geometry"
	"sitewatch/internal/pipeline"
)

// Config bundles every engine parameter
type Config struct {
	Normalize   NormalizeParams
	Association AssociationParams
	Thresholds  Thresholds
	Zone        geometry.Polygon // Restricted zone in frame fractions, nil for none
}

// DefaultConfig returns the production engine configuration without a zone
func DefaultConfig() Config {
	return Config{
		Normalize:   DefaultNormalizeParams(),
		Association: DefaultAssociationParams(),
		Thresholds:  DefaultThresholds(),
	}
}

// Input is one frame's worth of raw detections
type Input struct {
	Persons   []pipeline.Detection
	Equipment []pipeline.Detection
	Width     int
	Height    int
	Now       time.Time
}

// Verdict is the full per-frame outcome of the decision engine
type Verdict struct {
	Persons           []Detection
	Equipment         []Detection
	Association       Association
	Zone              ZoneResult
	Signals           Signals
	Decision          Decision
	Rejected          int
	EquipmentDegraded bool
}

// Engine runs normalization, association, zone check and the state machine
// synchronously for one frame. It holds no per-session counters itself.
type Engine struct {
	config            Config
	zone              *ZoneMonitor
	equipmentDegraded bool
}

// NewEngine creates an engine
func NewEngine(config Config) *Engine {
	return &Engine{
		config: config,
		zone:   NewZoneMonitor(config.Zone),
	}
}

// SetEquipmentDegraded turns equipment checks off (or back on)
func (e *Engine) SetEquipmentDegraded(degraded bool) {
	e.equipmentDegraded = degraded
}

// EquipmentDegraded reports whether equipment checks are disabled
func (e *Engine) EquipmentDegraded() bool {
	return e.equipmentDegraded
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// ZonePolygon returns the restricted zone scaled to the given frame size
func (e *Engine) ZonePolygon(width, height int) geometry.Polygon {
	return e.zone.Polygon(width, height)
}

// Process evaluates one frame and advances state
func (e *Engine) Process(state *ViolationState, in Input) Verdict {
	norm := Normalize(NormalizeInput{
		Persons:           in.Persons,
		Equipment:         in.Equipment,
		FrameHeight:       in.Height,
		EquipmentDegraded: e.equipmentDegraded,
	}, e.config.Normalize)

	assoc := Associate(norm.Persons, norm.Equipment, e.config.Association)
	zone := e.zone.Check(norm.Persons, in.Width, in.Height)

	sig := Signals{
		PersonCount: len(norm.Persons),
		Breach:      zone.Breach,
		// Without an equipment model every person would look unequipped
		AnyUnequipped: !e.equipmentDegraded && assoc.AnyUnequipped(),
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	return Verdict{
		Persons:           norm.Persons,
		Equipment:         norm.Equipment,
		Association:       assoc,
		Zone:              zone,
		Signals:           sig,
		Decision:          state.Step(sig, now, e.config.Thresholds),
		Rejected:          norm.Rejected,
		EquipmentDegraded: e.equipmentDegraded,
	}
}
