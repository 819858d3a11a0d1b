package config

import (
	"errors"
	"fmt"
	"time"

	"sitewatch/internal/alert"
	"sitewatch/internal/geometry"
	"sitewatch/internal/safety"
)

// ChannelCooldowns are the minimum intervals between deliveries per channel
type ChannelCooldowns struct {
	Vision time.Duration `yaml:"vision" json:"vision"`
	Speech time.Duration `yaml:"speech" json:"speech"`
	Push   time.Duration `yaml:"push" json:"push"`
}

// Session holds every tunable of a monitoring session
type Session struct {
	PersonConfidenceFloor    float64          `yaml:"person_confidence_floor" json:"person_confidence_floor"`
	EquipmentConfidenceFloor float64          `yaml:"equipment_confidence_floor" json:"equipment_confidence_floor"`
	MinPersonHeightFraction  float64          `yaml:"min_person_height_fraction" json:"min_person_height_fraction"`
	AlertThreshold           int              `yaml:"alert_threshold" json:"alert_threshold"`
	CounterCap               int              `yaml:"counter_cap" json:"counter_cap"`
	BreachIncrement          int              `yaml:"breach_increment" json:"breach_increment"`
	EquipmentIncrement       int              `yaml:"equipment_increment" json:"equipment_increment"`
	DecayDecrement           int              `yaml:"decay_decrement" json:"decay_decrement"`
	Cooldowns                ChannelCooldowns `yaml:"cooldowns" json:"cooldowns"`
	LogFrameModulus          int              `yaml:"log_frame_modulus" json:"log_frame_modulus"`
	RoutineScanInterval      time.Duration    `yaml:"routine_scan_interval" json:"routine_scan_interval"`
	ZonePolygonFraction      geometry.Polygon `yaml:"zone" json:"zone"` // Frame fractions, empty for no zone
	HeadBandFraction         float64          `yaml:"head_band_fraction" json:"head_band_fraction"`
	HeadTopTolerance         float64          `yaml:"head_top_tolerance" json:"head_top_tolerance"` // Pixels
	LateralTolerance         float64          `yaml:"lateral_tolerance" json:"lateral_tolerance"`   // Pixels
	ProcessingFPS            float64          `yaml:"processing_fps" json:"processing_fps"`
	VisionMaxWidth           int              `yaml:"vision_max_width" json:"vision_max_width"` // Downscale frames before escalation, 0 keeps size
	ChannelTimeout           time.Duration    `yaml:"channel_timeout" json:"channel_timeout"`   // Deadline for one channel delivery
	DrainTimeout             time.Duration    `yaml:"drain_timeout" json:"drain_timeout"`       // Wait for in-flight alerts at shutdown
}

// Default returns the production session settings
func Default() Session {
	return Session{
		PersonConfidenceFloor:    0.5,
		EquipmentConfidenceFloor: 0.6,
		MinPersonHeightFraction:  0.25,
		AlertThreshold:           10,
		CounterCap:               30,
		BreachIncrement:          3,
		EquipmentIncrement:       1,
		DecayDecrement:           1,
		Cooldowns: ChannelCooldowns{
			Vision: 10 * time.Second,
			Speech: 10 * time.Second,
			Push:   15 * time.Second,
		},
		LogFrameModulus:     60,
		RoutineScanInterval: 15 * time.Second,
		HeadBandFraction:    1.0 / 3.0,
		HeadTopTolerance:    60,
		LateralTolerance:    20,
		ProcessingFPS:       10,
		VisionMaxWidth:      640,
		ChannelTimeout:      30 * time.Second,
		DrainTimeout:        5 * time.Second,
	}
}

// Engine converts the session settings into decision engine parameters
func (s Session) Engine() safety.Config {
	return safety.Config{
		Normalize: safety.NormalizeParams{
			PersonConfidenceFloor:    s.PersonConfidenceFloor,
			EquipmentConfidenceFloor: s.EquipmentConfidenceFloor,
			MinPersonHeightFraction:  s.MinPersonHeightFraction,
		},
		Association: safety.AssociationParams{
			HeadBandFraction: s.HeadBandFraction,
			HeadTopTolerance: s.HeadTopTolerance,
			LateralTolerance: s.LateralTolerance,
		},
		Thresholds: safety.Thresholds{
			AlertThreshold:     s.AlertThreshold,
			CounterCap:         s.CounterCap,
			BreachIncrement:    s.BreachIncrement,
			EquipmentIncrement: s.EquipmentIncrement,
			DecayDecrement:     s.DecayDecrement,
			RoutineInterval:    s.RoutineScanInterval,
		},
		Zone: s.ZonePolygonFraction,
	}
}

// Gate returns the dispatch gate for a channel name
func (s Session) Gate(channel string) *alert.Gate {
	switch channel {
	case alert.ChannelVision:
		return alert.NewCooldownGate(s.Cooldowns.Vision)
	case alert.ChannelSpeech:
		return alert.NewCooldownGate(s.Cooldowns.Speech)
	case alert.ChannelPush:
		return alert.NewCooldownGate(s.Cooldowns.Push)
	case alert.ChannelLog:
		return alert.NewModulusGate(uint64(s.LogFrameModulus))
	default:
		return nil
	}
}

// FrameInterval is the processing tick period
func (s Session) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / s.ProcessingFPS)
}

// Validate reports every invalid setting at once
func (s Session) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(inUnit(s.PersonConfidenceFloor), "person_confidence_floor must be within [0,1], got %v", s.PersonConfidenceFloor)
	check(inUnit(s.EquipmentConfidenceFloor), "equipment_confidence_floor must be within [0,1], got %v", s.EquipmentConfidenceFloor)
	check(inUnit(s.MinPersonHeightFraction), "min_person_height_fraction must be within [0,1], got %v", s.MinPersonHeightFraction)
	check(s.CounterCap > 0, "counter_cap must be positive, got %d", s.CounterCap)
	check(s.AlertThreshold >= 0 && s.AlertThreshold < s.CounterCap,
		"alert_threshold must be within [0,counter_cap), got %d", s.AlertThreshold)
	check(s.BreachIncrement >= 0, "breach_increment must not be negative, got %d", s.BreachIncrement)
	check(s.EquipmentIncrement >= 0, "equipment_increment must not be negative, got %d", s.EquipmentIncrement)
	check(s.DecayDecrement >= 0, "decay_decrement must not be negative, got %d", s.DecayDecrement)
	check(s.Cooldowns.Vision >= 0 && s.Cooldowns.Speech >= 0 && s.Cooldowns.Push >= 0, "cooldowns must not be negative")
	check(s.LogFrameModulus >= 1, "log_frame_modulus must be at least 1, got %d", s.LogFrameModulus)
	check(s.RoutineScanInterval >= 0, "routine_scan_interval must not be negative, got %v", s.RoutineScanInterval)
	check(s.HeadBandFraction > 0 && s.HeadBandFraction <= 1, "head_band_fraction must be within (0,1], got %v", s.HeadBandFraction)
	check(s.HeadTopTolerance >= 0, "head_top_tolerance must not be negative, got %v", s.HeadTopTolerance)
	check(s.LateralTolerance >= 0, "lateral_tolerance must not be negative, got %v", s.LateralTolerance)
	check(s.ProcessingFPS > 0, "processing_fps must be positive, got %v", s.ProcessingFPS)
	check(s.VisionMaxWidth >= 0, "vision_max_width must not be negative, got %d", s.VisionMaxWidth)
	check(s.ChannelTimeout > 0, "channel_timeout must be positive, got %v", s.ChannelTimeout)

	if n := len(s.ZonePolygonFraction); n > 0 {
		check(n >= 3, "zone needs at least 3 vertices, got %d", n)
		for i, p := range s.ZonePolygonFraction {
			check(inUnit(p.X) && inUnit(p.Y), "zone vertex %d (%v,%v) must be a frame fraction", i, p.X, p.Y)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid session config: %w", errors.Join(errs...))
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
