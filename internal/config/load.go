package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sitewatch/internal/geometry"
)

// EnvPrefix is prepended to every session override variable
const EnvPrefix = "SITEWATCH_"

// Load builds the session settings: defaults, then the optional YAML file,
// then SITEWATCH_* environment overrides. The result is validated.
func Load(path string) (Session, error) {
	s := Default()

	if path != "" {
		if err := s.MergeFile(path); err != nil {
			return Session{}, err
		}
	}

	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return Session{}, err
	}

	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// MergeFile overlays the settings present in a YAML file.
// Keys missing from the file keep their current values.
func (s *Session) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays SITEWATCH_* variables found through lookup
func (s *Session) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	set := func(name string, parse func(string) error) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if err := parse(strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}

	set("PERSON_CONFIDENCE_FLOOR", floatVar(&s.PersonConfidenceFloor))
	set("EQUIPMENT_CONFIDENCE_FLOOR", floatVar(&s.EquipmentConfidenceFloor))
	set("MIN_PERSON_HEIGHT_FRACTION", floatVar(&s.MinPersonHeightFraction))
	set("ALERT_THRESHOLD", intVar(&s.AlertThreshold))
	set("COUNTER_CAP", intVar(&s.CounterCap))
	set("BREACH_INCREMENT", intVar(&s.BreachIncrement))
	set("EQUIPMENT_INCREMENT", intVar(&s.EquipmentIncrement))
	set("DECAY_DECREMENT", intVar(&s.DecayDecrement))
	set("VISION_COOLDOWN", durationVar(&s.Cooldowns.Vision))
	set("SPEECH_COOLDOWN", durationVar(&s.Cooldowns.Speech))
	set("PUSH_COOLDOWN", durationVar(&s.Cooldowns.Push))
	set("LOG_FRAME_MODULUS", intVar(&s.LogFrameModulus))
	set("ROUTINE_SCAN_INTERVAL", durationVar(&s.RoutineScanInterval))
	set("ZONE", func(v string) error {
		poly, err := ParsePolygon(v)
		if err != nil {
			return err
		}
		s.ZonePolygonFraction = poly
		return nil
	})
	set("HEAD_BAND_FRACTION", floatVar(&s.HeadBandFraction))
	set("HEAD_TOP_TOLERANCE", floatVar(&s.HeadTopTolerance))
	set("LATERAL_TOLERANCE", floatVar(&s.LateralTolerance))
	set("PROCESSING_FPS", floatVar(&s.ProcessingFPS))
	set("VISION_MAX_WIDTH", intVar(&s.VisionMaxWidth))
	set("CHANNEL_TIMEOUT", durationVar(&s.ChannelTimeout))
	set("DRAIN_TIMEOUT", durationVar(&s.DrainTimeout))

	return errors.Join(errs...)
}

// ParsePolygon reads "x,y;x,y;x,y" into a polygon
func ParsePolygon(v string) (geometry.Polygon, error) {
	var poly geometry.Polygon
	for _, pair := range splitTrim(v, ";") {
		xy := splitTrim(pair, ",")
		if len(xy) != 2 {
			return nil, fmt.Errorf("vertex %q is not x,y", pair)
		}
		x, err := strconv.ParseFloat(xy[0], 64)
		if err != nil {
			return nil, fmt.Errorf("vertex %q: %w", pair, err)
		}
		y, err := strconv.ParseFloat(xy[1], 64)
		if err != nil {
			return nil, fmt.Errorf("vertex %q: %w", pair, err)
		}
		poly = append(poly, geometry.Point{X: x, Y: y})
	}
	return poly, nil
}

func floatVar(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func intVar(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func durationVar(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// splitTrim splits a string by separator and drops empty, trimmed elements
func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
