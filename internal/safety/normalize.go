package safety

import (
	"strings"

	"sitewatch/internal/geometry"
	"sitewatch/internal/pipeline"
)

// Label is the closed set of classes the engine reasons about
type Label int

const (
	// LabelOther - any recognised detection the engine does not use
	LabelOther Label = iota
	// LabelPerson - a human body
	LabelPerson
	// LabelHelmet - protective head gear (hard hat, helmet)
	LabelHelmet
)

func (l Label) String() string {
	switch l {
	case LabelPerson:
		return "person"
	case LabelHelmet:
		return "helmet"
	default:
		return "other"
	}
}

// negatedGear marks "missing equipment" classes such as no-hardhat
var negatedGear = []string{"no-", "no_", "no "}

// ParseLabel maps a model class name onto a Label.
// It returns false for an empty class name, which is rejected outright.
func ParseLabel(class string) (Label, bool) {
	name := strings.ToLower(strings.TrimSpace(class))
	if name == "" {
		return LabelOther, false
	}

	if name == "person" {
		return LabelPerson, true
	}

	if strings.Contains(name, "hat") || strings.Contains(name, "helmet") {
		if isNegated(name) {
			return LabelOther, true
		}
		return LabelHelmet, true
	}

	return LabelOther, true
}

func isNegated(name string) bool {
	for _, neg := range negatedGear {
		if strings.HasPrefix(name, neg) {
			return true
		}
	}
	return strings.Contains(name, "without")
}

// Detection is a single normalized model output
type Detection struct {
	Box        geometry.Rect `json:"box"`
	Label      Label         `json:"label"`
	Confidence float64       `json:"confidence"`
}

// NormalizeParams controls the per-frame filters
type NormalizeParams struct {
	PersonConfidenceFloor    float64 // Minimum person confidence
	EquipmentConfidenceFloor float64 // Minimum equipment confidence, normally above the person floor
	MinPersonHeightFraction  float64 // Person box height as a fraction of frame height
}

// DefaultNormalizeParams returns the production filter settings
func DefaultNormalizeParams() NormalizeParams {
	return NormalizeParams{
		PersonConfidenceFloor:    0.5,
		EquipmentConfidenceFloor: 0.6,
		MinPersonHeightFraction:  0.25,
	}
}

// NormalizeInput carries one frame's raw model outputs
type NormalizeInput struct {
	Persons           []pipeline.Detection // Person model output
	Equipment         []pipeline.Detection // Equipment model output, nil when degraded
	FrameHeight       int
	EquipmentDegraded bool
}

// Normalized holds the filtered candidates for one frame.
// Indices are stable for the rest of the frame's processing.
type Normalized struct {
	Persons   []Detection
	Equipment []Detection
	Rejected  int // Malformed detections dropped at the boundary
}

// Normalize converts raw detections into person and equipment candidates.
// Empty input yields empty output; nothing here fails.
func Normalize(in NormalizeInput, p NormalizeParams) Normalized {
	var out Normalized

	minHeight := p.MinPersonHeightFraction * float64(in.FrameHeight)

	for _, raw := range in.Persons {
		d, ok := toDetection(raw)
		if !ok {
			out.Rejected++
			continue
		}
		if d.Label != LabelPerson || d.Confidence < p.PersonConfidenceFloor {
			continue
		}
		// Partial bodies (arms, hands) are not full persons
		if in.FrameHeight > 0 && d.Box.Height() < minHeight {
			continue
		}
		out.Persons = append(out.Persons, d)
	}

	if in.EquipmentDegraded {
		return out
	}

	for _, raw := range in.Equipment {
		d, ok := toDetection(raw)
		if !ok {
			out.Rejected++
			continue
		}
		if d.Label != LabelHelmet || d.Confidence < p.EquipmentConfidenceFloor {
			continue
		}
		out.Equipment = append(out.Equipment, d)
	}

	return out
}

func toDetection(raw pipeline.Detection) (Detection, bool) {
	label, ok := ParseLabel(raw.Class)
	if !ok {
		return Detection{}, false
	}

	box := raw.BBox.Rect()
	if !box.Valid() {
		return Detection{}, false
	}

	return Detection{
		Box:        box,
		Label:      label,
		Confidence: float64(raw.Confidence),
	}, true
}
