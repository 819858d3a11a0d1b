package safety

import (
	"sitewatch/internal/geometry"
)

// ZoneResult is the per-frame zone outcome
type ZoneResult struct {
	Breach    bool
	Offenders []int // Person indices whose foot point is inside the zone
}

// ZoneMonitor tests person foot points against a restricted polygon.
// The polygon is configured in frame fractions and scaled to pixels once per
// frame size. A ZoneMonitor belongs to a single processing loop.
type ZoneMonitor struct {
	fraction geometry.Polygon
	scaled   geometry.Polygon
	width    int
	height   int
}

// NewZoneMonitor creates a monitor for a fractional polygon.
// A nil or degenerate polygon disables breach detection.
func NewZoneMonitor(fraction geometry.Polygon) *ZoneMonitor {
	if len(fraction) < 3 {
		fraction = nil
	}
	return &ZoneMonitor{fraction: fraction}
}

// Enabled reports whether a zone is configured
func (z *ZoneMonitor) Enabled() bool {
	return len(z.fraction) >= 3
}

// Polygon returns the zone in pixel coordinates for the given frame size
func (z *ZoneMonitor) Polygon(width, height int) geometry.Polygon {
	if !z.Enabled() {
		return nil
	}
	if z.scaled == nil || width != z.width || height != z.height {
		z.scaled = z.fraction.Scale(float64(width), float64(height))
		z.width = width
		z.height = height
	}
	return z.scaled
}

// Check reports which persons stand inside the zone
func (z *ZoneMonitor) Check(persons []Detection, width, height int) ZoneResult {
	var res ZoneResult
	if !z.Enabled() || width <= 0 || height <= 0 {
		return res
	}

	poly := z.Polygon(width, height)
	for i, p := range persons {
		if poly.Contains(p.Box.FootPoint()) {
			res.Offenders = append(res.Offenders, i)
		}
	}
	res.Breach = len(res.Offenders) > 0
	return res
}
