package geometry

import "math"

// Point is a position in frame pixel coordinates
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Rect is an axis-aligned bounding box (X1,Y1 top-left, X2,Y2 bottom-right)
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box
func (r Rect) Width() float64 {
	return r.X2 - r.X1
}

// Height returns the vertical extent of the box
func (r Rect) Height() float64 {
	return r.Y2 - r.Y1
}

// Center returns the box midpoint
func (r Rect) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// FootPoint returns the bottom-center point, where a standing person touches the floor
func (r Rect) FootPoint() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: r.Y2}
}

// Valid reports whether the box has finite coordinates and a positive area
func (r Rect) Valid() bool {
	for _, v := range [...]float64{r.X1, r.Y1, r.X2, r.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.X2 > r.X1 && r.Y2 > r.Y1
}

// Overlaps reports whether two boxes share a region of positive area
func (r Rect) Overlaps(o Rect) bool {
	return r.X1 < o.X2 && o.X1 < r.X2 && r.Y1 < o.Y2 && o.Y1 < r.Y2
}

// Polygon is an ordered, implicitly closed list of vertices
type Polygon []Point

// onSegmentEpsilon absorbs float rounding when testing collinearity
const onSegmentEpsilon = 1e-9

// Contains reports whether pt lies inside the polygon or on its boundary.
// Polygons with fewer than three vertices contain nothing.
func (p Polygon) Contains(pt Point) bool {
	n := len(p)
	if n < 3 {
		return false
	}

	for i := 0; i < n; i++ {
		if onSegment(p[i], p[(i+1)%n], pt) {
			return true
		}
	}

	// Ray casting towards +X
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p[i], p[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			xCross := (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y) + a.X
			if pt.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// Scale maps a polygon expressed in [0,1] frame fractions to pixel coordinates
func (p Polygon) Scale(width, height float64) Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[i] = Point{X: v.X * width, Y: v.Y * height}
	}
	return out
}

func onSegment(a, b, pt Point) bool {
	cross := (b.X-a.X)*(pt.Y-a.Y) - (b.Y-a.Y)*(pt.X-a.X)
	scale := math.Max(1, math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y)))
	if math.Abs(cross) > onSegmentEpsilon*scale*scale {
		return false
	}
	return pt.X >= math.Min(a.X, b.X)-onSegmentEpsilon && pt.X <= math.Max(a.X, b.X)+onSegmentEpsilon &&
		pt.Y >= math.Min(a.Y, b.Y)-onSegmentEpsilon && pt.Y <= math.Max(a.Y, b.Y)+onSegmentEpsilon
}

// ManhattanDistance returns |a.X-b.X| + |a.Y-b.Y|
func ManhattanDistance(a, b Point) float64 {
	return math.Abs(a.X-b.X) + math.Abs(a.Y-b.Y)
}
