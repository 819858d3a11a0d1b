package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRect_CenterAndFootPoint(t *testing.T) {
	r := Rect{X1: 100, Y1: 100, X2: 300, Y2: 500}

	assert.Equal(t, Point{X: 200, Y: 300}, r.Center())
	assert.Equal(t, Point{X: 200, Y: 500}, r.FootPoint())
	assert.Equal(t, 200.0, r.Width())
	assert.Equal(t, 400.0, r.Height())
}

func TestRect_Valid(t *testing.T) {
	tests := []struct {
		name string
		rect Rect
		want bool
	}{
		{"normal", Rect{0, 0, 10, 10}, true},
		{"zero width", Rect{5, 0, 5, 10}, false},
		{"inverted", Rect{10, 10, 0, 0}, false},
		{"nan", Rect{math.NaN(), 0, 10, 10}, false},
		{"inf", Rect{0, 0, math.Inf(1), 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rect.Valid())
		})
	}
}

func TestRect_Overlaps(t *testing.T) {
	a := Rect{0, 0, 10, 10}

	assert.True(t, a.Overlaps(Rect{5, 5, 15, 15}))
	assert.False(t, a.Overlaps(Rect{10, 0, 20, 10}), "touching edges share no area")
	assert.False(t, a.Overlaps(Rect{20, 20, 30, 30}))
}

func TestPolygon_Contains(t *testing.T) {
	square := Polygon{{0, 0}, {100, 0}, {100, 100}, {0, 100}}

	tests := []struct {
		name string
		pt   Point
		want bool
	}{
		{"inside", Point{50, 50}, true},
		{"outside", Point{150, 50}, false},
		{"on edge", Point{100, 40}, true},
		{"on bottom edge", Point{30, 100}, true},
		{"on vertex", Point{0, 0}, true},
		{"just outside", Point{100.5, 40}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, square.Contains(tt.pt))
		})
	}
}

func TestPolygon_ContainsConcave(t *testing.T) {
	// L-shaped region, notch at the top right
	l := Polygon{{0, 0}, {50, 0}, {50, 50}, {100, 50}, {100, 100}, {0, 100}}

	assert.True(t, l.Contains(Point{25, 25}))
	assert.False(t, l.Contains(Point{75, 25}))
	assert.True(t, l.Contains(Point{75, 75}))
	assert.True(t, l.Contains(Point{75, 50}), "point on the inner edge")
}

func TestPolygon_Degenerate(t *testing.T) {
	assert.False(t, Polygon{}.Contains(Point{0, 0}))
	assert.False(t, Polygon{{0, 0}, {10, 10}}.Contains(Point{5, 5}))
}

func TestPolygon_Scale(t *testing.T) {
	p := Polygon{{0.5, 0}, {1, 0}, {1, 1}, {0.5, 1}}

	got := p.Scale(1280, 720)

	assert.Equal(t, Polygon{{640, 0}, {1280, 0}, {1280, 720}, {640, 720}}, got)
	assert.Equal(t, 0.5, p[0].X, "scale must not mutate the source polygon")
}

func TestManhattanDistance(t *testing.T) {
	assert.Equal(t, 7.0, ManhattanDistance(Point{1, 1}, Point{4, 5}))
}
