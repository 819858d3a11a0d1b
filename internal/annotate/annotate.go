package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"sitewatch/internal/geometry"
)

// Box colors
var (
	ColorSafe    = color.RGBA{0, 200, 0, 255}     // Green for equipped persons
	ColorUnsafe  = color.RGBA{230, 0, 0, 255}     // Red for missing equipment
	ColorZone    = color.RGBA{255, 140, 0, 255}   // Orange for persons inside the zone
	ColorNeutral = color.RGBA{255, 255, 255, 255} // White when equipment is not checked
)

// jpegQuality matches the stream encoder quality
const jpegQuality = 85

// Box is a labelled rectangle to draw
type Box struct {
	Rect  geometry.Rect
	Label string
	Color color.RGBA
}

// Scene describes the persons in a frame and how they were judged
type Scene struct {
	Persons          []geometry.Rect
	Equipped         []bool
	Offenders        []int
	EquipmentChecked bool
	Zone             geometry.Polygon // Pixel coordinates, may be nil
	Banner           string
}

// PersonBoxes turns a judged scene into drawable boxes.
// Zone offenders are orange, unequipped persons red, equipped persons green.
func PersonBoxes(s Scene) []Box {
	inZone := make(map[int]bool, len(s.Offenders))
	for _, i := range s.Offenders {
		inZone[i] = true
	}

	boxes := make([]Box, 0, len(s.Persons))
	for i, r := range s.Persons {
		equipped := i < len(s.Equipped) && s.Equipped[i]

		b := Box{Rect: r}
		switch {
		case inZone[i]:
			b.Label, b.Color = "IN ZONE", ColorZone
		case !s.EquipmentChecked:
			b.Label, b.Color = "PERSON", ColorNeutral
		case equipped:
			b.Label, b.Color = "SAFE", ColorSafe
		default:
			b.Label, b.Color = "NO HELMET", ColorUnsafe
		}
		boxes = append(boxes, b)
	}
	return boxes
}

// Annotate draws the scene onto a JPEG frame and returns a new JPEG
func Annotate(jpegData []byte, s Scene) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	// Convert to RGBA for drawing
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	if len(s.Zone) >= 3 {
		drawPolygon(rgba, s.Zone, ColorZone)
	}

	for _, b := range PersonBoxes(s) {
		thickness := 2
		if b.Color != ColorSafe {
			thickness = 3
		}
		drawBox(rgba, b.Rect, b.Color, thickness)
		drawLabel(rgba, int(b.Rect.X1), int(b.Rect.Y1)-15, b.Label, b.Color)
	}

	if s.Banner != "" {
		drawLabel(rgba, 20, 20, s.Banner, ColorUnsafe)
	}

	return encode(rgba)
}

// Downscale shrinks a JPEG so its width is at most maxWidth.
// Frames already small enough are returned unchanged.
func Downscale(jpegData []byte, maxWidth int) ([]byte, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	if maxWidth <= 0 || cfg.Width <= maxWidth {
		return jpegData, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	height := cfg.Height * maxWidth / cfg.Width
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	return encode(dst)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBox draws a rectangle outline, clipped to the image
func drawBox(img *image.RGBA, r geometry.Rect, c color.RGBA, thickness int) {
	x1, y1, x2, y2 := int(r.X1), int(r.Y1), int(r.X2), int(r.Y2)
	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			setClipped(img, x, y1+t, c)
			setClipped(img, x, y2-t, c)
		}
		for y := y1; y <= y2; y++ {
			setClipped(img, x1+t, y, c)
			setClipped(img, x2-t, y, c)
		}
	}
}

// drawPolygon draws the polygon outline with a simple DDA line
func drawPolygon(img *image.RGBA, poly geometry.Polygon, c color.RGBA) {
	for i := range poly {
		a, b := poly[i], poly[(i+1)%len(poly)]
		steps := int(max(abs(b.X-a.X), abs(b.Y-a.Y)))
		if steps == 0 {
			setClipped(img, int(a.X), int(a.Y), c)
			continue
		}
		for s := 0; s <= steps; s++ {
			f := float64(s) / float64(steps)
			setClipped(img, int(a.X+f*(b.X-a.X)), int(a.Y+f*(b.Y-a.Y)), c)
		}
	}
}

// drawLabel draws text on a dark background
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 14; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			setClipped(img, x+dx, y+dy, bgColor)
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
