package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/geometry"
)

func grayJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestPersonBoxes(t *testing.T) {
	persons := []geometry.Rect{{X1: 0, Y1: 0, X2: 10, Y2: 10}, {X1: 20, Y1: 0, X2: 30, Y2: 10}, {X1: 40, Y1: 0, X2: 50, Y2: 10}}

	boxes := PersonBoxes(Scene{
		Persons:          persons,
		Equipped:         []bool{true, false, true},
		Offenders:        []int{2},
		EquipmentChecked: true,
	})

	require.Len(t, boxes, 3)
	assert.Equal(t, "SAFE", boxes[0].Label)
	assert.Equal(t, ColorSafe, boxes[0].Color)
	assert.Equal(t, "NO HELMET", boxes[1].Label)
	assert.Equal(t, "IN ZONE", boxes[2].Label, "zone outranks equipment")

	unchecked := PersonBoxes(Scene{Persons: persons[:1]})
	assert.Equal(t, "PERSON", unchecked[0].Label)
}

func TestAnnotate_DrawsBoxes(t *testing.T) {
	src := grayJPEG(t, 200, 200)

	out, err := Annotate(src, Scene{
		Persons:          []geometry.Rect{{X1: 50, Y1: 50, X2: 150, Y2: 190}},
		Equipped:         []bool{false},
		EquipmentChecked: true,
		Banner:           "ALERT",
	})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 200), img.Bounds())

	// The left edge of the box is red-dominant after drawing
	r, g, b, _ := img.At(51, 120).RGBA()
	assert.Greater(t, r, g)
	assert.Greater(t, r, b)

	// The interior is untouched gray
	c := color.GrayModel.Convert(img.At(100, 120)).(color.Gray)
	assert.InDelta(t, 128, int(c.Y), 12)
}

func TestAnnotate_InvalidJPEG(t *testing.T) {
	_, err := Annotate([]byte("not a jpeg"), Scene{})
	assert.Error(t, err)
}

func TestDownscale(t *testing.T) {
	src := grayJPEG(t, 1280, 720)

	out, err := Downscale(src, 640)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 360, cfg.Height)

	same, err := Downscale(src, 2000)
	require.NoError(t, err)
	assert.Equal(t, src, same, "small frames pass through")
}
