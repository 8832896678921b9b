package vision

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCropRectRegularPadding(t *testing.T) {
	box := FaceBox{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5}
	x, y, w, h, err := computeCropRect(100, 80, box)
	require.NoError(t, err)
	assert.Equal(t, 5, x)
	assert.Equal(t, 4, y)
	assert.Equal(t, 90, w)
	assert.Equal(t, 72, h)
}

func TestComputeCropRectFallsBackToMinimumPadding(t *testing.T) {
	// A box hugging the left edge can't afford regular padding on the X
	// axis but can afford minimum padding.
	box := FaceBox{X: 0.01, Y: 0.25, Width: 0.3, Height: 0.5}
	x, y, w, h, err := computeCropRect(100, 80, box)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, x, 0)
	assert.GreaterOrEqual(t, y, 0)
	assert.LessOrEqual(t, x+w, 100)
	assert.LessOrEqual(t, y+h, 80)
}

func TestComputeCropRectClampsToImageBounds(t *testing.T) {
	// A box that fills almost the entire image can't be padded at all;
	// the crop must clamp to the image bounds rather than overflow.
	box := FaceBox{X: 0, Y: 0, Width: 1, Height: 1}
	x, y, w, h, err := computeCropRect(100, 80, box)
	require.NoError(t, err)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
	assert.LessOrEqual(t, x+w, 100)
	assert.LessOrEqual(t, y+h, 80)
}

func TestValidateFaceBoxRejectsNonPositiveOrNonFinite(t *testing.T) {
	assert.Error(t, validateFaceBox(FaceBox{Width: 0, Height: 0.5}))
	assert.Error(t, validateFaceBox(FaceBox{Width: 0.5, Height: -1}))

	nan := float32(0)
	nan = nan / nan
	assert.Error(t, validateFaceBox(FaceBox{Width: nan, Height: 0.5}))
}

func TestGenerateFaceThumbnailProducesDecodableJPEG(t *testing.T) {
	img := makeSolidImage(400, 300, 50, 100, 150)
	box := FaceBox{X: 0.25, Y: 0.25, Width: 0.4, Height: 0.4}

	data, err := GenerateFaceThumbnail(img, box)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	bounds := decoded.Bounds()
	assert.Equal(t, faceThumbnailMinDimension, minInt(bounds.Dx(), bounds.Dy()))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestChooseResizeFilterByRatio(t *testing.T) {
	// Each bucket must resolve to a usable filter (positive kernel
	// support); the exact filter choice is an implementation detail.
	for _, ratio := range []float64{0.5, 1.0, 1.5, 3.0} {
		filter := chooseResizeFilter(ratio)
		assert.Greater(t, filter.Support, 0.0)
	}
}
