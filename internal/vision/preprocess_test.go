package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSolidImage(w, h int, r, g, b byte) DecodedImage {
	rgb := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		rgb[i*3], rgb[i*3+1], rgb[i*3+2] = r, g, b
	}
	return DecodedImage{Dimensions: Dimensions{Width: w, Height: h}, RGB: rgb}
}

func TestPreprocessYOLOLetterboxesWideImage(t *testing.T) {
	img := makeSolidImage(1280, 640, 200, 100, 50)

	data, scaledW, scaledH, padLeft, padTop, err := PreprocessYOLO(img)
	require.NoError(t, err)

	assert.Equal(t, yoloInputSize, scaledW)
	assert.Equal(t, yoloInputSize/2, scaledH)
	assert.Equal(t, 0, padLeft)
	assert.Equal(t, (yoloInputSize-scaledH)/2, padTop)
	assert.Len(t, data, 3*yoloInputSize*yoloInputSize)

	// A pixel in the padded border should be filled with mid-gray.
	borderOff := 0*yoloInputSize*yoloInputSize + 0*yoloInputSize + 0
	assert.InDelta(t, float64(letterboxFill)/255.0, float64(data[borderOff]), 1e-6)

	// A pixel inside the scaled content should carry the source color.
	contentY := yoloInputSize / 2
	contentX := yoloInputSize / 2
	rOff := 0*yoloInputSize*yoloInputSize + contentY*yoloInputSize + contentX
	assert.InDelta(t, 200.0/255.0, float64(data[rOff]), 1e-2)
}

func TestPreprocessYOLORejectsZeroDimensions(t *testing.T) {
	_, _, _, _, _, err := PreprocessYOLO(DecodedImage{Dimensions: Dimensions{Width: 0, Height: 10}})
	assert.Error(t, err)
}

func TestPreprocessCLIPCropsToSquare(t *testing.T) {
	img := makeSolidImage(512, 256, 10, 20, 30)

	data, err := PreprocessCLIP(img)
	require.NoError(t, err)
	assert.Len(t, data, 3*clipInputSize*clipInputSize)

	// Solid color in, so every pixel after normalization to [0,1] should be
	// identical to the source channel value.
	assert.InDelta(t, 10.0/255.0, float64(data[0]), 1e-4)
}

func TestPreprocessCLIPRejectsZeroDimensions(t *testing.T) {
	_, err := PreprocessCLIP(DecodedImage{Dimensions: Dimensions{Width: 10, Height: 0}})
	assert.Error(t, err)
}
