package vision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateSimilarityTransformIdentityOnIdealLandmarks(t *testing.T) {
	transform, err := estimateSimilarityTransform(idealFiveLandmarks)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, transform.Size, 1e-3)
	assert.InDelta(t, 0.0, transform.Rotation, 1e-3)

	// Mapping the template through its own fitted transform should land
	// each point back on itself.
	m := transform.AffineMatrix
	for _, p := range idealFiveLandmarks {
		x := m[0][0]*float32(p[0]) + m[0][1]*float32(p[1]) + m[0][2]
		y := m[1][0]*float32(p[0]) + m[1][1]*float32(p[1]) + m[1][2]
		assert.InDelta(t, float64(p[0]), float64(x), 1e-2)
		assert.InDelta(t, float64(p[1]), float64(y), 1e-2)
	}
}

func TestEstimateSimilarityTransformDegenerateLandmarks(t *testing.T) {
	var same [5][2]float32
	for i := range same {
		same[i] = [2]float32{10, 10}
	}

	_, err := estimateSimilarityTransform(same)
	assert.Error(t, err)
}

func TestEstimateSimilarityTransformScaleAndTranslation(t *testing.T) {
	var scaled [5][2]float32
	const factor = 2.0
	const offsetX, offsetY = 100.0, 50.0
	for i, p := range idealFiveLandmarks {
		scaled[i] = [2]float32{p[0]*factor + offsetX, p[1]*factor + offsetY}
	}

	transform, err := estimateSimilarityTransform(scaled)
	require.NoError(t, err)

	// Going from the doubled+shifted landmarks back to the template implies
	// a fitted scale of 1/factor, so Size (= 1/scale) recovers factor.
	assert.InDelta(t, factor, float64(transform.Size), 1e-2)
}

func TestFaceDirection(t *testing.T) {
	leftEye := [2]float32{30, 50}
	rightEye := [2]float32{70, 50}

	straight := [5][2]float32{leftEye, rightEye, {50, 70}, {40, 90}, {60, 90}}
	assert.Equal(t, FaceStraight, faceDirection(straight))

	left := [5][2]float32{leftEye, rightEye, {20, 70}, {40, 90}, {60, 90}}
	assert.Equal(t, FaceLeft, faceDirection(left))

	right := [5][2]float32{leftEye, rightEye, {80, 70}, {40, 90}, {60, 90}}
	assert.Equal(t, FaceRight, faceDirection(right))

	// Zero eye span can't be classified; must not divide by zero.
	degenerate := [5][2]float32{{50, 50}, {50, 50}, {50, 70}, {40, 90}, {60, 90}}
	assert.Equal(t, FaceStraight, faceDirection(degenerate))
}

func TestComputeBlurValueSharpVsFlat(t *testing.T) {
	flat := make([]byte, alignedFaceSize*alignedFaceSize*3)
	for i := range flat {
		flat[i] = 128
	}
	flatScore := computeBlurValue(flat, FaceStraight)
	assert.Equal(t, float32(0), flatScore)

	checkerboard := make([]byte, alignedFaceSize*alignedFaceSize*3)
	for y := 0; y < alignedFaceSize; y++ {
		for x := 0; x < alignedFaceSize; x++ {
			v := byte(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			off := (y*alignedFaceSize + x) * 3
			checkerboard[off], checkerboard[off+1], checkerboard[off+2] = v, v, v
		}
	}
	sharpScore := computeBlurValue(checkerboard, FaceStraight)
	assert.Greater(t, sharpScore, flatScore)
}

func TestToFaceIDDeterministicAndClamped(t *testing.T) {
	box := [4]float32{0.1, 0.2, 0.9, 0.95}

	id1 := toFaceID(42, box)
	id2 := toFaceID(42, box)
	assert.Equal(t, id1, id2)
	assert.Equal(t, "42_10000_20000_90000_95000", id1)

	// Coordinates outside [0,1] clamp into [0, 0.999999] rather than
	// producing negative or >=1 fractions. 0.999999 itself rounds to
	// "1.00000" at 5 decimal digits, so the leading-zero strip doesn't
	// apply to the clamped-high components.
	outOfBounds := [4]float32{-0.05, -0.05, 2.0, 2.0}
	idClamped := toFaceID(7, outOfBounds)
	assert.Equal(t, "7_00000_00000_1.00000_1.00000", idClamped)
}

func TestFormatFractionStripsLeadingZero(t *testing.T) {
	assert.Equal(t, "50000", formatFraction(0.5))
	assert.Equal(t, "99999", formatFraction(0.99999))
}

func TestSvd2x2RecoversOrthogonalMatrix(t *testing.T) {
	theta := math.Pi / 6
	rot := [2][2]float64{
		{math.Cos(theta), -math.Sin(theta)},
		{math.Sin(theta), math.Cos(theta)},
	}

	u, d, vt, err := svd2x2(rot)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, d[0], 1e-9)
	assert.InDelta(t, 1.0, d[1], 1e-9)

	// Reconstruct m = u * diag(d) * vt and compare to the original.
	var recon [2][2]float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			recon[i][j] = u[i][0]*d[0]*vt[0][j] + u[i][1]*d[1]*vt[1][j]
		}
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, rot[i][j], recon[i][j], 1e-9)
		}
	}
}
