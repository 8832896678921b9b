package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIouIdenticalBoxes(t *testing.T) {
	box := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, float64(iou(box, box)), 1e-6)
}

func TestIouDisjointBoxes(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	b := [4]float32{20, 20, 30, 30}
	assert.Equal(t, float32(0), iou(a, b))
}

func TestIouPartialOverlap(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	b := [4]float32{5, 5, 15, 15}
	// intersection = 5x5=25, union = 100+100-25=175
	assert.InDelta(t, 25.0/175.0, float64(iou(a, b)), 1e-6)
}

func TestNmsSuppressesOverlappingLowerConfidence(t *testing.T) {
	detections := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.9},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.8}, // heavy overlap, lower conf
		{BBox: [4]float32{100, 100, 110, 110}, Confidence: 0.7}, // disjoint, kept
	}

	kept := nms(detections, 0.5)
	assert.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.7), kept[1].Confidence)
}

func TestNmsEmptyInput(t *testing.T) {
	assert.Empty(t, nms(nil, 0.5))
}

func TestClampF(t *testing.T) {
	assert.Equal(t, float32(0), clampF(-5, 0, 10))
	assert.Equal(t, float32(10), clampF(15, 0, 10))
	assert.Equal(t, float32(5), clampF(5, 0, 10))
}
