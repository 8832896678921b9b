package vision

import (
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ente-io/ml-core/internal/mlerr"
)

// Fixed detection thresholds matching the reference face detector exactly.
// Unlike the execution provider policy or model paths, these are not
// configurable: the reference implementation hardcodes them as constants,
// and so do we.
const (
	minScoreThreshold = 0.5
	iouThreshold      = 0.4
)

// detectionRowLen is the width of one decoded output row: center x/y,
// width/height, a score, and five (x,y) landmark pairs, padded to 16.
const detectionRowLen = 16

// Detector runs single-stage face detection using ONNX Runtime. The model
// emits one flat tensor of detectionRowLen-wide rows — not a multi-stride
// anchor grid — so its row count depends on the input and is only known
// once the session has run.
type Detector struct {
	session     *ort.DynamicAdvancedSession
	inputTensor *ort.Tensor[float32]
	inputW      int
	inputH      int
}

// NewDetector loads the face detection ONNX model.
func NewDetector(modelPath string, policy ExecutionProviderPolicy) (*Detector, error) {
	inputW, inputH := yoloInputSize, yoloInputSize

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, mlerr.WrapOrt(err, "create detector input tensor")
	}

	session, err := BuildDynamicSession(modelPath, policy, []string{"input"}, []string{"output"})
	if err != nil {
		inputTensor.Destroy()
		return nil, err
	}

	return &Detector{
		session:     session,
		inputTensor: inputTensor,
		inputW:      inputW,
		inputH:      inputH,
	}, nil
}

// Detect runs face detection on a letterboxed CHW image (see
// PreprocessYOLO). scaledW/scaledH are the pre-pad scaled dimensions
// PreprocessYOLO reported, needed to undo its scale factor.
//
// Detections are decoded, un-letterboxed, and suppressed entirely within
// the model's normalized [0,1] output space: they are never converted to
// pixel coordinates. Un-letterboxing here only corrects for the scale
// factor PreprocessYOLO applied, not its pad offset — a discrepancy
// inherited from the reference implementation this detector was built
// from (PreprocessYOLO centers its padding; this step does not subtract
// it back out). It is preserved deliberately rather than fixed.
func (d *Detector) Detect(chwData []float32, scaledW, scaledH int) ([]Detection, error) {
	inputSlice := d.inputTensor.GetData()
	copy(inputSlice, chwData)

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{d.inputTensor}, outputs); err != nil {
		return nil, mlerr.WrapOrt(err, "run detection")
	}
	output, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, mlerr.Ort("face detector produced an unexpected output tensor type")
	}
	defer output.Destroy()

	detections := parseDetections(output.GetData(), scaledW, scaledH)
	detections = nms(detections, iouThreshold)

	return detections, nil
}

// parseDetections decodes the flat [cx, cy, w, h, score, 5x(x,y)] rows the
// model emits, filters on minScoreThreshold, and un-letterboxes each
// surviving box and landmark set back into normalized [0,1] coordinates.
func parseDetections(data []float32, scaledW, scaledH int) []Detection {
	if len(data) < detectionRowLen {
		return nil
	}

	rows := len(data) / detectionRowLen
	detections := make([]Detection, 0, rows)

	for i := 0; i < rows; i++ {
		row := data[i*detectionRowLen : i*detectionRowLen+detectionRowLen]
		score := row[4]
		if score < minScoreThreshold {
			continue
		}

		cx, cy, w, h := row[0], row[1], row[2], row[3]
		box := [4]float32{
			(cx - w/2) / yoloInputSize,
			(cy - h/2) / yoloInputSize,
			(cx + w/2) / yoloInputSize,
			(cy + h/2) / yoloInputSize,
		}

		var lm [5][2]float32
		for li := 0; li < 5; li++ {
			lm[li][0] = row[5+li*2] / yoloInputSize
			lm[li][1] = row[5+li*2+1] / yoloInputSize
		}

		correctForMaintainedAspectRatio(&box, &lm, scaledW, scaledH)

		detections = append(detections, Detection{BBox: box, Confidence: score, Landmarks: lm})
	}

	return detections
}

// correctForMaintainedAspectRatio undoes the scale factor PreprocessYOLO
// applied when it fit the source image inside the square model canvas
// (but not the pad offset — see Detect's doc comment), then clamps into
// [0,1]. A no-op when the scaled image already filled the canvas exactly.
func correctForMaintainedAspectRatio(box *[4]float32, keypoints *[5][2]float32, scaledW, scaledH int) {
	if scaledW == yoloInputSize && scaledH == yoloInputSize {
		return
	}

	scaleX := float32(yoloInputSize) / float32(scaledW)
	scaleY := float32(yoloInputSize) / float32(scaledH)

	box[0] = clampF(box[0]*scaleX, 0, 1)
	box[1] = clampF(box[1]*scaleY, 0, 1)
	box[2] = clampF(box[2]*scaleX, 0, 1)
	box[3] = clampF(box[3]*scaleY, 0, 1)

	for i := range keypoints {
		keypoints[i][0] = clampF(keypoints[i][0]*scaleX, 0, 1)
		keypoints[i][1] = clampF(keypoints[i][1]*scaleY, 0, 1)
	}
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
}

// nms performs greedy Non-Maximum Suppression on detections, sorted by
// descending confidence: a box is dropped once its IoU against any
// higher-confidence survivor is at least iouThreshold.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if iou(detections[i].BBox, detections[j].BBox) >= iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, det := range detections {
		if keep[i] {
			result = append(result, det)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := maxF32(a[0], b[0])
	y1 := maxF32(a[1], b[1])
	x2 := minF32(a[2], b[2])
	y2 := minF32(a[3], b[3])

	intersection := maxF32(0, x2-x1) * maxF32(0, y2-y1)

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func maxF32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
