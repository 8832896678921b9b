// Package vision implements the on-device photo-analysis pipeline: image
// decode, YOLO/CLIP preprocessing, face detection, face alignment, face
// and CLIP embedding, and thumbnail generation.
package vision

// Dimensions is a pixel width/height pair.
type Dimensions struct {
	Width  int
	Height int
}

// DecodedImage is a decoded, oriented image in tightly-packed RGB8.
type DecodedImage struct {
	Dimensions Dimensions
	RGB        []byte // width*height*3 bytes, row-major, no padding
}

// FaceBox is a face bounding box in image-normalized [0,1] coordinates.
type FaceBox struct {
	X, Y, Width, Height float32
}

// Detection is a single face detection: a box plus five facial landmarks
// (eyes, nose, mouth corners), both normalized to the original image's
// [0,1] coordinate space.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2, each in [0,1]
	Confidence float32
	Landmarks  [5][2]float32
}

// AlignmentResult is the similarity transform estimated from a detection's
// landmarks to the canonical face template.
type AlignmentResult struct {
	AffineMatrix [2][3]float32
	Center       [2]float32
	Size         float32
	Rotation     float32
}

// FaceDirection classifies head pose for direction-aware blur scoring.
type FaceDirection int

const (
	FaceStraight FaceDirection = iota
	FaceLeft
	FaceRight
)

// FaceResult bundles everything produced for one detected face.
type FaceResult struct {
	Detection Detection
	BlurValue float32
	Alignment AlignmentResult
	Embedding []float32
	FaceID    string
}

// ClipResult is a single L2-normalized CLIP image embedding.
type ClipResult struct {
	Embedding []float32
}

// AnalyzeImageRequest drives the C11 orchestrator.
type AnalyzeImageRequest struct {
	FileID    int64
	ImagePath string
	RunFaces  bool
	RunClip   bool
}

// AnalyzeImageResult is the orchestrator's output: Faces and Clip are nil
// when the corresponding request flag was false.
type AnalyzeImageResult struct {
	RequestID   string // random, not the deterministic face_id; for log correlation only
	FileID      int64
	DecodedSize Dimensions
	Faces       []FaceResult
	Clip        *ClipResult
}
