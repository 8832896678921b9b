package vision

import (
	"math"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ente-io/ml-core/internal/mlerr"
)

const (
	faceInputW        = 112
	faceInputH        = 112
	faceInputChannels = 3
	faceEmbeddingDim  = 512
)

// Embedder extracts face embeddings, batched, from aligned 112x112 crops.
// Input tensors are NHWC — distinct from the detector's NCHW input —
// matching the embedding model's expected flat-buffer layout.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	maxBatch     int
	embDim       int
}

// NewEmbedder loads the face embedding ONNX model, sized for up to
// maxBatch faces per Extract call.
func NewEmbedder(modelPath string, maxBatch int, policy ExecutionProviderPolicy) (*Embedder, error) {
	embDim := faceEmbeddingDim

	inputShape := ort.NewShape(int64(maxBatch), int64(faceInputH), int64(faceInputW), int64(faceInputChannels))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, mlerr.WrapOrt(err, "create embedder input tensor")
	}

	outputShape := ort.NewShape(int64(maxBatch), int64(embDim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, mlerr.WrapOrt(err, "create embedder output tensor")
	}

	session, err := BuildSession(modelPath, policy,
		[]string{"input"}, []string{"embedding"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor})
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		maxBatch:     maxBatch,
		embDim:       embDim,
	}, nil
}

// Extract runs batched embedding extraction over alignedFaces, filling in
// faceResults[i].Embedding in place. len(alignedFaces) must equal
// len(faceResults) and must not exceed the embedder's max batch size.
func (e *Embedder) Extract(alignedFaces []AlignedFace, faceResults []FaceResult) error {
	if len(alignedFaces) != len(faceResults) {
		return mlerr.Postprocess("aligned face count %d does not match face result count %d", len(alignedFaces), len(faceResults))
	}
	if len(alignedFaces) == 0 {
		return nil
	}
	if len(alignedFaces) > e.maxBatch {
		return mlerr.InvalidRequest("batch of %d faces exceeds embedder max batch %d", len(alignedFaces), e.maxBatch)
	}

	inputSlice := e.inputTensor.GetData()
	frameSize := faceInputH * faceInputW * faceInputChannels
	for i, face := range alignedFaces {
		dst := inputSlice[i*frameSize : (i+1)*frameSize]
		for j, b := range face.RGB {
			dst[j] = float32(b)/127.5 - 1.0
		}
	}

	if err := e.session.Run(); err != nil {
		return mlerr.WrapOrt(err, "run face embedding")
	}

	outputData := e.outputTensor.GetData()
	batchDim := len(outputData) / e.embDim
	if batchDim < len(alignedFaces) {
		return mlerr.Postprocess("embedding output batch size %d is smaller than input batch size %d", batchDim, len(alignedFaces))
	}

	for i := range alignedFaces {
		emb := make([]float32, e.embDim)
		copy(emb, outputData[i*e.embDim:(i+1)*e.embDim])
		normalizeEmbedding(emb)
		faceResults[i].Embedding = emb
	}
	return nil
}

// InputSize returns the expected face crop dimensions.
func (e *Embedder) InputSize() (int, int) {
	return faceInputW, faceInputH
}

// EmbeddingDim returns the embedding vector dimension.
func (e *Embedder) EmbeddingDim() int {
	return e.embDim
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// normalizeEmbedding L2-normalizes v in place, guarded against near-zero
// norms so a degenerate embedding isn't divided by ~0.
func normalizeEmbedding(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm <= 1e-12 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}
