package vision

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/ente-io/ml-core/internal/mlerr"
)

// ClipEmbedder runs single-image CLIP image-tower inference.
type ClipEmbedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	embDim       int
}

// NewClipEmbedder loads the CLIP image ONNX model. embDim is the model's
// known output dimensionality (e.g. 512 or 768 depending on the CLIP
// variant deployed).
func NewClipEmbedder(modelPath string, embDim int, policy ExecutionProviderPolicy) (*ClipEmbedder, error) {
	inputShape := ort.NewShape(1, 3, int64(clipInputSize), int64(clipInputSize))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, mlerr.WrapOrt(err, "create clip input tensor")
	}

	outputShape := ort.NewShape(1, int64(embDim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, mlerr.WrapOrt(err, "create clip output tensor")
	}

	session, err := BuildSession(modelPath, policy,
		[]string{"input"}, []string{"embedding"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor})
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}

	return &ClipEmbedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		embDim:       embDim,
	}, nil
}

// Embed runs CLIP image embedding on a preprocessed (PreprocessCLIP) CHW
// tensor and returns an L2-normalized embedding. Output shape must be
// either [1,D] or [D]; a [N,D] output with N != 1 is a Postprocess error.
func (c *ClipEmbedder) Embed(chwData []float32) (ClipResult, error) {
	inputSlice := c.inputTensor.GetData()
	copy(inputSlice, chwData)

	if err := c.session.Run(); err != nil {
		return ClipResult{}, mlerr.WrapOrt(err, "run clip inference")
	}

	shape := c.outputTensor.GetShape()
	data := c.outputTensor.GetData()

	switch len(shape) {
	case 2:
		if shape[0] != 1 {
			return ClipResult{}, mlerr.Postprocess("unexpected CLIP batch size in shape %v", shape)
		}
	case 1:
		// single flattened vector, accepted as-is
	default:
		return ClipResult{}, mlerr.Postprocess("unsupported CLIP output shape %v", shape)
	}

	embedding := make([]float32, len(data))
	copy(embedding, data)
	normalizeEmbedding(embedding)

	return ClipResult{Embedding: embedding}, nil
}

func (c *ClipEmbedder) Close() {
	if c.session != nil {
		c.session.Destroy()
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
}
