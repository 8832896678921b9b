package vision

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ente-io/ml-core/internal/config"
	"github.com/ente-io/ml-core/internal/mlerr"
	"github.com/ente-io/ml-core/internal/observability"
)

// RuntimeConfigFromAppConfig adapts the on-disk configuration into the
// shape the runtime registry rebuilds against.
func RuntimeConfigFromAppConfig(cfg *config.Config) MlRuntimeConfig {
	return MlRuntimeConfig{
		ModelPaths: ModelPaths{
			FaceDetection: cfg.Models.FaceDetectionPath,
			FaceEmbedding: cfg.Models.FaceEmbeddingPath,
			ClipImage:     cfg.Models.ClipImagePath,
		},
		ProviderPolicy:   policyFromConfig(cfg.Provider),
		EmbedBatchSize:   16,
		ClipEmbeddingDim: int(cfg.Index.Dimensions),
	}
}

// AnalyzeImage is the single entry point a host calls to run the full
// pipeline over one image: decode, then whichever of face analysis
// (detect -> align -> embed) and CLIP embedding the request asks for. Both
// branches run under one runtime lock acquisition so a concurrent config
// rebuild can't interleave with this request's inference calls.
func AnalyzeImage(cfg MlRuntimeConfig, req AnalyzeImageRequest) (AnalyzeImageResult, error) {
	if req.ImagePath == "" {
		return AnalyzeImageResult{}, mlerr.InvalidRequest("image path must not be empty")
	}
	if !req.RunFaces && !req.RunClip {
		return AnalyzeImageResult{}, mlerr.InvalidRequest("request must ask for at least one of faces or clip")
	}
	var missing []string
	if req.RunFaces && strings.TrimSpace(cfg.ModelPaths.FaceDetection) == "" {
		missing = append(missing, "faceDetectionModelPath")
	}
	if req.RunFaces && strings.TrimSpace(cfg.ModelPaths.FaceEmbedding) == "" {
		missing = append(missing, "faceEmbeddingModelPath")
	}
	if req.RunClip && strings.TrimSpace(cfg.ModelPaths.ClipImage) == "" {
		missing = append(missing, "clipImageModelPath")
	}
	if len(missing) > 0 {
		return AnalyzeImageResult{}, mlerr.InvalidRequest("missing model paths: %s", strings.Join(missing, ", "))
	}

	requestID := uuid.NewString()
	slog.Debug("analyzing image", "request_id", requestID, "file_id", req.FileID, "run_faces", req.RunFaces, "run_clip", req.RunClip)

	decodeStart := time.Now()
	img, err := DecodeImage(req.ImagePath)
	observability.InferenceDuration.WithLabelValues("decode").Observe(time.Since(decodeStart).Seconds())
	if err != nil {
		return AnalyzeImageResult{}, err
	}

	result := AnalyzeImageResult{
		RequestID:   requestID,
		FileID:      req.FileID,
		DecodedSize: img.Dimensions,
	}

	err = WithRuntime(cfg, func(rt *Runtime) error {
		if req.RunFaces {
			faces, err := runFaceAnalysis(rt, req.FileID, img)
			if err != nil {
				return err
			}
			result.Faces = faces
		}

		if req.RunClip {
			clip, err := runClipAnalysis(rt, img)
			if err != nil {
				return err
			}
			result.Clip = clip
		}

		return nil
	})
	if err != nil {
		return AnalyzeImageResult{}, err
	}

	return result, nil
}

func runFaceAnalysis(rt *Runtime, fileID int64, img DecodedImage) ([]FaceResult, error) {
	start := time.Now()
	defer func() { observability.InferenceDuration.WithLabelValues("face_analysis").Observe(time.Since(start).Seconds()) }()

	detector, err := rt.Detector()
	if err != nil {
		return nil, err
	}

	chw, scaledW, scaledH, _, _, err := PreprocessYOLO(img)
	if err != nil {
		return nil, err
	}

	detections, err := detector.Detect(chw, scaledW, scaledH)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return []FaceResult{}, nil
	}

	alignedFaces, faceResults, err := AlignFaces(fileID, img, detections)
	if err != nil {
		return nil, err
	}

	embedder, err := rt.Embedder()
	if err != nil {
		return nil, err
	}

	maxBatch := embedder.maxBatch
	for start := 0; start < len(alignedFaces); start += maxBatch {
		end := start + maxBatch
		if end > len(alignedFaces) {
			end = len(alignedFaces)
		}
		if err := embedder.Extract(alignedFaces[start:end], faceResults[start:end]); err != nil {
			return nil, err
		}
	}

	for range faceResults {
		observability.FacesDetected.Inc()
		observability.FacesEmbedded.Inc()
	}

	return faceResults, nil
}

func runClipAnalysis(rt *Runtime, img DecodedImage) (*ClipResult, error) {
	start := time.Now()
	defer func() { observability.InferenceDuration.WithLabelValues("clip").Observe(time.Since(start).Seconds()) }()

	clip, err := rt.Clip()
	if err != nil {
		return nil, err
	}

	chw, err := PreprocessCLIP(img)
	if err != nil {
		return nil, err
	}

	result, err := clip.Embed(chw)
	if err != nil {
		return nil, err
	}
	observability.ClipEmbeddingsGenerated.Inc()
	return &result, nil
}
