package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImagesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ml_core",
		Name:      "images_decoded_total",
		Help:      "Total number of images decoded, by outcome",
	}, []string{"outcome"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ml_core",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected across analyzed images",
	})

	FacesEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ml_core",
		Name:      "faces_embedded_total",
		Help:      "Total number of face embeddings extracted",
	})

	ClipEmbeddingsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ml_core",
		Name:      "clip_embeddings_generated_total",
		Help:      "Total number of CLIP image embeddings generated",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ml_core",
		Name:      "inference_duration_seconds",
		Help:      "Duration of each ML pipeline stage",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	RuntimePoisoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ml_core",
		Name:      "runtime_poisoned_total",
		Help:      "Total number of times the runtime registry recovered from a panic",
	})

	VectorIndexOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ml_core",
		Name:      "vector_index_operations_total",
		Help:      "Total number of vector index operations, by operation and outcome",
	}, []string{"operation", "outcome"})

	VectorIndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ml_core",
		Name:      "vector_index_size",
		Help:      "Number of vectors currently stored in the index",
	})
)
