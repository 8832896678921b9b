package vision

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/ente-io/ml-core/internal/mlerr"
	"github.com/ente-io/ml-core/internal/observability"
)

// ModelPaths locates the three ONNX models this core depends on. A blank
// path disables the feature that would otherwise use it.
type ModelPaths struct {
	FaceDetection string
	FaceEmbedding string
	ClipImage     string
}

// MlRuntimeConfig is the full configuration a Runtime is built from; two
// configs that are not deep-equal trigger a rebuild.
type MlRuntimeConfig struct {
	ModelPaths       ModelPaths
	ProviderPolicy   ExecutionProviderPolicy
	EmbedBatchSize   int
	ClipEmbeddingDim int
}

// Runtime holds the live session handles built from an MlRuntimeConfig.
type Runtime struct {
	detector *Detector
	embedder *Embedder
	clip     *ClipEmbedder
	cfg      MlRuntimeConfig
}

func (r *Runtime) Detector() (*Detector, error) {
	if r.detector == nil {
		return nil, mlerr.Runtime("face detection model path was not configured")
	}
	return r.detector, nil
}

func (r *Runtime) Embedder() (*Embedder, error) {
	if r.embedder == nil {
		return nil, mlerr.Runtime("face embedding model path was not configured")
	}
	return r.embedder, nil
}

func (r *Runtime) Clip() (*ClipEmbedder, error) {
	if r.clip == nil {
		return nil, mlerr.Runtime("clip image model path was not configured")
	}
	return r.clip, nil
}

func (r *Runtime) close() {
	if r.detector != nil {
		r.detector.Close()
	}
	if r.embedder != nil {
		r.embedder.Close()
	}
	if r.clip != nil {
		r.clip.Close()
	}
}

// registry is the process-wide, mutex-guarded runtime singleton. Unlike
// Rust's std::sync::Mutex, a Go sync.Mutex never poisons a panicking
// holder's state automatically — poisoned is set explicitly by WithRuntime
// when it recovers from a panic while the lock is held, so the next
// EnsureRuntime call knows to discard whatever the panicking goroutine may
// have left behind rather than reuse it.
type registry struct {
	mu       sync.Mutex
	runtime  *Runtime
	poisoned bool
}

var globalRegistry registry

// EnsureRuntime builds the runtime on first call, or rebuilds it in place
// if cfg differs from the config the current runtime was built with.
func EnsureRuntime(cfg MlRuntimeConfig) error {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	return ensureRuntimeLocked(cfg)
}

func ensureRuntimeLocked(cfg MlRuntimeConfig) error {
	if globalRegistry.poisoned {
		slog.Warn("ml runtime registry was poisoned by a previous panic, rebuilding from scratch")
		globalRegistry.runtime = nil
		globalRegistry.poisoned = false
	}

	if globalRegistry.runtime != nil && reflect.DeepEqual(globalRegistry.runtime.cfg, cfg) {
		return nil
	}

	if globalRegistry.runtime != nil {
		globalRegistry.runtime.close()
		globalRegistry.runtime = nil
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	globalRegistry.runtime = rt
	return nil
}

func buildRuntime(cfg MlRuntimeConfig) (*Runtime, error) {
	rt := &Runtime{cfg: cfg}

	if cfg.ModelPaths.FaceDetection != "" {
		det, err := NewDetector(cfg.ModelPaths.FaceDetection, cfg.ProviderPolicy)
		if err != nil {
			return nil, err
		}
		rt.detector = det
	}

	if cfg.ModelPaths.FaceEmbedding != "" {
		batch := cfg.EmbedBatchSize
		if batch <= 0 {
			batch = 16
		}
		emb, err := NewEmbedder(cfg.ModelPaths.FaceEmbedding, batch, cfg.ProviderPolicy)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.embedder = emb
	}

	if cfg.ModelPaths.ClipImage != "" {
		dim := cfg.ClipEmbeddingDim
		if dim <= 0 {
			dim = 512
		}
		clip, err := NewClipEmbedder(cfg.ModelPaths.ClipImage, dim, cfg.ProviderPolicy)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.clip = clip
	}

	return rt, nil
}

// WithRuntime ensures the runtime matches cfg, then runs fn while holding
// the registry lock, propagating fn's error. A panic inside fn (or during
// the rebuild it triggers) poisons the registry instead of crashing the
// whole process: the panic is recovered, turned into a KindRuntime error,
// and the next EnsureRuntime call rebuilds cleanly.
func WithRuntime(cfg MlRuntimeConfig, fn func(*Runtime) error) (err error) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			globalRegistry.poisoned = true
			observability.RuntimePoisoned.Inc()
			err = mlerr.Runtime("runtime panicked and the registry has been marked poisoned: %v", r)
		}
	}()

	if err := ensureRuntimeLocked(cfg); err != nil {
		return err
	}
	return fn(globalRegistry.runtime)
}

// ReleaseRuntime destroys the current runtime's sessions and clears the
// singleton, for a host's shutdown path.
func ReleaseRuntime() error {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if globalRegistry.runtime != nil {
		globalRegistry.runtime.close()
		globalRegistry.runtime = nil
	}
	globalRegistry.poisoned = false
	return nil
}
