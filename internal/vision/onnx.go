package vision

import (
	"fmt"
	"log/slog"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ente-io/ml-core/internal/config"
	"github.com/ente-io/ml-core/internal/mlerr"
)

// ExecutionProviderPolicy gates which rungs of the EP fallback ladder are
// attempted. The ladder itself — platform accelerator, then portable CPU
// accelerator, then plain CPU — is fixed.
type ExecutionProviderPolicy struct {
	PreferCoreML     bool
	PreferNNAPI      bool
	PreferXNNPACK    bool
	AllowCPUFallback bool
	IntraOpThreads   int
	InterOpThreads   int
}

func policyFromConfig(p config.ProviderConfig) ExecutionProviderPolicy {
	return ExecutionProviderPolicy{
		PreferCoreML:     p.PreferCoreML,
		PreferNNAPI:      p.PreferNNAPI,
		PreferXNNPACK:    p.PreferXNNPACK,
		AllowCPUFallback: p.AllowCPUFallback,
		IntraOpThreads:   p.IntraOpThreads,
		InterOpThreads:   p.InterOpThreads,
	}
}

// newSessionOptions builds one *ort.SessionOptions per model session,
// applying thread limits and registering providers in fallback order: the
// platform accelerator (CoreML/NNAPI, build-tag gated), then the portable
// CPU accelerator (XNNPACK), then the plain CPU EP by omission. If a
// preferred provider fails to register, construction falls back to the
// next rung rather than failing outright, as long as AllowCPUFallback
// permits landing on plain CPU.
func newSessionOptions(policy ExecutionProviderPolicy) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, mlerr.WrapOrt(err, "create session options")
	}

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelAll); err != nil {
		opts.Destroy()
		return nil, mlerr.WrapOrt(err, "set graph optimization level")
	}
	if policy.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(policy.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, mlerr.WrapOrt(err, "set intra_op_threads")
		}
	}
	if policy.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(policy.InterOpThreads); err != nil {
			opts.Destroy()
			return nil, mlerr.WrapOrt(err, "set inter_op_threads")
		}
	}

	registeredAccelerator := false
	if policy.PreferCoreML {
		if err := tryAppendCoreML(opts); err == nil {
			registeredAccelerator = true
		} else {
			slog.Warn("coreml execution provider unavailable, falling through the ladder", "error", err)
		}
	}
	if !registeredAccelerator && policy.PreferNNAPI {
		if err := tryAppendNNAPI(opts); err == nil {
			registeredAccelerator = true
		} else {
			slog.Warn("nnapi execution provider unavailable, falling through the ladder", "error", err)
		}
	}
	if !registeredAccelerator && policy.PreferXNNPACK {
		if err := tryAppendXNNPACK(opts); err == nil {
			registeredAccelerator = true
		} else {
			slog.Warn("xnnpack execution provider unavailable, falling through the ladder", "error", err)
		}
	}
	if !registeredAccelerator && !policy.AllowCPUFallback {
		opts.Destroy()
		return nil, mlerr.Ort("no preferred execution provider registered and CPU fallback is disallowed")
	}

	return opts, nil
}

// BuildSession constructs an onnxruntime_go advanced session for the given
// model, input/output names and pre-allocated tensors, using the EP
// fallback ladder. If session construction fails with the initially
// requested providers, it retries once with CPU-only options.
func BuildSession(
	modelPath string,
	policy ExecutionProviderPolicy,
	inputNames, outputNames []string,
	inputs, outputs []ort.Value,
) (*ort.AdvancedSession, error) {
	opts, err := newSessionOptions(policy)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewAdvancedSession(modelPath, inputNames, outputNames, inputs, outputs, opts)
	if err == nil {
		return session, nil
	}

	if !policy.AllowCPUFallback {
		return nil, mlerr.WrapOrt(err, "create session for %q", modelPath)
	}

	slog.Warn("session construction failed with preferred providers, retrying on plain CPU", "model", modelPath, "error", err)
	cpuOpts, cpuErr := ort.NewSessionOptions()
	if cpuErr != nil {
		return nil, mlerr.WrapOrt(err, "create session for %q (and failed to build CPU fallback options: %v)", modelPath, cpuErr)
	}
	defer cpuOpts.Destroy()

	session, err = ort.NewAdvancedSession(modelPath, inputNames, outputNames, inputs, outputs, cpuOpts)
	if err != nil {
		return nil, mlerr.WrapOrt(err, "create session for %q on CPU fallback", modelPath)
	}
	return session, nil
}

// BuildDynamicSession constructs an onnxruntime_go dynamic advanced session
// for models whose output shape isn't known until they run — e.g. a
// detection head whose row count depends on the input image — using the
// same EP fallback ladder as BuildSession.
func BuildDynamicSession(
	modelPath string,
	policy ExecutionProviderPolicy,
	inputNames, outputNames []string,
) (*ort.DynamicAdvancedSession, error) {
	opts, err := newSessionOptions(policy)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err == nil {
		return session, nil
	}

	if !policy.AllowCPUFallback {
		return nil, mlerr.WrapOrt(err, "create dynamic session for %q", modelPath)
	}

	slog.Warn("dynamic session construction failed with preferred providers, retrying on plain CPU", "model", modelPath, "error", err)
	cpuOpts, cpuErr := ort.NewSessionOptions()
	if cpuErr != nil {
		return nil, mlerr.WrapOrt(err, "create dynamic session for %q (and failed to build CPU fallback options: %v)", modelPath, cpuErr)
	}
	defer cpuOpts.Destroy()

	session, err = ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, cpuOpts)
	if err != nil {
		return nil, mlerr.WrapOrt(err, "create dynamic session for %q on CPU fallback", modelPath)
	}
	return session, nil
}

// RunF32 runs session with the float32 data already copied into its
// pre-allocated input tensor(s) by the caller, and returns the first
// output's shape and flattened data.
func RunF32(session *ort.AdvancedSession, output *ort.Tensor[float32]) ([]int64, []float32, error) {
	if err := session.Run(); err != nil {
		return nil, nil, mlerr.WrapOrt(err, "run inference")
	}
	shape := output.GetShape()
	data := output.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	shapeOut := make([]int64, len(shape))
	copy(shapeOut, shape)
	return shapeOut, out, nil
}

func tryAppendXNNPACK(opts *ort.SessionOptions) error {
	if err := opts.AppendExecutionProviderXNNPACK(ort.XNNPACKProviderOptions{}); err != nil {
		return fmt.Errorf("append xnnpack provider: %w", err)
	}
	return nil
}
