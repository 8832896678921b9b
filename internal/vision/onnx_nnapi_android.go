//go:build android

package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// tryAppendNNAPI is the platform-accelerator rung of the EP ladder on
// Android targets.
func tryAppendNNAPI(opts *ort.SessionOptions) error {
	if err := opts.AppendExecutionProviderNNAPI(0); err != nil {
		return fmt.Errorf("append nnapi provider: %w", err)
	}
	return nil
}

func tryAppendCoreML(*ort.SessionOptions) error {
	return fmt.Errorf("coreml is not available on this platform")
}
