//go:build darwin || ios

package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// tryAppendCoreML is the platform-accelerator rung of the EP ladder on
// Apple targets.
func tryAppendCoreML(opts *ort.SessionOptions) error {
	if err := opts.AppendExecutionProviderCoreML(ort.CoreMLProviderOptions{}); err != nil {
		return fmt.Errorf("append coreml provider: %w", err)
	}
	return nil
}

func tryAppendNNAPI(*ort.SessionOptions) error {
	return fmt.Errorf("nnapi is not available on this platform")
}
