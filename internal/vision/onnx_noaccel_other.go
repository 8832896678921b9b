//go:build !darwin && !ios && !android

package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Neither platform accelerator exists outside Apple/Android targets; both
// rungs of the ladder report unavailable so the caller falls through to
// the portable CPU accelerator or plain CPU.
func tryAppendCoreML(*ort.SessionOptions) error {
	return fmt.Errorf("coreml is not available on this platform")
}

func tryAppendNNAPI(*ort.SessionOptions) error {
	return fmt.Errorf("nnapi is not available on this platform")
}
