package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
models:
  face_detection_path: /models/detect.onnx
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/models/detect.onnx", cfg.Models.FaceDetectionPath)
	assert.Equal(t, 10.0, cfg.Vision.BlurThreshold)
	assert.Equal(t, 1, cfg.Provider.IntraOpThreads)
	assert.Equal(t, 1, cfg.Provider.InterOpThreads)
	assert.Equal(t, uint(512), cfg.Index.Dimensions)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `
vision:
  blur_threshold: 7.5
index:
  dimensions: 768
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7.5, cfg.Vision.BlurThreshold)
	assert.Equal(t, uint(768), cfg.Index.Dimensions)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
models:
  face_detection_path: /models/detect.onnx
vision:
  blur_threshold: 5.0
`)

	t.Setenv("ENTE_ML_FACE_DETECTION_PATH", "/override/detect.onnx")
	t.Setenv("ENTE_ML_BLUR_THRESHOLD", "0.9")
	t.Setenv("ENTE_ML_PREFER_COREML", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/override/detect.onnx", cfg.Models.FaceDetectionPath)
	assert.Equal(t, 0.9, cfg.Vision.BlurThreshold)
	assert.True(t, cfg.Provider.PreferCoreML)
}

func TestEnvOverrideIgnoresUnparseableNumber(t *testing.T) {
	path := writeConfig(t, `vision:
  blur_threshold: 0.5
`)
	t.Setenv("ENTE_ML_BLUR_THRESHOLD", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Vision.BlurThreshold)
}
