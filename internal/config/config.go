// Package config loads the configuration for the on-device ML core: model
// paths, execution provider policy, thresholds, and the vector index file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Models   ModelsConfig   `yaml:"models"`
	Provider ProviderConfig `yaml:"provider"`
	Vision   VisionConfig   `yaml:"vision"`
	Index    IndexConfig    `yaml:"index"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ModelsConfig carries the on-disk paths of the three ONNX models this core
// depends on. Empty paths disable the corresponding feature (face analysis
// or CLIP embedding) and are validated against the request flags that need
// them, not at config load time.
type ModelsConfig struct {
	FaceDetectionPath string `yaml:"face_detection_path"`
	FaceEmbeddingPath string `yaml:"face_embedding_path"`
	ClipImagePath     string `yaml:"clip_image_path"`
}

// ProviderConfig is the execution provider fallback policy handed to the
// ONNX Runtime session builder (C4). The ladder itself — platform
// accelerator, then portable CPU accelerator, then plain CPU — is fixed;
// these flags only gate which rungs are attempted.
type ProviderConfig struct {
	PreferCoreML     bool `yaml:"prefer_coreml"`
	PreferNNAPI      bool `yaml:"prefer_nnapi"`
	PreferXNNPACK    bool `yaml:"prefer_xnnpack"`
	AllowCPUFallback bool `yaml:"allow_cpu_fallback"`
	IntraOpThreads   int  `yaml:"intra_op_threads"`
	InterOpThreads   int  `yaml:"inter_op_threads"`
}

type VisionConfig struct {
	BlurThreshold float64 `yaml:"blur_threshold"`
}

// IndexConfig governs the file-backed vector index (C12).
type IndexConfig struct {
	Path       string `yaml:"path"`
	Dimensions uint   `yaml:"dimensions"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable
// overrides on top of it, then fills in defaults for anything still unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Vision.BlurThreshold == 0 {
		cfg.Vision.BlurThreshold = 10.0
	}
	if cfg.Provider.IntraOpThreads == 0 {
		cfg.Provider.IntraOpThreads = 1
	}
	if cfg.Provider.InterOpThreads == 0 {
		cfg.Provider.InterOpThreads = 1
	}
	if cfg.Index.Dimensions == 0 {
		cfg.Index.Dimensions = 512
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENTE_ML_FACE_DETECTION_PATH"); v != "" {
		cfg.Models.FaceDetectionPath = v
	}
	if v := os.Getenv("ENTE_ML_FACE_EMBEDDING_PATH"); v != "" {
		cfg.Models.FaceEmbeddingPath = v
	}
	if v := os.Getenv("ENTE_ML_CLIP_IMAGE_PATH"); v != "" {
		cfg.Models.ClipImagePath = v
	}
	if v := os.Getenv("ENTE_ML_PREFER_COREML"); v != "" {
		cfg.Provider.PreferCoreML = v == "true" || v == "1"
	}
	if v := os.Getenv("ENTE_ML_PREFER_NNAPI"); v != "" {
		cfg.Provider.PreferNNAPI = v == "true" || v == "1"
	}
	if v := os.Getenv("ENTE_ML_INTRA_OP_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Provider.IntraOpThreads = n
		}
	}
	if v := os.Getenv("ENTE_ML_INTER_OP_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Provider.InterOpThreads = n
		}
	}
	if v := os.Getenv("ENTE_ML_BLUR_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.BlurThreshold = f
		}
	}
	if v := os.Getenv("ENTE_ML_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("ENTE_ML_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
