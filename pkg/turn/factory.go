package turn

import (
	"fmt"
)

// DetectorConfig selects and locates a turn detector.
type DetectorConfig struct {
	Model     string // "english" (default) or "multilingual"
	ModelPath string // empty uses DefaultModelPath
	RemoteURL string // optional inference endpoint; the local model becomes its fallback
}

// NewDetector builds the detector described by cfg.
func NewDetector(cfg DetectorConfig) (Detector, error) {
	if cfg.Model == "" {
		cfg.Model = "english"
	}
	local, err := NewONNXDetector(cfg.Model, cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("invalid model name: %w (supported: english|multilingual)", err)
	}
	if cfg.RemoteURL != "" {
		return NewRemoteDetector(cfg.RemoteURL, local), nil
	}
	return local, nil
}
