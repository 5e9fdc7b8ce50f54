package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AlignConfig is the on-disk form of the run command's settings, letting a
// user check a reusable alignment recipe into version control instead of
// repeating flags on every invocation.
type AlignConfig struct {
	Frames          []string `yaml:"frames"`
	Out             string   `yaml:"out"`
	Mode            string   `yaml:"mode"`
	StartLevel      int      `yaml:"startLevel"`
	MaxLevel        int      `yaml:"maxLevel"`
	Movement        float64  `yaml:"movement"`
	Method          string   `yaml:"method"`
	ThresholdFactor float64  `yaml:"thresholdFactor"`
}

// loadAlignConfig reads a YAML config file. An empty path is not an error:
// it returns the zero value and callers fall back entirely to flags/args. A
// path that cannot be read is an error.
func loadAlignConfig(path string) (*AlignConfig, error) {
	if path == "" {
		return &AlignConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	var cfg AlignConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return &cfg, nil
}
