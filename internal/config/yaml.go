package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// placeholderSecret is the secret written by WriteDefaultConfig.
const placeholderSecret = "change-me"

// MarshalYAML renders settings as a dugong.yaml document.
func MarshalYAML(s *Settings) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return data, nil
}

// WriteDefaultConfig writes the default configuration to a YAML file. An
// existing file is never overwritten.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	cfg := DefaultSettings()
	cfg.SecretKey = placeholderSecret
	data, err := MarshalYAML(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
