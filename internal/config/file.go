package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, cfg)
}

// Parse overlays a YAML document onto cfg. Keys absent from the document leave
// existing values untouched.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	for role, perms := range cfg.Roles {
		if role == "" {
			return fmt.Errorf("roles: empty role name")
		}
		if len(perms) == 0 {
			return fmt.Errorf("role %s: at least one permission is required", role)
		}
	}
	return nil
}
