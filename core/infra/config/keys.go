package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticKey is an API key provisioned through the keys file rather than the
// control plane's credential store. Useful for development and CI.
type StaticKey struct {
	Key     string   `yaml:"key"`
	KeyID   string   `yaml:"key_id"`
	OrgID   string   `yaml:"org_id"`
	OrgSlug string   `yaml:"org_slug"`
	UserID  string   `yaml:"user_id"`
	Scopes  []string `yaml:"scopes"`
}

type staticKeysFile struct {
	Keys []StaticKey `yaml:"keys"`
}

// LoadStaticKeys reads the YAML keys file at path. A missing path returns an
// empty slice so the gateway can run on the credential store alone.
func LoadStaticKeys(path string) ([]StaticKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	var file staticKeysFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	out := make([]StaticKey, 0, len(file.Keys))
	for i, entry := range file.Keys {
		entry.Key = strings.TrimSpace(entry.Key)
		if entry.Key == "" {
			return nil, fmt.Errorf("keys[%d]: key required", i)
		}
		if strings.TrimSpace(entry.OrgID) == "" {
			return nil, fmt.Errorf("keys[%d]: org_id required", i)
		}
		if strings.TrimSpace(entry.UserID) == "" {
			return nil, fmt.Errorf("keys[%d]: user_id required", i)
		}
		out = append(out, entry)
	}
	return out, nil
}
