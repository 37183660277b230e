package config

import (
	"fmt"
	"os"

	"github.com/dgnsrekt/myjd_bridge/internal/storage"
	"gopkg.in/yaml.v3"
)

// DeviceSeed names a preferred device.
type DeviceSeed struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// SettingsSeed holds initial values for settings that have never been set.
// Omitted fields are left alone.
type SettingsSeed struct {
	CNLInterceptActive     *bool       `yaml:"cnlInterceptActive"`
	ContextMenuSimple      *bool       `yaml:"contextMenuSimple"`
	CNLDialogActive        *bool       `yaml:"cnlDialogActive"`
	DefaultPreferredDevice *DeviceSeed `yaml:"defaultPreferredDevice"`
}

// LoadSettingsSeed reads a YAML settings seed file.
func LoadSettingsSeed(path string) (*SettingsSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings seed: %w", err)
	}
	var seed SettingsSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("settings seed: %w", err)
	}
	if d := seed.DefaultPreferredDevice; d != nil && d.ID == "" {
		return nil, fmt.Errorf("settings seed: defaultPreferredDevice missing id")
	}
	return &seed, nil
}

// Values maps the seed onto persisted keys.
func (s *SettingsSeed) Values() map[string]any {
	out := make(map[string]any)
	if s.CNLInterceptActive != nil {
		out[storage.KeyCNLInterceptActive] = *s.CNLInterceptActive
	}
	if s.ContextMenuSimple != nil {
		out[storage.KeyContextMenuSimple] = *s.ContextMenuSimple
	}
	if s.CNLDialogActive != nil {
		out[storage.KeyCNLDialogActive] = *s.CNLDialogActive
	}
	if s.DefaultPreferredDevice != nil {
		out[storage.KeyDefaultPreferredDevice] = *s.DefaultPreferredDevice
	}
	return out
}
