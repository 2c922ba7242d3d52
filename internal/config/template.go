package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	yaml "gopkg.in/yaml.v3"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// loadTemplates reads every .yaml file in the templates directory. A
// missing directory just means no templates are defined.
func loadTemplates(dir string) (map[string]*types.Config, error) {
	templates := make(map[string]*types.Config)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return templates, nil
		}
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}

		template := &types.Config{}
		if err := yaml.Unmarshal(data, template); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", entry.Name(), err)
		}

		templates[strings.TrimSuffix(entry.Name(), ".yaml")] = template
	}

	return templates, nil
}

// applyTemplate layers cfg over its named template, profile values win.
func applyTemplate(cfg *types.Config, templates map[string]*types.Config) error {
	template, exists := templates[cfg.Meta.Template]
	if !exists {
		return fmt.Errorf("template %s not found", cfg.Meta.Template)
	}

	base := &types.Config{}
	if err := mergo.Merge(base, template); err != nil {
		return fmt.Errorf("failed to copy template: %w", err)
	}

	if err := mergo.Merge(base, cfg, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config with template: %w", err)
	}

	*cfg = *base
	return nil
}
