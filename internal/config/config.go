package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/validation"
)

const configSuffix = ".config.yaml"

// Store loads and serves scan profile configurations. Each profile is
// one <name>.config.yaml file in the config directory, keyed by
// meta.id, with optional shared defaults under templates/. The store is
// constructed once and injected, and Load may be called again at any
// time to pick up changes.
type Store struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	configs   map[string]*types.Config
	templates map[string]*types.Config
}

func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{
		dir:       dir,
		logger:    logger,
		configs:   make(map[string]*types.Config),
		templates: make(map[string]*types.Config),
	}
}

// Dir returns the watched configuration directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads templates and every profile from the directory, validates
// them, and replaces the served set atomically. On error the previously
// loaded set stays in place.
func (s *Store) Load() error {
	templates, err := loadTemplates(filepath.Join(s.dir, "templates"))
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read config directory: %w", err)
	}

	configs := make(map[string]*types.Config)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), configSuffix) {
			continue
		}

		cfg, err := loadConfigFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", entry.Name(), err)
		}

		if cfg.Meta.ID == "" {
			return fmt.Errorf("config %s missing required meta.id field", entry.Name())
		}
		if _, exists := configs[cfg.Meta.ID]; exists {
			return fmt.Errorf("duplicate config ID %s in %s", cfg.Meta.ID, entry.Name())
		}

		if cfg.Meta.Template != "" {
			if err := applyTemplate(cfg, templates); err != nil {
				return fmt.Errorf("failed to apply template to config %s: %w", entry.Name(), err)
			}
		}

		if err := validation.ValidateConfig(cfg); err != nil {
			return fmt.Errorf("invalid config %s: %w", entry.Name(), err)
		}

		configs[cfg.Meta.ID] = cfg
		s.logger.Debug("loaded configuration",
			"id", cfg.Meta.ID,
			"enabled", cfg.Meta.Enabled,
			"accounts", len(cfg.Accounts),
		)
	}

	s.mu.Lock()
	s.configs = configs
	s.templates = templates
	s.mu.Unlock()
	return nil
}

func loadConfigFile(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Environment references like ${IMAP_PASSWORD} are expanded before
	// unmarshalling so secrets stay out of the files themselves.
	expanded := os.ExpandEnv(string(data))

	cfg := &types.Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get retrieves a configuration by ID.
func (s *Store) Get(id string) (*types.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.configs[id]
	if !exists {
		return nil, fmt.Errorf("config with ID %s not found", id)
	}
	return cfg, nil
}

// All returns every loaded configuration, sorted by ID.
func (s *Store) All() []*types.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedConfigs(s.configs, false)
}

// Enabled returns only enabled configurations, sorted by ID.
func (s *Store) Enabled() []*types.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedConfigs(s.configs, true)
}

func sortedConfigs(configs map[string]*types.Config, enabledOnly bool) []*types.Config {
	out := make([]*types.Config, 0, len(configs))
	for _, cfg := range configs {
		if enabledOnly && !cfg.Meta.Enabled {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.ID < out[j].Meta.ID })
	return out
}
