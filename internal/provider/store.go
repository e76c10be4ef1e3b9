package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/janhq/jan-core/internal/logging"
)

// Store holds the registered providers and persists their settings to a YAML
// file. It is the settings service the recovery policies write through.
type Store struct {
	path      string
	providers []*Provider
	mu        sync.RWMutex
}

// NewStore creates a store backed by the given YAML file. The file is
// optional; a missing file yields an empty store.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads providers from disk, replacing the in-memory set.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file struct {
		Providers []*Provider `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse providers file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.providers = file.Providers
	s.mu.Unlock()
	return nil
}

// Save writes the current providers to disk atomically (temp file + rename).
func (s *Store) Save() error {
	s.mu.RLock()
	file := struct {
		Providers []*Provider `yaml:"providers"`
	}{Providers: s.providers}
	data, err := yaml.Marshal(file)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal providers: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create providers directory: %w", err)
	}

	// 0600: the file carries API keys.
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write providers file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		if err := os.WriteFile(s.path, data, 0600); err != nil {
			return fmt.Errorf("failed to write providers file: %w", err)
		}
	}
	return nil
}

// Get returns a deep copy of the named provider.
func (s *Store) Get(name string) (*Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.providers {
		if p.Name == name {
			return p.Clone(), true
		}
	}
	return nil, false
}

// List returns deep copies of all providers.
func (s *Store) List() []*Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Provider, len(s.providers))
	for i, p := range s.providers {
		out[i] = p.Clone()
	}
	return out
}

// Put inserts or replaces a provider by name. The stored copy is detached
// from the caller's value.
func (s *Store) Put(p *Provider) {
	clone := p.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.providers {
		if existing.Name == p.Name {
			s.providers[i] = clone
			return
		}
	}
	s.providers = append(s.providers, clone)
}

// UpdateSettings replaces provider-level settings for the named provider and
// persists the change.
func (s *Store) UpdateSettings(name string, settings []Setting) error {
	s.mu.Lock()
	found := false
	for _, p := range s.providers {
		if p.Name == name {
			for _, setting := range settings {
				p.SetSetting(setting)
			}
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("unknown provider: %s", name)
	}

	if err := s.Save(); err != nil {
		return err
	}
	logging.Debug("provider settings updated", "provider", name, "count", len(settings))
	return nil
}

// UpdateModelSettings replaces model-level settings for one model of the
// named provider and persists the change.
func (s *Store) UpdateModelSettings(name, modelID string, settings []Setting) error {
	s.mu.Lock()
	var model *Model
	for _, p := range s.providers {
		if p.Name == name {
			model, _ = p.Model(modelID)
			break
		}
	}
	if model != nil {
		for _, setting := range settings {
			model.SetSetting(setting)
		}
	}
	s.mu.Unlock()

	if model == nil {
		return fmt.Errorf("unknown model %s for provider %s", modelID, name)
	}

	if err := s.Save(); err != nil {
		return err
	}
	logging.Debug("model settings updated", "provider", name, "model", modelID, "count", len(settings))
	return nil
}
