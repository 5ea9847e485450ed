// Package catalog loads the model catalog and seeds it into the registry.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"advsandbox/internal/store"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultCatalog []byte

// Entry is one model in a catalog file.
type Entry struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Type        store.Modality    `yaml:"type"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description"`
	ArtifactURL string            `yaml:"artifact_url"`
	Metadata    map[string]string `yaml:"metadata"`
}

type file struct {
	Models []Entry `yaml:"models"`
}

// Default returns the built-in reference catalog.
func Default() ([]Entry, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path returns the built-in catalog.
func Load(path string) ([]Entry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks catalog yaml.
func Parse(data []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Models))
	for i, e := range f.Models {
		if e.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("catalog lists model %q twice", e.ID)
		}
		seen[e.ID] = true
		if !e.Type.Valid() {
			return nil, fmt.Errorf("catalog model %q has unsupported type %q", e.ID, e.Type)
		}
	}
	return f.Models, nil
}

// Seed registers every entry that is not registered yet and returns how many
// were created. Existing models are left untouched.
func Seed(ctx context.Context, models store.ModelStore, entries []Entry, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	created := 0
	for _, e := range entries {
		m := &store.Model{
			ID:          e.ID,
			Name:        e.Name,
			Type:        e.Type,
			Version:     e.Version,
			Status:      store.ModelStatusActive,
			Description: e.Description,
			ArtifactURL: e.ArtifactURL,
			Metadata:    e.Metadata,
		}
		if m.Name == "" {
			m.Name = e.ID
		}
		err := models.CreateModel(ctx, m)
		if errors.Is(err, store.ErrConflict) {
			log.Debug("model already registered", "model_id", e.ID)
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to seed model %s: %w", e.ID, err)
		}
		created++
		log.Info("seeded model", "model_id", e.ID, "type", e.Type)
	}
	return created, nil
}
