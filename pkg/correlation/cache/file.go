package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/fuse/pkg/domain"
)

// FileLoader reads strategy snapshots from a directory of YAML documents,
// one or more strategies per file. Suits deployments where the external
// configuration service materialises strategies to disk.
type FileLoader struct {
	Dir string
}

// Load implements Loader.
func (l *FileLoader) Load(_ context.Context) ([]*domain.Strategy, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("read strategy dir: %w", err)
	}

	var strategies []*domain.Strategy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(l.Dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		var doc struct {
			Strategies []*domain.Strategy `yaml:"strategies"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		strategies = append(strategies, doc.Strategies...)
	}
	return strategies, nil
}
