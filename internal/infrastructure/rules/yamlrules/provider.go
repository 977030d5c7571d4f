// Package yamlrules loads the versioned weight table and classification
// rules from a YAML file. The file is externally maintained configuration;
// the provider re-stats it on every access and reloads when it changed, so
// rule edits take effect at runtime without a restart.
package yamlrules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pacsight/rvutrack/internal/core/domain"
)

type Provider struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	loaded  bool
	cached  domain.RuleSet
}

func New(path string) *Provider {
	return &Provider{path: path}
}

// Rules returns the current rule set, reloading the file if its mtime
// moved. Once a set has been loaded, a later failed reload keeps serving
// the previous set: stale rules beat no rules for a live tracker.
func (p *Provider) Rules(_ context.Context) (domain.RuleSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		if p.loaded {
			slog.Warn("rule file unreadable, serving cached rules", "path", p.path, "error", err)
			return p.cached, nil
		}
		return domain.RuleSet{}, fmt.Errorf("stat rule file: %w", err)
	}
	if p.loaded && info.ModTime().Equal(p.modTime) {
		return p.cached, nil
	}

	rs, err := load(p.path)
	if err != nil {
		if p.loaded {
			slog.Warn("rule file reload failed, serving cached rules", "path", p.path, "error", err)
			return p.cached, nil
		}
		return domain.RuleSet{}, err
	}

	if p.loaded {
		slog.Info("rule set reloaded", "path", p.path, "version", rs.Version, "categories", len(rs.Weights))
	}
	p.cached = rs
	p.modTime = info.ModTime()
	p.loaded = true
	return rs, nil
}

func load(path string) (domain.RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.RuleSet{}, fmt.Errorf("read rule file: %w", err)
	}

	var rs domain.RuleSet
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return domain.RuleSet{}, fmt.Errorf("parse rule file: %w", err)
	}
	if !rs.HasWeights() {
		return domain.RuleSet{}, fmt.Errorf("parse rule file: %w: no weight table", domain.ErrInvalidInput)
	}
	for i, rule := range rs.Rules {
		if rule.Category == "" {
			return domain.RuleSet{}, fmt.Errorf("parse rule file: %w: rule %d has no category", domain.ErrInvalidInput, i)
		}
	}
	return rs, nil
}
