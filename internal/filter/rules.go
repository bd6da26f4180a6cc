package filter

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"zrelay/internal/config"
)

// Rules is the YAML schema for an external filter rules file. It lets
// the relay be repurposed for a different keyword or predicate without
// touching the config file or the pipeline.
type Rules struct {
	Keyword   string   `yaml:"keyword,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty"`
	AllowFrom []string `yaml:"allowFrom,omitempty"`
}

// LoadRules reads a rules file. A missing file is not an error when the
// path simply does not exist yet; malformed YAML is.
func LoadRules(path string, logger *slog.Logger) (*Rules, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("rules file does not exist, using config values", "path", path)
		return &Rules{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	logger.Info("loaded filter rules", "path", path,
		"keyword", rules.Keyword != "", "pattern", rules.Pattern != "", "allowFrom", len(rules.AllowFrom))
	return &rules, nil
}

// apply overlays non-empty rule values onto the config-sourced filter
// settings.
func (r *Rules) apply(cfg config.FilterConfig) config.FilterConfig {
	if r.Keyword != "" {
		cfg.Keyword = r.Keyword
	}
	if r.Pattern != "" {
		cfg.Pattern = r.Pattern
	}
	if len(r.AllowFrom) > 0 {
		cfg.AllowFrom = r.AllowFrom
	}
	return cfg
}
