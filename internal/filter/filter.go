// Package filter decides which canonical events qualify for relay.
package filter

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"zrelay/internal/config"
	"zrelay/internal/domain"
)

// Keyword implements domain.Filter. Policy, applied in order: reject
// messages from the relay's own account, reject group messages, reject
// senders outside the allow-list (when one is configured), then require
// the content predicate: a regex when configured, otherwise a
// case-insensitive keyword match.
type Keyword struct {
	keyword   string
	pattern   *regexp.Regexp
	allowFrom map[string]struct{}
	logger    *slog.Logger
}

func New(cfg config.FilterConfig, logger *slog.Logger) (*Keyword, error) {
	if cfg.RulesFile != "" {
		rules, err := LoadRules(cfg.RulesFile, logger)
		if err != nil {
			return nil, fmt.Errorf("load rules file: %w", err)
		}
		cfg = rules.apply(cfg)
	}

	f := &Keyword{
		keyword: strings.ToLower(cfg.Keyword),
		logger:  logger,
	}

	if cfg.Pattern != "" {
		re, err := regexp.Compile("(?i)" + cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		f.pattern = re
	}

	if len(cfg.AllowFrom) > 0 {
		f.allowFrom = make(map[string]struct{}, len(cfg.AllowFrom))
		for _, s := range cfg.AllowFrom {
			f.allowFrom[s] = struct{}{}
		}
	}

	return f, nil
}

func (f *Keyword) Accepts(ev domain.ChatEvent) bool {
	if ev.FromSelf {
		return false
	}
	if ev.FromGroup {
		return false
	}
	if f.allowFrom != nil {
		if _, ok := f.allowFrom[ev.Sender]; !ok {
			return false
		}
	}
	if f.pattern != nil {
		return f.pattern.MatchString(ev.Text)
	}
	if f.keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(ev.Text), f.keyword)
}
