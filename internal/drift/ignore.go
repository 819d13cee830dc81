package drift

import (
	"path/filepath"
	"strings"

	"github.com/breeze-rmm/driftd/internal/model"
)

type ignoreRule struct {
	facet   model.Facet
	pattern string
}

// IgnoreSet suppresses drift decisions for matching identities. Snapshots for
// ignored identities are still stored; only the decision is dropped. Matching
// is case-insensitive: exact, trailing-star prefix, or glob.
type IgnoreSet struct {
	rules []ignoreRule
}

// NewIgnoreSet builds a set from config rules ("facet:pattern" strings) plus
// rows loaded from the store for the call's (tenant, agent) scope. The set is
// built per call and passed in explicitly; there is no ambient global list.
func NewIgnoreSet(configRules []string, stored []model.IgnoreRule) *IgnoreSet {
	set := &IgnoreSet{}

	for _, raw := range configRules {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 2)
		if len(parts) != 2 {
			continue
		}
		facet, err := model.ParseFacet(parts[0])
		if err != nil {
			continue
		}
		pattern := strings.ToLower(strings.TrimSpace(parts[1]))
		if pattern == "" {
			continue
		}
		set.rules = append(set.rules, ignoreRule{facet: facet, pattern: pattern})
	}

	for _, rule := range stored {
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
		if pattern == "" {
			continue
		}
		set.rules = append(set.rules, ignoreRule{facet: rule.Facet, pattern: pattern})
	}

	return set
}

// Match reports whether an identity is under an active ignore rule.
func (s *IgnoreSet) Match(facet model.Facet, identityKey string) bool {
	if s == nil || len(s.rules) == 0 {
		return false
	}

	identity := strings.ToLower(strings.TrimSpace(identityKey))
	if identity == "" {
		return false
	}

	for _, rule := range s.rules {
		if rule.facet != facet {
			continue
		}
		if rule.pattern == identity {
			return true
		}
		// A bare trailing star is a path prefix; filepath.Match would stop
		// the star at separators, which is wrong for registry paths.
		if prefix, ok := strings.CutSuffix(rule.pattern, "*"); ok && !strings.ContainsAny(prefix, "*?[") {
			if strings.HasPrefix(identity, prefix) {
				return true
			}
			continue
		}
		if matched, err := filepath.Match(rule.pattern, identity); err == nil && matched {
			return true
		}
	}
	return false
}

// Len reports the number of active rules.
func (s *IgnoreSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
