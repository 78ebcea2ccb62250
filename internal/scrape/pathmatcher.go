package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip downloads and sign-in walls, which never
// carry readable vendor facts.
var defaultExcludePatterns = []string{
	"/*.pdf",
	"/*.zip",
	"/*.dmg",
	"/*.exe",
	"/login/*",
	"/signin/*",
	"/sign-in/*",
	"/auth/*",
}

type pathRule struct {
	glob string
	// tree is set for "/dir/*" rules, which also cover "/dir" and any depth below it.
	tree string
}

// PathMatcher rejects vendor URLs whose path matches one of its glob rules.
// Matching is case-insensitive; a trailing "/*" covers the whole subtree.
type PathMatcher struct {
	patterns []string
	rules    []pathRule
}

// NewPathMatcher compiles patterns such as "/login/*" or "/*.pdf". An empty
// list selects the default download and sign-in rules.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	m := &PathMatcher{patterns: patterns, rules: make([]pathRule, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		r := pathRule{glob: p}
		if dir, ok := strings.CutSuffix(p, "/*"); ok {
			r.tree = dir
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL should not be fetched. Unparseable URLs
// and non-web schemes are always excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, r := range m.rules {
		if r.matches(p) {
			return true
		}
	}
	return false
}

func (r pathRule) matches(p string) bool {
	if ok, _ := path.Match(r.glob, p); ok {
		return true
	}
	if r.tree == "" {
		return false
	}
	return p == r.tree || strings.HasPrefix(p, r.tree+"/")
}
