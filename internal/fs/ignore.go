package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory pattern file honoured when a save
// directory is archived.
const IgnoreFileName = ".savesyncignore"

// globPattern is a parsed pattern with its matching strategy.
type globPattern struct {
	pattern   string
	matchPath bool // true = match against the full slash path; false = basename only
}

// GlobMatcher checks slash or OS paths against a set of glob patterns.
// Patterns without '/' match against the basename only.
// Patterns with '/' match against the full relative path (or remote key).
type GlobMatcher struct {
	patterns []globPattern
}

// NewGlobMatcher creates a GlobMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewGlobMatcher(rawPatterns []string) *GlobMatcher {
	var patterns []globPattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = filepath.ToSlash(raw)
		patterns = append(patterns, globPattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &GlobMatcher{patterns: patterns}
}

// Empty reports whether the matcher has no patterns.
func (m *GlobMatcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

// Match reports whether p matches any pattern.
func (m *GlobMatcher) Match(p string) bool {
	if m.Empty() {
		return false
	}

	normalized := filepath.ToSlash(p)
	basename := path.Base(normalized)

	for _, gp := range m.patterns {
		var matched bool
		var err error
		if gp.matchPath {
			matched, err = path.Match(gp.pattern, normalized)
		} else {
			matched, err = path.Match(gp.pattern, basename)
		}
		if err != nil {
			// Bad pattern, never matches.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// ParsePatternFile reads a pattern file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParsePatternFile(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening pattern file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading pattern file: %w", err)
	}
	return patterns, nil
}
