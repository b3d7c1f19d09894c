// Package pathmatch matches slash-separated relative paths against exclusion patterns.
//
// Two kinds of patterns are supported:
//   - a pattern without a slash matches any single element of the path, so ".git"
//     matches ".git/config" and "notes/.git/HEAD", and "*.tmp" matches "a/b.tmp"
//   - a pattern with a slash is matched against the path and each of its parent
//     directories using doublestar syntax, where "**" crosses directory boundaries
//
// A leading "./" and a trailing "/" are ignored.
package pathmatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrBadPattern is returned for syntactically invalid patterns.
var ErrBadPattern = errors.New("invalid pattern")

// Match reports whether path matches pattern.
func Match(pattern, path string) (bool, error) {
	pattern, err := normalize(pattern)
	if err != nil {
		return false, err
	}

	return match(pattern, path), nil
}

// Matcher holds validated patterns for reuse across many paths.
type Matcher struct {
	patterns []string
}

// NewMatcher validates the given patterns into a reusable matcher.
func NewMatcher(patterns []string) (*Matcher, error) {
	matcher := &Matcher{patterns: make([]string, len(patterns))}

	for idx, p := range patterns {
		normalized, err := normalize(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}

		matcher.patterns[idx] = normalized
	}

	return matcher, nil
}

// MatchAny reports whether path matches any of the patterns.
func (m *Matcher) MatchAny(path string) bool {
	for _, p := range m.patterns {
		if match(p, path) {
			return true
		}
	}

	return false
}

func normalize(pattern string) (string, error) {
	pattern = strings.TrimPrefix(pattern, "./")
	pattern = strings.TrimSuffix(pattern, "/")

	if pattern == "" {
		return "", fmt.Errorf("%w: empty", ErrBadPattern)
	}

	if !doublestar.ValidatePattern(pattern) {
		return "", fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}

	return pattern, nil
}

func match(pattern, path string) bool {
	path = strings.TrimPrefix(path, "./")

	if !strings.Contains(pattern, "/") {
		for _, element := range strings.Split(path, "/") {
			if ok, _ := doublestar.Match(pattern, element); ok {
				return true
			}
		}

		return false
	}

	// The path itself, then every parent directory.
	for candidate := path; candidate != ""; {
		if ok, _ := doublestar.Match(pattern, candidate); ok {
			return true
		}

		idx := strings.LastIndex(candidate, "/")
		if idx < 0 {
			break
		}

		candidate = candidate[:idx]
	}

	return false
}
