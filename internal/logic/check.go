package logic

import (
	"errors"
	"fmt"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/filter"
	"github.com/idelchi/vaultseal/pkg/pathmatch"
)

// ErrUnmatchedPatterns is returned when a pattern matches nothing.
var ErrUnmatchedPatterns = errors.New("patterns matched no files")

// RunCheck validates that every exclude and skip-dir pattern matches at least one path
// under the roots.
func RunCheck(env Env, cfg *config.Config) error {
	excludes, err := loadExcludes(cfg)
	if err != nil {
		return err
	}

	if len(excludes) == 0 && len(cfg.SkipDir) == 0 {
		return errors.New("no exclude or skip-dir patterns to check")
	}

	var candidates []string

	for _, root := range cfg.Files {
		paths, err := filter.Paths(root)
		if err != nil {
			return err
		}

		candidates = append(candidates, paths...)
	}

	var failures int

	failures += checkPatterns(env, "exclude", excludes, candidates, cfg.Quiet)
	failures += checkPatterns(env, "skip-dir", cfg.SkipDir, candidates, cfg.Quiet)

	if failures > 0 {
		return fmt.Errorf("%w: %d", ErrUnmatchedPatterns, failures)
	}

	return nil
}

// checkPatterns tests each pattern individually against candidates.
// Returns the number of patterns that matched zero paths.
func checkPatterns(env Env, kind string, patterns, candidates []string, quiet bool) int {
	var failures int

	for _, pattern := range patterns {
		matcher, err := pathmatch.NewMatcher([]string{pattern})
		if err != nil {
			fmt.Fprintf(env.Err, "%s: %s: invalid pattern: %v\n", kind, pattern, err)

			failures++

			continue
		}

		var count int

		for _, path := range candidates {
			if matcher.MatchAny(path) {
				count++
			}
		}

		if count == 0 {
			fmt.Fprintf(env.Err, "%s: %s: 0 paths (ERROR)\n", kind, pattern)

			failures++
		} else if !quiet {
			fmt.Fprintf(env.Err, "%s: %s: %d paths\n", kind, pattern, count)
		}
	}

	return failures
}
