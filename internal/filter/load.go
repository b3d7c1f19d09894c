package filter

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/idelchi/vaultseal/pkg/pathmatch"
)

// LoadPatterns reads a JSONC array of exclude patterns. Blank entries are dropped and
// the rest must be valid patterns.
func LoadPatterns(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from user-supplied config
	if err != nil {
		return nil, fmt.Errorf("reading patterns file %q: %w", path, err)
	}

	var raw []string
	if err := json.Unmarshal(jsonc.ToJSONInPlace(data), &raw); err != nil {
		return nil, fmt.Errorf("parsing patterns file %q: %w", path, err)
	}

	patterns := make([]string, 0, len(raw))

	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}

	if _, err := pathmatch.NewMatcher(patterns); err != nil {
		return nil, fmt.Errorf("patterns file %q: %w", path, err)
	}

	return patterns, nil
}
