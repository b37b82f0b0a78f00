package assessment

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSchema picks the descriptor named by the analysis.schema setting.
// A non-empty path overrides the name and is loaded as YAML.
func ResolveSchema(name, path string) (Schema, error) {
	if path = strings.TrimSpace(path); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Schema{}, fmt.Errorf("open schema file: %w", err)
		}
		defer file.Close()
		return LoadSchema(file)
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "current":
		return DefaultSchema(), nil
	case "legacy":
		return LegacySchema(), nil
	default:
		return Schema{}, fmt.Errorf("%w: unknown schema %q", ErrInvalidSchema, name)
	}
}
