package relayset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

// Loader handles loading and parsing of relays.yaml
type Loader struct {
	filePath string
}

// NewLoader creates a new relay-set loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the relays file. ${VAR} references are expanded from the
// environment, and every URL is normalized; invalid ones are dropped.
func (l *Loader) Load() (Sets, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return Sets{}, fmt.Errorf("failed to read relays file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var sets Sets
	if err := yaml.Unmarshal(data, &sets); err != nil {
		return Sets{}, fmt.Errorf("failed to parse relays yaml: %w", err)
	}

	sets.Bootstrap = domain.NormalizeRelayURLs(sets.Bootstrap)
	sets.Fallback = domain.NormalizeRelayURLs(sets.Fallback)
	sets.Public = domain.NormalizeRelayURLs(sets.Public)

	if len(sets.Bootstrap)+len(sets.Fallback)+len(sets.Public) == 0 {
		return Sets{}, fmt.Errorf("no valid relays found in %s", l.filePath)
	}
	return sets, nil
}
