package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aiteam/mindbus/core"
)

// LoadProcessCard reads and validates a Process Card from a YAML file. A
// card that fails validation here never runs.
func LoadProcessCard(path string) (*core.ProcessCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading process card %s: %w", path, err)
	}
	return ParseProcessCard(data)
}

// ParseProcessCard parses and validates a Process Card from raw YAML bytes.
func ParseProcessCard(data []byte) (*core.ProcessCard, error) {
	var card core.ProcessCard
	if err := yaml.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("parsing process card yaml: %w", err)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}
