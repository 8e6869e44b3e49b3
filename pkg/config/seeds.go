package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SeedPattern is an extra detection pattern supplied by a deployment.
// Regex is compiled by the pattern registry at load time; a pattern that
// fails to compile is skipped with a warning, never fatal.
type SeedPattern struct {
	Name        string `yaml:"name"`
	Regex       string `yaml:"regex"`
	Category    string `yaml:"category"`
	Severity    int    `yaml:"severity"`
	Description string `yaml:"description"`
}

// Seeds holds deployment-specific detection extensions loaded from YAML.
type Seeds struct {
	// PIIKeywords are extra case-insensitive keywords flagged as the
	// "keyword" PII category (e.g. internal project codenames).
	PIIKeywords []string `yaml:"pii_keywords"`

	// Patterns are extra threat patterns merged into the registry.
	Patterns []SeedPattern `yaml:"patterns"`
}

// LoadSeeds reads every *.yaml/*.yml file in dir and merges their contents.
// A missing or empty directory yields empty Seeds, not an error.
func LoadSeeds(dir string) (*Seeds, error) {
	merged := &Seeds{}
	if dir == "" {
		return merged, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return merged, nil
		}
		return nil, fmt.Errorf("read seed dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read seed file %s: %w", entry.Name(), err)
		}
		var s Seeds
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse seed file %s: %w", entry.Name(), err)
		}
		merged.PIIKeywords = append(merged.PIIKeywords, s.PIIKeywords...)
		merged.Patterns = append(merged.Patterns, s.Patterns...)
	}

	return merged, nil
}
