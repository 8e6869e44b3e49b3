// Package patterns provides a centralized, high-performance pattern registry
// for the threat detectors and output checks. All regex patterns are compiled
// once at package init and shared across all pipeline stages.
//
// Design principles:
// - COMPILE ONCE: All patterns compiled at init, not per-request
// - DRY: Single source of truth for all security patterns
// - CATEGORIZED: Patterns organized by threat category for targeted scans
// - EXTENSIBLE: Deployments can merge YAML seed patterns at startup
package patterns

import (
	"log"
	"regexp"
	"sync"

	"github.com/bulwarkai/bulwark/pkg/config"
)

// Category represents a threat pattern category. Category values double as
// verdict block reasons, so they use the hyphenated public taxonomy.
type Category string

const (
	// Input-side categories
	CategorySQLInjection     Category = "sql-injection"
	CategoryXSS              Category = "xss"
	CategoryCommandInjection Category = "command-injection"
	CategoryPathTraversal    Category = "path-traversal"
	CategoryPromptInjection  Category = "prompt-injection"
	CategoryJailbreak        Category = "jailbreak"

	// Output-side categories
	CategoryHarmful       Category = "harmful"
	CategoryInappropriate Category = "inappropriate"
	CategorySensitive     Category = "sensitive"
	CategoryRefusal       Category = "refusal"
)

// Pattern holds a compiled regex with metadata
type Pattern struct {
	Name        string         // Stable identifier for findings and logs
	Regex       *regexp.Regexp // Compiled regex (never nil after init)
	Category    Category       // Threat category
	Severity    int            // Risk contribution (0-100)
	HardBlock   bool           // Match forces a block regardless of aggregate score
	Description string         // What this pattern detects
}

// Registry holds all compiled patterns, organized by category
type Registry struct {
	mu         sync.RWMutex
	byCategory map[Category][]*Pattern
	all        []*Pattern
}

// global singleton - initialized once at package load
var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global pattern registry (singleton).
// Thread-safe and guaranteed to be initialized.
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

// newRegistry creates and populates the pattern registry
func newRegistry() *Registry {
	r := &Registry{
		byCategory: make(map[Category][]*Pattern),
		all:        make([]*Pattern, 0, 128),
	}

	r.registerSQLInjectionPatterns()
	r.registerXSSPatterns()
	r.registerCommandInjectionPatterns()
	r.registerPathTraversalPatterns()
	r.registerPromptInjectionPatterns()
	r.registerJailbreakPatterns()
	r.registerOutputContentPatterns()
	r.registerRefusalPatterns()

	return r
}

// register adds a pattern to the registry (internal use only)
func (r *Registry) register(name string, pattern string, category Category, severity int, description string) {
	r.registerPattern(&Pattern{
		Name:        name,
		Regex:       regexp.MustCompile(pattern),
		Category:    category,
		Severity:    severity,
		Description: description,
	})
}

// registerHard adds a hard-block pattern: a single match blocks the request
// regardless of the aggregate score.
func (r *Registry) registerHard(name string, pattern string, category Category, severity int, description string) {
	r.registerPattern(&Pattern{
		Name:        name,
		Regex:       regexp.MustCompile(pattern),
		Category:    category,
		Severity:    severity,
		HardBlock:   true,
		Description: description,
	})
}

func (r *Registry) registerPattern(p *Pattern) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCategory[p.Category] = append(r.byCategory[p.Category], p)
	r.all = append(r.all, p)
}

// MergeSeeds compiles and registers deployment-specific seed patterns.
// A seed that fails to compile or names an unknown category is skipped with
// a warning; seeds must never prevent startup.
func (r *Registry) MergeSeeds(seeds []config.SeedPattern) int {
	added := 0
	for _, s := range seeds {
		compiled, err := regexp.Compile(s.Regex)
		if err != nil {
			log.Printf("[WARN] Skipping seed pattern %q: %v", s.Name, err)
			continue
		}
		cat := Category(s.Category)
		if !knownCategory(cat) {
			log.Printf("[WARN] Skipping seed pattern %q: unknown category %q", s.Name, s.Category)
			continue
		}
		r.registerPattern(&Pattern{
			Name:        s.Name,
			Regex:       compiled,
			Category:    cat,
			Severity:    s.Severity,
			Description: s.Description,
		})
		added++
	}
	return added
}

func knownCategory(c Category) bool {
	switch c {
	case CategorySQLInjection, CategoryXSS, CategoryCommandInjection,
		CategoryPathTraversal, CategoryPromptInjection, CategoryJailbreak,
		CategoryHarmful, CategoryInappropriate, CategorySensitive, CategoryRefusal:
		return true
	}
	return false
}

// GetByCategory returns all patterns for a specific category.
// Returns empty slice if category not found (never nil).
func (r *Registry) GetByCategory(cat Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if patterns, ok := r.byCategory[cat]; ok {
		return patterns
	}
	return []*Pattern{}
}

// MatchAll returns all patterns in the given categories that match the text.
// Detectors count distinct matching patterns as independent co-occurring signals.
func (r *Registry) MatchAll(text string, cats ...Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Pattern
	for _, cat := range cats {
		for _, p := range r.byCategory[cat] {
			if p.Regex.MatchString(text) {
				matches = append(matches, p)
			}
		}
	}
	return matches
}

// MatchAny checks if text matches any pattern in the given categories.
// Returns the first matching pattern or nil; optimized for early exit.
func (r *Registry) MatchAny(text string, cats ...Category) *Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cat := range cats {
		for _, p := range r.byCategory[cat] {
			if p.Regex.MatchString(text) {
				return p
			}
		}
	}
	return nil
}

// TotalPatterns returns the total count of registered patterns
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// CategoryCount returns the number of patterns in a category
func (r *Registry) CategoryCount(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCategory[cat])
}
