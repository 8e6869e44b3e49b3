package detect

import (
	"log"
	"sort"
	"sync"

	"github.com/bulwarkai/bulwark/pkg/patterns"
)

const evidenceLimit = 80

// Input is what every detector sees: the sanitized text plus the warnings
// the sanitizer raised while producing it.
type Input struct {
	Text              string
	SanitizerWarnings []string
}

func (in Input) hasWarning(name string) bool {
	for _, w := range in.SanitizerWarnings {
		if w == name {
			return true
		}
	}
	return false
}

// Finding is one detector's conclusion about the input. Evidence is a
// bounded snippet around the first match; callers redact it before it
// leaves the pipeline.
type Finding struct {
	Detector   string            `json:"detector"`
	Category   patterns.Category `json:"category"`
	Confidence float64           `json:"confidence"`
	PatternID  string            `json:"pattern_id"`
	Signals    []string          `json:"signals,omitempty"`
	Evidence   string            `json:"evidence,omitempty"`
	HardBlock  bool              `json:"hard_block,omitempty"`
}

// Detector is a pure function over sanitized text. Implementations must be
// total: no panics on adversarial input, and an empty slice (never nil
// semantics relied upon) when nothing matches.
type Detector interface {
	Name() string
	Detect(in Input) []Finding
}

// Run executes the set concurrently and unions the results. Detector
// order is irrelevant to the outcome; the union is sorted by detector
// name so downstream aggregation sees a deterministic sequence. A detector
// that panics contributes nothing.
func Run(detectors []Detector, in Input) []Finding {
	results := make([][]Finding, len(detectors))
	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[DETECT] detector %s panicked: %v", d.Name(), r)
				}
			}()
			results[i] = d.Detect(in)
		}(i, d)
	}
	wg.Wait()

	findings := []Finding{}
	for _, fs := range results {
		findings = append(findings, fs...)
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Detector != findings[j].Detector {
			return findings[i].Detector < findings[j].Detector
		}
		return findings[i].Confidence > findings[j].Confidence
	})
	return findings
}

// snippet extracts a bounded evidence window around the first occurrence
// of the matched region.
func snippet(text string, start, end int) string {
	lo := start - 20
	if lo < 0 {
		lo = 0
	}
	hi := end + 20
	if hi > len(text) {
		hi = len(text)
	}
	if hi-lo > evidenceLimit {
		hi = lo + evidenceLimit
	}
	for lo > 0 && text[lo]&0xC0 == 0x80 {
		lo--
	}
	for hi < len(text) && text[hi]&0xC0 == 0x80 {
		hi++
	}
	return text[lo:hi]
}
