package detect

import (
	"github.com/bulwarkai/bulwark/pkg/patterns"
	"github.com/bulwarkai/bulwark/pkg/sanitize"
)

// Per-signal confidence weights. Confidence grows monotonically with the
// number of distinct co-occurring signals and saturates at 1.0.
const (
	defaultSignalWeight   = 0.30
	traversalSignalWeight = 0.40
	metacharOnlyScore     = 0.25
	comboFloor            = 0.80
	warningBoost          = 0.15
)

// matchResult collects the distinct patterns of one category that fired.
type matchResult struct {
	signals   []string
	top       *patterns.Pattern // highest severity match
	firstLoc  [2]int
	hardBlock bool
}

func matchCategory(text string, cat patterns.Category) matchResult {
	res := matchResult{firstLoc: [2]int{-1, -1}}
	for _, p := range patterns.Get().GetByCategory(cat) {
		loc := p.Regex.FindStringIndex(text)
		if loc == nil {
			continue
		}
		res.signals = append(res.signals, p.Name)
		if res.top == nil || p.Severity > res.top.Severity {
			res.top = p
		}
		if res.firstLoc[0] == -1 || loc[0] < res.firstLoc[0] {
			res.firstLoc = [2]int{loc[0], loc[1]}
		}
		if p.HardBlock {
			res.hardBlock = true
		}
	}
	return res
}

func clamp01(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}

func (r matchResult) finding(name string, cat patterns.Category, confidence float64, text string) []Finding {
	if len(r.signals) == 0 {
		return []Finding{}
	}
	f := Finding{
		Detector:   name,
		Category:   cat,
		Confidence: clamp01(confidence),
		PatternID:  r.top.Name,
		Signals:    r.signals,
		HardBlock:  r.hardBlock,
	}
	if r.hardBlock {
		f.Confidence = 1.0
	}
	if r.firstLoc[0] >= 0 {
		f.Evidence = snippet(text, r.firstLoc[0], r.firstLoc[1])
	}
	return []Finding{f}
}

// --- SQL injection ---

type SQLInjectionDetector struct{}

func (SQLInjectionDetector) Name() string { return "sql-injection-detector" }

func (d SQLInjectionDetector) Detect(in Input) []Finding {
	res := matchCategory(in.Text, patterns.CategorySQLInjection)
	conf := defaultSignalWeight * float64(len(res.signals))
	return res.finding(d.Name(), patterns.CategorySQLInjection, conf, in.Text)
}

// --- XSS ---

// XSSDetector raises confidence when structural markers co-occur with the
// sanitizer having had to escape HTML in the first place.
type XSSDetector struct{}

func (XSSDetector) Name() string { return "xss-detector" }

func (d XSSDetector) Detect(in Input) []Finding {
	res := matchCategory(in.Text, patterns.CategoryXSS)
	conf := defaultSignalWeight * float64(len(res.signals))
	if len(res.signals) > 0 && in.hasWarning(sanitize.WarningHTMLEscaped) {
		conf += warningBoost
	}
	return res.finding(d.Name(), patterns.CategoryXSS, conf, in.Text)
}

// --- Command injection ---

// CommandInjectionDetector scores metacharacters and command tokens
// differently: a metacharacter alone stays low, a metacharacter plus a
// command token jumps to high confidence. Destructive tokens hard-block.
type CommandInjectionDetector struct{}

func (CommandInjectionDetector) Name() string { return "command-injection-detector" }

func (d CommandInjectionDetector) Detect(in Input) []Finding {
	res := matchCategory(in.Text, patterns.CategoryCommandInjection)
	if len(res.signals) == 0 {
		return []Finding{}
	}

	metachars, tokens := 0, 0
	for _, name := range res.signals {
		switch name {
		case "cmd_metacharacter", "cmd_chaining", "cmd_substitution", "cmd_redirection":
			metachars++
		default:
			tokens++
		}
	}

	var conf float64
	switch {
	case tokens == 0:
		conf = metacharOnlyScore
	case metachars == 0:
		conf = defaultSignalWeight * float64(tokens)
	default:
		conf = defaultSignalWeight * float64(len(res.signals))
		if conf < comboFloor {
			conf = comboFloor
		}
	}
	return res.finding(d.Name(), patterns.CategoryCommandInjection, conf, in.Text)
}

// --- Path traversal ---

// PathTraversalDetector weights each signal higher than the other
// detectors and counts the sanitizer's traversal flag as a signal of its
// own, so an encoded sequence the patterns miss still registers.
type PathTraversalDetector struct{}

func (PathTraversalDetector) Name() string { return "path-traversal-detector" }

func (d PathTraversalDetector) Detect(in Input) []Finding {
	res := matchCategory(in.Text, patterns.CategoryPathTraversal)
	signals := len(res.signals)
	if in.hasWarning(sanitize.WarningTraversal) && signals > 0 {
		signals++
	}
	conf := traversalSignalWeight * float64(signals)
	return res.finding(d.Name(), patterns.CategoryPathTraversal, conf, in.Text)
}

// --- Prompt injection ---

type PromptInjectionDetector struct{}

func (PromptInjectionDetector) Name() string { return "prompt-injection-detector" }

func (d PromptInjectionDetector) Detect(in Input) []Finding {
	res := matchCategory(in.Text, patterns.CategoryPromptInjection)
	conf := defaultSignalWeight * float64(len(res.signals))
	// single override phrase is already strong evidence
	if len(res.signals) == 1 && res.top.Severity >= 80 {
		conf = 0.60
	}
	return res.finding(d.Name(), patterns.CategoryPromptInjection, conf, in.Text)
}

// --- Jailbreak ---

type JailbreakDetector struct{}

func (JailbreakDetector) Name() string { return "jailbreak-detector" }

func (d JailbreakDetector) Detect(in Input) []Finding {
	res := matchCategory(in.Text, patterns.CategoryJailbreak)
	conf := defaultSignalWeight * float64(len(res.signals))
	if len(res.signals) == 1 && res.top.Severity >= 85 {
		conf = 0.60
	}
	return res.finding(d.Name(), patterns.CategoryJailbreak, conf, in.Text)
}

// DefaultSet returns the full deterministic detector set in its canonical
// order. The set is fixed at compile time; per-app configuration filters
// it by feature name at request time.
func DefaultSet() []Detector {
	return []Detector{
		SQLInjectionDetector{},
		XSSDetector{},
		CommandInjectionDetector{},
		PathTraversalDetector{},
		PromptInjectionDetector{},
		JailbreakDetector{},
	}
}
