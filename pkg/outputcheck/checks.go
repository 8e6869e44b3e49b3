package outputcheck

import (
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bulwarkai/bulwark/pkg/detect"
	"github.com/bulwarkai/bulwark/pkg/patterns"
)

// Output-direction categories. These extend the shared taxonomy with the
// post-generation concerns that have no input-direction counterpart.
const (
	CategoryHallucination patterns.Category = "hallucination"
	CategoryToxicity      patterns.Category = "toxicity"
	CategoryTone          patterns.Category = "tone"
	CategoryCitation      patterns.Category = "citation"
)

// Moderation modes ordered from most to least strict. Raw disables
// content moderation entirely; structural checks still run.
const (
	ModeStrict   = "strict"
	ModeModerate = "moderate"
	ModeRelaxed  = "relaxed"
	ModeRaw      = "raw"
)

// Input is what every output check sees: the model's raw output plus the
// context needed to judge it.
type Input struct {
	Text           string
	OriginalPrompt string
	SourceFacts    []string
	ModerationMode string
}

// Check inspects generated output. Implementations are total and return
// an empty slice when nothing is wrong.
type Check interface {
	Name() string
	Check(in Input) []detect.Finding
}

// Run mirrors the input-direction detector runner: concurrent, panic
// isolated, deterministically ordered union.
func Run(checks []Check, in Input) []detect.Finding {
	results := make([][]detect.Finding, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[OUTPUT] check %s panicked: %v", c.Name(), r)
				}
			}()
			results[i] = c.Check(in)
		}(i, c)
	}
	wg.Wait()

	findings := []detect.Finding{}
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

// --- Hallucination cross-reference ---

var (
	numericClaim     = regexp.MustCompile(`\b\d+(\.\d+)?%?\b`)
	vagueAttribution = regexp.MustCompile(`(?i)\b(studies (show|suggest|indicate)|experts (say|agree|believe)|research (shows|proves|confirms)|it is (well[- ]known|widely accepted)|scientists have (found|discovered))\b`)
	certaintyMarker  = regexp.MustCompile(`(?i)\b(definitely|certainly|absolutely|guaranteed|always|never fails|100% (sure|certain))\b`)
)

// HallucinationCheck cross-references the output against caller-supplied
// source facts. Numeric claims absent from every source lower the support
// ratio; vague attributions and overconfident certainty markers add to
// the score even without sources.
type HallucinationCheck struct{}

func (HallucinationCheck) Name() string { return "hallucination-check" }

func (c HallucinationCheck) Check(in Input) []detect.Finding {
	var signals []string
	score := 0.0

	if len(in.SourceFacts) > 0 {
		claims := numericClaim.FindAllString(in.Text, -1)
		if len(claims) > 0 {
			sources := strings.ToLower(strings.Join(in.SourceFacts, " "))
			unsupported := 0
			for _, claim := range claims {
				if !strings.Contains(sources, strings.ToLower(strings.TrimSuffix(claim, "%"))) {
					unsupported++
				}
			}
			if unsupported > 0 {
				ratio := float64(unsupported) / float64(len(claims))
				score += 0.6 * ratio
				signals = append(signals, "unsupported_numeric_claims")
			}
		}
	}

	if loc := vagueAttribution.FindStringIndex(in.Text); loc != nil {
		score += 0.25
		signals = append(signals, "vague_attribution")
	}
	if certaintyMarker.MatchString(in.Text) {
		score += 0.15
		signals = append(signals, "overconfident_certainty")
	}

	if len(signals) == 0 {
		return []detect.Finding{}
	}
	if score > 1.0 {
		score = 1.0
	}
	return []detect.Finding{{
		Detector:   c.Name(),
		Category:   CategoryHallucination,
		Confidence: score,
		PatternID:  signals[0],
		Signals:    signals,
	}}
}

// --- Toxicity / content moderation ---

// modeWeight scales content findings per moderation mode; matched content
// that a strict deployment blocks may pass as-is in a relaxed one.
func modeWeight(mode string, cat patterns.Category) float64 {
	switch mode {
	case ModeRaw:
		return 0
	case ModeRelaxed:
		if cat == patterns.CategoryHarmful {
			return 1.0
		}
		return 0.3
	case ModeModerate:
		if cat == patterns.CategorySensitive {
			return 0.5
		}
		return 1.0
	default: // strict
		return 1.0
	}
}

// ToxicityCheck matches the harmful/inappropriate/sensitive content
// tables and scales by moderation mode.
type ToxicityCheck struct{}

func (ToxicityCheck) Name() string { return "toxicity-check" }

func (c ToxicityCheck) Check(in Input) []detect.Finding {
	if in.ModerationMode == ModeRaw {
		return []detect.Finding{}
	}

	findings := []detect.Finding{}
	for _, cat := range []patterns.Category{
		patterns.CategoryHarmful,
		patterns.CategoryInappropriate,
		patterns.CategorySensitive,
	} {
		var matched []string
		var top *patterns.Pattern
		for _, p := range patterns.Get().GetByCategory(cat) {
			if p.Regex.MatchString(in.Text) {
				matched = append(matched, p.Name)
				if top == nil || p.Severity > top.Severity {
					top = p
				}
			}
		}
		if len(matched) == 0 {
			continue
		}
		conf := (float64(top.Severity) / 100.0) * modeWeight(in.ModerationMode, cat)
		if conf <= 0 {
			continue
		}
		findings = append(findings, detect.Finding{
			Detector:   c.Name(),
			Category:   CategoryToxicity,
			Confidence: conf,
			PatternID:  top.Name,
			Signals:    matched,
		})
	}
	return findings
}

// --- Tone ---

var (
	shouting     = regexp.MustCompile(`\b[A-Z]{4,}(\s+[A-Z]{4,}){2,}\b`)
	exclamations = regexp.MustCompile(`!{2,}`)
	dismissive   = regexp.MustCompile(`(?i)\b(obviously|clearly you|as I already said|like I said before|you should know)\b`)
	hostile      = regexp.MustCompile(`(?i)\b(stupid|idiotic|ridiculous question|waste of (my )?time)\b`)
)

// ToneCheck flags unprofessional register: shouting, stacked
// exclamations, dismissive or hostile phrasing.
type ToneCheck struct{}

func (ToneCheck) Name() string { return "tone-check" }

func (c ToneCheck) Check(in Input) []detect.Finding {
	if in.ModerationMode == ModeRaw {
		return []detect.Finding{}
	}

	var signals []string
	score := 0.0
	if hostile.MatchString(in.Text) {
		score += 0.5
		signals = append(signals, "hostile_phrasing")
	}
	if dismissive.MatchString(in.Text) {
		score += 0.3
		signals = append(signals, "dismissive_phrasing")
	}
	if shouting.MatchString(in.Text) {
		score += 0.25
		signals = append(signals, "sustained_capitals")
	}
	if exclamations.MatchString(in.Text) {
		score += 0.15
		signals = append(signals, "stacked_exclamations")
	}

	if len(signals) == 0 {
		return []detect.Finding{}
	}
	if score > 1.0 {
		score = 1.0
	}
	return []detect.Finding{{
		Detector:   c.Name(),
		Category:   CategoryTone,
		Confidence: score,
		PatternID:  signals[0],
		Signals:    signals,
	}}
}

// --- Refusal detection ---

// RefusalCheck is informational: it never contributes to blocking but
// lets callers distinguish "the model declined" from "the model answered".
type RefusalCheck struct{}

func (RefusalCheck) Name() string { return "refusal-check" }

func (c RefusalCheck) Check(in Input) []detect.Finding {
	var matched []string
	for _, p := range patterns.Get().GetByCategory(patterns.CategoryRefusal) {
		if p.Regex.MatchString(in.Text) {
			matched = append(matched, p.Name)
		}
	}
	if len(matched) < 2 {
		// a single phrase like "I can't say for sure" is normal hedging
		return []detect.Finding{}
	}
	return []detect.Finding{{
		Detector:   c.Name(),
		Category:   patterns.CategoryRefusal,
		Confidence: 0,
		PatternID:  matched[0],
		Signals:    matched,
	}}
}
