package pii

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Category names double as the identifiers reported in verdicts.
const (
	CategorySSN        = "ssn"
	CategoryCreditCard = "credit-card"
	CategoryEmail      = "email"
	CategoryPhone      = "phone"
	CategoryCredential = "credential-token"
	CategoryKeyword    = "keyword"
)

// Overlap tie-break order when two matches have equal length. Lower wins.
var categoryPriority = map[string]int{
	CategorySSN:        0,
	CategoryCreditCard: 1,
	CategoryEmail:      2,
	CategoryPhone:      3,
	CategoryCredential: 4,
	CategoryKeyword:    5,
}

var maskFor = map[string]string{
	CategorySSN:        "[SSN_REDACTED]",
	CategoryCreditCard: "[CARD_REDACTED]",
	CategoryEmail:      "[EMAIL_REDACTED]",
	CategoryPhone:      "[PHONE_REDACTED]",
	CategoryCredential: "[TOKEN_REDACTED]",
	CategoryKeyword:    "[PII_REDACTED]",
}

// Mask returns the replacement tag used for a category.
func Mask(category string) string {
	if m, ok := maskFor[category]; ok {
		return m
	}
	return fmt.Sprintf("[%s_REDACTED]", strings.ToUpper(category))
}

type detector struct {
	category string
	regex    *regexp.Regexp
	validate func(string) bool
}

var detectors = []detector{
	{CategorySSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), nil},
	{CategoryCreditCard, regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), luhnValid},
	{CategoryEmail, regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), nil},
	{CategoryPhone, regexp.MustCompile(`(\+?1[ .-]?)?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`), nil},
	{CategoryCredential, regexp.MustCompile(`\b(sk-[a-zA-Z0-9]{20,}|ghp_[a-zA-Z0-9]{36}|AKIA[0-9A-Z]{16}|eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{5,}|xox[bpars]-[a-zA-Z0-9-]{10,})\b`), nil},
}

// Match is a single located PII occurrence in the analyzed text.
type Match struct {
	Category string
	Value    string
	Start    int
	End      int
}

// Report summarizes a scan. Categories is deduplicated and sorted; Redacted
// equals the input when masking is disabled or nothing matched.
type Report struct {
	Matches    []Match
	Categories []string
	Redacted   string
	Masked     bool
}

func (r *Report) Found() bool { return len(r.Matches) > 0 }

func (r *Report) CategoryCount() int { return len(r.Categories) }

func (r *Report) HasCategory(cat string) bool {
	for _, c := range r.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// Engine detects and optionally masks PII. Detection always runs so the
// verdict can account for exposure even when masking is switched off.
type Engine struct {
	masking  bool
	keywords []*regexp.Regexp
}

func NewEngine(masking bool, keywords []string) *Engine {
	e := &Engine{masking: masking}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			continue
		}
		e.keywords = append(e.keywords, re)
	}
	return e
}

// Scan finds all PII in text, resolves overlaps, and builds the redaction.
// Overlapping matches are resolved longest-match-wins; equal-length
// overlaps fall back to category priority.
func (e *Engine) Scan(text string) *Report {
	var raw []Match
	for _, d := range detectors {
		for _, loc := range d.regex.FindAllStringIndex(text, -1) {
			val := text[loc[0]:loc[1]]
			if d.validate != nil && !d.validate(val) {
				continue
			}
			raw = append(raw, Match{Category: d.category, Value: val, Start: loc[0], End: loc[1]})
		}
	}
	for _, re := range e.keywords {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			raw = append(raw, Match{Category: CategoryKeyword, Value: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}

	matches := resolveOverlaps(raw)

	report := &Report{Matches: matches, Redacted: text}
	seen := map[string]bool{}
	for _, m := range matches {
		if !seen[m.Category] {
			seen[m.Category] = true
			report.Categories = append(report.Categories, m.Category)
		}
	}
	sort.Strings(report.Categories)

	if e.masking && len(matches) > 0 {
		report.Redacted = applyMasks(text, matches)
		report.Masked = true
	}
	return report
}

// Redact always masks, regardless of the engine's masking setting. The
// output direction uses this to force redaction on severe exposure.
func (e *Engine) Redact(text string) (string, *Report) {
	report := e.Scan(text)
	if len(report.Matches) > 0 && !report.Masked {
		report.Redacted = applyMasks(text, report.Matches)
		report.Masked = true
	}
	return report.Redacted, report
}

// resolveOverlaps keeps, for each overlapping group, the longest match;
// ties go to the higher-priority category. Result is sorted by position.
func resolveOverlaps(raw []Match) []Match {
	if len(raw) == 0 {
		return nil
	}
	sort.Slice(raw, func(i, j int) bool {
		li, lj := raw[i].End-raw[i].Start, raw[j].End-raw[j].Start
		if li != lj {
			return li > lj
		}
		pi, pj := categoryPriority[raw[i].Category], categoryPriority[raw[j].Category]
		if pi != pj {
			return pi < pj
		}
		return raw[i].Start < raw[j].Start
	})

	var kept []Match
	for _, m := range raw {
		overlaps := false
		for _, k := range kept {
			if m.Start < k.End && k.Start < m.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

func applyMasks(text string, matches []Match) string {
	var b strings.Builder
	prev := 0
	for _, m := range matches {
		b.WriteString(text[prev:m.Start])
		b.WriteString(Mask(m.Category))
		prev = m.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

// luhnValid filters credit-card candidates: the digit count must land in
// the 13-19 range after separator stripping and pass the Luhn checksum.
func luhnValid(candidate string) bool {
	var digits []int
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
