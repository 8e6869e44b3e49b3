package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Warning names emitted by the sanitizer. Downstream detectors read these
// to boost confidence (e.g. the XSS detector on WarningHTMLEscaped).
const (
	WarningNullBytes     = "null_bytes_removed"
	WarningControlChars  = "control_chars_removed"
	WarningTraversal     = "path_traversal_sequence"
	WarningHTMLEscaped   = "html_entities_escaped"
	WarningTruncated     = "input_truncated"
	WarningNormalization = "unicode_normalized"
)

var traversalSequences = []*regexp.Regexp{
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`\.\.\\`),
	regexp.MustCompile(`(?i)%2e%2e(%2f|%5c|/)`),
	regexp.MustCompile(`(?i)\.\.(%2f|%5c)`),
	regexp.MustCompile(`(?i)\.\.(%c0%af|%c1%9c)`),
}

// Result carries the cleaned text plus everything the cleaning changed.
// Traversal sequences are flagged but never removed: downstream detectors
// need to see them.
type Result struct {
	Text      string
	Original  string
	Warnings  []string
	Truncated bool
}

func (r *Result) HasWarning(name string) bool {
	for _, w := range r.Warnings {
		if w == name {
			return true
		}
	}
	return false
}

// Sanitizer normalizes raw text before detection. The transform order is
// fixed: NFKC-normalize, strip null/control characters, flag traversal
// sequences, HTML-escape, truncate. Truncation runs last so the output
// length bound holds even after escaping expands the text.
type Sanitizer struct {
	maxLength int
}

func New(maxLength int) *Sanitizer {
	if maxLength <= 0 {
		maxLength = 10000
	}
	return &Sanitizer{maxLength: maxLength}
}

func (s *Sanitizer) Sanitize(input string) *Result {
	res := &Result{Original: input}
	text := input

	if normalized := norm.NFKC.String(text); normalized != text {
		text = normalized
		res.Warnings = append(res.Warnings, WarningNormalization)
	}

	if strings.ContainsRune(text, 0) {
		text = strings.ReplaceAll(text, "\x00", "")
		res.Warnings = append(res.Warnings, WarningNullBytes)
	}

	if cleaned := stripControl(text); cleaned != text {
		text = cleaned
		res.Warnings = append(res.Warnings, WarningControlChars)
	}

	for _, re := range traversalSequences {
		if re.MatchString(text) {
			res.Warnings = append(res.Warnings, WarningTraversal)
			break
		}
	}

	if escaped := html.EscapeString(text); escaped != text {
		text = escaped
		res.Warnings = append(res.Warnings, WarningHTMLEscaped)
	}

	if len(text) > s.maxLength {
		text = trimPartialEntity(truncateValid(text, s.maxLength))
		res.Truncated = true
		res.Warnings = append(res.Warnings, WarningTruncated)
	}

	res.Text = text
	return res
}

// stripControl removes control characters except tab, LF, and CR.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// truncateValid cuts at maxLen bytes without splitting a UTF-8 sequence.
func truncateValid(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// trimPartialEntity drops a trailing entity the truncation cut in half.
// Escaping ran already, so any remaining ampersand starts an entity; the
// longest one emitted is five bytes.
func trimPartialEntity(s string) string {
	for i := len(s) - 1; i >= 0 && i >= len(s)-5; i-- {
		switch s[i] {
		case ';':
			return s
		case '&':
			return s[:i]
		}
	}
	return s
}
