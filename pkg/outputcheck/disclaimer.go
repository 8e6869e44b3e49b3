package outputcheck

import (
	"regexp"
	"strings"
)

// Disclaimer domains. A domain triggers when at least two of its keywords
// appear, so a passing mention of "doctor" alone stays untouched.
type disclaimerDomain struct {
	name     string
	keywords *regexp.Regexp
	text     string
}

var disclaimerDomains = []disclaimerDomain{
	{
		name:     "medical",
		keywords: regexp.MustCompile(`(?i)\b(diagnos\w*|symptom\w*|treatment|medication|dosage|prescri\w+|disease|illness|doctor|physician|therapy)\b`),
		text:     "This information is for general educational purposes and is not a substitute for professional medical advice. Consult a qualified healthcare provider for diagnosis or treatment.",
	},
	{
		name:     "financial",
		keywords: regexp.MustCompile(`(?i)\b(invest\w*|stock\w*|portfolio|retirement|401k|crypto\w*|dividend\w*|securities|trading|brokerage)\b`),
		text:     "This is general information, not financial advice. Consider consulting a licensed financial advisor before making investment decisions.",
	},
	{
		name:     "legal",
		keywords: regexp.MustCompile(`(?i)\b(lawsuit|contract\w*|liabilit\w*|attorney|statute\w*|litigation|legal\s+(right|obligation|action)s?|plaintiff|defendant)\b`),
		text:     "This is general information, not legal advice. Consult a licensed attorney for advice on your specific situation.",
	},
}

const minKeywordHits = 2

// Injector appends domain disclaimers to outputs that give advice in
// regulated domains. Injection is idempotent: an output that already
// carries the disclaimer is left alone.
type Injector struct{}

// Applicable returns the disclaimer texts the output calls for.
func (Injector) Applicable(text string) []string {
	var due []string
	for _, d := range disclaimerDomains {
		hits := d.keywords.FindAllString(text, minKeywordHits)
		if len(hits) >= minKeywordHits && !strings.Contains(text, d.text) {
			due = append(due, d.text)
		}
	}
	return due
}

// Inject appends the applicable disclaimers and reports whether the text
// changed.
func (i Injector) Inject(text string) (string, bool) {
	due := i.Applicable(text)
	if len(due) == 0 {
		return text, false
	}
	var b strings.Builder
	b.WriteString(text)
	for _, d := range due {
		b.WriteString("\n\n---\n")
		b.WriteString(d)
	}
	return b.String(), true
}
