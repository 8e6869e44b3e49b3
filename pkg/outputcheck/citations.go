package outputcheck

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/bulwarkai/bulwark/pkg/detect"
)

var (
	urlCitation   = regexp.MustCompile(`https?://[^\s<>()"'\]]+`)
	arxivCitation = regexp.MustCompile(`(?i)\barXiv:\d{4}\.\d{4,5}(v\d+)?\b`)
	doiCitation   = regexp.MustCompile(`(?i)\b(doi:|https?://doi\.org/)10\.\d{4,9}/[-._;()/:a-z0-9]+`)
)

// Domains that look like citations but are commonly fabricated or
// unverifiable in generated text.
var suspiciousDomains = []string{
	"example.com",
	"example.org",
	"test.com",
	"localhost",
	"website.com",
	"somesite.com",
	"yourdomain.com",
}

// CitationCheck validates the citations an output carries: malformed or
// suspicious-domain URLs lower trust, and vague sourced claims with no
// citation at all are flagged.
type CitationCheck struct{}

func (CitationCheck) Name() string { return "citation-check" }

func (c CitationCheck) Check(in Input) []detect.Finding {
	var signals []string
	score := 0.0

	urls := urlCitation.FindAllString(in.Text, -1)
	hasCitation := len(urls) > 0 ||
		arxivCitation.MatchString(in.Text) ||
		doiCitation.MatchString(in.Text)

	suspicious, malformed := 0, 0
	for _, raw := range urls {
		raw = strings.TrimRight(raw, ".,;")
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			malformed++
			continue
		}
		host := strings.ToLower(u.Hostname())
		for _, bad := range suspiciousDomains {
			if host == bad || strings.HasSuffix(host, "."+bad) {
				suspicious++
				break
			}
		}
	}

	if malformed > 0 {
		score += 0.3
		signals = append(signals, "malformed_url")
	}
	if suspicious > 0 {
		score += 0.5
		signals = append(signals, "suspicious_domain")
	}
	if !hasCitation && vagueAttribution.MatchString(in.Text) {
		score += 0.4
		signals = append(signals, "sourced_claim_without_citation")
	}

	if len(signals) == 0 {
		return []detect.Finding{}
	}
	if score > 1.0 {
		score = 1.0
	}
	return []detect.Finding{{
		Detector:   c.Name(),
		Category:   CategoryCitation,
		Confidence: score,
		PatternID:  signals[0],
		Signals:    signals,
	}}
}
