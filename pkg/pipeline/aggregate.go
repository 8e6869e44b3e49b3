package pipeline

import (
	"github.com/bulwarkai/bulwark/pkg/detect"
	"github.com/bulwarkai/bulwark/pkg/outputcheck"
	"github.com/bulwarkai/bulwark/pkg/patterns"
)

// BlockReasonMultiple is the fixed reason when more than one category is
// tied at the maximum confidence.
const BlockReasonMultiple = "multiple indicators"

// Fixed category precedence for deterministic tie-breaking. Lower wins.
var categoryPriority = map[patterns.Category]int{
	patterns.CategorySQLInjection:     0,
	patterns.CategoryXSS:              1,
	patterns.CategoryCommandInjection: 2,
	patterns.CategoryPathTraversal:    3,
	patterns.CategoryPromptInjection:  4,
	patterns.CategoryJailbreak:        5,
	patterns.CategoryHarmful:          6,
	outputcheck.CategoryToxicity:      7,
	outputcheck.CategoryHallucination: 8,
	outputcheck.CategoryTone:          9,
	outputcheck.CategoryCitation:      10,
}

func priorityOf(cat patterns.Category) int {
	if p, ok := categoryPriority[cat]; ok {
		return p
	}
	return len(categoryPriority)
}

// aggregate combines findings and PII exposure into the verdict's score
// and block decision.
//
// Combined score = max finding confidence + a fixed increment per distinct
// PII category. PII alone never blocks by default, it only raises the
// score. Blocking happens at or above the threshold, or unconditionally on
// a hard-block finding.
func aggregate(findings []detect.Finding, piiCategories int, piiIncrement, blockThreshold float64) (score float64, blocked bool, reason string) {
	maxConf := 0.0
	hard := false
	var hardCat patterns.Category
	for _, f := range findings {
		if f.Confidence > maxConf {
			maxConf = f.Confidence
		}
		if f.HardBlock && !hard {
			hard = true
			hardCat = f.Category
		}
	}

	score = maxConf + piiIncrement*float64(piiCategories)
	if score > 1.0 {
		score = 1.0
	}

	if hard {
		return score, true, string(hardCat)
	}
	if maxConf == 0 {
		// PII exposure alone: report the score but never block
		return score, false, ""
	}

	if score >= blockThreshold {
		return score, true, blockReason(findings, maxConf)
	}
	return score, false, ""
}

// blockReason names the highest-confidence category, or the fixed
// multiple-indicators string when several categories tie at the maximum.
// Within a single category, duplicate findings do not count as a tie.
func blockReason(findings []detect.Finding, maxConf float64) string {
	tied := map[patterns.Category]bool{}
	var top patterns.Category
	topSet := false
	for _, f := range findings {
		if f.Confidence != maxConf {
			continue
		}
		tied[f.Category] = true
		if !topSet || priorityOf(f.Category) < priorityOf(top) {
			top = f.Category
			topSet = true
		}
	}
	if len(tied) > 1 {
		return BlockReasonMultiple
	}
	return string(top)
}
