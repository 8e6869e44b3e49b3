package pipeline

import (
	"github.com/bulwarkai/bulwark/pkg/detect"
)

// shouldEscalate decides whether the model-assisted stage runs.
//
// Short-circuits, in order:
//   - deterministic evidence already at or above the block threshold:
//     block without paying model latency or cost
//   - nothing at all to verify (no findings, no PII, no sanitizer
//     warnings): pass without cost, even under always-verify
//
// Otherwise escalate when the always-verify policy is set or the score
// sits in the ambiguous band between the suspicion floor and the block
// threshold.
func shouldEscalate(score float64, findings []detect.Finding, piiCategories int, warnings int, floor, blockThreshold float64, alwaysVerify bool) bool {
	if score >= blockThreshold || hasHardBlock(findings) {
		return false
	}
	if len(findings) == 0 && piiCategories == 0 && warnings == 0 {
		return false
	}
	if alwaysVerify {
		return true
	}
	return score >= floor && score < blockThreshold
}

func hasHardBlock(findings []detect.Finding) bool {
	for _, f := range findings {
		if f.HardBlock {
			return true
		}
	}
	return false
}
