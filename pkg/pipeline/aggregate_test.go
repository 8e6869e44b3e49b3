package pipeline

import (
	"testing"

	"github.com/bulwarkai/bulwark/pkg/detect"
	"github.com/bulwarkai/bulwark/pkg/patterns"
)

func TestAggregateMaxConfidenceWins(t *testing.T) {
	findings := []detect.Finding{
		{Category: patterns.CategoryXSS, Confidence: 0.45},
		{Category: patterns.CategorySQLInjection, Confidence: 0.90},
	}
	score, blocked, reason := aggregate(findings, 0, 0.05, 0.70)
	if score != 0.90 {
		t.Errorf("score = %v, want 0.90", score)
	}
	if !blocked || reason != "sql-injection" {
		t.Errorf("blocked=%v reason=%q", blocked, reason)
	}
}

func TestAggregatePIIIncrement(t *testing.T) {
	findings := []detect.Finding{{Category: patterns.CategoryXSS, Confidence: 0.62}}
	score, blocked, _ := aggregate(findings, 2, 0.05, 0.70)
	if score < 0.7199 || score > 0.7201 {
		t.Errorf("score = %v, want 0.72", score)
	}
	if !blocked {
		t.Error("pii increment did not push score over threshold")
	}
}

func TestAggregatePIIAloneNeverBlocks(t *testing.T) {
	score, blocked, reason := aggregate(nil, 6, 0.2, 0.70)
	if score != 1.0 {
		t.Errorf("score = %v, want clamped 1.0", score)
	}
	if blocked || reason != "" {
		t.Errorf("pii-only input blocked: reason=%q", reason)
	}
}

func TestAggregateTieIsMultipleIndicators(t *testing.T) {
	findings := []detect.Finding{
		{Category: patterns.CategorySQLInjection, Confidence: 0.80},
		{Category: patterns.CategoryXSS, Confidence: 0.80},
	}
	_, blocked, reason := aggregate(findings, 0, 0.05, 0.70)
	if !blocked || reason != BlockReasonMultiple {
		t.Errorf("blocked=%v reason=%q, want %q", blocked, reason, BlockReasonMultiple)
	}
}

func TestAggregateSameCategoryTieIsNotMultiple(t *testing.T) {
	findings := []detect.Finding{
		{Category: patterns.CategorySQLInjection, Confidence: 0.80},
		{Category: patterns.CategorySQLInjection, Confidence: 0.80},
	}
	_, blocked, reason := aggregate(findings, 0, 0.05, 0.70)
	if !blocked || reason != "sql-injection" {
		t.Errorf("reason = %q, want sql-injection", reason)
	}
}

func TestAggregateHardBlockIgnoresScore(t *testing.T) {
	findings := []detect.Finding{
		{Category: patterns.CategoryCommandInjection, Confidence: 0.30, HardBlock: true},
	}
	_, blocked, reason := aggregate(findings, 0, 0.05, 0.99)
	if !blocked || reason != "command-injection" {
		t.Errorf("hard block not honored: blocked=%v reason=%q", blocked, reason)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	findings := []detect.Finding{
		{Category: patterns.CategoryJailbreak, Confidence: 0.75},
		{Category: patterns.CategoryPromptInjection, Confidence: 0.75},
		{Category: patterns.CategoryXSS, Confidence: 0.40},
	}
	_, _, first := aggregate(findings, 1, 0.05, 0.70)
	for i := 0; i < 50; i++ {
		_, _, again := aggregate(findings, 1, 0.05, 0.70)
		if again != first {
			t.Fatalf("aggregate not deterministic: %q vs %q", again, first)
		}
	}
	if first != BlockReasonMultiple {
		t.Errorf("reason = %q", first)
	}
}

func TestShouldEscalateBand(t *testing.T) {
	finding := []detect.Finding{{Category: patterns.CategorySQLInjection, Confidence: 0.30}}

	if !shouldEscalate(0.30, finding, 0, 0, 0.25, 0.70, false) {
		t.Error("ambiguous band did not escalate")
	}
	if shouldEscalate(0.90, finding, 0, 0, 0.25, 0.70, false) {
		t.Error("above-threshold score escalated instead of short-circuit block")
	}
	if shouldEscalate(0.10, finding, 0, 0, 0.25, 0.70, false) {
		t.Error("below-floor score escalated")
	}
	if shouldEscalate(0.0, nil, 0, 0, 0.25, 0.70, true) {
		t.Error("always-verify escalated with zero evidence")
	}
	if !shouldEscalate(0.10, finding, 0, 0, 0.25, 0.70, true) {
		t.Error("always-verify did not escalate below floor with evidence present")
	}
	hard := []detect.Finding{{Category: patterns.CategoryCommandInjection, Confidence: 0.30, HardBlock: true}}
	if shouldEscalate(0.30, hard, 0, 0, 0.25, 0.70, false) {
		t.Error("hard-block finding escalated")
	}
}
