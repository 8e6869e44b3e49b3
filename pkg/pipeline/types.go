package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/bulwarkai/bulwark/pkg/config"
	"github.com/bulwarkai/bulwark/pkg/detect"
)

// Direction selects which half of the pipeline a request flows through.
type Direction string

const (
	DirectionInput  Direction = "input"  // user prompt, pre-model
	DirectionOutput Direction = "output" // model response, post-generation
)

// AnalysisRequest is created per call and discarded after verdict
// production. No stage retains any of it across calls.
type AnalysisRequest struct {
	ID        string
	AppID     string
	Direction Direction
	Text      string

	// Client metadata, supplied by the caller for audit context.
	Origin    string
	UserAgent string

	// Output direction only.
	OriginalPrompt string
	SourceFacts    []string

	// Per-call feature overrides; merged over the app's stored config.
	FeatureOverrides map[string]config.FeatureSetting

	ReceivedAt time.Time
}

// NewRequest stamps an ID and timestamp onto a request.
func NewRequest(appID string, direction Direction, text string) *AnalysisRequest {
	return &AnalysisRequest{
		ID:         uuid.NewString(),
		AppID:      appID,
		Direction:  direction,
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	}
}

// PIIFinding is the audit record of one detected PII span. It carries the
// span location and mask tag, never the raw value.
type PIIFinding struct {
	Category string `json:"category"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Mask     string `json:"mask"`
}

// Verdict is the pipeline's structured answer. It is always produced:
// stage failures degrade to conservative findings, never to a missing
// verdict. A deterministic (non-model) path yields byte-identical Verdicts
// for the same request, so timings live in telemetry and the audit trail,
// not here.
type Verdict struct {
	RequestID string    `json:"request_id"`
	Direction Direction `json:"direction"`

	IsBlocked     bool    `json:"is_blocked"`
	BlockReason   string  `json:"block_reason,omitempty"`
	CombinedScore float64 `json:"combined_score"`

	Escalated     bool `json:"escalated"`
	ModelStageRan bool `json:"model_stage_ran"`

	Findings          []detect.Finding `json:"findings,omitempty"`
	PIIFindings       []PIIFinding     `json:"pii_findings,omitempty"`
	PIICategories     []string         `json:"pii_categories,omitempty"`
	SanitizerWarnings []string         `json:"sanitizer_warnings,omitempty"`

	// RedactedText is the PII-masked input (input direction) or the
	// remediated response (output direction).
	RedactedText string `json:"redacted_text,omitempty"`

	// Output direction: the remediation applied when checks flagged the
	// response, and whether the model refused to answer.
	Remediation config.RemediationAction `json:"remediation,omitempty"`
	Refusal     bool                     `json:"refusal,omitempty"`
}
