package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/bulwarkai/bulwark/pkg/audit"
	"github.com/bulwarkai/bulwark/pkg/config"
	"github.com/bulwarkai/bulwark/pkg/detect"
	"github.com/bulwarkai/bulwark/pkg/httputil"
	"github.com/bulwarkai/bulwark/pkg/ml"
	"github.com/bulwarkai/bulwark/pkg/outputcheck"
	"github.com/bulwarkai/bulwark/pkg/patterns"
	"github.com/bulwarkai/bulwark/pkg/pii"
	"github.com/bulwarkai/bulwark/pkg/sanitize"
	"github.com/bulwarkai/bulwark/pkg/telemetry"
)

// FeatureResolver returns the effective feature set for an app. The
// default resolver ignores the app ID and returns process-wide defaults.
type FeatureResolver func(ctx context.Context, appID string) config.FeatureConfig

// Engine runs both pipeline directions. It holds only read-only state
// (configuration, compiled patterns, shared clients), so one Engine
// serves arbitrary concurrency.
type Engine struct {
	cfg        *config.Config
	sanitizer  *sanitize.Sanitizer
	piiEngine  *pii.Engine
	piiScanner *pii.Engine // detection-only twin for masking-disabled paths
	detectors  []detect.Detector
	checks     []outputcheck.Check
	injector   outputcheck.Injector

	analyzer *ml.ModelAnalyzer
	semantic *ml.SemanticDetector
	local    *ml.LocalDetector
	modelSem *httputil.Semaphore

	features FeatureResolver
	sink     audit.Sink
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithAnalyzer attaches the model-assisted stage.
func WithAnalyzer(a *ml.ModelAnalyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// WithSemanticDetector attaches embedding-similarity detection.
func WithSemanticDetector(sd *ml.SemanticDetector) Option {
	return func(e *Engine) { e.semantic = sd }
}

// WithLocalDetector attaches the local ONNX classifier.
func WithLocalDetector(d *ml.LocalDetector) Option {
	return func(e *Engine) { e.local = d }
}

// WithFeatureResolver attaches per-app feature resolution.
func WithFeatureResolver(r FeatureResolver) Option {
	return func(e *Engine) { e.features = r }
}

// WithAuditSink attaches verdict persistence.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// New builds an Engine from config. Seed files extend the PII keyword
// list and the pattern registry before the first request.
func New(cfg *config.Config, opts ...Option) *Engine {
	var keywords []string
	if cfg.SeedDir != "" {
		seeds, err := config.LoadSeeds(cfg.SeedDir)
		if err != nil {
			log.Printf("[STARTUP] seed load failed: %v", err)
		} else {
			keywords = seeds.PIIKeywords
			if n := patterns.Get().MergeSeeds(seeds.Patterns); n > 0 {
				log.Printf("[STARTUP] merged %d seed patterns", n)
			}
		}
	}

	e := &Engine{
		cfg:        cfg,
		sanitizer:  sanitize.New(cfg.MaxInputLength),
		piiEngine:  pii.NewEngine(cfg.PIIMaskingEnabled, keywords),
		piiScanner: pii.NewEngine(false, keywords),
		detectors:  detect.DefaultSet(),
		checks: []outputcheck.Check{
			outputcheck.HallucinationCheck{},
			outputcheck.ToxicityCheck{},
			outputcheck.ToneCheck{},
			outputcheck.CitationCheck{},
			outputcheck.RefusalCheck{},
		},
		modelSem: httputil.NewSemaphore(cfg.MaxConcurrentModelCalls),
		features: func(context.Context, string) config.FeatureConfig { return cfg.Features },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// detectorFeature maps detector names to their feature toggle.
var detectorFeature = map[string]string{
	"sql-injection-detector":     config.FeatureSQLInjection,
	"xss-detector":               config.FeatureXSS,
	"command-injection-detector": config.FeatureCommandInjection,
	"path-traversal-detector":    config.FeaturePathTraversal,
	"prompt-injection-detector":  config.FeaturePromptInjection,
	"jailbreak-detector":         config.FeaturePromptInjection,
}

// checkFeature maps output checks to their feature toggle.
var checkFeature = map[string]string{
	"hallucination-check": config.FeatureHallucination,
	"toxicity-check":      config.FeatureToxicity,
	"tone-check":          config.FeatureTone,
	"citation-check":      config.FeatureCitation,
	"refusal-check":       config.FeatureRefusal,
}

// AnalyzeInput runs the inbound pipeline. It always returns a Verdict;
// internal stage failures degrade to conservative findings.
func (e *Engine) AnalyzeInput(ctx context.Context, req *AnalysisRequest) *Verdict {
	start := time.Now()
	features := e.resolveFeatures(ctx, req)
	verdict := &Verdict{RequestID: req.ID, Direction: DirectionInput}

	// Sanitizer
	stageStart := time.Now()
	text := req.Text
	var warnings []string
	if features.Enabled(config.FeatureSanitization) {
		res := e.sanitizer.Sanitize(req.Text)
		text, warnings = res.Text, res.Warnings
	}
	verdict.SanitizerWarnings = warnings
	e.observeStage(DirectionInput, "sanitize", stageStart)

	// PII engine: detection always runs; masking is the toggleable part
	stageStart = time.Now()
	var piiReport *pii.Report
	if features.Enabled(config.FeaturePIIRedaction) {
		piiReport = e.piiEngine.Scan(text)
	} else {
		piiReport = e.piiScanner.Scan(text)
	}
	verdict.PIICategories = piiReport.Categories
	verdict.PIIFindings = piiFindings(piiReport)
	verdict.RedactedText = piiReport.Redacted
	for _, cat := range piiReport.Categories {
		telemetry.PIIDetections.WithLabelValues(string(DirectionInput), cat).Inc()
	}
	e.observeStage(DirectionInput, "pii", stageStart)

	// Threat detectors run over sanitized, unredacted text
	stageStart = time.Now()
	in := detect.Input{Text: text, SanitizerWarnings: warnings}
	findings := detect.Run(e.enabledDetectors(features), in)
	findings = append(findings, e.auxiliaryFindings(ctx, text)...)
	findings = applyThresholds(findings, features, detectorFeature)
	e.observeStage(DirectionInput, "detect", stageStart)

	// Escalation policy and the only suspension point in the pipeline
	score, _, _ := aggregate(findings, len(piiReport.Categories), e.cfg.PIIScoreIncrement, e.cfg.BlockThreshold)
	if features.Enabled(config.FeatureLLMCheck) && e.analyzer != nil &&
		shouldEscalate(score, findings, len(piiReport.Categories), len(warnings),
			e.cfg.EscalationFloor, e.cfg.BlockThreshold, features.Enabled(config.FeatureAlwaysVerify)) {
		verdict.Escalated = true
		var categories []string
		for _, f := range findings {
			categories = append(categories, string(f.Category))
		}
		f, ran := e.modelStage(ctx, patterns.CategoryPromptInjection, features.Threshold(config.FeatureLLMCheck),
			func(callCtx context.Context) (*ml.Assessment, error) {
				return e.analyzer.Analyze(callCtx, text, categories)
			})
		verdict.ModelStageRan = ran
		if f != nil {
			findings = append(findings, *f)
		}
	}

	// Verdict aggregation
	verdict.CombinedScore, verdict.IsBlocked, verdict.BlockReason =
		aggregate(findings, len(piiReport.Categories), e.cfg.PIIScoreIncrement, e.cfg.BlockThreshold)
	verdict.Findings = e.redactEvidence(findings)

	e.record(ctx, req, verdict, start)
	return verdict
}

// AnalyzeOutput runs the outbound pipeline over a model response. Block
// semantics soften to the configured remediation: hard reject, or rewrite
// with redaction and disclaimers.
func (e *Engine) AnalyzeOutput(ctx context.Context, req *AnalysisRequest) *Verdict {
	start := time.Now()
	features := e.resolveFeatures(ctx, req)
	verdict := &Verdict{RequestID: req.ID, Direction: DirectionOutput}

	finalText := req.Text

	// Output checks see the raw response; escaping would corrupt it
	stageStart := time.Now()
	in := outputcheck.Input{
		Text:           req.Text,
		OriginalPrompt: req.OriginalPrompt,
		SourceFacts:    req.SourceFacts,
		ModerationMode: e.cfg.ModerationMode,
	}
	findings := outputcheck.Run(e.enabledChecks(features), in)
	e.observeStage(DirectionOutput, "checks", stageStart)

	// Refusal findings are informational; peel them off before scoring
	scored := findings[:0:0]
	for _, f := range findings {
		if f.Category == patterns.CategoryRefusal {
			verdict.Refusal = true
			continue
		}
		scored = append(scored, f)
	}
	scored = applyThresholds(scored, features, checkFeature)

	// PII re-scan of the model's own output. Severe exposure (identifiers
	// and credentials) forces redaction even when masking is off.
	stageStart = time.Now()
	var piiReport *pii.Report
	if features.Enabled(config.FeatureOutputPII) {
		piiReport = e.piiEngine.Scan(finalText)
		if piiReport.Masked {
			finalText = piiReport.Redacted
		} else if severePII(piiReport) {
			finalText, piiReport = e.piiEngine.Redact(finalText)
		}
		for _, cat := range piiReport.Categories {
			telemetry.PIIDetections.WithLabelValues(string(DirectionOutput), cat).Inc()
		}
	} else {
		piiReport = &pii.Report{Redacted: finalText}
	}
	verdict.PIICategories = piiReport.Categories
	verdict.PIIFindings = piiFindings(piiReport)
	e.observeStage(DirectionOutput, "pii", stageStart)

	// Ambiguous responses escalate to a model-assisted judgment of
	// toxicity, hallucination, and tone, mirroring the input direction.
	score, _, _ := aggregate(scored, len(piiReport.Categories), e.cfg.PIIScoreIncrement, e.cfg.BlockThreshold)
	if features.Enabled(config.FeatureLLMCheck) && e.analyzer != nil &&
		shouldEscalate(score, scored, len(piiReport.Categories), 0,
			e.cfg.EscalationFloor, e.cfg.BlockThreshold, features.Enabled(config.FeatureAlwaysVerify)) {
		verdict.Escalated = true
		f, ran := e.modelStage(ctx, outputcheck.CategoryToxicity, features.Threshold(config.FeatureLLMCheck),
			func(callCtx context.Context) (*ml.Assessment, error) {
				return e.analyzer.AnalyzeResponse(callCtx, req.Text, req.OriginalPrompt, req.SourceFacts)
			})
		verdict.ModelStageRan = ran
		if f != nil {
			scored = append(scored, *f)
		}
	}

	verdict.CombinedScore, verdict.IsBlocked, verdict.BlockReason =
		aggregate(scored, len(piiReport.Categories), e.cfg.PIIScoreIncrement, e.cfg.BlockThreshold)
	verdict.Findings = e.redactEvidence(scored)

	// Remediation: a flagged response is either hard-rejected or rewritten
	if verdict.IsBlocked && e.cfg.OutputRemediation == config.RemediationDisclaimer {
		verdict.IsBlocked = false
		verdict.Remediation = config.RemediationDisclaimer
		finalText, _ = e.injector.Inject(finalText)
	} else if verdict.IsBlocked {
		verdict.Remediation = config.RemediationBlock
		finalText = ""
	}

	if !verdict.IsBlocked && features.Enabled(config.FeatureAutoDisclaimers) {
		finalText, _ = e.injector.Inject(finalText)
	}

	verdict.RedactedText = finalText

	e.record(ctx, req, verdict, start)
	return verdict
}

func (e *Engine) resolveFeatures(ctx context.Context, req *AnalysisRequest) config.FeatureConfig {
	features := e.features(ctx, req.AppID)
	if len(req.FeatureOverrides) > 0 {
		features = features.Merge(req.FeatureOverrides)
	}
	return features
}

func (e *Engine) enabledDetectors(features config.FeatureConfig) []detect.Detector {
	var enabled []detect.Detector
	for _, d := range e.detectors {
		if features.Enabled(detectorFeature[d.Name()]) {
			enabled = append(enabled, d)
		}
	}
	return enabled
}

func (e *Engine) enabledChecks(features config.FeatureConfig) []outputcheck.Check {
	var enabled []outputcheck.Check
	for _, c := range e.checks {
		if features.Enabled(checkFeature[c.Name()]) {
			enabled = append(enabled, c)
		}
	}
	return enabled
}

// auxiliaryFindings runs the optional semantic and local-ML detectors.
// Both degrade to no-finding on error: the deterministic stages carry
// the verdict when an optional detector is down.
func (e *Engine) auxiliaryFindings(ctx context.Context, text string) []detect.Finding {
	var findings []detect.Finding

	if e.cfg.EnableSemantics && e.semantic != nil && e.semantic.Ready() {
		if res, err := e.semantic.Detect(ctx, text); err != nil {
			log.Printf("[DETECT] semantic detection failed: %v", err)
		} else if res.IsThreat {
			findings = append(findings, detect.Finding{
				Detector:   "semantic-detector",
				Category:   patterns.Category(res.Category),
				Confidence: float64(res.Score),
				PatternID:  "semantic_similarity",
				Signals:    []string{"semantic_similarity"},
			})
		}
	}

	if e.cfg.EnableLocalML && e.local != nil && e.local.IsReady() {
		if res, err := e.local.Classify(ctx, text); err != nil {
			log.Printf("[DETECT] local classification failed: %v", err)
		} else if res.IsThreat {
			findings = append(findings, detect.Finding{
				Detector:   "local-ml-detector",
				Category:   patterns.CategoryPromptInjection,
				Confidence: res.Confidence,
				PatternID:  "local_classifier",
				Signals:    []string{res.Label},
			})
		}
	}
	return findings
}

// modelStage wraps the single external model call: semaphore admission,
// hard timeout, fail-closed parsing inside the analyzer, and the fallback
// finding on any call failure. The bool reports whether the model stage
// actually ran. The call closure selects the direction-specific analysis.
func (e *Engine) modelStage(ctx context.Context, fallbackCategory patterns.Category, llmThreshold float64,
	call func(context.Context) (*ml.Assessment, error)) (*detect.Finding, bool) {
	fallback := &detect.Finding{
		Detector:   "model-analyzer",
		Category:   fallbackCategory,
		Confidence: e.cfg.ModelFallbackConfidence,
		PatternID:  "model_fallback",
		Signals:    []string{"model_fallback"},
	}

	if !e.modelSem.TryAcquire() {
		telemetry.Escalations.WithLabelValues("dropped").Inc()
		log.Printf("[MODEL] concurrency limit reached, using fallback confidence")
		return fallback, false
	}
	defer e.modelSem.Release()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
	defer cancel()

	start := time.Now()
	assessment, err := call(callCtx)
	telemetry.ModelCallLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.Escalations.WithLabelValues("fallback").Inc()
		log.Printf("[MODEL] call failed, using fallback confidence: %v", err)
		return fallback, false
	}

	telemetry.Escalations.WithLabelValues("ran").Inc()
	if assessment.Category == "benign" {
		return nil, true
	}
	if !assessment.FailedClosed && assessment.Confidence < llmThreshold {
		// below the llm-check threshold the model's suspicion is advisory
		return nil, true
	}
	return &detect.Finding{
		Detector:   "model-analyzer",
		Category:   patterns.Category(assessment.Category),
		Confidence: assessment.Confidence,
		PatternID:  "model_assessment",
		Signals:    []string{assessment.Reason},
	}, true
}

// applyThresholds drops findings below their feature's confidence
// threshold before aggregation. Hard-block findings always survive, and
// findings from detectors without a feature mapping (semantic, local ML,
// model analyzer) pass through unfiltered.
func applyThresholds(findings []detect.Finding, features config.FeatureConfig, featureOf map[string]string) []detect.Finding {
	kept := findings[:0:0]
	for _, f := range findings {
		if feat, ok := featureOf[f.Detector]; ok && !f.HardBlock && f.Confidence < features.Threshold(feat) {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// redactEvidence masks PII inside evidence snippets before they leave the
// pipeline.
func (e *Engine) redactEvidence(findings []detect.Finding) []detect.Finding {
	for i := range findings {
		if findings[i].Evidence == "" {
			continue
		}
		redacted, _ := e.piiEngine.Redact(findings[i].Evidence)
		findings[i].Evidence = redacted
	}
	return findings
}

// piiFindings converts scan matches to their audit form, keeping span
// locations and mask tags but never the raw values.
func piiFindings(report *pii.Report) []PIIFinding {
	if len(report.Matches) == 0 {
		return nil
	}
	out := make([]PIIFinding, 0, len(report.Matches))
	for _, m := range report.Matches {
		out = append(out, PIIFinding{
			Category: m.Category,
			Start:    m.Start,
			End:      m.End,
			Mask:     pii.Mask(m.Category),
		})
	}
	return out
}

// severePII reports identifier or credential exposure that must never be
// forwarded verbatim, regardless of the masking toggle.
func severePII(report *pii.Report) bool {
	return report.HasCategory(pii.CategorySSN) ||
		report.HasCategory(pii.CategoryCreditCard) ||
		report.HasCategory(pii.CategoryCredential)
}

func (e *Engine) observeStage(dir Direction, stage string, start time.Time) {
	telemetry.StageLatency.WithLabelValues(string(dir), stage).Observe(time.Since(start).Seconds())
}

// record emits telemetry and, when a sink is attached, the audit entry.
// Timing lives here rather than on the Verdict, which stays deterministic.
func (e *Engine) record(ctx context.Context, req *AnalysisRequest, v *Verdict, start time.Time) {
	telemetry.RequestsAnalyzed.WithLabelValues(string(v.Direction)).Inc()
	for _, f := range v.Findings {
		telemetry.ThreatsDetected.WithLabelValues(string(v.Direction), string(f.Category)).Inc()
	}
	if v.IsBlocked {
		telemetry.RequestsBlocked.WithLabelValues(string(v.Direction), v.BlockReason).Inc()
	}

	if e.sink == nil {
		return
	}
	categories := make([]string, 0, len(v.Findings))
	for _, f := range v.Findings {
		categories = append(categories, string(f.Category))
	}
	e.sink.Record(ctx, audit.Entry{
		RequestID:     v.RequestID,
		AppID:         req.AppID,
		Origin:        req.Origin,
		UserAgent:     req.UserAgent,
		Direction:     string(v.Direction),
		IsBlocked:     v.IsBlocked,
		BlockReason:   v.BlockReason,
		CombinedScore: v.CombinedScore,
		Escalated:     v.Escalated,
		ModelStageRan: v.ModelStageRan,
		Categories:    categories,
		PIICategories: v.PIICategories,
		DurationMs:    float64(time.Since(start).Microseconds()) / 1000.0,
		CreatedAt:     time.Now().UTC(),
	})
}
