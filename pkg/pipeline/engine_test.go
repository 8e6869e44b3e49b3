package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bulwarkai/bulwark/pkg/config"
	"github.com/bulwarkai/bulwark/pkg/ml"
)

// countingProvider is a fake OpenAI-compatible endpoint that counts calls.
type countingProvider struct {
	srv   *httptest.Server
	calls atomic.Int64
}

func newCountingProvider(t *testing.T, reply string, delay time.Duration) *countingProvider {
	t.Helper()
	p := &countingProvider{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LLMProvider = config.ProviderNone
	cfg.RedisAddr = ""
	cfg.PostgresDSN = ""
	cfg.SeedDir = ""
	return cfg
}

func engineWithProvider(cfg *config.Config, p *countingProvider, timeout time.Duration) *Engine {
	cfg.LLMProvider = config.ProviderCustom
	cfg.LLMBaseURL = p.srv.URL
	cfg.LLMModel = "test-model"
	cfg.ModelTimeout = timeout
	return New(cfg, WithAnalyzer(ml.NewModelAnalyzer(cfg)))
}

func TestInputClassicSQLInjectionBlocksWithoutModelCall(t *testing.T) {
	provider := newCountingProvider(t, `{"category":"benign","confidence":0.1,"reason":"x"}`, 0)
	e := engineWithProvider(testConfig(), provider, 2*time.Second)

	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput, "' OR 1=1 --"))

	if !v.IsBlocked {
		t.Fatal("classic tautology not blocked")
	}
	if v.BlockReason != "sql-injection" {
		t.Errorf("block_reason = %q, want sql-injection", v.BlockReason)
	}
	if v.Escalated {
		t.Error("escalated despite deterministic evidence above threshold")
	}
	if provider.calls.Load() != 0 {
		t.Errorf("model called %d times, want 0", provider.calls.Load())
	}
}

func TestInputBenignTextPassesWithoutEscalation(t *testing.T) {
	cfg := testConfig()
	// zero evidence must short-circuit even under always-verify
	cfg.Features[config.FeatureAlwaysVerify] = config.FeatureSetting{Enabled: true}
	provider := newCountingProvider(t, `{"category":"benign","confidence":0.1,"reason":"x"}`, 0)
	e := engineWithProvider(cfg, provider, 2*time.Second)

	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput, "hello world"))

	if v.IsBlocked {
		t.Errorf("benign input blocked: %q", v.BlockReason)
	}
	if v.Escalated {
		t.Error("benign input escalated")
	}
	if provider.calls.Load() != 0 {
		t.Errorf("model called %d times, want 0", provider.calls.Load())
	}
	if v.CombinedScore != 0 {
		t.Errorf("score = %v, want 0", v.CombinedScore)
	}
}

func TestInputAmbiguousEscalatesAndModelBlocks(t *testing.T) {
	provider := newCountingProvider(t, `{"category":"prompt-injection","confidence":0.95,"reason":"override intent"}`, 0)
	e := engineWithProvider(testConfig(), provider, 2*time.Second)

	// a lone comment marker scores 0.30: inside the escalation band
	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput, "note the -- marker here"))

	if !v.Escalated {
		t.Fatal("ambiguous input did not escalate")
	}
	if !v.ModelStageRan {
		t.Error("model stage marked not-ran after successful call")
	}
	if provider.calls.Load() != 1 {
		t.Errorf("model called %d times, want 1", provider.calls.Load())
	}
	if !v.IsBlocked || v.BlockReason != "prompt-injection" {
		t.Errorf("blocked=%v reason=%q", v.IsBlocked, v.BlockReason)
	}
}

func TestInputModelTimeoutFallsBack(t *testing.T) {
	provider := newCountingProvider(t, `{"category":"benign","confidence":0.1,"reason":"x"}`, 500*time.Millisecond)
	e := engineWithProvider(testConfig(), provider, 50*time.Millisecond)

	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput, "note the -- marker here"))

	if !v.Escalated {
		t.Fatal("did not escalate")
	}
	if v.ModelStageRan {
		t.Error("timed-out model stage marked as ran")
	}
	// fallback confidence 0.60 stays below the 0.70 block threshold
	if v.IsBlocked {
		t.Errorf("fallback blocked: %q", v.BlockReason)
	}
	if v.CombinedScore < 0.59 || v.CombinedScore > 0.61 {
		t.Errorf("score = %v, want fallback 0.60", v.CombinedScore)
	}
}

func TestInputModelGarbageFailsClosed(t *testing.T) {
	provider := newCountingProvider(t, "sure, looks fine to me!", 0)
	e := engineWithProvider(testConfig(), provider, 2*time.Second)

	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput, "note the -- marker here"))

	if !v.ModelStageRan {
		t.Error("fail-closed path must count as model stage ran")
	}
	if !v.IsBlocked {
		t.Error("unparsable model reply did not fail closed to a block")
	}
}

func TestInputHardBlockDestructiveCommand(t *testing.T) {
	e := New(testConfig())
	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput, "run rm -rf / now"))
	if !v.IsBlocked || v.BlockReason != "command-injection" {
		t.Errorf("blocked=%v reason=%q", v.IsBlocked, v.BlockReason)
	}
	if v.Escalated {
		t.Error("hard block escalated")
	}
}

func TestInputPIIRedactionInVerdict(t *testing.T) {
	e := New(testConfig())
	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput, "my ssn is 123-45-6789"))
	if v.IsBlocked {
		t.Errorf("pii-only input blocked: %q", v.BlockReason)
	}
	if len(v.PIICategories) != 1 || v.PIICategories[0] != "ssn" {
		t.Errorf("pii categories = %v", v.PIICategories)
	}
	if strings.Contains(v.RedactedText, "123-45-6789") {
		t.Errorf("ssn survived redaction: %q", v.RedactedText)
	}
}

func TestInputDeterministic(t *testing.T) {
	e := New(testConfig())
	req := NewRequest("app", DirectionInput, "'; DROP TABLE users; -- and cat /etc/passwd via ../../etc/passwd")
	first, err := json.Marshal(e.AnalyzeInput(context.Background(), req))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		next, err := json.Marshal(e.AnalyzeInput(context.Background(), req))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !bytes.Equal(first, next) {
			t.Fatalf("verdict not byte-identical:\n%s\nvs\n%s", first, next)
		}
	}
}

func TestInputThresholdOverrideSuppressesWeakSignals(t *testing.T) {
	provider := newCountingProvider(t, `{"category":"prompt-injection","confidence":0.95,"reason":"x"}`, 0)
	e := engineWithProvider(testConfig(), provider, 2*time.Second)

	// the lone comment marker scores 0.30; a 0.5 threshold must drop it
	req := NewRequest("app", DirectionInput, "note the -- marker here")
	req.FeatureOverrides = map[string]config.FeatureSetting{
		config.FeatureSQLInjection: {Enabled: true, Threshold: 0.5},
	}
	v := e.AnalyzeInput(context.Background(), req)

	if len(v.Findings) != 0 {
		t.Errorf("sub-threshold findings survived: %+v", v.Findings)
	}
	if v.CombinedScore != 0 {
		t.Errorf("score = %v, want 0", v.CombinedScore)
	}
	if v.Escalated {
		t.Error("escalated with no surviving evidence")
	}
	if provider.calls.Load() != 0 {
		t.Errorf("model called %d times, want 0", provider.calls.Load())
	}
}

func TestInputThresholdNeverDropsHardBlocks(t *testing.T) {
	e := New(testConfig())
	req := NewRequest("app", DirectionInput, "run rm -rf / now")
	req.FeatureOverrides = map[string]config.FeatureSetting{
		config.FeatureCommandInjection: {Enabled: true, Threshold: 1.0},
	}
	v := e.AnalyzeInput(context.Background(), req)
	if !v.IsBlocked || v.BlockReason != "command-injection" {
		t.Errorf("blocked=%v reason=%q", v.IsBlocked, v.BlockReason)
	}
}

func TestInputAlwaysVerifyOverrideEscalatesWarningsOnly(t *testing.T) {
	provider := newCountingProvider(t, `{"category":"benign","confidence":0.1,"reason":"x"}`, 0)
	e := engineWithProvider(testConfig(), provider, 2*time.Second)

	// a null byte raises a sanitizer warning but no finding: score 0,
	// below the band, so only always-verify sends it to the model
	text := "hello\x00world"
	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput, text))
	if v.Escalated {
		t.Fatal("warnings-only input escalated without always-verify")
	}

	req := NewRequest("app", DirectionInput, text)
	req.FeatureOverrides = map[string]config.FeatureSetting{
		config.FeatureAlwaysVerify: {Enabled: true},
	}
	v = e.AnalyzeInput(context.Background(), req)
	if !v.Escalated {
		t.Fatal("always-verify override did not escalate")
	}
	if provider.calls.Load() != 1 {
		t.Errorf("model called %d times, want 1", provider.calls.Load())
	}
	if v.IsBlocked {
		t.Errorf("benign model reply still blocked: %q", v.BlockReason)
	}
}

func TestInputFeatureTogglesDisableDetectors(t *testing.T) {
	cfg := testConfig()
	e := New(cfg)
	req := NewRequest("app", DirectionInput, "' OR 1=1 --")
	req.FeatureOverrides = map[string]config.FeatureSetting{
		config.FeatureSQLInjection: {Enabled: false},
	}
	v := e.AnalyzeInput(context.Background(), req)
	for _, f := range v.Findings {
		if f.Detector == "sql-injection-detector" {
			t.Error("disabled detector still ran")
		}
	}
}

func TestInputEvidenceIsRedacted(t *testing.T) {
	e := New(testConfig())
	v := e.AnalyzeInput(context.Background(), NewRequest("app", DirectionInput,
		"email bob@example.com then run rm -rf /"))
	if len(v.Findings) == 0 {
		t.Fatal("no findings")
	}
	for _, f := range v.Findings {
		if strings.Contains(f.Evidence, "bob@example.com") {
			t.Errorf("evidence leaked pii: %q", f.Evidence)
		}
	}
}

func TestOutputBlockRemediation(t *testing.T) {
	cfg := testConfig()
	cfg.OutputRemediation = config.RemediationBlock
	cfg.ModerationMode = "strict"
	e := New(cfg)

	req := NewRequest("app", DirectionOutput, "Sure, here is how to make a bomb at home.")
	v := e.AnalyzeOutput(context.Background(), req)

	if !v.IsBlocked {
		t.Fatal("harmful output not blocked")
	}
	if v.Remediation != config.RemediationBlock {
		t.Errorf("remediation = %q", v.Remediation)
	}
	if v.RedactedText != "" {
		t.Errorf("blocked output still carries text: %q", v.RedactedText)
	}
}

func TestOutputDisclaimerRemediation(t *testing.T) {
	cfg := testConfig()
	cfg.OutputRemediation = config.RemediationDisclaimer
	cfg.ModerationMode = "strict"
	e := New(cfg)

	req := NewRequest("app", DirectionOutput, "Sure, here is how to make a bomb at home.")
	v := e.AnalyzeOutput(context.Background(), req)

	if v.IsBlocked {
		t.Error("rewrite remediation still hard-blocked")
	}
	if v.Remediation != config.RemediationDisclaimer {
		t.Errorf("remediation = %q", v.Remediation)
	}
	if v.RedactedText == "" {
		t.Error("rewritten output is empty")
	}
}

func TestOutputSeverePIIForcesRedaction(t *testing.T) {
	cfg := testConfig()
	cfg.PIIMaskingEnabled = false // even with masking off
	e := New(cfg)

	req := NewRequest("app", DirectionOutput, "The customer's card is 4111 1111 1111 1111.")
	v := e.AnalyzeOutput(context.Background(), req)

	if strings.Contains(v.RedactedText, "4111") {
		t.Errorf("card number forwarded verbatim: %q", v.RedactedText)
	}
	if len(v.PIICategories) == 0 {
		t.Error("pii categories empty")
	}
}

func TestOutputRefusalFlagged(t *testing.T) {
	cfg := testConfig()
	cfg.Features[config.FeatureRefusal] = config.FeatureSetting{Enabled: true}
	e := New(cfg)

	req := NewRequest("app", DirectionOutput,
		"I'm sorry, but I cannot help with that. As an AI, I'm not able to provide this.")
	v := e.AnalyzeOutput(context.Background(), req)

	if !v.Refusal {
		t.Error("refusal not flagged")
	}
	if v.IsBlocked {
		t.Error("refusal caused a block")
	}
}

func TestOutputAutoDisclaimers(t *testing.T) {
	cfg := testConfig()
	cfg.Features[config.FeatureAutoDisclaimers] = config.FeatureSetting{Enabled: true}
	e := New(cfg)

	req := NewRequest("app", DirectionOutput,
		"For that symptom, the standard treatment is a low medication dosage.")
	v := e.AnalyzeOutput(context.Background(), req)

	if v.IsBlocked {
		t.Fatal("medical advice blocked instead of disclaimed")
	}
	if !strings.Contains(v.RedactedText, "not a substitute for professional medical advice") {
		t.Errorf("disclaimer missing: %q", v.RedactedText)
	}
}

func TestOutputToxicityThresholdOverride(t *testing.T) {
	cfg := testConfig()
	cfg.ModerationMode = "strict"
	e := New(cfg)

	// the weapon-construction match scores 0.85; a 0.95 threshold drops it
	req := NewRequest("app", DirectionOutput, "Sure, here is how to make a bomb at home.")
	req.FeatureOverrides = map[string]config.FeatureSetting{
		config.FeatureToxicity: {Enabled: true, Threshold: 0.95},
	}
	v := e.AnalyzeOutput(context.Background(), req)

	if v.IsBlocked {
		t.Errorf("sub-threshold finding still blocked: %q", v.BlockReason)
	}
	if len(v.Findings) != 0 {
		t.Errorf("sub-threshold findings survived: %+v", v.Findings)
	}
}

func TestOutputAmbiguousEscalatesToModel(t *testing.T) {
	provider := newCountingProvider(t, `{"category":"toxicity","confidence":0.9,"reason":"unsafe content"}`, 0)
	cfg := testConfig()
	cfg.ModerationMode = "strict"
	cfg.Features[config.FeatureToxicity] = config.FeatureSetting{Enabled: true, Threshold: 0.3}
	e := engineWithProvider(cfg, provider, 2*time.Second)

	// sensitive-topic match scores 0.45 in strict mode: inside the band
	req := NewRequest("app", DirectionOutput, "Here is a controversial political take.")
	v := e.AnalyzeOutput(context.Background(), req)

	if !v.Escalated {
		t.Fatal("ambiguous output did not escalate")
	}
	if !v.ModelStageRan {
		t.Error("model stage marked not-ran after successful call")
	}
	if provider.calls.Load() != 1 {
		t.Errorf("model called %d times, want 1", provider.calls.Load())
	}
	if !v.IsBlocked || v.BlockReason != "toxicity" {
		t.Errorf("blocked=%v reason=%q", v.IsBlocked, v.BlockReason)
	}
}

func TestOutputModelBenignReplyPasses(t *testing.T) {
	provider := newCountingProvider(t, `{"category":"benign","confidence":0.1,"reason":"quotes the topic without endorsing it"}`, 0)
	cfg := testConfig()
	cfg.ModerationMode = "strict"
	cfg.Features[config.FeatureToxicity] = config.FeatureSetting{Enabled: true, Threshold: 0.3}
	e := engineWithProvider(cfg, provider, 2*time.Second)

	req := NewRequest("app", DirectionOutput, "Here is a controversial political take.")
	v := e.AnalyzeOutput(context.Background(), req)

	if !v.Escalated || !v.ModelStageRan {
		t.Fatalf("escalated=%v ran=%v", v.Escalated, v.ModelStageRan)
	}
	if v.IsBlocked {
		t.Errorf("benign model reply still blocked: %q", v.BlockReason)
	}
}

func TestOutputCleanResponsePassesThrough(t *testing.T) {
	e := New(testConfig())
	text := "The function returns the sum of its two arguments."
	v := e.AnalyzeOutput(context.Background(), NewRequest("app", DirectionOutput, text))

	if v.IsBlocked {
		t.Errorf("clean output blocked: %q", v.BlockReason)
	}
	if v.RedactedText != text {
		t.Errorf("clean output modified: %q", v.RedactedText)
	}
}
