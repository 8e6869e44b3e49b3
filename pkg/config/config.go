package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMProvider defines the backend LLM service used for escalated analysis
type LLMProvider string

const (
	ProviderNone       LLMProvider = "none"       // No LLM, deterministic stages only
	ProviderOllama     LLMProvider = "ollama"     // Local Ollama server
	ProviderOpenRouter LLMProvider = "openrouter" // OpenRouter (default, has free tier)
	ProviderGroq       LLMProvider = "groq"       // Groq (high-speed inference)
	ProviderOpenAI     LLMProvider = "openai"     // Direct OpenAI API
	ProviderCustom     LLMProvider = "custom"     // Custom OpenAI-compatible endpoint
)

// RemediationAction defines what the output pipeline does with a flagged response
type RemediationAction string

const (
	RemediationBlock      RemediationAction = "block"                   // Hard reject the response
	RemediationDisclaimer RemediationAction = "rewrite-with-disclaimer" // Append disclaimer, redact, forward
)

// Feature names for the independently toggleable pipeline stages.
// Unknown names in per-call overrides are ignored, never errors.
const (
	FeatureSanitization     = "sanitization"
	FeaturePIIRedaction     = "pii_redaction"
	FeatureSQLInjection     = "sql_injection"
	FeatureXSS              = "xss"
	FeatureCommandInjection = "command_injection"
	FeaturePathTraversal    = "path_traversal"
	FeaturePromptInjection  = "prompt_injection"
	FeatureLLMCheck         = "llm_check"
	FeatureHallucination    = "hallucination_check"
	FeatureToxicity         = "toxicity_check"
	FeatureTone             = "tone_check"
	FeatureCitation         = "citation_check"
	FeatureRefusal          = "refusal_check"
	FeatureOutputPII        = "output_pii_scan"
	FeatureAutoDisclaimers  = "auto_disclaimers"
	FeatureAlwaysVerify     = "always_verify"
)

// FeatureSetting is the per-feature toggle and threshold pair.
type FeatureSetting struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// FeatureConfig maps feature names to their settings. Defaults come from
// process-wide configuration; callers may override per call via Merge.
type FeatureConfig map[string]FeatureSetting

// Merge returns a copy of fc with per-call overrides applied.
// Only feature names already known to the base config are honored;
// unknown names are dropped silently.
func (fc FeatureConfig) Merge(overrides map[string]FeatureSetting) FeatureConfig {
	merged := make(FeatureConfig, len(fc))
	for name, s := range fc {
		merged[name] = s
	}
	for name, s := range overrides {
		if _, known := merged[name]; !known {
			continue
		}
		if s.Threshold < 0 || s.Threshold > 1 {
			// Malformed threshold: keep the default, never reject the call
			s.Threshold = merged[name].Threshold
		}
		merged[name] = s
	}
	return merged
}

// Enabled reports whether a feature is on. Missing features are off.
func (fc FeatureConfig) Enabled(name string) bool {
	return fc[name].Enabled
}

// Threshold returns the configured threshold for a feature.
func (fc FeatureConfig) Threshold(name string) float64 {
	return fc[name].Threshold
}

// Config holds global settings for the Bulwark inspection pipeline.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	MaxInputLength int    // Sanitizer truncation limit (default: 10000)
	AuditLogPath   string // Path to JSONL audit log file (default: "audit_events.jsonl")

	// === Scoring Thresholds (0.0 - 1.0) ===
	BlockThreshold    float64 // Combined score at or above this = BLOCK (default: 0.70)
	EscalationFloor   float64 // Minimum-suspicion floor below which escalation is skipped (default: 0.25)
	PIIScoreIncrement float64 // Score added per distinct PII category found (default: 0.05)

	// === PII Handling ===
	// Detection always runs so the score reflects sensitivity;
	// PIIMaskingEnabled controls only whether text is rewritten.
	PIIMaskingEnabled bool

	// === Escalation Policy ===
	// AlwaysVerify seeds the always_verify feature default: escalate every
	// request with evidence to the model stage regardless of band. Per-app
	// feature config and per-call overrides take precedence.
	AlwaysVerify bool

	// === Model-Assisted Analyzer ===
	LLMProvider             LLMProvider
	LLMAPIKey               string
	LLMModel                string
	LLMBaseURL              string
	ModelTimeout            time.Duration // Hard per-call timeout (default: 10s)
	ModelFallbackConfidence float64       // Confidence assigned on timeout/call failure (default: 0.60)
	MaxConcurrentModelCalls int           // Semaphore capacity for in-flight model calls (default: 32)

	// === Optional Detectors ===
	EnableSemantics bool // Embedding similarity prompt-injection detection (requires embedder)
	EnableLocalML   bool // Local ONNX classifier (requires model download)

	// === Output Direction ===
	OutputRemediation      RemediationAction // "block" or "rewrite-with-disclaimer"
	ModerationMode         string            // strict, moderate, relaxed, raw
	ToxicityThreshold      float64           // default: 0.70
	HallucinationThreshold float64           // default: 0.70
	ToneThreshold          float64           // default: 0.60

	// === External Stores (optional, nil-safe when unset) ===
	RedisAddr   string // Per-application feature config store
	PostgresDSN string // Verdict audit sink
	SeedDir     string // Directory with YAML seed files (custom keywords/patterns)

	// === Feature defaults ===
	Features FeatureConfig
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	cfg := &Config{
		MaxInputLength: clampInt(GetEnvInt("BULWARK_MAX_INPUT_LENGTH", 10000), 256, 1<<20),
		AuditLogPath:   GetEnv("BULWARK_AUDIT_LOG", "audit_events.jsonl"),

		BlockThreshold:    GetEnvFloat("BULWARK_BLOCK_THRESHOLD", 0.70),
		EscalationFloor:   GetEnvFloat("BULWARK_ESCALATION_FLOOR", 0.25),
		PIIScoreIncrement: GetEnvFloat("BULWARK_PII_SCORE_INCREMENT", 0.05),

		PIIMaskingEnabled: GetEnvBool("BULWARK_PII_MASKING", true),
		AlwaysVerify:      GetEnvBool("BULWARK_ALWAYS_VERIFY", false),

		LLMProvider:             detectLLMProvider(),
		LLMAPIKey:               GetEnv("BULWARK_LLM_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY"))),
		LLMModel:                GetEnv("BULWARK_LLM_MODEL", "nvidia/nemotron-3-nano-30b-a3b:free"),
		LLMBaseURL:              GetEnv("BULWARK_LLM_BASE_URL", ""),
		ModelTimeout:            time.Duration(GetEnvInt("BULWARK_MODEL_TIMEOUT_MS", 10000)) * time.Millisecond,
		ModelFallbackConfidence: GetEnvFloat("BULWARK_MODEL_FALLBACK_CONFIDENCE", 0.60),
		MaxConcurrentModelCalls: clampInt(GetEnvInt("BULWARK_MAX_MODEL_CALLS", 32), 1, 4096),

		EnableSemantics: GetEnvBool("BULWARK_ENABLE_SEMANTICS", false),
		EnableLocalML:   GetEnvBool("BULWARK_ENABLE_LOCAL_ML", false),

		OutputRemediation:      RemediationAction(GetEnv("BULWARK_OUTPUT_REMEDIATION", string(RemediationBlock))),
		ModerationMode:         GetEnv("BULWARK_MODERATION_MODE", "moderate"),
		ToxicityThreshold:      GetEnvFloat("BULWARK_TOXICITY_THRESHOLD", 0.70),
		HallucinationThreshold: GetEnvFloat("BULWARK_HALLUCINATION_THRESHOLD", 0.70),
		ToneThreshold:          GetEnvFloat("BULWARK_TONE_THRESHOLD", 0.60),

		RedisAddr:   GetEnv("BULWARK_REDIS_ADDR", ""),
		PostgresDSN: GetEnv("BULWARK_POSTGRES_DSN", ""),
		SeedDir:     GetEnv("BULWARK_SEED_DIR", ""),
	}

	cfg.Features = defaultFeatures(cfg)
	return cfg
}

// defaultFeatures builds the process-wide feature defaults from env flags.
// A feature's threshold is the minimum confidence a finding needs to count
// toward the verdict. Detector thresholds default to 0 so every signal
// contributes to the escalation band; output-check thresholds track the
// corresponding moderation thresholds.
func defaultFeatures(cfg *Config) FeatureConfig {
	return FeatureConfig{
		FeatureSanitization:     {Enabled: GetEnvBool("BULWARK_SANITIZATION_ENABLED", true)},
		FeaturePIIRedaction:     {Enabled: GetEnvBool("BULWARK_PII_REDACTION_ENABLED", true)},
		FeatureSQLInjection:     {Enabled: GetEnvBool("BULWARK_SQL_INJECTION_ENABLED", true), Threshold: GetEnvFloat("BULWARK_SQL_INJECTION_THRESHOLD", 0)},
		FeatureXSS:              {Enabled: GetEnvBool("BULWARK_XSS_ENABLED", true), Threshold: GetEnvFloat("BULWARK_XSS_THRESHOLD", 0)},
		FeatureCommandInjection: {Enabled: GetEnvBool("BULWARK_COMMAND_INJECTION_ENABLED", true), Threshold: GetEnvFloat("BULWARK_COMMAND_INJECTION_THRESHOLD", 0)},
		FeaturePathTraversal:    {Enabled: true, Threshold: GetEnvFloat("BULWARK_PATH_TRAVERSAL_THRESHOLD", 0)}, // always on
		FeaturePromptInjection:  {Enabled: GetEnvBool("BULWARK_PROMPT_INJECTION_ENABLED", true), Threshold: GetEnvFloat("BULWARK_PROMPT_INJECTION_THRESHOLD", 0)},
		FeatureLLMCheck:         {Enabled: GetEnvBool("BULWARK_LLM_CHECK_ENABLED", true), Threshold: GetEnvFloat("BULWARK_LLM_CHECK_THRESHOLD", 0.85)},
		FeatureHallucination:    {Enabled: GetEnvBool("BULWARK_HALLUCINATION_ENABLED", false), Threshold: cfg.HallucinationThreshold},
		FeatureToxicity:         {Enabled: GetEnvBool("BULWARK_TOXICITY_ENABLED", true), Threshold: cfg.ToxicityThreshold},
		FeatureTone:             {Enabled: GetEnvBool("BULWARK_TONE_ENABLED", false), Threshold: cfg.ToneThreshold},
		FeatureCitation:         {Enabled: GetEnvBool("BULWARK_CITATION_ENABLED", false), Threshold: GetEnvFloat("BULWARK_CITATION_THRESHOLD", 0)},
		FeatureRefusal:          {Enabled: GetEnvBool("BULWARK_REFUSAL_ENABLED", false)},
		FeatureOutputPII:        {Enabled: GetEnvBool("BULWARK_OUTPUT_PII_ENABLED", true)},
		FeatureAutoDisclaimers:  {Enabled: GetEnvBool("BULWARK_AUTO_DISCLAIMERS", false)},
		FeatureAlwaysVerify:     {Enabled: cfg.AlwaysVerify},
	}
}

// NewHighSecurityConfig creates a Config for maximum security (may have more false positives)
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.BlockThreshold = 0.50
	cfg.EscalationFloor = 0.15
	cfg.AlwaysVerify = true
	cfg.ModerationMode = "strict"
	cfg.ModelFallbackConfidence = cfg.BlockThreshold // fail-closed: unresolved model calls block
	cfg.Features = defaultFeatures(cfg)
	return cfg
}

// NewHighUsabilityConfig creates a Config that minimizes false positives
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.BlockThreshold = 0.85
	cfg.EscalationFloor = 0.40
	cfg.ModerationMode = "relaxed"
	cfg.Features = defaultFeatures(cfg)
	return cfg
}

func detectLLMProvider() LLMProvider {
	if p := os.Getenv("BULWARK_LLM_PROVIDER"); p != "" {
		return LLMProvider(p)
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("BULWARK_LLM_API_KEY") != "" {
		return ProviderOpenRouter
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI
	}
	return ProviderNone
}

// Validate checks that configuration values are coherent. Malformed env
// values were already replaced with defaults at load time; Validate catches
// programmatic misconfiguration.
func (c *Config) Validate() error {
	var problems []string

	if c.BlockThreshold < 0 || c.BlockThreshold > 1 {
		problems = append(problems, fmt.Sprintf("block threshold %.2f outside [0,1]", c.BlockThreshold))
	}
	if c.EscalationFloor < 0 || c.EscalationFloor > 1 {
		problems = append(problems, fmt.Sprintf("escalation floor %.2f outside [0,1]", c.EscalationFloor))
	}
	if c.EscalationFloor >= c.BlockThreshold {
		problems = append(problems, fmt.Sprintf("escalation floor %.2f must be below block threshold %.2f", c.EscalationFloor, c.BlockThreshold))
	}
	if c.ModelFallbackConfidence < 0 || c.ModelFallbackConfidence > 1 {
		problems = append(problems, fmt.Sprintf("model fallback confidence %.2f outside [0,1]", c.ModelFallbackConfidence))
	}
	switch c.OutputRemediation {
	case RemediationBlock, RemediationDisclaimer:
	default:
		problems = append(problems, fmt.Sprintf("unknown output remediation %q", c.OutputRemediation))
	}
	switch c.ModerationMode {
	case "strict", "moderate", "relaxed", "raw":
	default:
		problems = append(problems, fmt.Sprintf("unknown moderation mode %q", c.ModerationMode))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before serving traffic.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		log.Printf("[WARN] %s=%q is not a boolean, using default %v", key, v, defaultValue)
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
		log.Printf("[WARN] %s=%q is not a valid number, using default %v", key, v, defaultValue)
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
		log.Printf("[WARN] %s=%q is not an integer, using default %v", key, v, defaultValue)
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
