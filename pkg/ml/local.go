package ml

// Local ONNX-based prompt injection classification via Hugot. Runs fully
// offline; gracefully degrades to nil when no model or runtime is present.
//
// Build:
// - Standard: go build (pure Go backend, slower)
// - With ORT: go build -tags ORT (ONNX Runtime backend)

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// LocalDetector classifies text with a local prompt-injection model.
type LocalDetector struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	config   LocalConfig
	ready    bool
}

// LocalConfig configures the local detector.
type LocalConfig struct {
	// ModelPath is the local ONNX model directory. If empty and ModelName
	// is set, the model is downloaded on first use.
	ModelPath string

	// ModelName is the HuggingFace model name used for downloads.
	ModelName string

	// OnnxLibraryPath points at libonnxruntime; empty selects the pure Go
	// backend.
	OnnxLibraryPath string

	BatchSize int
	Timeout   time.Duration
}

// ModelModernBERTBase is Apache-2.0 licensed and small enough to bundle.
const ModelModernBERTBase = "tihilya/modernbert-base-prompt-injection-detection"

// DefaultLocalConfig returns the bundled-model configuration.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		ModelName:       ModelModernBERTBase,
		ModelPath:       "./models/modernbert-base",
		OnnxLibraryPath: defaultOnnxPath(),
		BatchSize:       32,
		Timeout:         30 * time.Second,
	}
}

func defaultOnnxPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// NewLocalDetector initializes the session and pipeline. Returns an error
// rather than a half-ready detector; callers that want graceful
// degradation treat the error as "run without local ML".
func NewLocalDetector(cfg LocalConfig) (*LocalDetector, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	d := &LocalDetector{config: cfg}
	if err := d.initialize(); err != nil {
		return nil, fmt.Errorf("local detector initialization failed: %w", err)
	}
	return d, nil
}

func (d *LocalDetector) initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, err := d.createSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	d.session = session

	modelPath, err := d.resolveModelPath()
	if err != nil {
		_ = d.session.Destroy()
		return fmt.Errorf("failed to resolve model path: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "prompt-injection-local",
	})
	if err != nil {
		_ = d.session.Destroy()
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	d.pipeline = pipeline
	d.ready = true
	log.Printf("[ML] local detector ready (model: %s)", modelPath)
	return nil
}

func (d *LocalDetector) createSession() (*hugot.Session, error) {
	if d.config.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(d.config.OnnxLibraryPath))
		if err == nil {
			log.Printf("[ML] using ONNX Runtime backend")
			return session, nil
		}
		log.Printf("[ML] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	return session, nil
}

func (d *LocalDetector) resolveModelPath() (string, error) {
	if d.config.ModelPath != "" {
		if _, err := os.Stat(filepath.Join(d.config.ModelPath, "model.onnx")); err == nil {
			return d.config.ModelPath, nil
		}
	}
	if d.config.ModelName == "" {
		return "", fmt.Errorf("no model path or name specified")
	}

	if err := os.MkdirAll("./models", 0755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}
	log.Printf("[ML] downloading model %s...", d.config.ModelName)
	modelPath, err := hugot.DownloadModel(d.config.ModelName, "./models", hugot.NewDownloadOptions())
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return modelPath, nil
}

func (d *LocalDetector) IsReady() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// LocalResult is a single classification.
type LocalResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	IsThreat   bool    `json:"is_threat"`
	LatencyMs  float64 `json:"latency_ms"`
}

// isThreatLabel maps the label conventions of the supported models.
func isThreatLabel(label string) bool {
	switch label {
	case "jailbreak", "INJECTION", "malicious", "LABEL_1":
		return true
	default:
		return false
	}
}

// Classify runs inference on a single text.
func (d *LocalDetector) Classify(ctx context.Context, text string) (LocalResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.ready || d.pipeline == nil {
		return LocalResult{}, fmt.Errorf("local detector not ready")
	}

	start := time.Now()
	result, err := d.pipeline.RunPipeline([]string{text})
	if err != nil {
		return LocalResult{}, fmt.Errorf("classification failed: %w", err)
	}
	latency := float64(time.Since(start).Milliseconds())

	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return LocalResult{Label: "unknown", LatencyMs: latency}, nil
	}
	out := result.ClassificationOutputs[0][0]
	return LocalResult{
		Label:      out.Label,
		Confidence: float64(out.Score),
		IsThreat:   isThreatLabel(out.Label),
		LatencyMs:  latency,
	}, nil
}

func (d *LocalDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ready = false
	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}
