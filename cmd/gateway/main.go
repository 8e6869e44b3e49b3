package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bulwarkai/bulwark/pkg/appstore"
	"github.com/bulwarkai/bulwark/pkg/audit"
	"github.com/bulwarkai/bulwark/pkg/config"
	"github.com/bulwarkai/bulwark/pkg/ml"
	"github.com/bulwarkai/bulwark/pkg/pipeline"
)

const Version = "0.1.0"

// Gateway bundles the analysis engine with its optional backing services.
// Every external dependency degrades gracefully when unavailable.
type Gateway struct {
	engine *pipeline.Engine
	store  *appstore.Store
	sink   audit.Sink
	config *config.Config
}

func NewGateway(cfg *config.Config) *Gateway {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	cfg.MustValidate()

	g := &Gateway{config: cfg}
	opts := []pipeline.Option{}

	// Model-assisted analyzer - optional, needs a provider + API key
	// (Ollama needs no key and is enabled by provider alone)
	if cfg.LLMProvider != config.ProviderNone && (cfg.LLMAPIKey != "" || cfg.LLMProvider == config.ProviderOllama) {
		opts = append(opts, pipeline.WithAnalyzer(ml.NewModelAnalyzer(cfg)))
		log.Printf("✓ Model analyzer enabled (provider: %s)", cfg.LLMProvider)
	} else {
		log.Println("○ Model analyzer disabled (no API key)")
	}

	// Semantic detector (chromem-go + Ollama embeddings) - optional
	if cfg.EnableSemantics {
		ollamaURL := cfg.LLMBaseURL
		if ollamaURL == "" {
			ollamaURL = "http://localhost:11434"
		}
		semantic, err := ml.NewSemanticDetector(ollamaURL)
		if err != nil {
			log.Printf("○ Semantic detection disabled (init failed: %v)", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			if err := semantic.LoadPhrases(ctx, nil); err != nil {
				log.Printf("○ Semantic detection disabled (phrase load failed: %v)", err)
			} else {
				opts = append(opts, pipeline.WithSemanticDetector(semantic))
				log.Println("✓ Semantic detection enabled (chromem-go + Ollama embeddings)")
			}
			cancel()
		}
	}

	// Local ONNX classifier - optional, needs a model on disk
	if cfg.EnableLocalML {
		local, err := ml.NewLocalDetector(ml.DefaultLocalConfig())
		if err != nil {
			log.Printf("○ Local ML disabled (init failed: %v)", err)
		} else if local.IsReady() {
			opts = append(opts, pipeline.WithLocalDetector(local))
			log.Println("✓ Local ML enabled (hugot/ONNX)")
		} else {
			log.Println("○ Local ML disabled (no ONNX model found)")
		}
	}

	// Per-application feature store - optional, needs Redis
	if cfg.RedisAddr != "" {
		store := appstore.New(cfg.RedisAddr, cfg.Features)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := store.Ping(ctx); err != nil {
			log.Printf("○ App feature store disabled (redis unreachable: %v)", err)
			store.Close()
		} else {
			g.store = store
			opts = append(opts, pipeline.WithFeatureResolver(store.FeaturesFor))
			log.Printf("✓ App feature store enabled (redis: %s)", cfg.RedisAddr)
		}
		cancel()
	}

	// Audit sinks: JSONL file always, Postgres when configured
	sinks := audit.MultiSink{}
	if file, err := audit.NewFileSink(cfg.AuditLogPath); err != nil {
		log.Printf("○ File audit disabled (open failed: %v)", err)
	} else {
		sinks = append(sinks, file)
		log.Printf("✓ File audit enabled (%s)", cfg.AuditLogPath)
	}
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pg, err := audit.NewPostgresSink(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			log.Printf("○ Postgres audit disabled (connect failed: %v)", err)
		} else {
			sinks = append(sinks, pg)
			log.Println("✓ Postgres audit enabled")
		}
	}
	if len(sinks) > 0 {
		g.sink = sinks
		opts = append(opts, pipeline.WithAuditSink(sinks))
	}

	g.engine = pipeline.New(cfg, opts...)
	return g
}

func (g *Gateway) Close() {
	if g.store != nil {
		g.store.Close()
	}
	if g.sink != nil {
		g.sink.Close()
	}
}

// analyzeRequest is the wire shape for both analyze endpoints. Output
// analysis accepts the extra context fields; input analysis ignores them.
type analyzeRequest struct {
	Text           string                           `json:"text"`
	AppID          string                           `json:"app_id"`
	OriginalPrompt string                           `json:"original_prompt,omitempty"`
	SourceFacts    []string                         `json:"source_facts,omitempty"`
	Features       map[string]config.FeatureSetting `json:"features,omitempty"`
}

func (r *analyzeRequest) toPipeline(dir pipeline.Direction) *pipeline.AnalysisRequest {
	req := pipeline.NewRequest(r.AppID, dir, r.Text)
	req.OriginalPrompt = r.OriginalPrompt
	req.SourceFacts = r.SourceFacts
	req.FeatureOverrides = r.Features
	return req
}

func runHTTPServer(port string) {
	cfg := config.NewDefaultConfig()
	gateway := NewGateway(cfg)
	defer gateway.Close()

	app := fiber.New(fiber.Config{
		AppName: "Bulwark Gateway",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Inbound direction: user prompt on its way to the model
	app.Post("/v1/analyze/input", func(c fiber.Ctx) error {
		var req analyzeRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}
		preq := req.toPipeline(pipeline.DirectionInput)
		preq.Origin = c.IP()
		preq.UserAgent = c.Get("User-Agent")
		return c.JSON(gateway.engine.AnalyzeInput(c.Context(), preq))
	})

	// Outbound direction: model response on its way back to the user
	app.Post("/v1/analyze/output", func(c fiber.Ctx) error {
		var req analyzeRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}
		preq := req.toPipeline(pipeline.DirectionOutput)
		preq.Origin = c.IP()
		preq.UserAgent = c.Get("User-Agent")
		return c.JSON(gateway.engine.AnalyzeOutput(c.Context(), preq))
	})

	// Per-application feature management (available when Redis is wired)
	app.Put("/v1/apps/:id/features", func(c fiber.Ctx) error {
		if gateway.store == nil {
			return c.Status(503).JSON(fiber.Map{"error": "feature store not configured"})
		}
		var overrides map[string]config.FeatureSetting
		if err := c.Bind().Body(&overrides); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := gateway.store.SetFeatures(c.Context(), c.Params("id"), overrides); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/v1/apps/:id/features", func(c fiber.Ctx) error {
		if gateway.store == nil {
			return c.Status(503).JSON(fiber.Map{"error": "feature store not configured"})
		}
		features := gateway.store.FeaturesFor(c.Context(), c.Params("id"))
		return c.JSON(features)
	})

	app.Delete("/v1/apps/:id/features", func(c fiber.Ctx) error {
		if gateway.store == nil {
			return c.Status(503).JSON(fiber.Map{"error": "feature store not configured"})
		}
		if err := gateway.store.DeleteFeatures(c.Context(), c.Params("id")); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	log.Printf("Bulwark gateway starting on :%s", port)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health                  - Health check")
	log.Printf("  GET  /metrics                 - Prometheus metrics")
	log.Printf("  POST /v1/analyze/input        - Inspect a user prompt")
	log.Printf("  POST /v1/analyze/output       - Inspect a model response")
	log.Printf("  PUT  /v1/apps/:id/features    - Set per-app feature overrides")

	if err := app.Listen(":" + port); err != nil {
		log.Fatal(err)
	}
}

// runScan analyzes a single text from the command line and prints the
// verdict as indented JSON. Handy for local pattern testing.
func runScan(dir pipeline.Direction, text string) {
	cfg := config.NewDefaultConfig()
	gateway := NewGateway(cfg)
	defer gateway.Close()

	req := pipeline.NewRequest("", dir, text)
	var verdict *pipeline.Verdict
	if dir == pipeline.DirectionOutput {
		verdict = gateway.engine.AnalyzeOutput(context.Background(), req)
	} else {
		verdict = gateway.engine.AnalyzeInput(context.Background(), req)
	}

	out, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Println("Bulwark - LLM traffic inspection gateway")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  bulwark serve [port]          Start HTTP server (default: 3000)")
	fmt.Println("  bulwark scan <text>           Analyze text as a user prompt")
	fmt.Println("  bulwark scan-output <text>    Analyze text as a model response")
	fmt.Println("  bulwark version               Print version")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BULWARK_LLM_API_KEY       API key for escalated model analysis")
	fmt.Println("  BULWARK_LLM_PROVIDER      Provider: ollama, groq, openai, openrouter")
	fmt.Println("  BULWARK_REDIS_ADDR        Redis address for per-app feature overrides")
	fmt.Println("  BULWARK_POSTGRES_DSN      Postgres DSN for the verdict audit sink")
	fmt.Println("  BULWARK_ENABLE_SEMANTICS  Enable embedding-similarity detection")
	fmt.Println("  BULWARK_ENABLE_LOCAL_ML   Enable the local ONNX classifier")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := "3000"
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runHTTPServer(port)
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: bulwark scan <text>")
			os.Exit(1)
		}
		runScan(pipeline.DirectionInput, strings.Join(os.Args[2:], " "))
	case "scan-output":
		if len(os.Args) < 3 {
			fmt.Println("Usage: bulwark scan-output <text>")
			os.Exit(1)
		}
		runScan(pipeline.DirectionOutput, strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Println("bulwark", Version)
	default:
		printUsage()
		os.Exit(1)
	}
}
