package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/bastionsec/bastion/pkg/audit"
	"github.com/bastionsec/bastion/pkg/config"
	"github.com/bastionsec/bastion/pkg/firewall"
	"github.com/bastionsec/bastion/pkg/httputil"
	"github.com/bastionsec/bastion/pkg/model"
	"github.com/bastionsec/bastion/pkg/request"
	"github.com/bastionsec/bastion/pkg/signature"
	"github.com/bastionsec/bastion/pkg/telemetry"
)

const Version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "check":
		if len(os.Args) < 3 {
			fmt.Println("Usage: bastion check <request-target> [body]")
			os.Exit(1)
		}
		body := ""
		if len(os.Args) > 3 {
			body = strings.Join(os.Args[3:], " ")
		}
		runCheck(os.Args[2], body)
	case "rules":
		listRules()
	case "version":
		fmt.Printf("Bastion v%s\n", Version)
		fmt.Println("Two-stage HTTP request firewall (signatures + ML fallback)")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Bastion v%s - HTTP request firewall\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  bastion serve                      Start the gateway")
	fmt.Println("  bastion check <target> [body]      Classify a single request")
	fmt.Println("  bastion rules                      List the active rule catalog")
	fmt.Println("  bastion version                    Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  BASTION_LISTEN_ADDR     Gateway listen address (default :8080)")
	fmt.Println("  BASTION_RULES_PATH      YAML rule catalog (default: built-in rules)")
	fmt.Println("  BASTION_MODEL_PATH      ONNX model directory for the ML fallback")
	fmt.Println("  BASTION_AUDIT_LOG       JSONL decision log (\"-\" to disable)")
	fmt.Println("  BASTION_POSTGRES_DSN    Optional Postgres decision store")
	fmt.Println("  BASTION_REDIS_ADDR      Optional Redis live decision stream")
	fmt.Println("  BASTION_UPSTREAM_URL    Backend to forward benign requests to")
}

// pipeline bundles everything the gateway serves from.
type pipeline struct {
	fw         *firewall.Firewall
	engine     *signature.Engine
	classifier *model.Classifier
	sink       *audit.Sink
	cfg        *config.Config
}

// buildPipeline assembles the firewall from configuration. A broken rule
// catalog is fatal; unreachable decision log destinations are not, since
// logging is best-effort by contract.
func buildPipeline(cfg *config.Config) *pipeline {
	cat := loadCatalog(cfg.RulesPath)
	engine := signature.NewEngine(cat, cfg.RuleBudget, nil)
	log.Printf("[STARTUP] signature catalog loaded (%d rules)", cat.Len())

	classifier := model.NewClassifier(model.Config{
		ModelPath:       cfg.ModelPath,
		OnnxLibraryPath: cfg.OnnxLibraryPath,
	}, nil)
	if classifier.Available() {
		log.Println("✓ ML fallback enabled")
	} else {
		log.Println("○ ML fallback disabled (no model; non-matching requests default to benign)")
	}

	sink := audit.NewSink(cfg.SinkQueueSize, nil, buildWriters(cfg)...)

	return &pipeline{
		fw:         firewall.New(engine, classifier, sink, nil),
		engine:     engine,
		classifier: classifier,
		sink:       sink,
		cfg:        cfg,
	}
}

func loadCatalog(path string) *signature.Catalog {
	if path == "" {
		return signature.DefaultCatalog()
	}
	cat, err := signature.LoadCatalog(path)
	if err != nil {
		// Malformed rules are lost coverage; refuse to serve traffic.
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	return cat
}

func buildWriters(cfg *config.Config) []audit.Writer {
	var writers []audit.Writer

	if cfg.AuditLogPath != "" && cfg.AuditLogPath != "-" {
		w, err := audit.NewJSONLWriter(cfg.AuditLogPath)
		if err != nil {
			log.Printf("○ decision log file disabled: %v", err)
		} else {
			writers = append(writers, w)
			log.Printf("✓ decision log: %s", cfg.AuditLogPath)
		}
	}
	if cfg.PostgresDSN != "" {
		ctx, cancel := sinkSetupContext()
		w, err := audit.NewPostgresWriter(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			log.Printf("○ postgres decision store disabled: %v", err)
		} else {
			writers = append(writers, w)
			log.Println("✓ postgres decision store enabled")
		}
	}
	if cfg.RedisAddr != "" {
		ctx, cancel := sinkSetupContext()
		w, err := audit.NewRedisWriter(ctx, cfg.RedisAddr, cfg.RedisStream)
		cancel()
		if err != nil {
			log.Printf("○ redis decision stream disabled: %v", err)
		} else {
			writers = append(writers, w)
			log.Printf("✓ redis decision stream: %s", cfg.RedisStream)
		}
	}
	return writers
}

func sinkSetupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

func runServer() {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()
	p := buildPipeline(cfg)

	app := fiber.New(fiber.Config{
		AppName: "Bastion Firewall",
	})

	inflight := httputil.NewSemaphore(cfg.ProxyMaxInflight)

	// Forwarding proxy: everything that is not a control endpoint gets
	// classified and, when benign, forwarded to the protected backend.
	if cfg.UpstreamURL != "" {
		app.Use(func(c fiber.Ctx) error {
			if isControlPath(c.Path()) {
				return c.Next()
			}
			return proxyHandler(c, p, cfg.UpstreamURL, inflight)
		})
		log.Printf("[STARTUP] proxying benign requests to %s", cfg.UpstreamURL)
	}

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":       "ok",
			"version":      Version,
			"rules":        p.engine.Catalog().Len(),
			"model_loaded": p.classifier.Available(),
		})
	})

	// Classify a request record without forwarding anything. This is the
	// integration point for external capture layers.
	app.Post("/classify", func(c fiber.Ctx) error {
		var raw request.Raw
		if err := c.Bind().Body(&raw); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request record"})
		}
		return c.JSON(p.fw.Classify(c.Context(), &raw))
	})

	app.Post("/reload/rules", func(c fiber.Ctx) error {
		var req struct {
			Path string `json:"path"`
		}
		_ = c.Bind().Body(&req) // empty body means reload from configured path
		path := req.Path
		if path == "" {
			path = cfg.RulesPath
		}
		var (
			cat *signature.Catalog
			err error
		)
		if path == "" {
			cat = signature.DefaultCatalog()
		} else if cat, err = signature.LoadCatalog(path); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		p.engine.Swap(cat)
		return c.JSON(fiber.Map{"status": "ok", "rules": cat.Len()})
	})

	app.Post("/reload/model", func(c fiber.Ctx) error {
		var req struct {
			Path string `json:"path"`
		}
		_ = c.Bind().Body(&req)
		path := req.Path
		if path == "" {
			path = cfg.ModelPath
		}
		if path == "" {
			return c.Status(400).JSON(fiber.Map{"error": "no model path configured or provided"})
		}
		if err := p.classifier.Reload(path); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok", "model": p.classifier.ModelPath()})
	})

	app.Get("/stats", func(c fiber.Ctx) error {
		stats := telemetry.Default.Snapshot()
		return c.JSON(fiber.Map{
			"counters":         stats,
			"proxy_in_flight":  inflight.InUse(),
			"proxy_rejections": inflight.Rejected(),
		})
	})

	log.Printf("Bastion gateway starting on %s", cfg.ListenAddr)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health        - Health check")
	log.Printf("  POST /classify      - Classify a request record")
	log.Printf("  POST /reload/rules  - Swap the rule catalog")
	log.Printf("  POST /reload/model  - Swap the ML model artifact")
	log.Printf("  GET  /stats         - Degraded-state counters")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

func isControlPath(path string) bool {
	switch path {
	case "/health", "/classify", "/stats":
		return true
	}
	return strings.HasPrefix(path, "/reload/")
}

// proxyHandler plays the caller role from the verdict contract: block on
// malicious, forward on benign.
func proxyHandler(c fiber.Ctx, p *pipeline, upstream string, inflight *httputil.Semaphore) error {
	raw := rawFromCtx(c)
	verdict := p.fw.Classify(c.Context(), &raw)

	if verdict.Malicious() {
		return c.Status(http.StatusForbidden).JSON(fiber.Map{
			"error":    "request blocked by firewall",
			"decision": verdict.ID,
			"category": verdict.Category,
		})
	}

	if !inflight.TryAcquire() {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "upstream saturated"})
	}
	defer inflight.Release()

	req, err := http.NewRequestWithContext(c.Context(), raw.Method, upstream+raw.Target, bytes.NewReader(c.Body()))
	if err != nil {
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": "invalid upstream request"})
	}
	for name, value := range raw.Headers {
		req.Header.Set(name, value)
	}

	resp, err := httputil.Client(httputil.TierForward).Do(req)
	if err != nil {
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": "upstream unreachable"})
	}
	defer resp.Body.Close()

	body, err := httputil.ReadBounded(resp.Body)
	if err != nil {
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": "upstream read failed"})
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Set("Content-Type", ct)
	}
	return c.Status(resp.StatusCode).Send(body)
}

// rawFromCtx builds the request record from the incoming HTTP request.
func rawFromCtx(c fiber.Ctx) request.Raw {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})
	return request.Raw{
		Method:  c.Method(),
		Target:  c.OriginalURL(),
		Body:    string(c.Body()),
		Headers: headers,
		Origin:  c.IP(),
		Host:    string(c.Request().Host()),
	}
}

// ============================================================================
// CLI Modes
// ============================================================================

func runCheck(target, body string) {
	cfg := config.NewInspectOnlyConfig()
	cfg.AuditLogPath = "-"
	p := buildPipeline(cfg)
	defer p.sink.Close()

	method := "GET"
	if body != "" {
		method = "POST"
	}
	verdict := p.fw.Classify(context.Background(), &request.Raw{
		Method: method,
		Target: target,
		Body:   body,
	})

	out, _ := json.MarshalIndent(verdict, "", "  ")
	fmt.Println(string(out))
}

func listRules() {
	cfg := config.NewDefaultConfig()
	cat := loadCatalog(cfg.RulesPath)

	fmt.Printf("Active catalog: %d rules (first match wins)\n\n", cat.Len())
	for i, r := range cat.Rules() {
		fmt.Printf("%3d. %-24s %-16s", i+1, r.ID, r.Category)
		if r.MaxParamLength > 0 {
			fmt.Printf("param value > %d chars\n", r.MaxParamLength)
			continue
		}
		fmt.Printf("%s  (fields: %s)\n", r.Pattern, joinFields(r.Fields))
	}
}

func joinFields(fields []request.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}
