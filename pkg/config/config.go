package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds global settings for the Bastion firewall gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenAddr string // HTTP listen address (default: ":8080")

	// === Signature Engine ===
	RulesPath  string        // YAML rule catalog; empty selects the built-in catalog
	RuleBudget time.Duration // per-rule evaluation time budget

	// === Fallback Classifier ===
	ModelPath       string // ONNX model directory; empty disables the ML stage
	OnnxLibraryPath string // libonnxruntime location; empty uses the Go backend

	// === Decision Log ===
	AuditLogPath  string // JSONL decision log (default: "decisions.jsonl"; "-" disables)
	PostgresDSN   string // optional Postgres destination for decisions
	RedisAddr     string // optional Redis destination for the live decision stream
	RedisStream   string // stream key (default: "bastion:decisions")
	SinkQueueSize int    // bounded decision queue capacity

	// === Forwarding Proxy ===
	UpstreamURL      string // backend to forward benign requests to; empty disables proxying
	ProxyMaxInflight int    // admission limit for concurrent upstream forwards
}

// NewDefaultConfig creates a Config with sensible defaults, overridable via
// BASTION_* environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr: GetEnv("BASTION_LISTEN_ADDR", ":8080"),

		RulesPath:  GetEnv("BASTION_RULES_PATH", ""),
		RuleBudget: time.Duration(GetEnvInt("BASTION_RULE_BUDGET_MS", 25)) * time.Millisecond,

		ModelPath:       GetEnv("BASTION_MODEL_PATH", ""),
		OnnxLibraryPath: GetEnv("BASTION_ONNX_LIBRARY_PATH", ""),

		AuditLogPath:  GetEnv("BASTION_AUDIT_LOG", "decisions.jsonl"),
		PostgresDSN:   GetEnv("BASTION_POSTGRES_DSN", ""),
		RedisAddr:     GetEnv("BASTION_REDIS_ADDR", ""),
		RedisStream:   GetEnv("BASTION_REDIS_STREAM", "bastion:decisions"),
		SinkQueueSize: clampInt(GetEnvInt("BASTION_SINK_QUEUE", 1024), 16, 1<<20),

		UpstreamURL:      GetEnv("BASTION_UPSTREAM_URL", ""),
		ProxyMaxInflight: clampInt(GetEnvInt("BASTION_PROXY_MAX_INFLIGHT", 256), 1, 1<<16),
	}
}

// NewInspectOnlyConfig creates a Config for classify-and-log operation with
// no forwarding and no external sinks. Useful for development and tests.
func NewInspectOnlyConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.UpstreamURL = ""
	cfg.PostgresDSN = ""
	cfg.RedisAddr = ""
	return cfg
}

// Validate checks configuration consistency. A broken rule catalog or an
// unreachable sink is caught later by the component that owns it; this
// catches only what is knowably wrong before any component starts.
func (c *Config) Validate() error {
	var problems []string
	if c.RuleBudget <= 0 {
		problems = append(problems, "BASTION_RULE_BUDGET_MS must be positive")
	}
	if c.RulesPath != "" {
		if _, err := os.Stat(c.RulesPath); err != nil {
			problems = append(problems, fmt.Sprintf("BASTION_RULES_PATH: %v", err))
		}
	}
	if c.UpstreamURL != "" && !strings.HasPrefix(c.UpstreamURL, "http://") && !strings.HasPrefix(c.UpstreamURL, "https://") {
		problems = append(problems, "BASTION_UPSTREAM_URL must be an http(s) URL")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits on failure. Call at startup
// before serving traffic.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	log.Println("[STARTUP] configuration validated")
}

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
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
