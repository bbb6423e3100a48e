package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Research.MaxIterations != 3 {
		t.Fatalf("default max_iterations = %d, want 3", cfg.Research.MaxIterations)
	}
	if cfg.Research.MaxConcurrent != 5 {
		t.Fatalf("default max_concurrent = %d, want 5", cfg.Research.MaxConcurrent)
	}
	if cfg.Research.TimeoutPerTask != 60*time.Second {
		t.Fatalf("default timeout_per_task = %s, want 60s", cfg.Research.TimeoutPerTask)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("OPENAI_API_KEY not picked up, got %q", cfg.LLM.APIKey)
	}
	if err := cfg.LLM.Validate(); err != nil {
		t.Fatalf("llm validate: %v", err)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	t.Setenv("ALPHY_RESEARCH_MAX_ITERATIONS", "5")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
  "llm": {"api_key": "sk-file", "routing": {"planning": "gpt-4o"}},
  "research": {"min_discovered": 10},
  "redis": {"enabled": true, "host": "redis.internal", "port": "6380"}
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-file" {
		t.Fatalf("api key from file = %q", cfg.LLM.APIKey)
	}
	if cfg.Research.MinDiscovered != 10 {
		t.Fatalf("min_discovered from file = %d", cfg.Research.MinDiscovered)
	}
	if cfg.Research.MaxIterations != 5 {
		t.Fatalf("env override ignored: max_iterations = %d, want 5", cfg.Research.MaxIterations)
	}
	if got := cfg.Redis.Addr(); got != "redis.internal:6380" {
		t.Fatalf("redis addr = %q", got)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestModelRouting(t *testing.T) {
	cfg := LLMConfig{Routing: LLMRoutingConfig{
		Planning: "gpt-4o",
		Fallback: "gpt-4o-mini",
	}}
	if got := cfg.Model("planning"); got != "gpt-4o" {
		t.Fatalf("planning model = %q", got)
	}
	if got := cfg.Model("synthesis"); got != "gpt-4o-mini" {
		t.Fatalf("fallback model = %q", got)
	}
}

func TestValidationRejectsBadValues(t *testing.T) {
	if err := (ResearchConfig{MaxIterations: -1}).Validate(); err == nil {
		t.Fatalf("negative max_iterations must fail")
	}
	if err := (ResearchConfig{OnTaskFailure: "panic"}).Validate(); err == nil {
		t.Fatalf("unknown failure mode must fail")
	}
	if err := (RedisConfig{Enabled: true}).Validate(); err == nil {
		t.Fatalf("enabled redis without host must fail")
	}
	if err := (TelemetryConfig{Enabled: true}).Validate(); err == nil {
		t.Fatalf("enabled telemetry without port must fail")
	}
}
