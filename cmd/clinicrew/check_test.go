package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clinicrew/internal/infra/config"
	"clinicrew/internal/infra/logger"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// offlineConfig points every check at temp files and the hashing embedder.
func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	terms := filepath.Join(dir, "terms.txt")
	writeTestFile(t, terms, "Heart failure | HF | cardiac failure, CHF\nChronic kidney disease | CKD | renal failure\nnot a term line\n")

	guidelines := filepath.Join(dir, "guidelines.md")
	var doc strings.Builder
	doc.WriteString("# Heart failure\n\n")
	for range 30 {
		doc.WriteString("Start an SGLT2 inhibitor and an ACE inhibitor in reduced ejection fraction.\n")
	}
	writeTestFile(t, guidelines, doc.String())

	cfg := config.Defaults()
	cfg.LLM.DefaultProvider = "local"
	cfg.LLM.Providers = []config.ProviderConfig{{Name: "local", Type: "ollama", Model: "llama3"}}
	cfg.Embedding = config.EmbeddingConfig{Provider: "hashing", Dimensions: 128, CacheSize: 64}
	cfg.Knowledge.TermsPath = terms
	cfg.Knowledge.GuidelinesPath = guidelines
	cfg.Store.Path = filepath.Join(dir, "clinicrew.db")
	cfg.Reports.Dir = filepath.Join(dir, "reports")
	return cfg
}

func TestChecker_Offline(t *testing.T) {
	c := &checker{cfg: offlineConfig(t), log: logger.Discard()}
	var out bytes.Buffer
	if err := c.run(context.Background(), &out, "HF"); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}

	got := out.String()
	for _, want := range []string{
		"[PASS] LLM providers: 1 provider(s), default local",
		"[WARN] Embedding: hashing embedder",
		"[PASS] Medical terms: 2 entries",
		"[PASS] Clinical guidelines:",
		"[PASS] Record store:",
		"[PASS] Reports: markdown reports in",
		`Probe "HF"`,
		"Results: 5 passed, 1 warnings, 0 failed",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestChecker_MissingTermsFile(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Knowledge.TermsPath = filepath.Join(t.TempDir(), "missing.txt")

	c := &checker{cfg: cfg, log: logger.Discard()}
	var out bytes.Buffer
	err := c.run(context.Background(), &out, "HF")
	if err == nil {
		t.Fatal("expected failure for missing terms file")
	}
	if !strings.Contains(out.String(), "[FAIL] Medical terms:") {
		t.Errorf("expected FAIL line:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Probe") {
		t.Error("probe should be skipped when an index failed")
	}
}

func TestCheckProviders(t *testing.T) {
	tests := []struct {
		name      string
		providers []config.ProviderConfig
		def       string
		want      CheckStatus
	}{
		{"none", nil, "openai", StatusFail},
		{"default missing", []config.ProviderConfig{{Name: "a", Type: "ollama"}}, "openai", StatusFail},
		{"openai without key", []config.ProviderConfig{{Name: "openai", Type: "openai"}}, "openai", StatusWarn},
		{"openai with key", []config.ProviderConfig{{Name: "openai", Type: "openai", APIKey: "sk-test"}}, "openai", StatusPass},
		{"bedrock needs no key", []config.ProviderConfig{{Name: "aws", Type: "bedrock"}}, "aws", StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.LLM.Providers = tt.providers
			cfg.LLM.DefaultProvider = tt.def
			c := &checker{cfg: cfg}
			if got := c.checkProviders(context.Background()).Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusIcon(t *testing.T) {
	if statusIcon(StatusPass) != "[PASS]" || statusIcon(StatusWarn) != "[WARN]" || statusIcon(StatusFail) != "[FAIL]" {
		t.Error("unexpected icons")
	}
	if statusIcon("other") != "[????]" {
		t.Error("unknown status should render [????]")
	}
}
