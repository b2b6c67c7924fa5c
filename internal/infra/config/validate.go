package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateEmbedding(cfg, ve)
	validateKnowledge(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateSpecialists(cfg, ve)
	validateSessions(cfg, ve)
	validateGateway(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProviderTypes = map[string]bool{
	"openai":  true,
	"ollama":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		ve.Add("llm.temperature must be between 0 and 2")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, ollama, bedrock)", i, p.Type)
		}
		if p.APIKey == "" && (p.Type == "" || p.Type == "openai") {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via CLINICREW_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, envName(p.Name))
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
	}

	if !seen[cfg.LLM.DefaultProvider] && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if !seen[name] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", name)
			}
		}
	}
}

var validEmbeddingProviders = map[string]bool{
	"openai":  true,
	"ollama":  true,
	"hashing": true,
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	e := cfg.Embedding
	if !validEmbeddingProviders[e.Provider] {
		ve.Add("embedding.provider %q is invalid (want: openai, ollama, hashing)", e.Provider)
	}
	if e.Provider == "hashing" && e.Dimensions <= 0 {
		ve.Add("embedding.dimensions must be > 0 for the hashing provider")
	}
	if e.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
}

func validateKnowledge(cfg *Config, ve *ValidationError) {
	k := cfg.Knowledge
	if k.TermsPath == "" {
		ve.Add("knowledge.terms_path must not be empty")
	}
	if k.GuidelinesPath == "" {
		ve.Add("knowledge.guidelines_path must not be empty")
	}
	if k.UncertainThreshold <= 0 || k.UncertainThreshold > k.ConfirmThreshold || k.ConfirmThreshold > 1 {
		ve.Add("knowledge thresholds must satisfy 0 < uncertain_threshold <= confirm_threshold <= 1")
	}
	if k.PassageThreshold < 0 || k.PassageThreshold > 1 {
		ve.Add("knowledge.passage_threshold must be between 0 and 1")
	}
	if k.TopK <= 0 {
		ve.Add("knowledge.top_k must be > 0")
	}
	if k.ChunkSize <= 0 {
		ve.Add("knowledge.chunk_size must be > 0")
	}
	if k.ChunkOverlap < 0 || k.ChunkOverlap >= k.ChunkSize {
		ve.Add("knowledge.chunk_overlap must be >= 0 and < chunk_size")
	}
	if k.MinChunkWords < 0 {
		ve.Add("knowledge.min_chunk_words must be >= 0")
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	if cfg.Orchestrator.MaxTurns <= 0 {
		ve.Add("orchestrator.max_turns must be > 0")
	}
	if cfg.Orchestrator.HistoryCap < 0 {
		ve.Add("orchestrator.history_cap must be >= 0")
	}
	if cfg.Orchestrator.DirectSpecialist == "" {
		ve.Add("orchestrator.direct_specialist must not be empty")
	}
}

func validateSpecialists(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, s := range cfg.Specialists {
		if s.Name == "" {
			ve.Add("specialists[%d].name must not be empty", i)
			continue
		}
		if seen[s.Name] {
			ve.Add("specialists[%d]: duplicate specialist %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.MaxIterations < 0 {
			ve.Add("specialists[%d].max_iterations must be >= 0", i)
		}
		if s.Provider != "" && len(cfg.LLM.Providers) > 0 {
			if _, ok := cfg.Provider(s.Provider); !ok {
				ve.Add("specialists[%d].provider %q does not match any configured provider", i, s.Provider)
			}
		}
	}
}

func validateSessions(cfg *Config, ve *ValidationError) {
	if cfg.Sessions.MaxIdle < 0 {
		ve.Add("sessions.max_idle must be >= 0")
	}
	if cfg.Sessions.ReapSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Sessions.ReapSchedule); err != nil {
			ve.Add("sessions.reap_schedule %q is invalid: %v", cfg.Sessions.ReapSchedule, err)
		}
	}
	if cfg.Store.Path == "" {
		ve.Add("store.path must not be empty")
	}
	if cfg.Reports.Dir == "" {
		ve.Add("reports.dir must not be empty")
	}
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		ve.Add("audit.path must not be empty when audit is enabled")
	}
	if cfg.Audit.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if g.Addr == "" {
		ve.Add("gateway.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(g.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", g.Addr)
	}
	switch g.Auth.Type {
	case "", "none":
	case "static":
		if len(g.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty when auth type is static")
		}
		for i, tok := range g.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is invalid (want: none or static)", g.Auth.Type)
	}
	if g.RateLimit.Enabled && (g.RateLimit.RequestsPerSecond <= 0 || g.RateLimit.Burst <= 0) {
		ve.Add("gateway.rate_limit requires requests_per_second > 0 and burst > 0")
	}
}

func validateObservability(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path must start with /")
	}
}
