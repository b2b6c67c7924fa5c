package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Specialists  []SpecialistConfig `yaml:"specialists,omitempty"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Store        StoreConfig        `yaml:"store"`
	Reports      ReportsConfig      `yaml:"reports"`
	Audit        AuditConfig        `yaml:"audit"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Temperature     float64              `yaml:"temperature"`
	MaxTokens       int                  `yaml:"max_tokens"`
}

// FailoverConfig lists provider names tried in order after the default fails.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai", "ollama", "bedrock"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// EmbeddingConfig selects the text embedding backend used by both indices.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "openai", "ollama", "hashing"
	BaseURL    string `yaml:"base_url,omitempty"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key,omitempty"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"` // 0 = disabled
}

// KnowledgeConfig points at the two knowledge sources and tunes retrieval.
type KnowledgeConfig struct {
	TermsPath          string  `yaml:"terms_path"`
	GuidelinesPath     string  `yaml:"guidelines_path"`
	ConfirmThreshold   float64 `yaml:"confirm_threshold"`
	UncertainThreshold float64 `yaml:"uncertain_threshold"`
	PassageThreshold   float64 `yaml:"passage_threshold"`
	TopK               int     `yaml:"top_k"`
	ChunkSize          int     `yaml:"chunk_size"`
	ChunkOverlap       int     `yaml:"chunk_overlap"`
	MinChunkWords      int     `yaml:"min_chunk_words"`
}

// OrchestratorConfig holds the group chat settings.
type OrchestratorConfig struct {
	MaxTurns           int      `yaml:"max_turns"`
	Discussion         bool     `yaml:"discussion"`
	HistoryCap         int      `yaml:"history_cap"`
	DirectSpecialist   string   `yaml:"direct_specialist"`
	Directive          bool     `yaml:"directive"`
	TerminationPhrases []string `yaml:"termination_phrases,omitempty"`
}

// SpecialistConfig overrides parts of a built-in specialist identity.
type SpecialistConfig struct {
	Name             string `yaml:"name"`
	Provider         string `yaml:"provider,omitempty"`
	Model            string `yaml:"model,omitempty"`
	MaxIterations    int    `yaml:"max_iterations,omitempty"`
	InstructionsFile string `yaml:"instructions_file,omitempty"`
}

// SessionsConfig holds session registry settings.
type SessionsConfig struct {
	MaxIdle              time.Duration `yaml:"max_idle"`
	ReapSchedule         string        `yaml:"reap_schedule"`
	EncryptionPassphrase string        `yaml:"encryption_passphrase,omitempty"`
}

// StoreConfig holds the SQLite database location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ReportsConfig holds clinical report output settings.
type ReportsConfig struct {
	Dir     string        `yaml:"dir"`
	PDF     bool          `yaml:"pdf"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuditConfig controls the JSONL audit trail of sessions and tool calls.
type AuditConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	MaxAge  time.Duration `yaml:"max_age"` // 0 keeps entries forever
}

// GatewayConfig holds HTTP/WebSocket gateway settings.
type GatewayConfig struct {
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig holds the per-client token bucket settings.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// defaultDataDir returns $HOME/.clinicrew, or ./data when $HOME is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".clinicrew")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Temperature:     0.2,
			MaxTokens:       2048,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 256,
			CacheSize:  512,
		},
		Knowledge: KnowledgeConfig{
			TermsPath:          "data/medical_terms.txt",
			GuidelinesPath:     "data/clinical_guidelines.md",
			ConfirmThreshold:   0.85,
			UncertainThreshold: 0.60,
			PassageThreshold:   0.60,
			TopK:               3,
			ChunkSize:          80,
			ChunkOverlap:       20,
			MinChunkWords:      10,
		},
		Orchestrator: OrchestratorConfig{
			MaxTurns:         10,
			HistoryCap:       50,
			DirectSpecialist: "SemanticMedicalAdvisor",
			Directive:        true,
		},
		Sessions: SessionsConfig{
			MaxIdle:      time.Hour,
			ReapSchedule: "@every 10m",
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "clinicrew.db"),
		},
		Reports: ReportsConfig{
			Dir:     filepath.Join(dataDir, "reports"),
			Timeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Path:   filepath.Join(dataDir, "audit.jsonl"),
			MaxAge: 90 * 24 * time.Hour,
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8420",
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				Burst:             10,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			ServiceName: "clinicrew",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := validatePermissions(path); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CLINICREW_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// 0600 and 0644 are fine; group/world write is not.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
