package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "CLINICREW_"

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

// ApplyEnvOverrides maps CLINICREW_* env vars to config fields.
// Malformed numeric or duration values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := getenv("LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	// Per-provider API key overrides: CLINICREW_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("LLM_PROVIDER_%s_API_KEY", envName(cfg.LLM.Providers[i].Name))
		if v := getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}

	if v := getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := getenv("KNOWLEDGE_TERMS_PATH"); v != "" {
		cfg.Knowledge.TermsPath = v
	}
	if v := getenv("KNOWLEDGE_GUIDELINES_PATH"); v != "" {
		cfg.Knowledge.GuidelinesPath = v
	}
	if v := getenv("KNOWLEDGE_CONFIRM_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Knowledge.ConfirmThreshold = f
		}
	}
	if v := getenv("KNOWLEDGE_UNCERTAIN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Knowledge.UncertainThreshold = f
		}
	}

	if v := getenv("ORCHESTRATOR_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.MaxTurns = n
		}
	}
	if v := getenv("ORCHESTRATOR_DISCUSSION"); v != "" {
		cfg.Orchestrator.Discussion = v == "true"
	}
	if v := getenv("ORCHESTRATOR_HISTORY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.HistoryCap = n
		}
	}

	if v := getenv("SESSIONS_MAX_IDLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Sessions.MaxIdle = d
		}
	}
	if v := getenv("SESSIONS_PASSPHRASE"); v != "" {
		cfg.Sessions.EncryptionPassphrase = v
	}

	if v := getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := getenv("REPORTS_DIR"); v != "" {
		cfg.Reports.Dir = v
	}
	if v := getenv("REPORTS_PDF"); v != "" {
		cfg.Reports.PDF = v == "true"
	}

	if v := getenv("AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = v == "true"
	}
	if v := getenv("AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}

	if v := getenv("GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := getenv("GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{Token: v, Name: "env"})
	}

	if v := getenv("LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := getenv("LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := getenv("TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := getenv("TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
}

// envName upper-cases a provider name and replaces characters that are not
// valid in environment variable names.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}
