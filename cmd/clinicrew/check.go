package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"clinicrew/internal/adapter/embedding"
	"clinicrew/internal/adapter/store"
	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/infra/logger"
	"clinicrew/internal/usecase/knowledge"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

var checkProbe string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate config and load both knowledge sources",
	Long: `Load the config, build the embedder and initialise the medical term and
clinical guideline indices. With --probe, the query is run against both.
Configuration errors stop the check immediately.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkProbe, "probe", "", "query to run against both indices")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		printResult(out, CheckResult{Name: "Config", Status: StatusFail, Message: err.Error(), Fix: "Fix the settings listed above in " + cfgPath})
		return err
	}
	printResult(out, CheckResult{Name: "Config", Status: StatusPass, Message: "loaded from " + cfgPath})

	// Index logs would interleave with the report.
	cfg.Logger.Output = "discard"
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	c := &checker{cfg: cfg, log: log}
	return c.run(cmd.Context(), out, checkProbe)
}

// checker runs the checks in order; later checks reuse the embedder and
// indices built by earlier ones.
type checker struct {
	cfg      *config.Config
	log      *slog.Logger
	embedder domain.EmbeddingProvider
	terms    *knowledge.TermIndex
	passages *knowledge.PassageIndex
}

func (c *checker) run(ctx context.Context, out io.Writer, probe string) error {
	checks := []struct {
		name string
		fn   func(context.Context) CheckResult
	}{
		{"LLM providers", c.checkProviders},
		{"Embedding", c.checkEmbedding},
		{"Medical terms", c.checkTerms},
		{"Clinical guidelines", c.checkGuidelines},
		{"Record store", c.checkStore},
		{"Reports", c.checkReports},
	}

	var pass, warn, fail int
	for _, check := range checks {
		result := check.fn(ctx)
		result.Name = check.name
		printResult(out, result)
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	if probe != "" && c.terms != nil && c.passages != nil {
		if err := c.runProbe(ctx, out, probe); err != nil {
			fmt.Fprintf(out, "\nProbe failed: %v\n", err)
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func printResult(out io.Writer, r CheckResult) {
	fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(r.Status), r.Name, r.Message)
	if r.Fix != "" {
		fmt.Fprintf(out, "      Fix: %s\n", r.Fix)
	}
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkProviders verifies the default provider exists and that providers
// which need an API key have one. Ollama and Bedrock do not.
func (c *checker) checkProviders(context.Context) CheckResult {
	if len(c.cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider under llm.providers",
		}
	}
	if _, ok := c.cfg.Provider(c.cfg.LLM.DefaultProvider); !ok {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q is not configured", c.cfg.LLM.DefaultProvider),
			Fix:     "Set llm.default_provider to one of the llm.providers names",
		}
	}

	var missing []string
	for _, p := range c.cfg.LLM.Providers {
		if (p.Type == "openai" || p.Type == "") && p.APIKey == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no API key for: " + strings.Join(missing, ", "),
			Fix:     "Set CLINICREW_LLM_PROVIDER_<NAME>_API_KEY or api_key in the config",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d provider(s), default %s", len(c.cfg.LLM.Providers), c.cfg.LLM.DefaultProvider),
	}
}

func (c *checker) checkEmbedding(context.Context) CheckResult {
	e, err := embedding.New(c.cfg.Embedding)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Use openai, ollama or hashing for embedding.provider"}
	}
	c.embedder = e
	if c.cfg.Embedding.Provider == "hashing" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "hashing embedder matches words, not meaning",
			Fix:     "Use an openai or ollama embedding model for semantic search",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s %s (%d dims)", c.cfg.Embedding.Provider, c.cfg.Embedding.Model, e.Dimensions())}
}

func (c *checker) checkTerms(ctx context.Context) CheckResult {
	if c.embedder == nil {
		return CheckResult{Status: StatusFail, Message: "skipped, no embedder"}
	}
	kc := c.cfg.Knowledge
	terms := knowledge.NewTermIndex(c.embedder, c.log, knowledge.WithTermThresholds(kc.ConfirmThreshold, kc.UncertainThreshold))
	if err := terms.Initialize(ctx, kc.TermsPath); err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Check knowledge.terms_path and the embedding service"}
	}
	c.terms = terms
	if terms.Len() == 0 {
		return CheckResult{Status: StatusWarn, Message: kc.TermsPath + " has no valid entries", Fix: "Use lines of the form 'Term | ACRONYM | synonym, synonym'"}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d entries from %s", terms.Len(), kc.TermsPath)}
}

func (c *checker) checkGuidelines(ctx context.Context) CheckResult {
	if c.embedder == nil {
		return CheckResult{Status: StatusFail, Message: "skipped, no embedder"}
	}
	kc := c.cfg.Knowledge
	passages := knowledge.NewPassageIndex(c.embedder, c.log,
		knowledge.WithChunking(kc.ChunkSize, kc.ChunkOverlap, kc.MinChunkWords),
		knowledge.WithPassageThreshold(kc.PassageThreshold),
		knowledge.WithTopK(kc.TopK),
	)
	if err := passages.Initialize(ctx, kc.GuidelinesPath); err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Check knowledge.guidelines_path and the embedding service"}
	}
	c.passages = passages
	if passages.Len() == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: kc.GuidelinesPath + " produced no chunks",
			Fix:     "The document needs at least knowledge.min_chunk_words words outside headings",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d chunks from %s", passages.Len(), kc.GuidelinesPath)}
}

func (c *checker) checkStore(context.Context) CheckResult {
	st, err := store.Open(c.cfg.Store.Path)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Make store.path writable"}
	}
	st.Close()
	return CheckResult{Status: StatusPass, Message: c.cfg.Store.Path}
}

func (c *checker) checkReports(context.Context) CheckResult {
	if err := os.MkdirAll(c.cfg.Reports.Dir, 0o755); err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Make reports.dir writable"}
	}
	if !c.cfg.Reports.PDF {
		return CheckResult{Status: StatusPass, Message: "markdown reports in " + c.cfg.Reports.Dir}
	}
	for _, bin := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(bin); err == nil {
			return CheckResult{Status: StatusPass, Message: "markdown and PDF reports in " + c.cfg.Reports.Dir}
		}
	}
	return CheckResult{
		Status:  StatusWarn,
		Message: "reports.pdf is on but no Chrome binary was found; only markdown will be written",
		Fix:     "Install Chromium or set reports.pdf: false",
	}
}

func (c *checker) runProbe(ctx context.Context, out io.Writer, query string) error {
	match, err := c.terms.Search(ctx, query)
	if err != nil {
		return err
	}
	hits, err := c.passages.Search(ctx, query)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nProbe %q\n", query)
	fmt.Fprintf(out, "  terms:      %s\n", match.Format())
	fmt.Fprintf(out, "  guidelines:\n%s\n", knowledge.FormatPassages(hits))
	return nil
}
