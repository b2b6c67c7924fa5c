package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clinicrew/internal/adapter/mcpserver"
	"clinicrew/internal/adapter/tool"
	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/usecase/eventbus"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge search tools over MCP stdio",
	Long: `Expose search_medical_knowledge and search_clinical_guidelines to MCP
clients on stdin/stdout. Logs always go to stderr or a file.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, cleanup, err := bootstrap(ctx, func(cfg *config.Config) {
		if cfg.Logger.Output == "stdout" {
			cfg.Logger.Output = "stderr"
		}
	})
	if err != nil {
		return err
	}
	defer cleanup()

	bus := eventbus.New(log)
	defer bus.Close()
	defer eventbus.LogEvents(bus, log)()

	k, err := initKnowledge(ctx, cfg, bus, log)
	if err != nil {
		return err
	}

	reg := tool.NewRegistry(log)
	if err := reg.Register(k.TermTool, k.PassageTool); err != nil {
		return err
	}
	tools := make([]domain.Tool, 0, 2)
	for _, name := range reg.Names() {
		t, err := reg.Get(name)
		if err != nil {
			return err
		}
		tools = append(tools, t)
	}

	log.Info("mcp server listening on stdio", "tools", reg.Names())
	err = mcpserver.New("clinicrew", version, tools, log).ServeStdio(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
