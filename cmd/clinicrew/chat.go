package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"clinicrew/internal/adapter/tui/chat"
	"clinicrew/internal/infra/config"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the terminal chat client",
	Long: `Chat with the team in the terminal. The session history is kept in the
record store, so the same --session resumes where it stopped.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "cli", "session id")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, cleanup, err := bootstrap(ctx, chatLogOutput)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return chat.Run(ctx, chat.Deps{
		Sessions:    a.sessions,
		SessionID:   chatSession,
		Specialists: a.roster.Names(),
		Bus:         a.bus,
		Logger:      log,
	})
}

// chatLogOutput moves terminal logging to a file beside the database so it
// does not draw over the UI.
func chatLogOutput(cfg *config.Config) {
	switch strings.ToLower(cfg.Logger.Output) {
	case "", "stderr", "stdout":
		cfg.Logger.Output = filepath.Join(filepath.Dir(cfg.Store.Path), "chat.log")
	}
}
