package main

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"clinicrew/internal/domain"
)

var (
	askDirect     bool
	askSpecialist string
	askSession    string
)

var askCmd = &cobra.Command{
	Use:   "ask [text...]",
	Short: "Run one request and print the team's answers",
	Long: `Run the whole team on the given text, or ask a single specialist with
--direct. With no arguments the text is read from stdin.`,
	Example: `  clinicrew ask "Paciente Juan Pérez, habitación 12, ingresa por disnea"
  clinicrew ask --direct "dose of SGLT2 inhibitors in heart failure"
  cat note.txt | clinicrew ask --session ward-3`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askDirect, "direct", false, "send the text to one specialist instead of the whole team")
	askCmd.Flags().StringVar(&askSpecialist, "specialist", "", "specialist for --direct (default orchestrator.direct_specialist)")
	askCmd.Flags().StringVar(&askSession, "session", "", "session id to continue (default a new one)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	if askSpecialist != "" && !askDirect {
		return errors.New("--specialist requires --direct")
	}
	input, err := askInput(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, cleanup, err := bootstrap(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	id := askSession
	if id == "" {
		id = ulid.Make().String()
	}

	var seq iter.Seq[domain.AgentMessage]
	if askDirect {
		seq = a.sessions.RunDirectTo(ctx, id, askSpecialist, input)
	} else {
		seq = a.sessions.Run(ctx, id, input)
	}
	if err := printMessages(cmd.OutOrStdout(), seq); err != nil {
		return err
	}
	return ctx.Err()
}

// askInput joins the arguments, or reads stdin when there are none.
func askInput(args []string, stdin io.Reader) (string, error) {
	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("nothing to ask")
	}
	return text, nil
}

// printMessages writes every complete message with its author. Streaming
// chunks are skipped.
func printMessages(w io.Writer, seq iter.Seq[domain.AgentMessage]) error {
	for msg := range seq {
		if !msg.IsComplete {
			continue
		}
		if _, err := fmt.Fprintf(w, "[%s]\n%s\n\n", msg.Author, strings.TrimSpace(msg.Text)); err != nil {
			return err
		}
	}
	return nil
}
