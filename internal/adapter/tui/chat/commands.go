package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"clinicrew/internal/domain"
)

type commandKind int

const (
	cmdRun commandKind = iota
	cmdAsk
	cmdReset
	cmdExport
	cmdLoad
	cmdHelp
	cmdQuit
)

type command struct {
	kind   commandKind
	target string // cmdAsk only; empty means the default direct specialist
	arg    string // input, subject or file path
}

const helpText = `Type a case description to run the whole team.

  /ask [specialist] <subject>   ask one specialist directly
  /reset                        clear the conversation
  /export <file>                save the conversation history
  /load <file>                  replace the history with a saved one
  /quit                         exit

Esc cancels a running answer. PgUp/PgDn scroll.`

// parseCommand turns an input line into a command. The first /ask argument
// is taken as the target when it names one of specialists.
func parseCommand(line string, specialists []string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errors.New("nothing to send")
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdRun, arg: line}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/reset":
		return command{kind: cmdReset}, nil
	case "/export", "/load":
		if rest == "" {
			return command{}, fmt.Errorf("usage: %s <file>", name)
		}
		kind := cmdExport
		if strings.EqualFold(name, "/load") {
			kind = cmdLoad
		}
		return command{kind: kind, arg: rest}, nil
	case "/ask":
		first, subject, _ := strings.Cut(rest, " ")
		for _, s := range specialists {
			if strings.EqualFold(first, s) {
				subject = strings.TrimSpace(subject)
				if subject == "" {
					return command{}, errors.New("usage: /ask [specialist] <subject>")
				}
				return command{kind: cmdAsk, target: s, arg: subject}, nil
			}
		}
		if rest == "" {
			return command{}, errors.New("usage: /ask [specialist] <subject>")
		}
		return command{kind: cmdAsk, arg: rest}, nil
	default:
		return command{}, fmt.Errorf("unknown command %s, try /help", name)
	}
}

// startStream drains seq into a channel so the Bubble Tea loop can read it
// one message at a time. The goroutine exits when ctx is cancelled.
func startStream(ctx context.Context, seq iter.Seq[domain.AgentMessage]) <-chan domain.AgentMessage {
	ch := make(chan domain.AgentMessage, 16)
	go func() {
		defer close(ch)
		for msg := range seq {
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func waitForMessage(ch <-chan domain.AgentMessage, gen uint64) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return runDoneMsg{gen: gen}
		}
		return agentMsg{msg: msg, gen: gen}
	}
}

func resetCmd(ctx context.Context, s Sessions, id string) tea.Cmd {
	return func() tea.Msg {
		if err := s.Reset(ctx, id); err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: "Conversation reset."}
	}
}

func exportCmd(ctx context.Context, s Sessions, id, path string) tea.Cmd {
	return func() tea.Msg {
		blob, err := s.Export(ctx, id)
		if err != nil {
			return noticeMsg{err: err}
		}
		if err := os.WriteFile(path, blob, 0o600); err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: fmt.Sprintf("History exported to %s.", path)}
	}
}

func loadCmd(ctx context.Context, s Sessions, id, path string) tea.Cmd {
	return func() tea.Msg {
		blob, err := os.ReadFile(path)
		if err != nil {
			return noticeMsg{err: err}
		}
		if err := s.Load(ctx, id, blob); err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: fmt.Sprintf("History loaded from %s.", path)}
	}
}
