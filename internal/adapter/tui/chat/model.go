package chat

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"clinicrew/internal/adapter/tui/theme"
	"clinicrew/internal/adapter/tui/uxerror"
	"clinicrew/internal/domain"
)

// Sessions is the part of the session registry the chat client drives.
type Sessions interface {
	Run(ctx context.Context, id, input string) iter.Seq[domain.AgentMessage]
	RunDirectTo(ctx context.Context, id, target, subject string) iter.Seq[domain.AgentMessage]
	Reset(ctx context.Context, id string) error
	Export(ctx context.Context, id string) ([]byte, error)
	Load(ctx context.Context, id string, blob []byte) error
}

// Deps are the dependencies of the chat model.
type Deps struct {
	Sessions    Sessions
	SessionID   string
	Specialists []string // names accepted by /ask
	Bus         domain.EventBus
	Logger      *slog.Logger
}

const (
	authorYou   = "You"
	authorError = "Error"
	inputHeight = 3
)

type entry struct {
	author   string
	text     string
	complete bool
	rendered string // markdown output, set once complete
}

// Model is the root Bubble Tea model of the chat client.
type Model struct {
	ctx  context.Context
	deps Deps

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	md       *glamour.TermRenderer

	entries []entry
	status  string
	width   int
	ready   bool

	// gen increments on every run; messages from older runs are dropped.
	running bool
	gen     uint64
	cancel  context.CancelFunc
	stream  <-chan domain.AgentMessage
}

// New creates the chat model. Runs use ctx as their parent context.
func New(ctx context.Context, deps Deps) Model {
	ta := textarea.New()
	ta.Placeholder = "Describe the patient, or /help"
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	return Model{
		ctx:      ctx,
		deps:     deps,
		input:    ta,
		spinner:  sp,
		viewport: viewport.New(80, 20),
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case agentMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.apply(msg.msg)
		m.refresh()
		return m, waitForMessage(m.stream, m.gen)

	case runDoneMsg:
		if msg.gen == m.gen {
			m.finishRun()
			m.refresh()
		}
		return m, nil

	case noticeMsg:
		if msg.err != nil {
			m.addError(msg.err)
		} else {
			m.addEntry(entry{author: domain.AuthorSystem, text: msg.text, complete: true})
		}
		m.refresh()
		return m, nil

	case toolMsg:
		if m.running {
			m.status = msg.specialist + " used " + msg.tool
			if msg.isError {
				m.status += " (failed)"
			}
		}
		return m, nil

	case QuitMsg:
		m.stopRun()
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.running {
			m.stopRun()
			m.addEntry(entry{author: domain.AuthorSystem, text: "Run cancelled.", complete: true})
			m.refresh()
			return m, nil
		}
		return m, tea.Quit
	case "esc":
		if m.running {
			m.stopRun()
			m.addEntry(entry{author: domain.AuthorSystem, text: "Run cancelled.", complete: true})
			m.refresh()
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		if m.running {
			return m, nil
		}
		value := m.input.Value()
		m.input.Reset()
		return m.submit(value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	cmd, err := parseCommand(line, m.deps.Specialists)
	if err != nil {
		m.addError(err)
		m.refresh()
		return m, nil
	}
	id := m.deps.SessionID

	switch cmd.kind {
	case cmdQuit:
		return m, tea.Quit
	case cmdHelp:
		m.addEntry(entry{author: domain.AuthorSystem, text: helpText, complete: true})
	case cmdReset:
		m.entries = nil
		m.refresh()
		return m, resetCmd(m.ctx, m.deps.Sessions, id)
	case cmdExport:
		return m, exportCmd(m.ctx, m.deps.Sessions, id, cmd.arg)
	case cmdLoad:
		return m, loadCmd(m.ctx, m.deps.Sessions, id, cmd.arg)
	case cmdRun:
		m.addEntry(entry{author: authorYou, text: cmd.arg, complete: true})
		return m.startRun(func(ctx context.Context) iter.Seq[domain.AgentMessage] {
			return m.deps.Sessions.Run(ctx, id, cmd.arg)
		})
	case cmdAsk:
		m.addEntry(entry{author: authorYou, text: line, complete: true})
		return m.startRun(func(ctx context.Context) iter.Seq[domain.AgentMessage] {
			return m.deps.Sessions.RunDirectTo(ctx, id, cmd.target, cmd.arg)
		})
	}
	m.refresh()
	return m, nil
}

func (m Model) startRun(run func(context.Context) iter.Seq[domain.AgentMessage]) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.gen++
	m.running = true
	m.cancel = cancel
	m.status = "thinking"
	m.stream = startStream(ctx, run(ctx))
	m.input.Blur()
	m.refresh()
	return m, tea.Batch(waitForMessage(m.stream, m.gen), m.spinner.Tick)
}

// stopRun abandons the current run. Bumping gen drops its late messages.
func (m *Model) stopRun() {
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	m.finishRun()
}

func (m *Model) finishRun() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.running = false
	m.stream = nil
	m.status = ""
	m.input.Focus()
}

// apply merges a streamed message into the transcript. Chunks extend the
// open entry of their author; the complete message replaces it.
func (m *Model) apply(msg domain.AgentMessage) {
	var open *entry
	if n := len(m.entries); n > 0 && !m.entries[n-1].complete && m.entries[n-1].author == msg.Author {
		open = &m.entries[n-1]
	}
	switch {
	case msg.IsComplete:
		if open == nil {
			m.addEntry(entry{author: msg.Author})
			open = &m.entries[len(m.entries)-1]
		}
		open.text = msg.Text
		open.complete = true
		open.rendered = m.renderMarkdown(msg.Text)
		m.status = "thinking"
	case msg.IsStreaming:
		if open == nil {
			m.addEntry(entry{author: msg.Author})
			open = &m.entries[len(m.entries)-1]
		}
		open.text += msg.Text
		m.status = msg.Author + " is writing"
	}
}

func (m *Model) addEntry(e entry) {
	if e.complete && e.rendered == "" && e.author != authorYou {
		e.rendered = m.renderMarkdown(e.text)
	}
	m.entries = append(m.entries, e)
}

func (m *Model) addError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	text := uxerror.Humanize(err).Render()
	m.entries = append(m.entries, entry{author: authorError, text: text, complete: true, rendered: text})
}

func (m *Model) resize(w, h int) {
	m.width = w
	m.input.SetWidth(w - 2)
	vh := max(h-inputHeight-3, 3)
	if !m.ready {
		m.viewport = viewport.New(w, vh)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = vh
	}

	m.md = nil
	for i := range m.entries {
		if m.entries[i].complete && m.entries[i].author != authorYou && m.entries[i].author != authorError {
			m.entries[i].rendered = m.renderMarkdown(m.entries[i].text)
		}
	}
	m.refresh()
}

func (m *Model) renderMarkdown(text string) string {
	if m.md == nil {
		width := theme.Clamp(m.width-4, 20, theme.MaxContentWidth)
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return text
		}
		m.md = r
	}
	out, err := m.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) transcript() string {
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(labelStyle(e.author).Render(e.author))
		b.WriteString("\n")
		switch {
		case e.complete && e.rendered != "":
			b.WriteString(e.rendered)
		case e.complete:
			b.WriteString(e.text)
		default:
			b.WriteString(e.text)
			b.WriteString(theme.Dim.Render("▌"))
		}
	}
	return b.String()
}

func labelStyle(author string) lipgloss.Style {
	switch author {
	case authorYou:
		return theme.UserLabel
	case domain.AuthorSystem:
		return theme.SystemLabel
	case authorError:
		return theme.ErrorLabel
	default:
		return theme.SpecialistLabel(author)
	}
}

// View renders the transcript, the status line and the input box.
func (m Model) View() string {
	status := "session " + m.deps.SessionID + " · /help for commands"
	if m.running {
		status = m.spinner.View() + " " + m.status + " · esc to cancel"
	}
	return m.viewport.View() + "\n" +
		theme.StatusBar.Width(max(m.width, 1)).Render(status) + "\n" +
		theme.InputBorder.Render(m.input.View())
}

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, deps Deps) error {
	program := tea.NewProgram(New(ctx, deps), tea.WithAltScreen(), tea.WithContext(ctx))

	if deps.Bus != nil {
		unsub := deps.Bus.Subscribe(domain.EventToolCallCompleted, func(_ context.Context, ev domain.Event) {
			if ev.SessionID != "" && ev.SessionID != deps.SessionID {
				return
			}
			var p domain.ToolCallPayload
			if err := json.Unmarshal(ev.Payload, &p); err == nil {
				program.Send(toolMsg{specialist: p.Specialist, tool: p.Tool, isError: p.IsError})
			}
		})
		defer unsub()
	}

	go func() {
		<-ctx.Done()
		program.Send(QuitMsg{})
	}()

	_, err := program.Run()
	deps.Logger.Info("chat session ended", "session", deps.SessionID)
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
