package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"medrag/internal/domain"
	"medrag/internal/lexical"
	"medrag/internal/service"
)

// ChatPort is the TUI-facing subset of the chat service.
type ChatPort interface {
	Ask(ctx context.Context, sessionID, query string, profile *domain.UserProfile) (*service.Answer, error)
}

type answerMsg struct {
	query  string
	answer *service.Answer
	err    error
}

type turn struct {
	query  string
	answer string
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx       context.Context
	service   ChatPort
	sessionID string
	profile   *domain.UserProfile
	input     textinput.Model
	viewport  viewport.Model
	turns     []turn
	sources   []service.Source
	summary   string
	status    string
	busy      bool
	ready     bool
	lastQuery string
}

// New creates a chat model bound to one session. profile may be nil.
func New(ctx context.Context, svc ChatPort, sessionID string, profile *domain.UserProfile, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about an illness and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:       ctx,
		service:   svc,
		sessionID: sessionID,
		profile:   profile,
		input:     ti,
		viewport:  vp,
		summary:   summary,
		status:    "Ready. Ctrl+C to quit.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.refresh()
			return m, nil
		}
		m.turns = append(m.turns, turn{query: msg.query, answer: msg.answer.Text})
		m.sources = msg.answer.Sources
		m.lastQuery = msg.query
		m.status = fmt.Sprintf("%d sources from generation %s", len(m.sources), msg.answer.Generation)
		if d := msg.answer.DroppedTurns + msg.answer.DroppedSentences; d > 0 {
			m.status += fmt.Sprintf(" (%d items trimmed to fit the prompt)", d)
		}
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			m.input.SetValue("")
			return m, m.ask(q)
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	ctx, svc, id, profile := m.ctx, m.service, m.sessionID, m.profile
	return func() tea.Msg {
		ans, err := svc.Ask(ctx, id, q, profile)
		return answerMsg{query: q, answer: ans, err: err}
	}
}

// View renders the transcript, the input box and the status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Medical Assistant")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for _, t := range m.turns {
		b.WriteString(userStyle.Render("You: ") + t.query + "\n")
		b.WriteString(botStyle.Render("Assistant: ") + t.answer + "\n\n")
	}
	if len(m.sources) > 0 {
		b.WriteString(lipgloss.NewStyle().Underline(true).Render("Sources") + "\n")
		b.WriteString(renderSources(m.sources, m.lastQuery))
	}
	return b.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

// renderSources lists sources with the one sharing most words with query
// highlighted. Ties keep the higher-ranked source.
func renderSources(sources []service.Source, query string) string {
	best := bestSource(sources, query)
	lines := make([]string, len(sources))
	for i, s := range sources {
		line := fmt.Sprintf("%d. [%.3f] %s", i+1, s.Score, s.Text)
		if i == best {
			line = highlightStyle.Render(line)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func bestSource(sources []service.Source, query string) int {
	q := lexical.NewTokenSet(query)
	best, bestScore := 0, -1.0
	for i, s := range sources {
		if score := lexical.Ochiai(q, lexical.NewTokenSet(s.Text)); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
