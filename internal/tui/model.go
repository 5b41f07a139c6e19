package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/domain"
	"docqa/internal/service"
)

// Port is the TUI-facing subset of the RAG service.
type Port interface {
	Ask(ctx context.Context, question string) (*domain.Answer, error)
	Rebuild(ctx context.Context) (service.BuildStats, error)
	Stats() service.IndexStats
}

type answerMsg struct {
	question string
	answer   *domain.Answer
	err      error
}

type rebuiltMsg struct {
	stats service.BuildStats
	err   error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx      context.Context
	service  Port
	input    textinput.Model
	viewport viewport.Model
	answer   *domain.Answer
	summary  string
	status   string
	cursor   int
	busy     bool
	ready    bool
}

// New creates a new TUI model instance. ctx bounds every query and rebuild
// started from the UI.
func New(ctx context.Context, service Port) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	m := Model{ctx: ctx, service: service, input: ti, viewport: vp}
	m.summary = summarize(service.Stats())
	if service.Stats().Loaded {
		m.status = "Index loaded. Ask away, ctrl+r rebuilds."
	} else {
		m.status = "No index yet. Press ctrl+r to build one."
	}
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, max(3, vh)-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = statusFor(msg.err)
			m.answer = nil
		} else {
			m.status = fmt.Sprintf("Answered %q from %d source(s)", msg.question, len(msg.answer.Sources))
			m.answer = msg.answer
			m.cursor = 0
		}
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case rebuiltMsg:
		m.busy = false
		if msg.err != nil {
			m.status = statusFor(msg.err)
		} else {
			m.status = fmt.Sprintf("Indexed %d document(s) into %d chunk(s) in %s",
				msg.stats.Documents, msg.stats.Chunks, msg.stats.Duration.Round(time.Millisecond))
		}
		m.summary = summarize(m.service.Stats())
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Thinking..."
				return m, m.ask(q)
			}
		case "ctrl+r":
			if !m.busy {
				m.busy = true
				m.status = "Rebuilding index..."
				return m, m.rebuild()
			}
			return m, nil
		case "down":
			if m.answer != nil && len(m.answer.Sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answer.Sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if m.answer != nil && len(m.answer.Sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answer.Sources)) % len(m.answer.Sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		ans, err := m.service.Ask(m.ctx, question)
		return answerMsg{question: question, answer: ans, err: err}
	}
}

func (m Model) rebuild() tea.Cmd {
	return func() tea.Msg {
		stats, err := m.service.Rebuild(m.ctx)
		return rebuiltMsg{stats: stats, err: err}
	}
}

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("DocQA")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	if strings.HasPrefix(m.status, "Error") {
		statusStyle = statusStyle.Foreground(lipgloss.Color("9"))
	}
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + statusStyle.Render(m.status)
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(m.answer.Text)
	if len(m.answer.Sources) == 0 {
		b.WriteString("\n\n(no sources fit the context budget)")
		return b.String()
	}
	r := m.answer.Sources[m.cursor]
	loc := r.Chunk.SourceID
	if r.Chunk.Page > 0 {
		loc = fmt.Sprintf("%s p.%d", loc, r.Chunk.Page)
	}
	fmt.Fprintf(&b, "\n\n%s\n", sourceTitleStyle.Render(fmt.Sprintf("Source %d/%d  %s  score=%.3f",
		m.cursor+1, len(m.answer.Sources), loc, r.Score)))
	b.WriteString(highlightBestSentence(r.Chunk.Text, m.answer.Question))
	return b.String()
}

// statusFor turns a service error into a one-line hint for the user.
func statusFor(err error) string {
	var pe *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrNoCorpus):
		return "Error: no index loaded, press ctrl+r to build one"
	case errors.Is(err, domain.ErrNoDocuments):
		return "Error: no documents with text found in the corpus"
	case errors.Is(err, domain.ErrEmptyQuestion):
		return "Error: type a question first"
	case errors.As(err, &pe):
		return fmt.Sprintf("Error: %s provider failed: %v", pe.Provider, pe.Err)
	default:
		return "Error: " + err.Error()
	}
}

func summarize(st service.IndexStats) string {
	if !st.Loaded {
		return "index: none"
	}
	return fmt.Sprintf("index: %d chunks, dim %d, %s", st.Entries, st.Dimension, st.Metric)
}

var (
	resultBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	unicodeWordRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe       = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
