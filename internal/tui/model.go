// Package tui is the terminal front-end of the chat client. It draws what the view orchestrator
// derives and forwards user intent back to it; it owns no conversation state of its own.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/history"
	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/MegaGrindStone/evaldash/internal/reveal"
	"github.com/MegaGrindStone/evaldash/internal/session"
	"github.com/MegaGrindStone/evaldash/internal/view"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Orchestrator is the part of the view orchestrator the front-end drives.
type Orchestrator interface {
	Snapshot() view.Snapshot
	SetWidth(width int)
	ToggleHistory()
	SetInput(text string)
	Select(ctx context.Context, id string) error
	Submit(ctx context.Context, text string) error
	NewChat()
	Delete(ctx context.Context, id string) error
	Refresh(ctx context.Context) ([]history.Group, error)
}

// Options configures a Model.
type Options struct {
	// Context bounds every request the model issues. Defaults to context.Background.
	Context context.Context
	Engine  *reveal.Engine
	Inbox   *Inbox
	// ReadAloudCommand is the command line fed a reply's plain text on read-aloud. Empty disables it.
	ReadAloudCommand []string
	// Markdown renders completed assistant replies with glamour.
	Markdown bool
	ToastTTL time.Duration
	Logger   *slog.Logger
}

// Model is the bubbletea model of the chat client.
type Model struct {
	orch   Orchestrator
	engine *reveal.Engine
	inbox  *Inbox
	opts   Options
	logger *slog.Logger

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
	renderer   *glamour.TermRenderer
	theme      theme

	width  int
	height int

	snap         view.Snapshot
	focusHistory bool
	cursor       int
	ticking      map[string]bool
	status       string
	toasts       []toast
	toastSeq     int
}

type toast struct {
	id   int
	text string
}

type (
	revealTickMsg struct {
		id string
	}
	submitDoneMsg struct {
		err error
	}
	selectDoneMsg struct {
		id  string
		err error
	}
	deleteDoneMsg struct {
		id  string
		err error
	}
	refreshDoneMsg struct {
		err error
	}
	actionDoneMsg struct {
		status string
		err    error
	}
	toastExpiredMsg struct {
		id int
	}
)

const (
	sidebarWidth    = 34
	minContentWidth = 20
	chromeHeight    = 6
	defaultToastTTL = 4 * time.Second

	errLoggerKey = "error"
)

// New creates a Model.
func New(orch Orchestrator, opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Engine == nil {
		opts.Engine = reveal.NewEngine(reveal.DefaultPacer())
	}
	if opts.Inbox == nil {
		opts.Inbox = NewInbox()
	}
	if opts.ToastTTL <= 0 {
		opts.ToastTTL = defaultToastTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Send a message..."
	input.CharLimit = 8000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7"))

	transcript := viewport.New(0, 0)
	transcript.MouseWheelEnabled = true

	m := Model{
		orch:       orch,
		engine:     opts.Engine,
		inbox:      opts.Inbox,
		opts:       opts,
		logger:     opts.Logger.With(slog.String("module", "tui")),
		input:      input,
		transcript: transcript,
		spinner:    sp,
		theme:      newTheme(),
		ticking:    make(map[string]bool),
	}
	m.snap = orch.Snapshot()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.inbox.wait(),
		m.refreshCmd(),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(msg.Width, 0)
		m.height = max(msg.Height, 0)
		m.orch.SetWidth(m.width)
		m.snap = m.orch.Snapshot()
		m.rebuildRenderer()
		m.resize()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case StateChangedMsg:
		cmds = append(cmds, m.sync()...)
		cmds = append(cmds, m.inbox.wait())
	case HistoryChangedMsg:
		cmds = append(cmds, m.refreshCmd(), m.inbox.wait())
	case WelcomeMsg:
		m.focusInput()
		cmds = append(cmds, m.sync()...)
		cmds = append(cmds, m.inbox.wait())
	case toastsMsg:
		for _, text := range msg.texts {
			cmds = append(cmds, m.pushToast(text))
		}
		cmds = append(cmds, m.inbox.wait())
	case toastExpiredMsg:
		m.toasts = slices.DeleteFunc(m.toasts, func(t toast) bool { return t.id == msg.id })
	case revealTickMsg:
		delay, done := m.engine.Step(msg.id)
		if done {
			delete(m.ticking, msg.id)
		} else {
			cmds = append(cmds, revealTick(msg.id, delay))
		}
		m.renderTranscript()
	case submitDoneMsg:
		if msg.err != nil && !quietSubmitError(msg.err) {
			m.status = "Message not delivered"
		}
		cmds = append(cmds, m.sync()...)
	case selectDoneMsg:
		switch {
		case errors.Is(msg.err, models.ErrNotFound):
			m.status = "Conversation no longer exists"
		case msg.err != nil && !errors.Is(msg.err, session.ErrDetached):
			m.status = "Could not load conversation"
		}
		cmds = append(cmds, m.sync()...)
	case deleteDoneMsg:
		if msg.err == nil {
			m.status = "Conversation deleted"
		}
		cmds = append(cmds, m.sync()...)
	case refreshDoneMsg:
		if msg.err != nil {
			m.status = "Could not load history"
		}
		cmds = append(cmds, m.sync()...)
	case actionDoneMsg:
		if msg.err != nil {
			m.logger.Error("Action failed", slog.String(errLoggerKey, msg.err.Error()))
			cmds = append(cmds, m.pushToast(msg.status+" failed"))
		} else {
			m.status = msg.status
		}
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.engine.FinishAll()
		return m, tea.Quit
	case "ctrl+b":
		m.orch.ToggleHistory()
		m.snap = m.orch.Snapshot()
		switch {
		case !m.snap.HistoryVisible:
			m.focusInput()
		case m.snap.Layout == view.LayoutOverlay:
			m.focusHistory = true
			m.input.Blur()
		}
		m.resize()
		return m, nil
	case "ctrl+n":
		m.orch.NewChat()
		m.focusInput()
		return m, tea.Batch(m.sync()...)
	case "tab":
		m.snap = m.orch.Snapshot()
		if m.focusHistory || !m.snap.HistoryVisible {
			m.focusInput()
		} else {
			m.focusHistory = true
			m.input.Blur()
		}
		return m, nil
	case "ctrl+y":
		return m, m.copyCmd()
	case "ctrl+r":
		return m, m.readAloudCmd()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}

	if m.focusHistory {
		return m.handleHistoryKey(msg)
	}

	switch msg.String() {
	case "enter":
		text := m.input.Value()
		if strings.TrimSpace(text) == "" || m.snap.Session.IsSending || m.snap.Session.IsLoading {
			return m, nil
		}
		m.status = ""
		return m, m.submitCmd(text)
	case "esc":
		m.engine.FinishAll()
		m.renderTranscript()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != m.snap.Session.Input {
		m.snap.Session.Input = v
		m.orch.SetInput(v)
	}
	return m, cmd
}

func (m Model) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := flatten(m.snap.Groups)
	m.cursor = min(m.cursor, max(len(entries)-1, 0))
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(entries)-1 {
			m.cursor++
		}
	case "enter":
		if len(entries) == 0 {
			return m, nil
		}
		id := entries[m.cursor].ID
		m.focusInput()
		m.status = ""
		return m, m.selectCmd(id)
	case "d", "delete":
		if len(entries) == 0 {
			return m, nil
		}
		return m, m.deleteCmd(entries[m.cursor].ID)
	case "esc":
		m.focusInput()
		if m.snap.Layout == view.LayoutOverlay && m.snap.HistoryVisible {
			m.orch.ToggleHistory()
			m.snap = m.orch.Snapshot()
			m.resize()
		}
	}
	return m, nil
}

// sync re-reads the orchestrator and schedules reveals for live messages it has not seen yet. Reveals
// of messages that left the working copy are finished.
func (m *Model) sync() []tea.Cmd {
	m.snap = m.orch.Snapshot()

	ids := make([]string, len(m.snap.Session.Messages))
	for i, msg := range m.snap.Session.Messages {
		ids[i] = msg.ID
	}
	m.engine.Retain(ids...)

	var cmds []tea.Cmd
	for _, msg := range m.snap.Session.Messages {
		if m.engine.Track(msg) && !m.ticking[msg.ID] {
			m.ticking[msg.ID] = true
			cmds = append(cmds, revealTick(msg.ID, 0))
		}
	}

	if m.input.Value() != m.snap.Session.Input {
		m.input.SetValue(m.snap.Session.Input)
	}
	if n := len(flatten(m.snap.Groups)); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
	if !m.snap.HistoryVisible {
		m.focusInput()
	}
	m.resize()
	return cmds
}

func (m *Model) focusInput() {
	m.focusHistory = false
	m.input.Focus()
}

func (m *Model) pushToast(text string) tea.Cmd {
	m.toastSeq++
	id := m.toastSeq
	m.toasts = append(m.toasts, toast{id: id, text: text})
	return tea.Tick(m.opts.ToastTTL, func(time.Time) tea.Msg {
		return toastExpiredMsg{id: id}
	})
}

func (m *Model) rebuildRenderer() {
	if !m.opts.Markdown {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(m.contentWidth()-4, minContentWidth)),
	)
	if err != nil {
		m.logger.Warn("Failed to create markdown renderer", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.renderer = r
}

func (m *Model) contentWidth() int {
	w := m.width
	if m.snap.HistoryVisible && m.snap.Layout == view.LayoutSidePanel {
		w -= sidebarWidth
	}
	return max(w-2, minContentWidth)
}

func (m *Model) resize() {
	m.transcript.Width = m.contentWidth()
	m.transcript.Height = max(m.height-chromeHeight, 1)
	m.input.Width = max(m.width-8, minContentWidth)
	m.renderTranscript()
}

func (m *Model) renderTranscript() {
	atBottom := m.transcript.AtBottom()
	m.transcript.SetContent(m.transcriptContent())
	if atBottom {
		m.transcript.GotoBottom()
	}
}

func (m *Model) transcriptContent() string {
	switch m.snap.Mode {
	case view.ModeWelcome:
		return m.theme.welcome.Width(m.contentWidth()).Render(
			"How can I help you today?\n\n" +
				m.theme.helpText.Render("Type a message and press enter to start a new conversation."))
	case view.ModeLoading:
		return m.spinner.View() + " Loading conversation..."
	}

	var sb strings.Builder
	for _, msg := range m.snap.Session.Messages {
		label := m.theme.sender[string(msg.Sender)].Render(senderLabel(msg.Sender))
		sb.WriteString(label)
		sb.WriteString("\n")
		sb.WriteString(m.renderContent(msg))
		if msg.Status == models.StatusFailed {
			sb.WriteString("\n")
			sb.WriteString(m.theme.failed.Render("not delivered"))
		}
		sb.WriteString("\n\n")
	}
	if m.snap.Session.IsSending {
		sb.WriteString(m.spinner.View() + " Thinking...")
	}
	return sb.String()
}

func (m *Model) renderContent(msg models.Message) string {
	visible := m.engine.Visible(msg)
	if m.renderer == nil || msg.Sender != models.SenderAssistant || !m.engine.Done(msg.ID) {
		return lipgloss.NewStyle().Width(m.contentWidth()).Render(visible)
	}
	out, err := m.renderer.Render(visible)
	if err != nil {
		return visible
	}
	return strings.TrimRight(out, "\n")
}

// View implements tea.Model.
func (m Model) View() string {
	header := m.theme.header.Render(fmt.Sprintf("evaldash · %s", m.snap.Mode))

	var body string
	switch {
	case m.snap.HistoryVisible && m.snap.Layout == view.LayoutOverlay:
		body = m.historyView(max(m.width-2, minContentWidth))
	case m.snap.HistoryVisible:
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.historyView(sidebarWidth-4),
			m.transcript.View())
	default:
		body = m.transcript.View()
	}

	input := m.theme.inputPanel.Width(max(m.width-4, minContentWidth)).Render(m.input.View())

	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left, header, body, input, m.footerView()))
}

func (m Model) historyView(width int) string {
	var sb strings.Builder
	sb.WriteString(m.theme.panelTitle.Render("History"))
	sb.WriteString("\n")

	i := 0
	for _, g := range m.snap.Groups {
		sb.WriteString("\n")
		sb.WriteString(m.theme.groupLabel.Render(g.Label))
		sb.WriteString("\n")
		for _, e := range g.Entries {
			style := m.theme.entry
			if e.Active {
				style = m.theme.entryActive
			}
			if m.focusHistory && i == m.cursor {
				style = m.theme.entryCursor
			}
			sb.WriteString(style.Render(e.Title))
			sb.WriteString("\n")
			i++
		}
	}
	if i == 0 {
		sb.WriteString(m.theme.helpText.Render("No conversations yet"))
	}

	return m.theme.panel.Width(width).Height(max(m.height-chromeHeight, 1)).Render(sb.String())
}

func (m Model) footerView() string {
	var parts []string
	for _, t := range m.toasts {
		parts = append(parts, m.theme.toast.Render(t.text))
	}
	if m.status != "" {
		parts = append(parts, m.theme.status.Render(m.status))
	}
	parts = append(parts, m.theme.helpText.Render(
		"enter send · tab history · ctrl+b panel · ctrl+n new · ctrl+y copy · ctrl+r read · ctrl+c quit"))
	return m.theme.footer.Render(strings.Join(parts, "  "))
}

func (m Model) submitCmd(text string) tea.Cmd {
	ctx, orch := m.opts.Context, m.orch
	return func() tea.Msg {
		return submitDoneMsg{err: orch.Submit(ctx, text)}
	}
}

func (m Model) selectCmd(id string) tea.Cmd {
	ctx, orch := m.opts.Context, m.orch
	return func() tea.Msg {
		return selectDoneMsg{id: id, err: orch.Select(ctx, id)}
	}
}

func (m Model) deleteCmd(id string) tea.Cmd {
	ctx, orch := m.opts.Context, m.orch
	return func() tea.Msg {
		return deleteDoneMsg{id: id, err: orch.Delete(ctx, id)}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	ctx, orch := m.opts.Context, m.orch
	return func() tea.Msg {
		_, err := orch.Refresh(ctx)
		return refreshDoneMsg{err: err}
	}
}

// copyCmd copies the last reply once it is fully revealed.
func (m *Model) copyCmd() tea.Cmd {
	msg, ok := m.lastReply()
	if !ok {
		m.status = "Nothing to copy"
		return nil
	}
	if !m.engine.Done(msg.ID) {
		m.status = "Reply is still being revealed"
		return nil
	}
	content := msg.Content
	return func() tea.Msg {
		return actionDoneMsg{status: "Copied reply", err: clipboardWriteAll(PlainText(content))}
	}
}

// readAloudCmd speaks the last reply once it is fully revealed.
func (m *Model) readAloudCmd() tea.Cmd {
	if len(m.opts.ReadAloudCommand) == 0 {
		m.status = "Read aloud is not configured"
		return nil
	}
	msg, ok := m.lastReply()
	if !ok {
		m.status = "Nothing to read"
		return nil
	}
	if !m.engine.Done(msg.ID) {
		m.status = "Reply is still being revealed"
		return nil
	}
	ctx, argv, content := m.opts.Context, m.opts.ReadAloudCommand, msg.Content
	return func() tea.Msg {
		return actionDoneMsg{status: "Read aloud", err: runSpeech(ctx, argv, PlainText(content))}
	}
}

func (m *Model) lastReply() (models.Message, bool) {
	msgs := m.snap.Session.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == models.SenderAssistant {
			return msgs[i], true
		}
	}
	return models.Message{}, false
}

func revealTick(id string, delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return revealTickMsg{id: id}
	})
}

func quietSubmitError(err error) bool {
	return errors.Is(err, session.ErrEmptyInput) ||
		errors.Is(err, session.ErrBusy) ||
		errors.Is(err, session.ErrDetached)
}

func senderLabel(s models.Sender) string {
	if s == models.SenderUser {
		return "You"
	}
	return "Assistant"
}

func flatten(groups []history.Group) []history.Entry {
	var entries []history.Entry
	for _, g := range groups {
		entries = append(entries, g.Entries...)
	}
	return entries
}
