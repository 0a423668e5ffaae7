// Package tui is the terminal chat front-end.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/flynn-ai/modeldock/internal/app"
	"github.com/flynn-ai/modeldock/internal/conversation"
	"github.com/flynn-ai/modeldock/internal/loader"
)

type statusMsg loader.Status

type loadDoneMsg struct {
	modelID string
	err     error
}

type replyMsg struct {
	err error
}

type cacheClearedMsg struct {
	modelID string
	ok      bool
}

// Model is the bubbletea model for the chat screen.
type Model struct {
	ctx     context.Context
	app     *app.App
	logger  *zap.Logger
	input   textinput.Model
	spinner spinner.Model

	selected string
	status   loader.Status
	notice   string
	width    int
	height   int
}

// New creates the chat model with modelID selected.
func New(ctx context.Context, a *app.App, modelID string) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = progressStyle

	if !a.Catalog.Contains(modelID) {
		modelID = a.Catalog.First().ID
	}
	a.Recorder.SetModel(modelID)

	return Model{
		ctx:      ctx,
		app:      a,
		logger:   a.Logger.Named("tui"),
		input:    ti,
		spinner:  sp,
		selected: modelID,
		status:   a.Controller.Status(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.load(m.selected))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case statusMsg:
		m.status = loader.Status(msg)
		return m, nil

	case loadDoneMsg:
		if msg.err != nil {
			m.logger.Debug("Load finished with error", zap.String("model", msg.modelID), zap.Error(msg.err))
		}
		m.status = m.app.Controller.Status()
		return m, nil

	case replyMsg:
		if msg.err != nil {
			m.logger.Warn("Chat failed", zap.Error(msg.err))
		}
		return m, nil

	case cacheClearedMsg:
		if msg.ok {
			m.notice = fmt.Sprintf("Cache cleared for %s", msg.modelID)
		} else {
			m.notice = fmt.Sprintf("Cache for %s was only partly cleared, see the log", msg.modelID)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	busy := m.status.State.Busy()

	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || !m.ready() || m.app.Conversation.Generating() {
			return m, nil
		}
		m.input.Reset()
		m.notice = ""
		return m, m.send(text)

	case "ctrl+n":
		if busy {
			return m, nil
		}
		next := m.app.Catalog.Next(m.selected)
		m.selected = next
		m.notice = ""
		m.app.Recorder.SetModel(next)
		if m.app.Controller.UnloadAll(next) {
			m.status = m.app.Controller.Status()
			return m, nil
		}
		m.status = m.app.Controller.Status()
		return m, m.load(next)

	case "ctrl+r":
		if busy {
			return m, nil
		}
		m.notice = ""
		return m, m.retry(m.selected)

	case "ctrl+x":
		if busy {
			return m, nil
		}
		return m, m.clearCache(m.selected)

	case "ctrl+l":
		m.app.Conversation.ClearChat(m.ready(), m.app.Catalog.DisplayName(m.selected))
		m.notice = ""
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ready() bool {
	return m.status.Model == m.selected && m.status.State == loader.StateReady
}

func (m Model) load(id string) tea.Cmd {
	ctrl := m.app.Controller
	ctx := m.ctx
	return func() tea.Msg {
		_, err := ctrl.Load(ctx, id)
		return loadDoneMsg{modelID: id, err: err}
	}
}

func (m Model) retry(id string) tea.Cmd {
	ctrl := m.app.Controller
	ctx := m.ctx
	return func() tea.Msg {
		_, err := ctrl.Retry(ctx, id)
		return loadDoneMsg{modelID: id, err: err}
	}
}

func (m Model) clearCache(id string) tea.Cmd {
	ctrl := m.app.Controller
	ctx := m.ctx
	return func() tea.Msg {
		return cacheClearedMsg{modelID: id, ok: ctrl.InvalidateModel(ctx, id)}
	}
}

func (m Model) send(text string) tea.Cmd {
	a := m.app
	ctx := m.ctx
	id := m.selected
	return func() tea.Msg {
		sess, ok := a.Controller.Session(id)
		if !ok {
			return replyMsg{err: conversation.ErrNoSession}
		}
		start := time.Now()
		_, err := a.Conversation.Send(ctx, sess, text)
		a.Stats.RecordChat(time.Since(start), err)
		return replyMsg{err: err}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("modeldock"))
	b.WriteString("  ")
	b.WriteString(modelStyle.Render(m.app.Catalog.DisplayName(m.selected)))
	if d, ok := m.app.Catalog.Lookup(m.selected); ok && d.ApproximateSize != "" {
		b.WriteString(helpStyle.Render(" (" + d.ApproximateSize + ")"))
	}
	b.WriteString("\n\n")

	for _, turn := range m.app.Conversation.Turns() {
		if turn.Role == conversation.RoleUser {
			b.WriteString(userStyle.Render("You"))
		} else {
			b.WriteString(assistantStyle.Render("Assistant"))
		}
		b.WriteString("\n")
		b.WriteString(bodyStyle.Render(turn.Content))
		b.WriteString("\n\n")
	}

	switch {
	case m.status.State.Busy():
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(progressStyle.Render(m.status.Progress))
		b.WriteString("\n")
	case m.status.State == loader.StateFailed:
		b.WriteString(failedStyle.Render(m.status.Progress))
		b.WriteString("\n")
	case m.app.Conversation.Generating():
		b.WriteString(m.spinner.View())
		b.WriteString(" thinking...\n")
	}
	if m.notice != "" {
		b.WriteString(helpStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • ctrl+n next model • ctrl+r retry • ctrl+x clear cache • ctrl+l clear chat • ctrl+c quit"))
	return b.String()
}
