package tui

import (
	"context"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/modeldock/internal/app"
	"github.com/flynn-ai/modeldock/internal/config"
	"github.com/flynn-ai/modeldock/internal/engine/enginetest"
	"github.com/flynn-ai/modeldock/internal/loader"
)

func newTestModel(t *testing.T) (Model, *app.App, *enginetest.Engine) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CacheDB = filepath.Join(dir, "cache.db")
	cfg.Paths.HistoryDB = filepath.Join(dir, "history.db")

	eng := enginetest.New()
	a, err := app.Open(cfg, eng, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	return New(context.Background(), a, cfg.Engine.DefaultModel), a, eng
}

func key(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// loaded runs the initial load the way Init would and feeds the result back.
func loaded(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.load(m.selected)()
	m, _ = update(t, m, msg)
	require.Equal(t, loader.StateReady, m.status.State)
	return m
}

func TestViewShowsModelAndGreeting(t *testing.T) {
	m, a, _ := newTestModel(t)
	m = loaded(t, m)

	view := m.View()
	assert.Contains(t, view, a.Catalog.DisplayName(m.selected))
	assert.Contains(t, view, "Hello! I'm")
	assert.Contains(t, view, "ctrl+n next model")
}

func TestEnterSendsMessage(t *testing.T) {
	m, a, _ := newTestModel(t)
	m = loaded(t, m)

	m.input.SetValue("hi there")
	m, cmd := update(t, m, key(tea.KeyEnter))
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())

	msg := cmd()
	reply, ok := msg.(replyMsg)
	require.True(t, ok)
	require.NoError(t, reply.err)

	turns := a.Conversation.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "hi there", turns[1].Content)
	assert.Equal(t, "ok", turns[2].Content)
}

func TestEnterIgnoredUntilReady(t *testing.T) {
	m, a, _ := newTestModel(t)
	m.input.SetValue("too early")

	m, cmd := update(t, m, key(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Equal(t, "too early", m.input.Value())
	assert.Zero(t, a.Conversation.Len())
}

func TestNextModelSwitchesAndLoads(t *testing.T) {
	m, a, eng := newTestModel(t)
	m = loaded(t, m)
	first := m.selected

	m, cmd := update(t, m, key(tea.KeyCtrlN))
	require.NotNil(t, cmd)
	assert.Equal(t, a.Catalog.Next(first), m.selected)
	assert.Zero(t, a.Conversation.Len())

	m, _ = update(t, m, cmd())
	assert.Equal(t, loader.StateReady, m.status.State)
	assert.Equal(t, 1, eng.Creates(m.selected))

	// Cycling back finds the first model still loaded.
	for m.selected != first {
		m, cmd = update(t, m, key(tea.KeyCtrlN))
		if m.selected != first {
			m, _ = update(t, m, cmd())
		}
	}
	assert.Nil(t, cmd)
	assert.Equal(t, 1, eng.Creates(first))
	assert.Contains(t, m.View(), "is already loaded and ready to chat!")
}

func TestKeysDisabledWhileBusy(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.status = loader.Status{State: loader.StateBackoff, Model: m.selected, Progress: "Retrying..."}
	selected := m.selected

	m, cmd := update(t, m, key(tea.KeyCtrlN))
	assert.Nil(t, cmd)
	assert.Equal(t, selected, m.selected)

	_, cmd = update(t, m, key(tea.KeyCtrlR))
	assert.Nil(t, cmd)
	_, cmd = update(t, m, key(tea.KeyCtrlX))
	assert.Nil(t, cmd)

	assert.Contains(t, m.View(), "Retrying...")
}

func TestClearChatAndCache(t *testing.T) {
	m, a, _ := newTestModel(t)
	m = loaded(t, m)

	m, _ = update(t, m, key(tea.KeyCtrlL))
	turns := a.Conversation.Turns()
	require.Len(t, turns, 1)
	assert.Contains(t, turns[0].Content, "Chat cleared!")

	m, cmd := update(t, m, key(tea.KeyCtrlX))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Contains(t, m.notice, "Cache cleared for")
}

func TestRetryReloads(t *testing.T) {
	m, _, eng := newTestModel(t)
	m = loaded(t, m)

	m, cmd := update(t, m, key(tea.KeyCtrlR))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, loader.StateReady, m.status.State)
	assert.Equal(t, 2, eng.Creates(m.selected))
}
