package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/modeldock/internal/conversation"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecorderPersistsTurns(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	rec := s.NewRecorder("tiny")

	conv := conversation.New(rec, nil)
	conv.AppendAssistant("Hello!")
	conv.Append(conversation.RoleUser, "hi")

	id := rec.ConversationID()
	require.NotEmpty(t, id)

	turns, err := s.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.RoleAssistant, turns[0].Role)
	assert.Equal(t, "Hello!", turns[0].Content)
	assert.Equal(t, "hi", turns[1].Content)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "tiny", recent[0].ModelID)
	assert.Equal(t, 2, recent[0].MessageCount)
}

func TestRecorderRotatesOnClear(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	rec := s.NewRecorder("tiny")

	conv := conversation.New(rec, nil)
	conv.AppendAssistant("first")
	first := rec.ConversationID()

	conv.ClearChat(true, "Tiny")
	second := rec.ConversationID()
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	turns, err := s.Messages(ctx, second)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Contains(t, turns[0].Content, "Chat cleared!")
}

func TestSetModelStartsNewConversation(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	rec := s.NewRecorder("a")

	require.NoError(t, rec.RecordTurn(ctx, conversation.Turn{ID: "1", Role: conversation.RoleUser, Content: "x"}))
	first := rec.ConversationID()

	rec.SetModel("b")
	assert.Empty(t, rec.ConversationID())
	require.NoError(t, rec.RecordTurn(ctx, conversation.Turn{ID: "2", Role: conversation.RoleUser, Content: "y"}))
	assert.NotEqual(t, first, rec.ConversationID())

	recent, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
