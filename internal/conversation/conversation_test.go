package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/modeldock/internal/engine"
	"github.com/flynn-ai/modeldock/internal/engine/enginetest"
)

type memRecorder struct {
	mu       sync.Mutex
	turns    []Turn
	rotated  int
	failWith error
}

func (r *memRecorder) RecordTurn(_ context.Context, turn Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.turns = append(r.turns, turn)
	return nil
}

func (r *memRecorder) Rotate(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotated++
	return nil
}

func loadSession(t *testing.T, eng *enginetest.Engine) engine.Session {
	t.Helper()
	s, err := eng.CreateSession(context.Background(), "tiny", nil)
	require.NoError(t, err)
	return s
}

func TestSendUsesFixedParams(t *testing.T) {
	eng := enginetest.New()
	var gotParams engine.Params
	var gotTurns []engine.Message
	eng.CompleteFunc = func(turns []engine.Message, params engine.Params) (*engine.Reply, error) {
		gotParams = params
		gotTurns = turns
		return &engine.Reply{Choices: []engine.Choice{{Message: engine.Message{Content: "pong"}}}}, nil
	}

	rec := &memRecorder{}
	c := New(rec, nil)
	c.AppendAssistant("Hello!")

	reply, err := c.Send(context.Background(), loadSession(t, eng), "  ping  ")
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Content)
	assert.Equal(t, RoleAssistant, reply.Role)

	assert.Equal(t, engine.Params{Temperature: 0.7, MaxTokens: 512}, gotParams)
	require.Len(t, gotTurns, 2)
	assert.Equal(t, engine.Message{Role: "assistant", Content: "Hello!"}, gotTurns[0])
	assert.Equal(t, engine.Message{Role: "user", Content: "ping"}, gotTurns[1])

	turns := c.Turns()
	require.Len(t, turns, 3)
	assert.NotEmpty(t, turns[1].ID)
	assert.Len(t, rec.turns, 3)
	assert.False(t, c.Generating())
}

func TestSendEmptyReply(t *testing.T) {
	eng := enginetest.New()
	eng.CompleteFunc = func([]engine.Message, engine.Params) (*engine.Reply, error) {
		return &engine.Reply{}, nil
	}

	c := New(nil, nil)
	reply, err := c.Send(context.Background(), loadSession(t, eng), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I couldn't generate a response.", reply.Content)
}

func TestSendEngineError(t *testing.T) {
	eng := enginetest.New()
	eng.CompleteFunc = func([]engine.Message, engine.Params) (*engine.Reply, error) {
		return nil, errors.New("device lost")
	}

	c := New(nil, nil)
	reply, err := c.Send(context.Background(), loadSession(t, eng), "hi")
	require.Error(t, err)
	assert.Contains(t, reply.Content, "Sorry, I encountered an error")
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Generating())
}

func TestSendGuards(t *testing.T) {
	c := New(nil, nil)

	_, err := c.Send(context.Background(), nil, "hi")
	assert.ErrorIs(t, err, ErrNoSession)

	eng := enginetest.New()
	_, err = c.Send(context.Background(), loadSession(t, eng), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, c.Len())
}

func TestSendWhileGenerating(t *testing.T) {
	eng := enginetest.New()
	started := make(chan struct{})
	release := make(chan struct{})
	eng.CompleteFunc = func([]engine.Message, engine.Params) (*engine.Reply, error) {
		close(started)
		<-release
		return &engine.Reply{Choices: []engine.Choice{{Message: engine.Message{Content: "done"}}}}, nil
	}

	c := New(nil, nil)
	sess := loadSession(t, eng)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), sess, "first")
		done <- err
	}()

	<-started
	assert.True(t, c.Generating())
	_, err := c.Send(context.Background(), sess, "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, c.Len())
}

func TestClearChat(t *testing.T) {
	rec := &memRecorder{}
	c := New(rec, nil)
	c.Append(RoleUser, "a")
	c.Append(RoleAssistant, "b")

	c.ClearChat(true, "TinyLlama")
	turns := c.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "Chat cleared! I'm TinyLlama and I'm ready to help you.", turns[0].Content)

	c.ClearChat(false, "TinyLlama")
	assert.Zero(t, c.Len())
	assert.Equal(t, 2, rec.rotated)
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	c := New(&memRecorder{failWith: errors.New("disk full")}, nil)
	c.AppendAssistant("still here")
	assert.Equal(t, 1, c.Len())
}
