// Package conversation owns the ordered chat transcript.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flynn-ai/modeldock/internal/engine"
)

// Role is who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Completion parameters. Fixed, not user-configurable.
const (
	Temperature = 0.7
	MaxTokens   = 512
)

const (
	emptyReply = "Sorry, I couldn't generate a response."
	errorReply = "Sorry, I encountered an error while generating a response. Please try again."
)

var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy is returned while a reply is being generated.
	ErrBusy = errors.New("a reply is already being generated")

	// ErrNoSession is returned when no model is loaded.
	ErrNoSession = errors.New("no model loaded")
)

// Turn is one message in the transcript.
type Turn struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Recorder persists turns. Failures are logged and never interrupt the chat.
type Recorder interface {
	RecordTurn(ctx context.Context, turn Turn) error

	// Rotate starts a fresh persisted conversation after a clear.
	Rotate(ctx context.Context) error
}

// Conversation is an append-only transcript, except for Reset and
// ClearChat. Safe for concurrent use.
type Conversation struct {
	mu         sync.Mutex
	turns      []Turn
	generating bool

	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an empty conversation. recorder may be nil.
func New(recorder Recorder, logger *zap.Logger) *Conversation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Turns returns a copy of the transcript.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Generating reports whether a reply is in flight.
func (c *Conversation) Generating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating
}

// Append adds a turn and returns it.
func (c *Conversation) Append(role Role, content string) Turn {
	c.mu.Lock()
	turn := c.appendLocked(role, content)
	c.mu.Unlock()

	c.record(turn)
	return turn
}

// AppendAssistant adds an assistant turn.
func (c *Conversation) AppendAssistant(content string) {
	c.Append(RoleAssistant, content)
}

// Reset empties the transcript.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.turns = nil
	c.mu.Unlock()

	c.rotate()
}

// ClearChat truncates the transcript to a greeting when a model is
// loaded, or to nothing otherwise.
func (c *Conversation) ClearChat(loaded bool, modelName string) {
	c.Reset()
	if loaded {
		c.AppendAssistant(fmt.Sprintf("Chat cleared! I'm %s and I'm ready to help you.", modelName))
	}
}

// Send appends the user's message, asks the session for a reply and
// appends it. Engine failures become an apology turn; the error is
// returned as well.
func (c *Conversation) Send(ctx context.Context, session engine.Session, text string) (Turn, error) {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	switch {
	case session == nil:
		c.mu.Unlock()
		return Turn{}, ErrNoSession
	case text == "":
		c.mu.Unlock()
		return Turn{}, ErrEmptyMessage
	case c.generating:
		c.mu.Unlock()
		return Turn{}, ErrBusy
	}
	c.generating = true
	userTurn := c.appendLocked(RoleUser, text)
	history := make([]engine.Message, len(c.turns))
	for i, t := range c.turns {
		history[i] = engine.Message{Role: string(t.Role), Content: t.Content}
	}
	c.mu.Unlock()

	c.record(userTurn)

	defer func() {
		c.mu.Lock()
		c.generating = false
		c.mu.Unlock()
	}()

	reply, err := session.Complete(ctx, history, engine.Params{
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		c.logger.Error("Error generating response", zap.String("model", session.ModelID()), zap.Error(err))
		return c.Append(RoleAssistant, errorReply), fmt.Errorf("generate response: %w", err)
	}

	content := reply.Text()
	if content == "" {
		content = emptyReply
	}
	return c.Append(RoleAssistant, content), nil
}

func (c *Conversation) appendLocked(role Role, content string) Turn {
	turn := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: c.now(),
	}
	c.turns = append(c.turns, turn)
	return turn
}

func (c *Conversation) record(turn Turn) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordTurn(context.Background(), turn); err != nil {
		c.logger.Warn("Failed to record turn", zap.String("id", turn.ID), zap.Error(err))
	}
}

func (c *Conversation) rotate() {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Rotate(context.Background()); err != nil {
		c.logger.Warn("Failed to rotate conversation", zap.Error(err))
	}
}
