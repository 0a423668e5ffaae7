// Package engine defines the inference engine contract the load
// controller consumes, and an HTTP adapter for OpenAI-compatible servers.
package engine

import "context"

// Message is one chat turn as the engine sees it.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the sampling parameters for a completion.
type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Reply mirrors the OpenAI completion response shape.
type Reply struct {
	Choices []Choice `json:"choices"`
}

// Choice is a single completion choice.
type Choice struct {
	Message Message `json:"message"`
}

// Text returns the first choice's content, or "" when there is none.
func (r *Reply) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// ProgressFunc receives a completion fraction in [0,1] and an optional
// phase label.
type ProgressFunc func(fraction float64, phase string)

// Session is a loaded, ready-to-converse model instance.
type Session interface {
	// ModelID returns the model this session serves.
	ModelID() string

	// Complete runs a chat completion over the given turns.
	Complete(ctx context.Context, turns []Message, params Params) (*Reply, error)

	// Unload releases the model.
	Unload(ctx context.Context) error
}

// Engine creates sessions.
type Engine interface {
	// CreateSession loads modelID and returns a ready session. A failed
	// create may still return a non-nil session that must be unloaded.
	CreateSession(ctx context.Context, modelID string, onProgress ProgressFunc) (Session, error)
}
