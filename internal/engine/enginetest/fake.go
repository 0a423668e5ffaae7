// Package enginetest provides a scripted in-memory engine for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"

	"github.com/flynn-ai/modeldock/internal/engine"
)

// Progress is one scripted progress callback.
type Progress struct {
	Fraction float64
	Phase    string
}

// Engine fails CreateSession with the queued errors for a model, in
// order, then succeeds.
type Engine struct {
	mu       sync.Mutex
	failures map[string][]error
	progress []Progress
	creates  map[string]int
	sessions []*Session
	block    chan struct{}

	// CompleteFunc, when set, answers every Complete call.
	CompleteFunc func(turns []engine.Message, params engine.Params) (*engine.Reply, error)
}

// New creates a fake engine.
func New() *Engine {
	return &Engine{
		failures: make(map[string][]error),
		creates:  make(map[string]int),
	}
}

// FailWith queues errors returned by the next CreateSession calls for modelID.
func (e *Engine) FailWith(modelID string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[modelID] = append(e.failures[modelID], errs...)
}

// FailAlways makes every CreateSession for modelID fail with msg.
func (e *Engine) FailAlways(modelID, msg string, n int) {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = errors.New(msg)
	}
	e.FailWith(modelID, errs...)
}

// ScriptProgress sets the callbacks emitted by every CreateSession.
func (e *Engine) ScriptProgress(p ...Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = p
}

// Block makes CreateSession wait until the returned func is called or
// the context ends.
func (e *Engine) Block() (release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.block = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Creates returns how many times CreateSession ran for modelID.
func (e *Engine) Creates(modelID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creates[modelID]
}

// TotalCreates returns the number of CreateSession calls for all models.
func (e *Engine) TotalCreates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.creates {
		n += c
	}
	return n
}

// Sessions returns every session handed out.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// CreateSession implements engine.Engine.
func (e *Engine) CreateSession(ctx context.Context, modelID string, onProgress engine.ProgressFunc) (engine.Session, error) {
	e.mu.Lock()
	e.creates[modelID]++
	progress := e.progress
	block := e.block
	var failure error
	if queue := e.failures[modelID]; len(queue) > 0 {
		failure = queue[0]
		e.failures[modelID] = queue[1:]
	}
	e.mu.Unlock()

	for _, p := range progress {
		if onProgress != nil {
			onProgress(p.Fraction, p.Phase)
		}
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failure != nil {
		return nil, failure
	}

	s := &Session{engine: e, modelID: modelID}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

// Session is a fake loaded model.
type Session struct {
	engine    *Engine
	modelID   string
	mu        sync.Mutex
	unloads   int
	UnloadErr error
}

// ModelID implements engine.Session.
func (s *Session) ModelID() string {
	return s.modelID
}

// Complete implements engine.Session.
func (s *Session) Complete(_ context.Context, turns []engine.Message, params engine.Params) (*engine.Reply, error) {
	if s.engine.CompleteFunc != nil {
		return s.engine.CompleteFunc(turns, params)
	}
	return &engine.Reply{Choices: []engine.Choice{{Message: engine.Message{Role: "assistant", Content: "ok"}}}}, nil
}

// Unload implements engine.Session.
func (s *Session) Unload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloads++
	return s.UnloadErr
}

// Unloads returns how many times Unload was called.
func (s *Session) Unloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unloads
}
