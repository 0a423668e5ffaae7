package loader

import (
	"fmt"
	"math"
	"sync"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateBackoff
	StateReady
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateBackoff:
		return "backoff"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether an operation is in flight.
func (s State) Busy() bool {
	return s == StateLoading || s == StateBackoff
}

// Settled reports whether s is a terminal state of a load.
func (s State) Settled() bool {
	return s == StateReady || s == StateFailed
}

// Status is a snapshot of what the controller reports to the UI.
type Status struct {
	State    State
	Model    string
	Progress string

	// Loaded lists model ids with a live session, sorted.
	Loaded []string
}

// IsLoaded reports whether id has a live session in this snapshot.
func (s Status) IsLoaded(id string) bool {
	for _, m := range s.Loaded {
		if m == id {
			return true
		}
	}
	return false
}

// Attempt describes an in-flight load.
type Attempt struct {
	ModelID    string
	RetryCount int
	LastError  error
}

// Listener is called after every status change. It runs on the
// goroutine driving the operation and must not block for long.
type Listener func(Status)

// progressTracker turns engine callbacks into "{phase}: {percent}%"
// lines. Percent never goes backwards within a phase.
type progressTracker struct {
	mu      sync.Mutex
	phase   string
	percent int
	started bool
	publish func(string)
}

func newProgressTracker(publish func(string)) *progressTracker {
	return &progressTracker{publish: publish}
}

func (p *progressTracker) report(fraction float64, phase string) {
	if phase == "" {
		phase = "Loading"
	}
	pct := int(math.Round(fraction * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	p.mu.Lock()
	if p.started && phase == p.phase && pct < p.percent {
		p.mu.Unlock()
		return
	}
	p.phase, p.percent, p.started = phase, pct, true
	p.mu.Unlock()

	p.publish(fmt.Sprintf("%s: %d%%", phase, pct))
}
