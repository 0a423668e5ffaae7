// Package stats tracks model loading and chat statistics.
package stats

import (
	"runtime"
	"sync"
	"time"
)

// Collector collects load and chat counters. Safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	startTime time.Time

	attempts      int64
	retries       int64
	loads         int64
	failures      int64
	fastPath      int64
	totalLoadTime int64 // nanoseconds, successful loads only

	chatRequests int64
	chatErrors   int64
	chatDuration int64 // nanoseconds
}

// NewCollector creates a new stats collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// Stats represents statistics at a point in time.
type Stats struct {
	Uptime      string      `json:"uptime"`
	Goroutines  int         `json:"goroutines"`
	MemoryStats MemoryStats `json:"memory"`

	// Loading
	LoadAttempts  int64   `json:"load_attempts"`
	LoadRetries   int64   `json:"load_retries"`
	LoadsOK       int64   `json:"loads_ok"`
	LoadFailures  int64   `json:"load_failures"`
	FastPathHits  int64   `json:"fast_path_hits"`
	AvgLoadTimeMs float64 `json:"avg_load_time_ms"`

	// Chat
	ChatRequests int64   `json:"chat_requests"`
	ChatErrors   int64   `json:"chat_errors"`
	AvgChatMs    float64 `json:"avg_chat_ms"`
}

// MemoryStats represents process memory usage.
type MemoryStats struct {
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
	NumGC       uint32  `json:"num_gc"`
}

// Collect returns current statistics.
func (c *Collector) Collect() *Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.mu.Lock()
	defer c.mu.Unlock()

	avgLoad := float64(0)
	if c.loads > 0 {
		avgLoad = float64(c.totalLoadTime) / float64(c.loads) / 1e6 // nanos to millis
	}
	avgChat := float64(0)
	if c.chatRequests > 0 {
		avgChat = float64(c.chatDuration) / float64(c.chatRequests) / 1e6
	}

	return &Stats{
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		MemoryStats: MemoryStats{
			HeapAllocMB: bytesToMB(int64(m.HeapAlloc)),
			HeapSysMB:   bytesToMB(int64(m.HeapSys)),
			NumGC:       m.NumGC,
		},
		LoadAttempts:  c.attempts,
		LoadRetries:   c.retries,
		LoadsOK:       c.loads,
		LoadFailures:  c.failures,
		FastPathHits:  c.fastPath,
		AvgLoadTimeMs: avgLoad,
		ChatRequests:  c.chatRequests,
		ChatErrors:    c.chatErrors,
		AvgChatMs:     avgChat,
	}
}

// RecordAttempt records one engine create call; retry is true for
// attempts after the first.
func (c *Collector) RecordAttempt(retry bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if retry {
		c.retries++
	}
}

// RecordLoad records a successful load and how long it took overall.
func (c *Collector) RecordLoad(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	c.totalLoadTime += duration.Nanoseconds()
}

// RecordFailure records a terminal load failure.
func (c *Collector) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

// RecordFastPath records a load satisfied by the registry.
func (c *Collector) RecordFastPath() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fastPath++
}

// RecordChat records a completed chat request.
func (c *Collector) RecordChat(duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatRequests++
	c.chatDuration += duration.Nanoseconds()
	if err != nil {
		c.chatErrors++
	}
}

// StartTime returns when the collector started.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// bytesToMB converts bytes to megabytes.
func bytesToMB(b int64) float64 {
	return float64(b) / 1024 / 1024
}
