package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	c := NewCollector()

	c.RecordAttempt(false)
	c.RecordAttempt(true)
	c.RecordAttempt(true)
	c.RecordLoad(2 * time.Second)
	c.RecordFailure()
	c.RecordFastPath()
	c.RecordChat(100*time.Millisecond, nil)
	c.RecordChat(300*time.Millisecond, errors.New("x"))

	s := c.Collect()
	assert.Equal(t, int64(3), s.LoadAttempts)
	assert.Equal(t, int64(2), s.LoadRetries)
	assert.Equal(t, int64(1), s.LoadsOK)
	assert.Equal(t, int64(1), s.LoadFailures)
	assert.Equal(t, int64(1), s.FastPathHits)
	assert.InDelta(t, 2000.0, s.AvgLoadTimeMs, 0.001)
	assert.Equal(t, int64(2), s.ChatRequests)
	assert.Equal(t, int64(1), s.ChatErrors)
	assert.InDelta(t, 200.0, s.AvgChatMs, 0.001)
	assert.Greater(t, s.Goroutines, 0)
}

func TestCollectEmpty(t *testing.T) {
	s := NewCollector().Collect()
	assert.Zero(t, s.AvgLoadTimeMs)
	assert.Zero(t, s.AvgChatMs)
}
