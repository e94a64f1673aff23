package ratelimit

import (
	"context"
	"sync"
)

// Counter stores per-client request counts for the current window.
type Counter interface {
	// Take admits a request for clientID when its count is below limit and
	// increments the count. The check and the increment are atomic. It
	// returns the count after the call and whether the request was admitted.
	Take(ctx context.Context, clientID string, limit int64) (count int64, ok bool, err error)
	// Reset clears every client's count.
	Reset(ctx context.Context) error
}

// MemoryCounter is a process-local Counter. All access goes through one mutex.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

// Take implements Counter.
func (c *MemoryCounter) Take(_ context.Context, clientID string, limit int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.counts[clientID]
	if n >= limit {
		return n, false, nil
	}
	n++
	c.counts[clientID] = n
	return n, true, nil
}

// Reset implements Counter. The map is replaced wholesale.
func (c *MemoryCounter) Reset(context.Context) error {
	c.mu.Lock()
	c.counts = make(map[string]int64)
	c.mu.Unlock()
	return nil
}

// Count returns the current count for clientID.
func (c *MemoryCounter) Count(clientID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[clientID]
}

// Len returns the number of tracked clients.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
