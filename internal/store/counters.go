package store

import (
	"sync"
	"time"
)

// Counters is the sequence-counter store (game numbers and the like), backed
// by a flat JSON object of name → next value.
type Counters struct {
	mu       sync.Mutex
	path     string
	values   map[string]int64
	loadedAt time.Time
}

// NewCounters opens the counter store over the given file.
func NewCounters(path string) *Counters {
	return &Counters{path: path}
}

// Next returns the current value of a counter and advances it. Counters start
// at 1.
func (c *Counters) Next(name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.values == nil || !fresh(c.loadedAt) {
		m := map[string]int64{}
		if err := readJSON(c.path, &m); err != nil {
			return 0, err
		}
		c.values = m
		c.loadedAt = time.Now()
	}

	n := c.values[name]
	if n == 0 {
		n = 1
	}
	c.values[name] = n + 1
	if err := writeJSON(c.path, c.values); err != nil {
		return 0, err
	}
	c.loadedAt = time.Now()
	return n, nil
}
