package metrics

import (
	"sync"
)

// Collector defines the interface for collecting tracker metrics
type Collector interface {
	RecordEventApplied(kind string, outcome string)
	RecordReconnect(success bool)
	RecordResync(success bool)
}

// NoOp is a no-op implementation for when metrics aren't needed
type NoOp struct{}

func (NoOp) RecordEventApplied(kind string, outcome string) {}
func (NoOp) RecordReconnect(success bool)                   {}
func (NoOp) RecordResync(success bool)                      {}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Events            map[string]map[string]int64 `json:"events"`
	ReconnectSuccess  int64                       `json:"reconnect_success"`
	ReconnectFailures int64                       `json:"reconnect_failures"`
	ResyncSuccess     int64                       `json:"resync_success"`
	ResyncFailures    int64                       `json:"resync_failures"`
}

// Counters keeps in-memory counts, served on the status endpoint.
type Counters struct {
	mu    sync.Mutex
	stats Stats
}

func NewCounters() *Counters {
	return &Counters{stats: Stats{Events: make(map[string]map[string]int64)}}
}

func (c *Counters) RecordEventApplied(kind string, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byOutcome, ok := c.stats.Events[kind]
	if !ok {
		byOutcome = make(map[string]int64)
		c.stats.Events[kind] = byOutcome
	}
	byOutcome[outcome]++
}

func (c *Counters) RecordReconnect(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.stats.ReconnectSuccess++
	} else {
		c.stats.ReconnectFailures++
	}
}

func (c *Counters) RecordResync(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.stats.ResyncSuccess++
	} else {
		c.stats.ResyncFailures++
	}
}

// Snapshot returns a deep copy of the current counters.
func (c *Counters) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.Events = make(map[string]map[string]int64, len(c.stats.Events))
	for kind, byOutcome := range c.stats.Events {
		cp := make(map[string]int64, len(byOutcome))
		for k, v := range byOutcome {
			cp[k] = v
		}
		out.Events[kind] = cp
	}
	return out
}
