package ops

// resolvedCache remembers the terminal status of recently resolved resume
// tokens so a late duplicate submission can be answered "already resolved"
// instead of "unknown token". Insertion-ordered with a fixed capacity; the
// oldest entry is evicted once the capacity is exceeded.
type resolvedCache struct {
	capacity int
	statuses map[string]Status
	order    []string
}

func newResolvedCache(capacity int) *resolvedCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &resolvedCache{
		capacity: capacity,
		statuses: make(map[string]Status),
	}
}

// put records the terminal status for a token. Re-recording an existing
// token updates the status without refreshing its insertion position.
func (c *resolvedCache) put(token string, status Status) {
	if token == "" {
		return
	}
	if _, ok := c.statuses[token]; ok {
		c.statuses[token] = status
		return
	}
	c.statuses[token] = status
	c.order = append(c.order, token)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.statuses, oldest)
	}
}

func (c *resolvedCache) get(token string) (Status, bool) {
	status, ok := c.statuses[token]
	return status, ok
}

func (c *resolvedCache) len() int {
	return len(c.statuses)
}
