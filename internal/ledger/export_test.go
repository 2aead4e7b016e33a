package ledger

import (
	"time"

	"tenantgov.org/internal/tenant"
)

// rewrite replaces a stored payload to simulate tampering.
func (s *InMemory) rewrite(tenantID tenant.ID, seq int64, payload string, createdAt time.Time) {
	c := s.chain(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.links {
		if c.links[i].Entry.Sequence() == seq {
			c.links[i].Payload = payload
			if !createdAt.IsZero() {
				c.links[i].Entry.createdAt = createdAt.UTC()
			}
		}
	}
}
