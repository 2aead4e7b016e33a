package ledger

import (
	"context"
	"sort"
	"sync"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/tenant"
)

// ChainReader pages through a tenant chain in sequence order.
type ChainReader interface {
	Links(ctx context.Context, tenantID tenant.ID, afterSeq int64, limit int) ([]Link, error)
}

// Store is the append-only persistence of tenant chains.
// Appends for one tenant are serialized; distinct tenants proceed independently.
type Store interface {
	ChainReader
	Append(ctx context.Context, rec Record) (Entry, error)
	Tail(ctx context.Context, tenantID tenant.ID) (Entry, bool, error)
	Tenants(ctx context.Context) ([]tenant.ID, error)
}

// MaxPage bounds a single Links call.
const MaxPage = 1000

// ClampPage normalises a page size.
func ClampPage(limit int) int {
	if limit <= 0 || limit > MaxPage {
		return 100
	}
	return limit
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.Mutex
	chains map[tenant.ID]*memChain
}

type memChain struct {
	mu    sync.Mutex
	links []Link
	idem  map[string]Entry // entry id -> entry
}

// NewInMemory creates an empty chain store.
func NewInMemory() *InMemory {
	return &InMemory{chains: make(map[tenant.ID]*memChain)}
}

func (s *InMemory) chain(id tenant.ID) *memChain {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[id]
	if !ok {
		c = &memChain{idem: make(map[string]Entry)}
		s.chains[id] = c
	}
	return c
}

// Append seals rec onto the tenant's tail. Re-appending an entry id returns the stored entry.
func (s *InMemory) Append(ctx context.Context, rec Record) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, apperr.Unavailable("chain append", err)
	}
	if rec == nil {
		return Entry{}, apperr.InvalidArgument("record is required")
	}
	tid := rec.TenantID()
	if !tid.Valid() {
		return Entry{}, apperr.InvalidArgument("record tenant id must be positive")
	}
	c := s.chain(tid)
	c.mu.Lock()
	defer c.mu.Unlock()

	if id := rec.EntryID(); id != "" {
		if e, ok := c.idem[id]; ok {
			return e, nil
		}
	}
	var tail *Entry
	if n := len(c.links); n > 0 {
		tail = &c.links[n-1].Entry
	}
	e, err := Seal(tid, tail, rec.HashPayload(), rec.CreatedAtUTC())
	if err != nil {
		return Entry{}, err
	}
	c.links = append(c.links, Link{Entry: e, Payload: rec.HashPayload()})
	if id := rec.EntryID(); id != "" {
		c.idem[id] = e
	}
	return e, nil
}

func (s *InMemory) Tail(ctx context.Context, tenantID tenant.ID) (Entry, bool, error) {
	c := s.chain(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return Entry{}, false, nil
	}
	return c.links[len(c.links)-1].Entry, true, nil
}

func (s *InMemory) Links(ctx context.Context, tenantID tenant.ID, afterSeq int64, limit int) ([]Link, error) {
	limit = ClampPage(limit)
	c := s.chain(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []Link
	for _, l := range c.links {
		if l.Entry.Sequence() <= afterSeq {
			continue
		}
		res = append(res, l)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *InMemory) Tenants(ctx context.Context) ([]tenant.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tenant.ID, 0, len(s.chains))
	for id, c := range s.chains {
		c.mu.Lock()
		n := len(c.links)
		c.mu.Unlock()
		if n > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
