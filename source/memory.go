package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/binflow/binflow"
)

// Memory is an in-memory item queue implementing binflow.SessionFactory.
// Sessions pulled from it are fully transactional: rolled-back items return
// to the front of the queue in their original order, and transfers only
// become visible in the sinks once the session commits.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	queue []*binflow.Item
	sinks map[binflow.Relationship][]*binflow.Item
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		sinks: make(map[binflow.Relationship][]*binflow.Item),
	}
}

// Put enqueues a new item with the given payload, size and attributes, and
// returns it. The item is assigned a fresh UUID.
func (m *Memory) Put(data interface{}, size int64, attrs map[string]string) *binflow.Item {
	item := &binflow.Item{
		ID:   uuid.NewString(),
		Size: size,
		Data: data,
	}
	item.PutAllAttributes(attrs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, item)
	return item
}

// Depth returns the number of items waiting in the queue.
func (m *Memory) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Sink returns a copy of the items delivered to the given relationship so
// far.
func (m *Memory) Sink(rel binflow.Relationship) []*binflow.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*binflow.Item, len(m.sinks[rel]))
	copy(out, m.sinks[rel])
	return out
}

// CreateSession implements binflow.SessionFactory.
func (m *Memory) CreateSession() binflow.Session {
	return &memorySession{
		store:     m,
		owned:     make(map[*binflow.Item]struct{}),
		transfers: make(map[*binflow.Item]binflow.Relationship),
		staged:    make(map[*binflow.Item]map[string]string),
	}
}

// memorySession tracks the items checked out of the store, the transfers
// staged for them, and attribute updates pending commit.
type memorySession struct {
	store     *Memory
	order     []*binflow.Item
	owned     map[*binflow.Item]struct{}
	transfers map[*binflow.Item]binflow.Relationship
	staged    map[*binflow.Item]map[string]string
	done      bool
}

// Get implements binflow.Session.
func (s *memorySession) Get(_ context.Context, max int) ([]*binflow.Item, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	n := max
	if n > len(s.store.queue) {
		n = len(s.store.queue)
	}
	if n <= 0 {
		return nil, nil
	}

	pulled := s.store.queue[:n]
	s.store.queue = s.store.queue[n:]

	for _, item := range pulled {
		s.owned[item] = struct{}{}
		s.order = append(s.order, item)
	}
	out := make([]*binflow.Item, n)
	copy(out, pulled)
	return out, nil
}

// Migrate implements binflow.Session. The target session must come from the
// same Memory store.
func (s *memorySession) Migrate(to binflow.Session, items ...*binflow.Item) {
	target, ok := to.(*memorySession)
	if !ok || target.store != s.store {
		panic("source: cannot migrate items to a session from a different store")
	}

	for _, item := range items {
		if _, owned := s.owned[item]; !owned {
			continue
		}
		delete(s.owned, item)
		s.removeFromOrder(item)

		target.owned[item] = struct{}{}
		target.order = append(target.order, item)
		if rel, ok := s.transfers[item]; ok {
			target.transfers[item] = rel
			delete(s.transfers, item)
		}
		if attrs, ok := s.staged[item]; ok {
			target.staged[item] = attrs
			delete(s.staged, item)
		}
	}
}

func (s *memorySession) removeFromOrder(item *binflow.Item) {
	for i, it := range s.order {
		if it == item {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Transfer implements binflow.Session.
func (s *memorySession) Transfer(item *binflow.Item, rel binflow.Relationship) {
	if _, owned := s.owned[item]; !owned {
		return
	}
	s.transfers[item] = rel
}

// PutAllAttributes implements binflow.Session.
func (s *memorySession) PutAllAttributes(item *binflow.Item, attrs map[string]string) {
	if _, owned := s.owned[item]; !owned {
		return
	}
	staged := s.staged[item]
	if staged == nil {
		staged = make(map[string]string, len(attrs))
		s.staged[item] = staged
	}
	for k, v := range attrs {
		staged[k] = v
	}
}

// Commit implements binflow.Session. Every item still owned by the session
// must have been transferred; otherwise Commit fails without side effects and
// the session can still be rolled back.
func (s *memorySession) Commit() error {
	if s.done {
		return nil
	}

	for _, item := range s.order {
		if _, ok := s.transfers[item]; !ok {
			return fmt.Errorf("item %s was not transferred to a relationship", item.ID)
		}
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, item := range s.order {
		item.PutAllAttributes(s.staged[item])
		rel := s.transfers[item]
		s.store.sinks[rel] = append(s.store.sinks[rel], item)
	}

	s.finish()
	return nil
}

// Rollback implements binflow.Session. The session's items return to the
// front of the queue in their original order; staged attributes and
// transfers are discarded.
func (s *memorySession) Rollback() {
	if s.done {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if len(s.order) > 0 {
		requeued := make([]*binflow.Item, 0, len(s.order)+len(s.store.queue))
		requeued = append(requeued, s.order...)
		s.store.queue = append(requeued, s.store.queue...)
	}

	s.finish()
}

func (s *memorySession) finish() {
	s.order = nil
	s.owned = make(map[*binflow.Item]struct{})
	s.transfers = make(map[*binflow.Item]binflow.Relationship)
	s.staged = make(map[*binflow.Item]map[string]string)
	s.done = true
}
