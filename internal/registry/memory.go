package registry

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	node      Node
	expiresAt time.Time
}

// MemoryRegistry is a map-backed Registry with an injectable clock.
// Used in tests and single-process deployments.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryRegistry creates a MemoryRegistry. A nil now defaults to
// time.Now.
func NewMemoryRegistry(ttl time.Duration, now func() time.Time) *MemoryRegistry {
	if now == nil {
		now = time.Now
	}
	return &MemoryRegistry{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     now,
	}
}

func (r *MemoryRegistry) live(nodeID string) (memoryEntry, bool) {
	e, ok := r.entries[nodeID]
	if !ok {
		return memoryEntry{}, false
	}
	if !r.now().Before(e.expiresAt) {
		delete(r.entries, nodeID)
		return memoryEntry{}, false
	}
	return e, true
}

func (r *MemoryRegistry) Register(ctx context.Context, node Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live(node.ID); ok {
		return ErrAlreadyRegistered
	}
	r.entries[node.ID] = memoryEntry{node: node, expiresAt: r.now().Add(r.ttl)}
	return nil
}

func (r *MemoryRegistry) Heartbeat(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(nodeID)
	if !ok {
		return ErrNotFound
	}
	e.expiresAt = r.now().Add(r.ttl)
	r.entries[nodeID] = e
	return nil
}

func (r *MemoryRegistry) Lookup(ctx context.Context, nodeID string) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(nodeID)
	if !ok {
		return nil, ErrNotFound
	}
	node := e.node
	return &node, nil
}

func (r *MemoryRegistry) FindByModel(ctx context.Context, model string) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.entries {
		e, ok := r.live(id)
		if !ok {
			continue
		}
		if e.node.GptModel == model {
			node := e.node
			return &node, nil
		}
	}
	return nil, ErrNotFound
}
