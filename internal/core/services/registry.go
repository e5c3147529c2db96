package services

import (
	"sync"
	"time"

	"github.com/manthysbr/censord/internal/core/domain"
)

// WorkerRegistry is the ordered set of live workers plus the round-robin cursor.
// Insertion order is kept so that selection cycles deterministically.
type WorkerRegistry struct {
	mu      sync.Mutex
	entries []domain.WorkerHandle
	index   map[domain.WorkerAddress]struct{}
	cursor  uint64
}

func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{
		index: make(map[domain.WorkerAddress]struct{}),
	}
}

// Add appends addr. It returns false if addr was already present.
func (r *WorkerRegistry) Add(addr domain.WorkerAddress, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[addr]; ok {
		return false
	}
	r.entries = append(r.entries, domain.WorkerHandle{Address: addr, RegisteredAt: now})
	r.index[addr] = struct{}{}
	return true
}

// Remove deletes addr. It returns false if addr was not present.
// The cursor is left alone: a removal only shortens the modulus.
func (r *WorkerRegistry) Remove(addr domain.WorkerAddress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[addr]; !ok {
		return false
	}
	delete(r.index, addr)
	for i, h := range r.entries {
		if h.Address == addr {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	return true
}

// Next selects entries[cursor % len] and advances the cursor in the same
// critical section, so concurrent callers never share a slot.
func (r *WorkerRegistry) Next() (domain.WorkerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return domain.WorkerHandle{}, false
	}
	h := r.entries[r.cursor%uint64(len(r.entries))]
	r.cursor++
	return h, true
}

func (r *WorkerRegistry) Contains(addr domain.WorkerAddress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[addr]
	return ok
}

func (r *WorkerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns a copy of the registry in insertion order.
func (r *WorkerRegistry) Snapshot() []domain.WorkerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.WorkerHandle, len(r.entries))
	copy(out, r.entries)
	return out
}
