package intern

import "sync"

// InvalidID is never handed out; it stands for the empty string.
const InvalidID uint32 = 0

// Pool maps strings to compact 1-based ids. Released ids are recycled, so
// a pool is bounded by the number of strings live at once.
type Pool struct {
	mu      sync.RWMutex
	store   map[string]uint32
	reverse []string
	free    []uint32
}

func New() *Pool {
	return &Pool{
		store:   make(map[string]uint32),
		reverse: make([]string, 0, 1000),
	}
}

// Get returns the id for s, allocating one if necessary.
func (p *Pool) Get(s string) uint32 {
	if s == "" {
		return InvalidID
	}

	p.mu.RLock()
	id, ok := p.store[s]
	p.mu.RUnlock()
	if ok {
		return id
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check
	if id, ok := p.store[s]; ok {
		return id
	}

	// reverse[id-1] holds the string.
	if n := len(p.free); n > 0 {
		id = p.free[n-1]
		p.free = p.free[:n-1]
		p.reverse[id-1] = s
	} else {
		p.reverse = append(p.reverse, s)
		id = uint32(len(p.reverse))
	}
	p.store[s] = id
	return id
}

// Release forgets s. Its id may be handed to a different string later, so
// callers must drop every copy of the id first.
func (p *Pool) Release(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.store[s]
	if !ok {
		return
	}
	delete(p.store, s)
	p.reverse[id-1] = ""
	p.free = append(p.free, id)
}

// Lookup returns the id for s without allocating.
func (p *Pool) Lookup(s string) (uint32, bool) {
	if s == "" {
		return InvalidID, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.store[s]
	return id, ok
}

// String returns the string for id, or "" if the id is unknown.
func (p *Pool) String(id uint32) string {
	if id == InvalidID {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx := int(id) - 1
	if idx < 0 || idx >= len(p.reverse) {
		return ""
	}
	return p.reverse[idx]
}

// Len reports how many strings are currently interned.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.store)
}

// Reset clears the pool.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store = make(map[string]uint32)
	p.reverse = make([]string, 0, 1000)
	p.free = nil
}
