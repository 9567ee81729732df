package graph

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/DrSkyle/propgraph/pkg/sys/intern"
)

// adjacency maps a neighbour to the sequence number of the edge, which
// keeps iteration in insertion order.
type adjacency map[uint32]uint64

// MemoryEdgeIndex is an in-memory EdgeIndex keyed by interned node ids.
type MemoryEdgeIndex struct {
	mu      sync.RWMutex
	pool    *intern.Pool
	forward map[uint32]adjacency
	reverse map[uint32]adjacency
	seq     uint64
	count   int
	exists  NodeExists
}

var _ EdgeIndex = (*MemoryEdgeIndex)(nil)

// NewMemoryEdgeIndex builds an index whose endpoints are checked with exists.
func NewMemoryEdgeIndex(exists NodeExists) *MemoryEdgeIndex {
	return &MemoryEdgeIndex{
		pool:    intern.New(),
		forward: make(map[uint32]adjacency, 1000),
		reverse: make(map[uint32]adjacency, 1000),
		exists:  exists,
	}
}

func (x *MemoryEdgeIndex) Add(ctx context.Context, source, target string) (bool, error) {
	if x.exists != nil {
		for _, id := range []string{source, target} {
			ok, err := x.exists(ctx, id)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, fmt.Errorf("%w: %q", ErrMissingEndpoint, id)
			}
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	s, t := x.pool.Get(source), x.pool.Get(target)

	// Check duplicates.
	if _, ok := x.forward[s][t]; ok {
		return false, nil
	}
	x.seq++
	link(x.forward, s, t, x.seq)
	link(x.reverse, t, s, x.seq)
	x.count++
	return true, nil
}

func (x *MemoryEdgeIndex) Remove(ctx context.Context, source, target string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	s, t, ok := x.lookupPair(source, target)
	if !ok {
		return false, nil
	}
	if _, ok := x.forward[s][t]; !ok {
		return false, nil
	}
	unlink(x.forward, s, t)
	unlink(x.reverse, t, s)
	x.count--
	x.release(s)
	x.release(t)
	return true, nil
}

func (x *MemoryEdgeIndex) Has(ctx context.Context, source, target string) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	s, t, ok := x.lookupPair(source, target)
	if !ok {
		return false, nil
	}
	_, ok = x.forward[s][t]
	return ok, nil
}

func (x *MemoryEdgeIndex) TargetsOf(ctx context.Context, id string) iter.Seq2[string, error] {
	return x.neighbours(ctx, x.forward, id)
}

func (x *MemoryEdgeIndex) SourcesOf(ctx context.Context, id string) iter.Seq2[string, error] {
	return x.neighbours(ctx, x.reverse, id)
}

func (x *MemoryEdgeIndex) TargetCount(ctx context.Context, id string) (int, error) {
	return x.degree(x.forward, id), nil
}

func (x *MemoryEdgeIndex) SourceCount(ctx context.Context, id string) (int, error) {
	return x.degree(x.reverse, id), nil
}

func (x *MemoryEdgeIndex) DropAllEdgesOf(ctx context.Context, id string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	n, ok := x.pool.Lookup(id)
	if !ok {
		return 0, nil
	}

	removed := 0
	// A self-loop sits on both sides but counts once.
	for t := range x.forward[n] {
		if t != n {
			unlink(x.reverse, t, n)
			x.release(t)
		}
		removed++
	}
	delete(x.forward, n)

	for s := range x.reverse[n] {
		if s == n {
			continue
		}
		unlink(x.forward, s, n)
		x.release(s)
		removed++
	}
	delete(x.reverse, n)

	x.count -= removed
	x.release(n)
	return removed, nil
}

func (x *MemoryEdgeIndex) Len(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count, nil
}

// Interned returns how many node ids the index currently holds.
func (x *MemoryEdgeIndex) Interned() int {
	return x.pool.Len()
}

// lookupPair resolves both ids; x.mu must be held.
func (x *MemoryEdgeIndex) lookupPair(source, target string) (uint32, uint32, bool) {
	s, ok := x.pool.Lookup(source)
	if !ok {
		return 0, 0, false
	}
	t, ok := x.pool.Lookup(target)
	return s, t, ok
}

// release frees the interned id once no edge references it; x.mu must be
// held for writing.
func (x *MemoryEdgeIndex) release(id uint32) {
	if len(x.forward[id]) > 0 || len(x.reverse[id]) > 0 {
		return
	}
	x.pool.Release(x.pool.String(id))
}

func (x *MemoryEdgeIndex) degree(side map[uint32]adjacency, id string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n, ok := x.pool.Lookup(id)
	if !ok {
		return 0
	}
	return len(side[n])
}

func (x *MemoryEdgeIndex) neighbours(ctx context.Context, side map[uint32]adjacency, id string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		type entry struct {
			id  string
			seq uint64
		}
		x.mu.RLock()
		n, ok := x.pool.Lookup(id)
		if !ok {
			x.mu.RUnlock()
			return
		}
		snap := make([]entry, 0, len(side[n]))
		for other, seq := range side[n] {
			snap = append(snap, entry{x.pool.String(other), seq})
		}
		x.mu.RUnlock()

		slices.SortFunc(snap, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })
		for _, e := range snap {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(e.id, nil) {
				return
			}
		}
	}
}

func link(side map[uint32]adjacency, from, to uint32, seq uint64) {
	adj, ok := side[from]
	if !ok {
		adj = make(adjacency)
		side[from] = adj
	}
	adj[to] = seq
}

func unlink(side map[uint32]adjacency, from, to uint32) {
	adj := side[from]
	delete(adj, to)
	if len(adj) == 0 {
		delete(side, from)
	}
}
