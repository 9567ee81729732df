package graph

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
)

type storedNode struct {
	node Node
	seq  uint64
}

// MemoryNodeStore is an in-memory NodeStore. Iteration follows first
// insertion order; an upsert keeps the node's original position.
type MemoryNodeStore struct {
	mu     sync.RWMutex
	nodes  map[string]*storedNode
	byType map[int]map[string]struct{}
	seq    uint64
}

var _ NodeStore = (*MemoryNodeStore)(nil)

func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{
		nodes:  make(map[string]*storedNode, 1000),
		byType: make(map[int]map[string]struct{}),
	}
}

func (s *MemoryNodeStore) Put(ctx context.Context, node Node) (Outcome, error) {
	if err := validate(node); err != nil {
		return 0, err
	}
	id := node.NodeID()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check existence.
	if cur, ok := s.nodes[id]; ok {
		if old := cur.node.NodeType(); old != node.NodeType() {
			s.untype(old, id)
		}
		cur.node = node
		s.typeSet(node.NodeType())[id] = struct{}{}
		return OutcomeUpdated, nil
	}

	s.seq++
	s.nodes[id] = &storedNode{node: node, seq: s.seq}
	s.typeSet(node.NodeType())[id] = struct{}{}
	return OutcomeCreated, nil
}

func (s *MemoryNodeStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.nodes[id]
	if !ok {
		return false, nil
	}
	delete(s.nodes, id)
	s.untype(cur.node.NodeType(), id)
	return true, nil
}

func (s *MemoryNodeStore) Get(ctx context.Context, id string) (Node, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.nodes[id]
	if !ok {
		return nil, false, nil
	}
	return cur.node, true, nil
}

func (s *MemoryNodeStore) All(ctx context.Context) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		s.mu.RLock()
		snap := make([]storedNode, 0, len(s.nodes))
		for _, n := range s.nodes {
			snap = append(snap, *n)
		}
		s.mu.RUnlock()
		emit(ctx, snap, yield)
	}
}

func (s *MemoryNodeStore) ByType(ctx context.Context, nodeType int) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		s.mu.RLock()
		ids := s.byType[nodeType]
		snap := make([]storedNode, 0, len(ids))
		for id := range ids {
			snap = append(snap, *s.nodes[id])
		}
		s.mu.RUnlock()
		emit(ctx, snap, yield)
	}
}

func (s *MemoryNodeStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), nil
}

func (s *MemoryNodeStore) typeSet(t int) map[string]struct{} {
	set, ok := s.byType[t]
	if !ok {
		set = make(map[string]struct{})
		s.byType[t] = set
	}
	return set
}

func (s *MemoryNodeStore) untype(t int, id string) {
	set := s.byType[t]
	delete(set, id)
	if len(set) == 0 {
		delete(s.byType, t)
	}
}

func emit(ctx context.Context, snap []storedNode, yield func(Node, error) bool) {
	slices.SortFunc(snap, func(a, b storedNode) int { return cmp.Compare(a.seq, b.seq) })
	for _, n := range snap {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		if !yield(n.node, nil) {
			return
		}
	}
}
