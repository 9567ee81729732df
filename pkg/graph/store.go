package graph

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrClosed is returned by mutations on a closed Manager.
	ErrClosed = errors.New("graph manager closed")
	// ErrMissingEndpoint marks an edge whose source or target is not a registered node.
	ErrMissingEndpoint = errors.New("edge endpoint not registered")
	// ErrNilNode is returned when a nil node is passed to a mutation.
	ErrNilNode = errors.New("nil node")
	// ErrInvalidID is returned for nodes with an empty id.
	ErrInvalidID = errors.New("invalid node id")
)

// Outcome distinguishes first creation from an in-place update.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// NodeStore owns node identity and typed lookup.
type NodeStore interface {
	// Put inserts the node or replaces the node with the same id.
	Put(ctx context.Context, node Node) (Outcome, error)
	// Delete removes a node. It does not touch edges.
	Delete(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (Node, bool, error)
	// All yields every node. Each range starts from the state at that moment.
	All(ctx context.Context) iter.Seq2[Node, error]
	ByType(ctx context.Context, nodeType int) iter.Seq2[Node, error]
	Len(ctx context.Context) (int, error)
}

// EdgeIndex owns directed adjacency. Forward and reverse entries are
// always written as a pair.
type EdgeIndex interface {
	// Add stores source->target. It reports false if the edge already existed
	// and fails with ErrMissingEndpoint if either node is unknown.
	Add(ctx context.Context, source, target string) (bool, error)
	Remove(ctx context.Context, source, target string) (bool, error)
	Has(ctx context.Context, source, target string) (bool, error)
	TargetsOf(ctx context.Context, id string) iter.Seq2[string, error]
	SourcesOf(ctx context.Context, id string) iter.Seq2[string, error]
	TargetCount(ctx context.Context, id string) (int, error)
	SourceCount(ctx context.Context, id string) (int, error)
	// DropAllEdgesOf removes every edge touching id and returns how many went.
	DropAllEdgesOf(ctx context.Context, id string) (int, error)
	Len(ctx context.Context) (int, error)
}

// NodeExists answers whether id is a registered node.
type NodeExists func(ctx context.Context, id string) (bool, error)

// Exists adapts a NodeStore into a NodeExists check.
func Exists(s NodeStore) NodeExists {
	return func(ctx context.Context, id string) (bool, error) {
		_, ok, err := s.Get(ctx, id)
		return ok, err
	}
}

func validate(n Node) error {
	if n == nil {
		return ErrNilNode
	}
	if n.NodeID() == "" {
		return ErrInvalidID
	}
	return nil
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func fail[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}
