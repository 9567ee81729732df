package graph

import (
	"context"
	"maps"
	"sync"
)

// Node is the capability set every graph entity must expose.
type Node interface {
	// NodeType is the numeric discriminant used for typed lookups.
	NodeType() int
	// NodeID is the stable identity of the node within a graph.
	NodeID() string
	// NodeProps returns the property map. Implementations may block until the
	// value is available; an error means the props could not be resolved.
	NodeProps(ctx context.Context) (map[string]any, error)
}

// Notifier is the optional capability of nodes that announce their own
// content changes. The returned cancel func detaches fn.
type Notifier interface {
	OnNodeUpdated(fn func()) (cancel func())
}

// Record is a plain node value with eagerly known props.
type Record struct {
	Type  int            `json:"type" yaml:"type"`
	ID    string         `json:"id" yaml:"id"`
	Props map[string]any `json:"props" yaml:"props"`
}

// NewRecord builds a Record. A nil props map is replaced with an empty one.
func NewRecord(nodeType int, id string, props map[string]any) *Record {
	if props == nil {
		props = map[string]any{}
	}
	return &Record{Type: nodeType, ID: id, Props: props}
}

func (r *Record) NodeType() int  { return r.Type }
func (r *Record) NodeID() string { return r.ID }

func (r *Record) NodeProps(ctx context.Context) (map[string]any, error) {
	if r.Props == nil {
		return map[string]any{}, nil
	}
	return r.Props, nil
}

// LazyNode produces its props on first request and memoizes the result.
// A failed resolution is not cached.
type LazyNode struct {
	Type    int
	ID      string
	Resolve func(ctx context.Context) (map[string]any, error)

	mu    sync.Mutex
	props map[string]any
	done  bool
}

func (n *LazyNode) NodeType() int  { return n.Type }
func (n *LazyNode) NodeID() string { return n.ID }

func (n *LazyNode) NodeProps(ctx context.Context) (map[string]any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done {
		return n.props, nil
	}
	if n.Resolve == nil {
		n.props, n.done = map[string]any{}, true
		return n.props, nil
	}
	props, err := n.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]any{}
	}
	n.props, n.done = props, true
	return props, nil
}

// EmitterNode is a Record that notifies listeners when its props change.
type EmitterNode struct {
	Type int
	ID   string

	mu        sync.RWMutex
	props     map[string]any
	listeners map[int]func()
	nextID    int
}

// NewEmitterNode builds an EmitterNode with a copy of props.
func NewEmitterNode(nodeType int, id string, props map[string]any) *EmitterNode {
	n := &EmitterNode{Type: nodeType, ID: id, listeners: make(map[int]func())}
	n.props = maps.Clone(props)
	if n.props == nil {
		n.props = map[string]any{}
	}
	return n
}

func (n *EmitterNode) NodeType() int  { return n.Type }
func (n *EmitterNode) NodeID() string { return n.ID }

func (n *EmitterNode) NodeProps(ctx context.Context) (map[string]any, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return maps.Clone(n.props), nil
}

// SetProps replaces the props and fires nodeUpdated to every listener.
func (n *EmitterNode) SetProps(props map[string]any) {
	n.mu.Lock()
	n.props = maps.Clone(props)
	if n.props == nil {
		n.props = map[string]any{}
	}
	fns := make([]func(), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (n *EmitterNode) OnNodeUpdated(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// Listeners reports how many update listeners are attached.
func (n *EmitterNode) Listeners() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Snapshot resolves a node into a Record.
func Snapshot(ctx context.Context, n Node) (*Record, error) {
	props, err := n.NodeProps(ctx)
	if err != nil {
		return nil, err
	}
	return NewRecord(n.NodeType(), n.NodeID(), maps.Clone(props)), nil
}
