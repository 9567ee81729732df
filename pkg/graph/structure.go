package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Structure is the exported shape of a node and the subgraph it reaches.
// Targets is nil where the descent stopped (a repeated ancestor or the
// depth limit) and empty for a node without outgoing edges.
type Structure struct {
	Type    int            `json:"type"`
	ID      string         `json:"id"`
	Targets []*Structure   `json:"targets,omitzero"`
	Props   map[string]any `json:"props"`
}

// Truncated reports whether the descent stopped at this node.
func (s *Structure) Truncated() bool { return s.Targets == nil }

// Walk visits s and every nested target depth first.
func (s *Structure) Walk(fn func(st *Structure, depth int) bool) {
	s.walk(fn, 0)
}

func (s *Structure) walk(fn func(*Structure, int) bool, depth int) bool {
	if !fn(s, depth) {
		return false
	}
	for _, t := range s.Targets {
		if !t.walk(fn, depth+1) {
			return false
		}
	}
	return true
}

// TargetSource is the read surface the serializer descends through.
type TargetSource interface {
	GetTargets(ctx context.Context, node Node) iter.Seq2[Node, error]
}

type structureConfig struct {
	maxDepth    int
	concurrency int
}

// StructureOption tunes a structure snapshot.
type StructureOption func(*structureConfig)

// WithMaxDepth stops the descent after n levels below the root. Zero means
// no limit.
func WithMaxDepth(n int) StructureOption {
	return func(c *structureConfig) {
		if n >= 0 {
			c.maxDepth = n
		}
	}
}

// WithConcurrency resolves up to n children of a node at once.
func WithConcurrency(n int) StructureOption {
	return func(c *structureConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Serializer builds Structure snapshots.
type Serializer struct {
	src TargetSource
	cfg structureConfig
}

func NewSerializer(src TargetSource, opts ...StructureOption) *Serializer {
	cfg := structureConfig{concurrency: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Serializer{src: src, cfg: cfg}
}

// ancestry is the chain of ids from the root down to the current node.
// Each branch extends its parent's chain, so siblings never see each other.
type ancestry struct {
	id     string
	parent *ancestry
}

func (a *ancestry) contains(id string) bool {
	for p := a; p != nil; p = p.parent {
		if p.id == id {
			return true
		}
	}
	return false
}

// Structure snapshots node. Any failure aborts the whole snapshot.
func (s *Serializer) Structure(ctx context.Context, node Node) (*Structure, error) {
	if err := validate(node); err != nil {
		return nil, err
	}
	return s.build(ctx, node, nil, 0)
}

func (s *Serializer) build(ctx context.Context, node Node, path *ancestry, depth int) (*Structure, error) {
	st, err := leaf(ctx, node)
	if err != nil {
		return nil, err
	}
	if s.cfg.maxDepth > 0 && depth >= s.cfg.maxDepth {
		return st, nil
	}

	here := &ancestry{id: node.NodeID(), parent: path}
	targets, err := Collect(s.src.GetTargets(ctx, node))
	if err != nil {
		return nil, fmt.Errorf("targets of %q: %w", node.NodeID(), err)
	}

	st.Targets = make([]*Structure, len(targets))
	child := func(ctx context.Context, i int) error {
		t := targets[i]
		var (
			c   *Structure
			err error
		)
		if here.contains(t.NodeID()) {
			c, err = leaf(ctx, t)
		} else {
			c, err = s.build(ctx, t, here, depth+1)
		}
		if err != nil {
			return err
		}
		st.Targets[i] = c
		return nil
	}

	if s.cfg.concurrency <= 1 || len(targets) < 2 {
		for i := range targets {
			if err := child(ctx, i); err != nil {
				return nil, err
			}
		}
		return st, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.concurrency)
	for i := range targets {
		g.Go(func() error { return child(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

// leaf resolves a node without descending into its targets.
func leaf(ctx context.Context, node Node) (*Structure, error) {
	props, err := node.NodeProps(ctx)
	if err != nil {
		return nil, fmt.Errorf("props of %q: %w", node.NodeID(), err)
	}
	props = maps.Clone(props)
	if props == nil {
		props = map[string]any{}
	}
	return &Structure{Type: node.NodeType(), ID: node.NodeID(), Props: props}, nil
}

// GetNodeStructure snapshots node and everything it reaches.
func (m *Manager) GetNodeStructure(ctx context.Context, node Node, opts ...StructureOption) (st *Structure, err error) {
	if err := validate(node); err != nil {
		return nil, err
	}
	ctx, span := m.tracer.Start(ctx, "graph.GetNodeStructure", trace.WithAttributes(nodeAttrs(node)...))
	start := time.Now()
	defer func() {
		m.inst.RecordSnapshot(ctx, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("structure.truncated", st.Truncated()))
		}
		span.End()
	}()

	all := append(append([]StructureOption{}, m.structure...), opts...)
	return NewSerializer(m, all...).Structure(ctx, node)
}

// ImportStructure recreates the nodes and edges described by st in m.
// Each id is registered once, with the props of its first occurrence.
func ImportStructure(ctx context.Context, m *Manager, st *Structure) error {
	if st == nil {
		return errors.New("nil structure")
	}
	seen := make(map[string]*Record)

	var walk func(s *Structure) (*Record, error)
	walk = func(s *Structure) (*Record, error) {
		rec, ok := seen[s.ID]
		if !ok {
			rec = NewRecord(s.Type, s.ID, maps.Clone(s.Props))
			if _, err := m.AddNode(ctx, rec); err != nil {
				return nil, err
			}
			seen[s.ID] = rec
		}
		for _, t := range s.Targets {
			child, err := walk(t)
			if err != nil {
				return nil, err
			}
			if _, err := m.AddEdge(ctx, rec, child); err != nil {
				return nil, err
			}
		}
		return rec, nil
	}

	_, err := walk(st)
	return err
}
