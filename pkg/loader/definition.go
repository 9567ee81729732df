// Package loader reads graph definitions from YAML, JSON or HCL files and
// applies them to a graph.Manager.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

var (
	// ErrUnknownNode is returned for an edge naming a node the definition
	// does not declare.
	ErrUnknownNode = errors.New("edge references undeclared node")
	// ErrDuplicateNode is returned when a node id is declared twice.
	ErrDuplicateNode = errors.New("node declared twice")
)

// Definition is the on-disk form of a graph.
type Definition struct {
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`
	Edges []EdgeDef `yaml:"edges,omitempty" json:"edges,omitempty"`
}

type NodeDef struct {
	ID    string         `yaml:"id" json:"id"`
	Type  int            `yaml:"type" json:"type"`
	Props map[string]any `yaml:"props,omitempty" json:"props,omitempty"`
}

type EdgeDef struct {
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

// Validate checks ids and edge endpoints.
func (d *Definition) Validate() error {
	seen := make(map[string]bool, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d: %w", i, graph.ErrInvalidID)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID)
		}
		seen[n.ID] = true
	}
	for _, e := range d.Edges {
		for _, id := range []string{e.Source, e.Target} {
			if !seen[id] {
				return fmt.Errorf("%w: %q (edge %s->%s)", ErrUnknownNode, id, e.Source, e.Target)
			}
		}
	}
	return nil
}

// Apply registers every node, then every edge, in declaration order.
func (d *Definition) Apply(ctx context.Context, m *graph.Manager) error {
	if err := d.Validate(); err != nil {
		return err
	}
	nodes := make(map[string]graph.Node, len(d.Nodes))
	for _, n := range d.Nodes {
		rec := graph.NewRecord(n.Type, n.ID, n.Props)
		if _, err := m.AddNode(ctx, rec); err != nil {
			return fmt.Errorf("failed to add node %q: %w", n.ID, err)
		}
		nodes[n.ID] = rec
	}
	for _, e := range d.Edges {
		if _, err := m.AddEdge(ctx, nodes[e.Source], nodes[e.Target]); err != nil {
			return fmt.Errorf("failed to add edge %s->%s: %w", e.Source, e.Target, err)
		}
	}
	return nil
}

// Dump captures the current graph. Props are resolved at call time.
func Dump(ctx context.Context, m *graph.Manager) (*Definition, error) {
	def := &Definition{}
	all, err := graph.Collect(m.GetAllNodes(ctx))
	if err != nil {
		return nil, err
	}
	for _, n := range all {
		rec, err := graph.Snapshot(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", n.NodeID(), err)
		}
		def.Nodes = append(def.Nodes, NodeDef{ID: rec.ID, Type: rec.Type, Props: rec.Props})
		for t, err := range m.GetTargets(ctx, n) {
			if err != nil {
				return nil, err
			}
			def.Edges = append(def.Edges, EdgeDef{Source: rec.ID, Target: t.NodeID()})
		}
	}
	return def, nil
}

// WriteYAML encodes d as YAML.
func (d *Definition) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	return enc.Close()
}
