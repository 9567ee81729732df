package graph

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/DrSkyle/propgraph/pkg/eventbus"
)

// Event is the flattened form of a published graph event.
type Event struct {
	Name   string
	Node   Node // nodeUpdate, nodeRemove
	Source Node // edgeAdd, edgeRemove
	Target Node
}

// subject is the node the event is about: the node itself or the edge source.
func (e Event) subject() Node {
	if e.Node != nil {
		return e.Node
	}
	return e.Source
}

func (e Event) vars() map[string]any {
	v := map[string]any{
		"event":  e.Name,
		"type":   int64(0),
		"id":     "",
		"source": "",
		"target": "",
	}
	if n := e.subject(); n != nil {
		v["type"] = int64(n.NodeType())
		v["id"] = n.NodeID()
	}
	if e.Source != nil {
		v["source"] = e.Source.NodeID()
	}
	if e.Target != nil {
		v["target"] = e.Target.NodeID()
	}
	return v
}

// Watcher delivers the graph events matching a filter expression.
type Watcher struct {
	Expr string
	subs []*eventbus.Subscription
}

// Stop detaches the watcher from every event.
func (w *Watcher) Stop() {
	for _, s := range w.subs {
		s.Unsubscribe()
	}
}

// NewFilterEnv declares the variables a watch expression can reference.
func NewFilterEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("event", cel.StringType),
		cel.Variable("type", cel.IntType),
		cel.Variable("id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("target", cel.StringType),
	)
}

// Watch subscribes fn to every graph event for which expr evaluates true.
// An empty expr matches everything. Example:
//
//	event == "edgeAdd" && target.startsWith("db-")
func (m *Manager) Watch(expr string, fn func(ctx context.Context, ev Event) error) (*Watcher, error) {
	if expr == "" {
		expr = "true"
	}
	env, err := NewFilterEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("watch expression %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("watch expression %q must be boolean, got %v", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("watch expression %q: %w", expr, err)
	}

	deliver := func(ctx context.Context, ev Event) error {
		out, _, err := prg.Eval(ev.vars())
		if err != nil {
			return fmt.Errorf("evaluating %q: %w", expr, err)
		}
		if match, ok := out.Value().(bool); ok && match {
			return fn(ctx, ev)
		}
		return nil
	}

	w := &Watcher{Expr: expr}
	w.subs = append(w.subs,
		m.bus.Subscribe(EventGraphUpdate, func(ctx context.Context, args ...any) error {
			return deliver(ctx, Event{Name: EventGraphUpdate})
		}),
		m.OnNodeUpdate(func(ctx context.Context, n Node) error {
			return deliver(ctx, Event{Name: EventNodeUpdate, Node: n})
		}),
		m.OnNodeRemove(func(ctx context.Context, n Node) error {
			return deliver(ctx, Event{Name: EventNodeRemove, Node: n})
		}),
		m.OnEdgeAdd(func(ctx context.Context, s, t Node) error {
			return deliver(ctx, Event{Name: EventEdgeAdd, Source: s, Target: t})
		}),
		m.OnEdgeRemove(func(ctx context.Context, s, t Node) error {
			return deliver(ctx, Event{Name: EventEdgeRemove, Source: s, Target: t})
		}),
	)
	return w, nil
}
