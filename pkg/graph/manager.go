package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/DrSkyle/propgraph/pkg/eventbus"
	"github.com/DrSkyle/propgraph/pkg/telemetry"
)

// Event names published on the manager's bus.
const (
	EventGraphUpdate = "graphUpdate"
	EventNodeUpdate  = "nodeUpdate"
	EventNodeRemove  = "nodeRemove"
	EventEdgeAdd     = "edgeAdd"
	EventEdgeRemove  = "edgeRemove"
)

const instrumentationName = "github.com/DrSkyle/propgraph/pkg/graph"

// Stats is a point-in-time size of the graph.
type Stats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

type watch struct {
	node   Node
	cancel func()
}

// queueKey marks a context as running on a manager's mutation queue.
type queueKey struct{}

// Manager is the public surface of a graph. All mutations run one at a time
// on a single queue goroutine; events are delivered on that goroutine after
// the mutation is applied and before the mutating call returns.
//
// Event handlers receive a context tied to the queue. Mutations issued with
// that context run inline. A handler that mutates with any other context
// deadlocks the queue.
type Manager struct {
	nodes  NodeStore
	edges  EdgeIndex
	bus    *eventbus.Bus
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	inst   *telemetry.Instruments

	queueSize int
	structure []StructureOption

	// Pipeline. mu guards closed only and is never held across a send.
	mu      sync.Mutex
	closed  bool
	ops     chan func()
	done    chan struct{}
	pushers sync.WaitGroup
	relays  sync.WaitGroup

	watchMu sync.Mutex
	watches map[string]watch
}

// Option configures a Manager.
type Option func(*Manager)

// WithNodeStore replaces the in-memory node store.
func WithNodeStore(s NodeStore) Option {
	return func(m *Manager) { m.nodes = s }
}

// WithEdgeIndex replaces the in-memory edge index.
func WithEdgeIndex(x EdgeIndex) Option {
	return func(m *Manager) { m.edges = x }
}

// WithBus publishes on an existing bus instead of a private one.
func WithBus(b *eventbus.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

func WithMeter(mt metric.Meter) Option {
	return func(m *Manager) { m.meter = mt }
}

// WithQueueSize sets the buffer of the mutation queue.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.queueSize = n
		}
	}
}

// WithSerializerOptions sets the defaults used by GetNodeStructure.
func WithSerializerOptions(opts ...StructureOption) Option {
	return func(m *Manager) { m.structure = append(m.structure, opts...) }
}

// NewManager builds a manager and starts its mutation queue. Without
// options it runs on in-memory stores.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		logger:    slog.Default(),
		queueSize: 64,
		watches:   make(map[string]watch),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.nodes == nil {
		m.nodes = NewMemoryNodeStore()
	}
	if m.edges == nil {
		m.edges = NewMemoryEdgeIndex(Exists(m.nodes))
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(instrumentationName)
	}
	if m.meter == nil {
		m.meter = otel.Meter(instrumentationName)
	}

	inst, err := telemetry.NewInstruments(m.meter)
	if err != nil {
		return nil, err
	}
	m.inst = inst

	if m.bus == nil {
		m.bus = eventbus.New(
			eventbus.WithLogger(m.logger),
			eventbus.WithFailureHook(func(ctx context.Context, event string, err error) {
				m.inst.RecordHandlerFailure(ctx, event)
			}),
		)
	}

	m.ops = make(chan func(), m.queueSize)
	m.done = make(chan struct{})
	m.startQueue()
	return m, nil
}

func (m *Manager) startQueue() {
	go func() {
		defer close(m.done)
		for op := range m.ops {
			op()
		}
	}()
}

// Close seals the queue, waits for queued mutations to finish and detaches
// from notifying nodes. It must not be called from an event handler.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// Pushers already admitted finish their send while the queue drains.
	m.pushers.Wait()
	close(m.ops)
	<-m.done
	m.relays.Wait()

	m.watchMu.Lock()
	for id, w := range m.watches {
		m.detach(id, w)
		delete(m.watches, id)
	}
	m.watchMu.Unlock()
	return nil
}

// Bus exposes the underlying event bus for untyped subscriptions.
func (m *Manager) Bus() *eventbus.Bus { return m.bus }

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

func (m *Manager) inQueue(ctx context.Context) bool {
	owner, _ := ctx.Value(queueKey{}).(*Manager)
	return owner == m
}

// admit registers a caller that is about to hand work to the queue.
func (m *Manager) admit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.pushers.Add(1)
	return true
}

func (m *Manager) push(ctx context.Context, op func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.admit() {
		return ErrClosed
	}
	defer m.pushers.Done()
	select {
	case m.ops <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue runs fn on the queue and waits for its result. Once the op is
// queued the caller waits for it unconditionally: an op whose ctx is done
// before it starts is skipped, otherwise it runs to completion and its
// result, events included, is what the caller sees.
func enqueue[T any](m *Manager, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	if m.inQueue(ctx) {
		return fn(ctx)
	}

	var (
		zero T
		res  T
		err  error
		done = make(chan struct{})
	)
	op := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("mutation panic: %v", r)
			}
		}()
		if err = ctx.Err(); err != nil {
			return
		}
		qctx := context.WithValue(context.WithoutCancel(ctx), queueKey{}, m)
		res, err = fn(qctx)
	}

	if perr := m.push(ctx, op); perr != nil {
		return zero, perr
	}
	<-done
	if err != nil {
		return zero, err
	}
	return res, nil
}

func (m *Manager) mutate(ctx context.Context, name string, attrs []attribute.KeyValue, fn func(context.Context) (bool, error)) (bool, error) {
	ctx, span := m.tracer.Start(ctx, "graph."+name, trace.WithAttributes(attrs...))
	defer span.End()

	changed, err := enqueue(m, ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("graph.changed", changed))
	m.inst.RecordMutation(ctx, name, changed)
	return changed, nil
}

func (m *Manager) publish(ctx context.Context, event string, args ...any) {
	m.bus.Publish(ctx, event, args...)
}

// AddNode inserts node or replaces the node with the same id. A fresh
// insert publishes graphUpdate; a replacement publishes nodeUpdate first.
func (m *Manager) AddNode(ctx context.Context, node Node) (bool, error) {
	if err := validate(node); err != nil {
		return false, err
	}
	return m.mutate(ctx, "AddNode", nodeAttrs(node), func(ctx context.Context) (bool, error) {
		return m.addNode(ctx, node)
	})
}

func (m *Manager) addNode(ctx context.Context, node Node) (bool, error) {
	out, err := m.nodes.Put(ctx, node)
	if err != nil {
		return false, fmt.Errorf("put node %q: %w", node.NodeID(), err)
	}
	m.watch(node)

	if out == OutcomeUpdated {
		m.publish(ctx, EventNodeUpdate, node)
	}
	m.publish(ctx, EventGraphUpdate)
	return true, nil
}

// RemoveNode deletes node together with every edge touching it. It reports
// false, without events, when the node is not registered.
func (m *Manager) RemoveNode(ctx context.Context, node Node) (bool, error) {
	if err := validate(node); err != nil {
		return false, err
	}
	return m.mutate(ctx, "RemoveNode", nodeAttrs(node), func(ctx context.Context) (bool, error) {
		id := node.NodeID()
		_, ok, err := m.nodes.Get(ctx, id)
		if err != nil {
			return false, fmt.Errorf("get node %q: %w", id, err)
		}
		if !ok {
			return false, nil
		}

		dropped, err := m.edges.DropAllEdgesOf(ctx, id)
		if err != nil {
			return false, fmt.Errorf("drop edges of %q: %w", id, err)
		}
		if _, err := m.nodes.Delete(ctx, id); err != nil {
			return false, fmt.Errorf("delete node %q: %w", id, err)
		}
		m.unwatch(id)
		m.logger.Debug("Node removed", "id", id, "edges_dropped", dropped)

		m.publish(ctx, EventNodeRemove, node)
		m.publish(ctx, EventGraphUpdate)
		return true, nil
	})
}

// AddEdge links source to target, registering either endpoint first when it
// is unknown. It reports false if the edge already existed.
func (m *Manager) AddEdge(ctx context.Context, source, target Node) (bool, error) {
	if err := validate(source); err != nil {
		return false, err
	}
	if err := validate(target); err != nil {
		return false, err
	}
	return m.mutate(ctx, "AddEdge", edgeAttrs(source, target), func(ctx context.Context) (bool, error) {
		for _, n := range []Node{source, target} {
			_, ok, err := m.nodes.Get(ctx, n.NodeID())
			if err != nil {
				return false, fmt.Errorf("get node %q: %w", n.NodeID(), err)
			}
			if ok {
				continue
			}
			if _, err := m.addNode(ctx, n); err != nil {
				return false, err
			}
		}

		added, err := m.edges.Add(ctx, source.NodeID(), target.NodeID())
		if err != nil {
			return false, fmt.Errorf("add edge %q->%q: %w", source.NodeID(), target.NodeID(), err)
		}
		if !added {
			return false, nil
		}
		m.publish(ctx, EventEdgeAdd, source, target)
		m.publish(ctx, EventGraphUpdate)
		return true, nil
	})
}

// RemoveEdge unlinks source from target. Missing endpoints mean there is
// nothing to remove; nodes are never deleted here.
func (m *Manager) RemoveEdge(ctx context.Context, source, target Node) (bool, error) {
	if err := validate(source); err != nil {
		return false, err
	}
	if err := validate(target); err != nil {
		return false, err
	}
	return m.mutate(ctx, "RemoveEdge", edgeAttrs(source, target), func(ctx context.Context) (bool, error) {
		removed, err := m.edges.Remove(ctx, source.NodeID(), target.NodeID())
		if err != nil {
			return false, fmt.Errorf("remove edge %q->%q: %w", source.NodeID(), target.NodeID(), err)
		}
		if !removed {
			return false, nil
		}
		m.publish(ctx, EventEdgeRemove, source, target)
		m.publish(ctx, EventGraphUpdate)
		return true, nil
	})
}

// watch records node in the watch table and attaches to it when it can
// notify. Re-adding the same instance keeps the existing listener.
func (m *Manager) watch(node Node) {
	id := node.NodeID()

	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if w, ok := m.watches[id]; ok {
		if sameNode(w.node, node) {
			return
		}
		m.detach(id, w)
	}

	w := watch{node: node}
	if n, ok := node.(Notifier); ok {
		w.cancel = m.subscribe(n, node)
	}
	m.watches[id] = w
}

func (m *Manager) detach(id string, w watch) {
	if w.cancel == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Node update unsubscribe failed", "id", id, "panic", r)
		}
	}()
	w.cancel()
}

// subscribe attaches the relay to n. The store already holds the node, so a
// misbehaving OnNodeUpdated is logged and the node is kept unwatched.
func (m *Manager) subscribe(n Notifier, node Node) (cancel func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Node update subscription failed", "id", node.NodeID(), "panic", r)
			cancel = nil
		}
	}()
	return n.OnNodeUpdated(func() { m.relay(node) })
}

func (m *Manager) unwatch(id string) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if w, ok := m.watches[id]; ok {
		m.detach(id, w)
		delete(m.watches, id)
	}
}

// relay re-publishes a node's own update through the bus. The node may fire
// from anywhere, including a handler on the queue, so the relay is queued
// from a separate goroutine.
func (m *Manager) relay(node Node) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.relays.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.relays.Done()
		_, err := m.mutate(context.Background(), "RelayUpdate", nodeAttrs(node), func(ctx context.Context) (bool, error) {
			m.watchMu.Lock()
			w, ok := m.watches[node.NodeID()]
			m.watchMu.Unlock()
			if !ok || !sameNode(w.node, node) {
				return false, nil
			}
			// Refresh the stored copy; remote stores keep a props snapshot.
			if _, err := m.nodes.Put(ctx, node); err != nil {
				return false, fmt.Errorf("put node %q: %w", node.NodeID(), err)
			}
			m.publish(ctx, EventNodeUpdate, node)
			m.publish(ctx, EventGraphUpdate)
			return true, nil
		})
		if err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Warn("Node update relay failed", "id", node.NodeID(), "error", err)
		}
	}()
}

// GetTargets yields the nodes source points at, in edge insertion order.
func (m *Manager) GetTargets(ctx context.Context, node Node) iter.Seq2[Node, error] {
	if err := validate(node); err != nil {
		return fail[Node](err)
	}
	return m.resolve(ctx, m.edges.TargetsOf(ctx, node.NodeID()))
}

// GetSources yields the nodes pointing at node.
func (m *Manager) GetSources(ctx context.Context, node Node) iter.Seq2[Node, error] {
	if err := validate(node); err != nil {
		return fail[Node](err)
	}
	return m.resolve(ctx, m.edges.SourcesOf(ctx, node.NodeID()))
}

// resolve maps ids to nodes, skipping ids deleted since the index was read.
func (m *Manager) resolve(ctx context.Context, ids iter.Seq2[string, error]) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		for id, err := range ids {
			if err != nil {
				yield(nil, err)
				return
			}
			n, ok, err := m.nodes.Get(ctx, id)
			if err != nil {
				yield(nil, fmt.Errorf("get node %q: %w", id, err))
				return
			}
			if !ok {
				continue
			}
			if !yield(n, nil) {
				return
			}
		}
	}
}

func (m *Manager) GetTargetEdgeCount(ctx context.Context, node Node) (int, error) {
	if err := validate(node); err != nil {
		return 0, err
	}
	return m.edges.TargetCount(ctx, node.NodeID())
}

func (m *Manager) GetSourceEdgeCount(ctx context.Context, node Node) (int, error) {
	if err := validate(node); err != nil {
		return 0, err
	}
	return m.edges.SourceCount(ctx, node.NodeID())
}

func (m *Manager) GetAllNodes(ctx context.Context) iter.Seq2[Node, error] {
	return m.nodes.All(ctx)
}

func (m *Manager) GetNodesByType(ctx context.Context, nodeType int) iter.Seq2[Node, error] {
	return m.nodes.ByType(ctx, nodeType)
}

func (m *Manager) GetNodeByID(ctx context.Context, id string) (Node, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	return m.nodes.Get(ctx, id)
}

// HasEdge reports whether source->target is stored.
func (m *Manager) HasEdge(ctx context.Context, source, target Node) (bool, error) {
	if source == nil || target == nil {
		return false, ErrNilNode
	}
	return m.edges.Has(ctx, source.NodeID(), target.NodeID())
}

// Stats reports the current node and edge counts.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	nodes, err := m.nodes.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	edges, err := m.edges.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Nodes: nodes, Edges: edges}, nil
}

// OnGraphUpdate subscribes to every change of the graph.
func (m *Manager) OnGraphUpdate(fn func(ctx context.Context) error) *eventbus.Subscription {
	return m.bus.Subscribe(EventGraphUpdate, func(ctx context.Context, args ...any) error {
		return fn(ctx)
	})
}

// OnNodeUpdate subscribes to replacements and self-reported updates of nodes.
func (m *Manager) OnNodeUpdate(fn func(ctx context.Context, node Node) error) *eventbus.Subscription {
	return m.bus.Subscribe(EventNodeUpdate, nodeHandler(fn))
}

func (m *Manager) OnNodeRemove(fn func(ctx context.Context, node Node) error) *eventbus.Subscription {
	return m.bus.Subscribe(EventNodeRemove, nodeHandler(fn))
}

func (m *Manager) OnEdgeAdd(fn func(ctx context.Context, source, target Node) error) *eventbus.Subscription {
	return m.bus.Subscribe(EventEdgeAdd, edgeHandler(fn))
}

func (m *Manager) OnEdgeRemove(fn func(ctx context.Context, source, target Node) error) *eventbus.Subscription {
	return m.bus.Subscribe(EventEdgeRemove, edgeHandler(fn))
}

func nodeHandler(fn func(ctx context.Context, node Node) error) eventbus.Handler {
	return func(ctx context.Context, args ...any) error {
		if len(args) != 1 {
			return fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		n, ok := args[0].(Node)
		if !ok {
			return fmt.Errorf("unexpected argument type %T", args[0])
		}
		return fn(ctx, n)
	}
}

func edgeHandler(fn func(ctx context.Context, source, target Node) error) eventbus.Handler {
	return func(ctx context.Context, args ...any) error {
		if len(args) != 2 {
			return fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		s, ok1 := args[0].(Node)
		t, ok2 := args[1].(Node)
		if !ok1 || !ok2 {
			return fmt.Errorf("unexpected argument types %T, %T", args[0], args[1])
		}
		return fn(ctx, s, t)
	}
}

func nodeAttrs(n Node) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("node.id", n.NodeID()),
		attribute.Int("node.type", n.NodeType()),
	}
}

func edgeAttrs(s, t Node) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("edge.source", s.NodeID()),
		attribute.String("edge.target", t.NodeID()),
	}
}

// sameNode reports whether a and b are the same instance. Pointer nodes
// compare by address; value nodes compare with == only when their dynamic
// contents allow it, otherwise they count as different.
func sameNode(a, b Node) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer()
	}
	if !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}
