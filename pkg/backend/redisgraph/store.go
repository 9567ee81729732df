package redisgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

// batchSize bounds the ids fetched per MGET while iterating.
const batchSize = 100

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // Key prefix, default "propgraph:"
}

// Store keeps nodes and adjacency in Redis. Store is the graph.NodeStore;
// Edges returns the graph.EdgeIndex over the same keyspace:
//
//	<prefix>node:<id>   JSON record
//	<prefix>nodes       ZSET of ids scored by insertion sequence
//	<prefix>type:<t>    ZSET of ids of type t
//	<prefix>out:<id>    ZSET of targets scored by edge sequence
//	<prefix>in:<id>     ZSET of sources scored by edge sequence
//	<prefix>seq         sequence counter
//	<prefix>edges       edge counter
//
// Props are resolved when a node is stored; Get returns a *graph.Record.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ graph.NodeStore = (*Store)(nil)
	_ graph.EdgeIndex = (*Edges)(nil)
)

// New connects to Redis with opts.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix)
}

// NewWithClient uses an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "propgraph:"
	}
	return &Store{client: client, prefix: prefix}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) nodeKey(id string) string { return s.prefix + "node:" + id }
func (s *Store) nodesKey() string         { return s.prefix + "nodes" }
func (s *Store) typeKey(t int) string     { return s.prefix + "type:" + strconv.Itoa(t) }
func (s *Store) outKey(id string) string  { return s.prefix + "out:" + id }
func (s *Store) inKey(id string) string   { return s.prefix + "in:" + id }
func (s *Store) seqKey() string           { return s.prefix + "seq" }
func (s *Store) edgeCountKey() string     { return s.prefix + "edges" }

func (s *Store) Put(ctx context.Context, node graph.Node) (graph.Outcome, error) {
	if node == nil {
		return 0, graph.ErrNilNode
	}
	if node.NodeID() == "" {
		return 0, graph.ErrInvalidID
	}
	rec, err := graph.Snapshot(ctx, node)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve props: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal node: %w", err)
	}

	key := s.nodeKey(rec.ID)
	var outcome graph.Outcome
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		prev, found, err := s.load(ctx, tx, rec.ID)
		if err != nil {
			return err
		}

		var score float64
		if found {
			outcome = graph.OutcomeUpdated
			score, err = tx.ZScore(ctx, s.nodesKey(), rec.ID).Result()
			if err != nil {
				return err
			}
		} else {
			outcome = graph.OutcomeCreated
			seq, err := tx.Incr(ctx, s.seqKey()).Result()
			if err != nil {
				return err
			}
			score = float64(seq)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.nodesKey(), redis.Z{Score: score, Member: rec.ID})
			if found && prev.Type != rec.Type {
				pipe.ZRem(ctx, s.typeKey(prev.Type), rec.ID)
			}
			pipe.ZAdd(ctx, s.typeKey(rec.Type), redis.Z{Score: score, Member: rec.ID})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, fmt.Errorf("failed to store node %q: %w", rec.ID, err)
	}
	return outcome, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	prev, found, err := s.load(ctx, s.client, id)
	if err != nil || !found {
		return false, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.nodeKey(id))
		pipe.ZRem(ctx, s.nodesKey(), id)
		pipe.ZRem(ctx, s.typeKey(prev.Type), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete node %q: %w", id, err)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, id string) (graph.Node, bool, error) {
	rec, found, err := s.load(ctx, s.client, id)
	if err != nil || !found {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, id string) (*graph.Record, bool, error) {
	data, err := c.Get(ctx, s.nodeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load node %q: %w", id, err)
	}
	var rec graph.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal node %q: %w", id, err)
	}
	if rec.Props == nil {
		rec.Props = map[string]any{}
	}
	return &rec, true, nil
}

func (s *Store) All(ctx context.Context) iter.Seq2[graph.Node, error] {
	return s.scan(ctx, s.nodesKey())
}

func (s *Store) ByType(ctx context.Context, nodeType int) iter.Seq2[graph.Node, error] {
	return s.scan(ctx, s.typeKey(nodeType))
}

// scan snapshots the ids of an index and fetches the records in batches.
// Records deleted in the meantime are skipped.
func (s *Store) scan(ctx context.Context, index string) iter.Seq2[graph.Node, error] {
	return func(yield func(graph.Node, error) bool) {
		ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
		if err != nil {
			yield(nil, fmt.Errorf("failed to list %s: %w", index, err))
			return
		}
		for start := 0; start < len(ids); start += batchSize {
			batch := ids[start:min(start+batchSize, len(ids))]
			keys := make([]string, len(batch))
			for i, id := range batch {
				keys[i] = s.nodeKey(id)
			}
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				yield(nil, fmt.Errorf("failed to fetch nodes: %w", err))
				return
			}
			for _, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue
				}
				var rec graph.Record
				if err := json.Unmarshal([]byte(raw), &rec); err != nil {
					yield(nil, fmt.Errorf("failed to unmarshal node: %w", err))
					return
				}
				if rec.Props == nil {
					rec.Props = map[string]any{}
				}
				if !yield(&rec, nil) {
					return
				}
			}
		}
	}
}

func (s *Store) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.nodesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return int(n), nil
}

// Edges is the graph.EdgeIndex view of a Store. Endpoint checks read the
// node keys of the same keyspace.
type Edges struct {
	s *Store
}

// Edges returns the adjacency view sharing this store's keyspace.
func (s *Store) Edges() *Edges {
	return &Edges{s: s}
}

func (e *Edges) Add(ctx context.Context, source, target string) (bool, error) {
	for _, id := range []string{source, target} {
		n, err := e.s.client.Exists(ctx, e.s.nodeKey(id)).Result()
		if err != nil {
			return false, fmt.Errorf("failed to check node %q: %w", id, err)
		}
		if n == 0 {
			return false, fmt.Errorf("%w: %q", graph.ErrMissingEndpoint, id)
		}
	}

	added := false
	out := e.s.outKey(source)
	err := e.s.client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.ZScore(ctx, out, target).Result()
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
		seq, err := tx.Incr(ctx, e.s.seqKey()).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, out, redis.Z{Score: float64(seq), Member: target})
			pipe.ZAdd(ctx, e.s.inKey(target), redis.Z{Score: float64(seq), Member: source})
			pipe.Incr(ctx, e.s.edgeCountKey())
			return nil
		})
		if err == nil {
			added = true
		}
		return err
	}, out)
	if err != nil {
		return false, fmt.Errorf("failed to add edge %q->%q: %w", source, target, err)
	}
	return added, nil
}

func (e *Edges) Remove(ctx context.Context, source, target string) (bool, error) {
	removed := false
	out := e.s.outKey(source)
	err := e.s.client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.ZScore(ctx, out, target).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, out, target)
			pipe.ZRem(ctx, e.s.inKey(target), source)
			pipe.Decr(ctx, e.s.edgeCountKey())
			return nil
		})
		if err == nil {
			removed = true
		}
		return err
	}, out)
	if err != nil {
		return false, fmt.Errorf("failed to remove edge %q->%q: %w", source, target, err)
	}
	return removed, nil
}

func (e *Edges) Has(ctx context.Context, source, target string) (bool, error) {
	_, err := e.s.client.ZScore(ctx, e.s.outKey(source), target).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check edge %q->%q: %w", source, target, err)
	}
	return true, nil
}

func (e *Edges) TargetsOf(ctx context.Context, id string) iter.Seq2[string, error] {
	return e.neighbours(ctx, e.s.outKey(id))
}

func (e *Edges) SourcesOf(ctx context.Context, id string) iter.Seq2[string, error] {
	return e.neighbours(ctx, e.s.inKey(id))
}

func (e *Edges) neighbours(ctx context.Context, key string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ids, err := e.s.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			yield("", fmt.Errorf("failed to read %s: %w", key, err))
			return
		}
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

func (e *Edges) TargetCount(ctx context.Context, id string) (int, error) {
	return e.card(ctx, e.s.outKey(id))
}

func (e *Edges) SourceCount(ctx context.Context, id string) (int, error) {
	return e.card(ctx, e.s.inKey(id))
}

func (e *Edges) card(ctx context.Context, key string) (int, error) {
	n, err := e.s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", key, err)
	}
	return int(n), nil
}

func (e *Edges) DropAllEdgesOf(ctx context.Context, id string) (int, error) {
	targets, err := e.s.client.ZRange(ctx, e.s.outKey(id), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read targets of %q: %w", id, err)
	}
	sources, err := e.s.client.ZRange(ctx, e.s.inKey(id), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read sources of %q: %w", id, err)
	}

	removed := len(targets)
	for _, src := range sources {
		// A self-loop was already counted as a target.
		if src != id {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	_, err = e.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range targets {
			pipe.ZRem(ctx, e.s.inKey(t), id)
		}
		for _, src := range sources {
			pipe.ZRem(ctx, e.s.outKey(src), id)
		}
		pipe.Del(ctx, e.s.outKey(id), e.s.inKey(id))
		pipe.DecrBy(ctx, e.s.edgeCountKey(), int64(removed))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to drop edges of %q: %w", id, err)
	}
	return removed, nil
}

func (e *Edges) Len(ctx context.Context) (int, error) {
	n, err := e.s.client.Get(ctx, e.s.edgeCountKey()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return n, nil
}
