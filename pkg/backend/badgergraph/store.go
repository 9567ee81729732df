// Package badgergraph stores a graph in BadgerDB.
//
// Key layout (single-byte prefixes, 0x00 separators, big-endian sequences
// so that prefix scans return insertion order):
//
//	0x01 id                      -> JSON node record with its sequence
//	0x02 seq                     -> id                 (insertion order)
//	0x03 type seq                -> id                 (type index)
//	0x04 source 0x00 target      -> seq                (edge existence)
//	0x05 source 0x00 seq         -> target             (outgoing)
//	0x06 target 0x00 seq         -> source             (incoming)
//	0x07 id                      -> outgoing count
//	0x08 id                      -> incoming count
//	0x09                         -> edge count
//
// Node ids must not contain a NUL byte.
package badgergraph

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

const (
	prefixNode     = byte(0x01)
	prefixOrder    = byte(0x02)
	prefixType     = byte(0x03)
	prefixEdge     = byte(0x04)
	prefixOut      = byte(0x05)
	prefixIn       = byte(0x06)
	prefixOutCount = byte(0x07)
	prefixInCount  = byte(0x08)
	prefixEdgeLen  = byte(0x09)
)

var seqKey = []byte("\xffseq")

// Options configures the BadgerDB instance.
type Options struct {
	// Dir is the data directory. Ignored in memory mode.
	Dir string
	// InMemory keeps everything in RAM; nothing survives Close.
	InMemory bool
	// Logger for badger's internal logging. Nil silences it.
	Logger badger.Logger
}

// Store is a graph.NodeStore over BadgerDB. Edges returns the matching
// graph.EdgeIndex.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

var (
	_ graph.NodeStore = (*Store)(nil)
	_ graph.EdgeIndex = (*Edges)(nil)
)

type storedNode struct {
	graph.Record
	Seq uint64 `json:"seq"`
}

// Open opens a store with opts.
func Open(opts Options) (*Store, error) {
	bo := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(opts.Logger)
	if opts.InMemory {
		bo = bo.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 1000)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

func (s *Store) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

func (s *Store) next() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence: %w", err)
	}
	return n + 1, nil
}

// Key encoding helpers

func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func key(prefix byte, parts ...[]byte) []byte {
	k := []byte{prefix}
	for i, p := range parts {
		if i > 0 {
			k = append(k, 0x00)
		}
		k = append(k, p...)
	}
	return k
}

func nodeKey(id string) []byte { return key(prefixNode, []byte(id)) }
func orderKey(seq uint64) []byte {
	return key(prefixOrder, u64(seq))
}
func typePrefix(t int) []byte { return key(prefixType, u64(uint64(int64(t)))) }
func typeKey(t int, seq uint64) []byte {
	return append(typePrefix(t), u64(seq)...)
}
func edgeKey(source, target string) []byte {
	return key(prefixEdge, []byte(source), []byte(target))
}
func outPrefix(id string) []byte { return key(prefixOut, []byte(id), nil) }
func inPrefix(id string) []byte  { return key(prefixIn, []byte(id), nil) }
func outKey(id string, seq uint64) []byte {
	return append(outPrefix(id), u64(seq)...)
}
func inKey(id string, seq uint64) []byte {
	return append(inPrefix(id), u64(seq)...)
}
func outCountKey(id string) []byte { return key(prefixOutCount, []byte(id)) }
func inCountKey(id string) []byte  { return key(prefixInCount, []byte(id)) }
func edgeLenKey() []byte           { return []byte{prefixEdgeLen} }

func checkID(node graph.Node) error {
	if node == nil {
		return graph.ErrNilNode
	}
	id := node.NodeID()
	if id == "" || strings.IndexByte(id, 0) >= 0 {
		return graph.ErrInvalidID
	}
	return nil
}

func getNode(txn *badger.Txn, id string) (*storedNode, bool, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	var n storedNode
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal node %q: %w", id, err)
	}
	if n.Props == nil {
		n.Props = map[string]any{}
	}
	return &n, true, nil
}

func (s *Store) Put(ctx context.Context, node graph.Node) (graph.Outcome, error) {
	if err := checkID(node); err != nil {
		return 0, err
	}
	rec, err := graph.Snapshot(ctx, node)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve props: %w", err)
	}

	var outcome graph.Outcome
	err = s.db.Update(func(txn *badger.Txn) error {
		prev, found, err := getNode(txn, rec.ID)
		if err != nil {
			return err
		}

		stored := storedNode{Record: *rec}
		if found {
			outcome = graph.OutcomeUpdated
			stored.Seq = prev.Seq
			if prev.Type != rec.Type {
				if err := txn.Delete(typeKey(prev.Type, prev.Seq)); err != nil {
					return err
				}
			}
		} else {
			outcome = graph.OutcomeCreated
			if stored.Seq, err = s.next(); err != nil {
				return err
			}
			if err := txn.Set(orderKey(stored.Seq), []byte(rec.ID)); err != nil {
				return err
			}
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal node: %w", err)
		}
		if err := txn.Set(nodeKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(typeKey(rec.Type, stored.Seq), []byte(rec.ID))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store node %q: %w", rec.ID, err)
	}
	return outcome, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		prev, found, err := getNode(txn, id)
		if err != nil || !found {
			return err
		}
		for _, k := range [][]byte{nodeKey(id), orderKey(prev.Seq), typeKey(prev.Type, prev.Seq)} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete node %q: %w", id, err)
	}
	return deleted, nil
}

func (s *Store) Get(ctx context.Context, id string) (graph.Node, bool, error) {
	var (
		n     *storedNode
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, found, err = getNode(txn, id)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to load node %q: %w", id, err)
	}
	if !found {
		return nil, false, nil
	}
	return &n.Record, true, nil
}

func (s *Store) All(ctx context.Context) iter.Seq2[graph.Node, error] {
	return s.scan(ctx, []byte{prefixOrder})
}

func (s *Store) ByType(ctx context.Context, nodeType int) iter.Seq2[graph.Node, error] {
	return s.scan(ctx, typePrefix(nodeType))
}

// scan reads an index whose values are node ids and resolves them within
// one read transaction.
func (s *Store) scan(ctx context.Context, prefix []byte) iter.Seq2[graph.Node, error] {
	return func(yield func(graph.Node, error) bool) {
		var nodes []graph.Node
		err := s.db.View(func(txn *badger.Txn) error {
			ids, err := values(txn, prefix)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := ctx.Err(); err != nil {
					return err
				}
				n, found, err := getNode(txn, string(id))
				if err != nil {
					return err
				}
				if found {
					nodes = append(nodes, &n.Record)
				}
			}
			return nil
		})
		if err != nil {
			yield(nil, fmt.Errorf("failed to scan nodes: %w", err))
			return
		}
		for _, n := range nodes {
			if !yield(n, nil) {
				return
			}
		}
	}
}

func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixOrder}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return n, nil
}

// values collects the values stored under prefix in key order.
func values(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type link struct {
	seq   uint64
	other string
}

// links collects an adjacency prefix as (sequence, neighbour) pairs.
func links(txn *badger.Txn, prefix []byte) ([]link, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []link
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, link{
			seq:   binary.BigEndian.Uint64(bytes.TrimPrefix(k, prefix)),
			other: string(v),
		})
	}
	return out, nil
}

func readCount(txn *badger.Txn, k []byte) (int64, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func addCount(txn *badger.Txn, k []byte, delta int64) error {
	cur, err := readCount(txn, k)
	if err != nil {
		return err
	}
	next := cur + delta
	if next <= 0 {
		return txn.Delete(k)
	}
	return txn.Set(k, u64(uint64(next)))
}

// Edges is the graph.EdgeIndex view of a Store.
type Edges struct {
	s *Store
}

// Edges returns the adjacency view over the same database.
func (s *Store) Edges() *Edges {
	return &Edges{s: s}
}

func (e *Edges) Add(ctx context.Context, source, target string) (bool, error) {
	added := false
	err := e.s.db.Update(func(txn *badger.Txn) error {
		for _, id := range []string{source, target} {
			if _, err := txn.Get(nodeKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %q", graph.ErrMissingEndpoint, id)
			} else if err != nil {
				return err
			}
		}

		if _, err := txn.Get(edgeKey(source, target)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seq, err := e.s.next()
		if err != nil {
			return err
		}
		writes := []struct{ k, v []byte }{
			{edgeKey(source, target), u64(seq)},
			{outKey(source, seq), []byte(target)},
			{inKey(target, seq), []byte(source)},
		}
		for _, w := range writes {
			if err := txn.Set(w.k, w.v); err != nil {
				return err
			}
		}
		if err := addCount(txn, outCountKey(source), 1); err != nil {
			return err
		}
		if err := addCount(txn, inCountKey(target), 1); err != nil {
			return err
		}
		if err := addCount(txn, edgeLenKey(), 1); err != nil {
			return err
		}
		added = true
		return nil
	})
	if errors.Is(err, graph.ErrMissingEndpoint) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("failed to add edge %q->%q: %w", source, target, err)
	}
	return added, nil
}

func (e *Edges) Remove(ctx context.Context, source, target string) (bool, error) {
	removed := false
	err := e.s.db.Update(func(txn *badger.Txn) error {
		seq, found, err := edgeSeq(txn, source, target)
		if err != nil || !found {
			return err
		}
		if err := unlinkEdge(txn, source, target, seq); err != nil {
			return err
		}
		if err := addCount(txn, outCountKey(source), -1); err != nil {
			return err
		}
		if err := addCount(txn, inCountKey(target), -1); err != nil {
			return err
		}
		removed = true
		return addCount(txn, edgeLenKey(), -1)
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove edge %q->%q: %w", source, target, err)
	}
	return removed, nil
}

func edgeSeq(txn *badger.Txn, source, target string) (uint64, bool, error) {
	item, err := txn.Get(edgeKey(source, target))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func unlinkEdge(txn *badger.Txn, source, target string, seq uint64) error {
	for _, k := range [][]byte{edgeKey(source, target), outKey(source, seq), inKey(target, seq)} {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (e *Edges) Has(ctx context.Context, source, target string) (bool, error) {
	found := false
	err := e.s.db.View(func(txn *badger.Txn) error {
		var err error
		_, found, err = edgeSeq(txn, source, target)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check edge %q->%q: %w", source, target, err)
	}
	return found, nil
}

func (e *Edges) TargetsOf(ctx context.Context, id string) iter.Seq2[string, error] {
	return e.neighbours(outPrefix(id))
}

func (e *Edges) SourcesOf(ctx context.Context, id string) iter.Seq2[string, error] {
	return e.neighbours(inPrefix(id))
}

func (e *Edges) neighbours(prefix []byte) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var ls []link
		err := e.s.db.View(func(txn *badger.Txn) error {
			var err error
			ls, err = links(txn, prefix)
			return err
		})
		if err != nil {
			yield("", fmt.Errorf("failed to read adjacency: %w", err))
			return
		}
		for _, l := range ls {
			if !yield(l.other, nil) {
				return
			}
		}
	}
}

func (e *Edges) TargetCount(ctx context.Context, id string) (int, error) {
	return e.count(outCountKey(id))
}

func (e *Edges) SourceCount(ctx context.Context, id string) (int, error) {
	return e.count(inCountKey(id))
}

func (e *Edges) Len(ctx context.Context) (int, error) {
	return e.count(edgeLenKey())
}

func (e *Edges) count(k []byte) (int, error) {
	var n int64
	err := e.s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = readCount(txn, k)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return int(n), nil
}

func (e *Edges) DropAllEdgesOf(ctx context.Context, id string) (int, error) {
	removed := 0
	err := e.s.db.Update(func(txn *badger.Txn) error {
		outs, err := links(txn, outPrefix(id))
		if err != nil {
			return err
		}
		ins, err := links(txn, inPrefix(id))
		if err != nil {
			return err
		}

		for _, l := range outs {
			if err := unlinkEdge(txn, id, l.other, l.seq); err != nil {
				return err
			}
			if l.other != id {
				if err := addCount(txn, inCountKey(l.other), -1); err != nil {
					return err
				}
			}
			removed++
		}
		for _, l := range ins {
			// Self-loops went with the outgoing side.
			if l.other == id {
				continue
			}
			if err := unlinkEdge(txn, l.other, id, l.seq); err != nil {
				return err
			}
			if err := addCount(txn, outCountKey(l.other), -1); err != nil {
				return err
			}
			removed++
		}

		for _, k := range [][]byte{outCountKey(id), inCountKey(id)} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return addCount(txn, edgeLenKey(), -int64(removed))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to drop edges of %q: %w", id, err)
	}
	return removed, nil
}
