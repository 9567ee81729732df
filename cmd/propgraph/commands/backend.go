package commands

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/DrSkyle/propgraph/pkg/backend/badgergraph"
	"github.com/DrSkyle/propgraph/pkg/backend/dynamograph"
	"github.com/DrSkyle/propgraph/pkg/backend/redisgraph"
	"github.com/DrSkyle/propgraph/pkg/config"
	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/loader"
)

// openManager builds a Manager over the configured backend. The returned
// close function shuts down the manager and then the backend.
func (a *app) openManager(ctx context.Context) (*graph.Manager, func() error, error) {
	opts := []graph.Option{
		graph.WithLogger(a.logger),
		graph.WithQueueSize(a.cfg.Graph.QueueSize),
		graph.WithSerializerOptions(
			graph.WithMaxDepth(a.cfg.Graph.MaxDepth),
			graph.WithConcurrency(a.cfg.Graph.Concurrency),
		),
	}
	closeBackend := func() error { return nil }

	switch a.cfg.Backend {
	case config.BackendMemory:

	case config.BackendRedis:
		s := redisgraph.New(redisgraph.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Prefix:   a.cfg.Redis.Prefix,
		})
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", a.cfg.Redis.Addr, err)
		}
		opts = append(opts, graph.WithNodeStore(s), graph.WithEdgeIndex(s.Edges()))
		closeBackend = s.Close

	case config.BackendBadger:
		s, err := badgergraph.Open(badgergraph.Options{
			Dir:      a.cfg.Badger.Dir,
			InMemory: a.cfg.Badger.Dir == "",
		})
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, graph.WithNodeStore(s), graph.WithEdgeIndex(s.Edges()))
		closeBackend = s.Close

	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.DynamoDB.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		s := dynamograph.NewFromConfig(awsCfg, a.cfg.DynamoDB.Table, a.cfg.DynamoDB.Endpoint)
		if a.cfg.DynamoDB.CreateTable {
			if err := s.EnsureTable(ctx); err != nil {
				return nil, nil, err
			}
		}
		opts = append(opts, graph.WithNodeStore(s), graph.WithEdgeIndex(s.Edges()))

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
	}

	m, err := graph.NewManager(opts...)
	if err != nil {
		return nil, nil, errors.Join(err, closeBackend())
	}
	a.logger.Debug("graph opened", "backend", a.cfg.Backend)
	return m, func() error { return errors.Join(m.Close(), closeBackend()) }, nil
}

// withGraph opens the backend, loads path into it and runs fn.
func (a *app) withGraph(ctx context.Context, path string, fn func(*graph.Manager, *loader.Definition) error) error {
	m, closeFn, err := a.openManager(ctx)
	if err != nil {
		return err
	}
	def, err := loader.LoadFile(ctx, m, path)
	if err == nil {
		err = fn(m, def)
	}
	return errors.Join(err, closeFn())
}

func lookup(ctx context.Context, m *graph.Manager, id string) (graph.Node, error) {
	n, ok, err := m.GetNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("node %q not found", id)
	}
	return n, nil
}
