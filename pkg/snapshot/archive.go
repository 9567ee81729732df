package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

// Entry names one archived snapshot.
type Entry struct {
	Key string
	At  time.Time
}

// Archive stores structure snapshots as <id>/<unix-nanos>.json.
type Archive struct {
	store  BlobStore
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Archive)

func WithLogger(l *slog.Logger) Option {
	return func(a *Archive) { a.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

func NewArchive(store BlobStore, opts ...Option) *Archive {
	a := &Archive{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open builds an archive from a target: a directory path or
// s3://bucket/prefix.
func Open(ctx context.Context, target string, opts ...Option) (*Archive, error) {
	if target == "" {
		return nil, fmt.Errorf("empty snapshot target")
	}
	if !strings.HasPrefix(target, "s3://") {
		return NewArchive(NewLocalStore(target), opts...), nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot target %q: %w", target, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid snapshot target %q: missing bucket", target)
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewArchive(NewS3Store(cfg, u.Host, strings.Trim(u.Path, "/")), opts...), nil
}

func dir(id string) string {
	return url.PathEscape(id)
}

// Save writes st and returns its key.
func (a *Archive) Save(ctx context.Context, st *graph.Structure) (string, error) {
	if st == nil {
		return "", fmt.Errorf("nil structure")
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal structure: %w", err)
	}
	key := path.Join(dir(st.ID), strconv.FormatInt(a.now().UnixNano(), 10)+".json")
	if err := a.store.Put(ctx, key, data); err != nil {
		return "", err
	}
	a.logger.Info("snapshot saved", "id", st.ID, "key", key, "bytes", len(data))
	return key, nil
}

// List returns the snapshots of id, oldest first.
func (a *Archive) List(ctx context.Context, id string) ([]Entry, error) {
	keys, err := a.store.List(ctx, dir(id)+"/")
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		base := strings.TrimSuffix(path.Base(key), ".json")
		nanos, err := strconv.ParseInt(base, 10, 64)
		if err != nil || path.Dir(key) != dir(id) {
			continue
		}
		entries = append(entries, Entry{Key: key, At: time.Unix(0, nanos)})
	}
	slices.SortFunc(entries, func(x, y Entry) int { return x.At.Compare(y.At) })
	return entries, nil
}

// Latest reads the newest snapshot of id.
func (a *Archive) Latest(ctx context.Context, id string) (*graph.Structure, error) {
	entries, err := a.List(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.Load(ctx, entries[len(entries)-1].Key)
}

// Load reads one snapshot by key.
func (a *Archive) Load(ctx context.Context, key string) (*graph.Structure, error) {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var st graph.Structure
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return &st, nil
}
