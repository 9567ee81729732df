package loader

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

func expected() *Definition {
	return &Definition{
		Nodes: []NodeDef{
			{ID: "A", Type: 1, Props: map[string]any{"name": "api", "replicas": 3}},
			{ID: "B", Type: 2, Props: map[string]any{"engine": "postgres"}},
			{ID: "C", Type: 2},
		},
		Edges: []EdgeDef{
			{Source: "A", Target: "B"},
			{Source: "A", Target: "C"},
			{Source: "C", Target: "A"},
		},
	}
}

func newManager(t *testing.T) *graph.Manager {
	t.Helper()
	m, err := graph.NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestParseFormatsAgree(t *testing.T) {
	for _, name := range []string{"graph.yaml", "graph.hcl", "graph.json"} {
		t.Run(name, func(t *testing.T) {
			def, err := ParseFile(filepath.Join("testdata", name))
			require.NoError(t, err)
			assert.Equal(t, expected(), def)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		file string
		msg  string
	}{
		{file: "unknown_field.yaml", msg: "colour"},
		{file: "bad.hcl", msg: "props must be an object"},
		{file: "missing.yaml", msg: "failed to read"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			_, err := ParseFile(filepath.Join("testdata", tt.file))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := ParseFile("graph.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	def, err := ParseFile(filepath.Join("testdata", "dangling.yaml"))
	require.NoError(t, err)
	assert.ErrorIs(t, def.Validate(), ErrUnknownNode)

	dup := &Definition{Nodes: []NodeDef{{ID: "A"}, {ID: "A"}}}
	assert.ErrorIs(t, dup.Validate(), ErrDuplicateNode)

	empty := &Definition{Nodes: []NodeDef{{Type: 1}}}
	assert.ErrorIs(t, empty.Validate(), graph.ErrInvalidID)
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, err := LoadFile(ctx, m, filepath.Join("testdata", "graph.hcl"))
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, graph.Stats{Nodes: 3, Edges: 3}, stats)

	a, ok, err := m.GetNodeByID(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	st, err := m.GetNodeStructure(ctx, a)
	require.NoError(t, err)
	require.Len(t, st.Targets, 2)
	// C points back at A, which is an ancestor.
	require.Len(t, st.Targets[1].Targets, 1)
	assert.True(t, st.Targets[1].Targets[0].Truncated())
}

func TestLoadFileRejectsDanglingEdgesBeforeMutating(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, err := LoadFile(ctx, m, filepath.Join("testdata", "dangling.yaml"))
	require.ErrorIs(t, err, ErrUnknownNode)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Nodes)
}

func TestDumpRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	require.NoError(t, expected().Apply(ctx, m))

	def, err := Dump(ctx, m)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, def.WriteYAML(&buf))

	path := filepath.Join(t.TempDir(), "dump.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	back, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, expected(), back)
}
