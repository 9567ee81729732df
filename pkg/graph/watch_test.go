package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_Filters(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []string
	}{
		{
			name: "everything",
			expr: "",
			want: []string{
				"graphUpdate", "graphUpdate", "graphUpdate",
				"edgeAdd", "graphUpdate",
				"nodeRemove", "graphUpdate",
			},
		},
		{
			name: "edges into databases",
			expr: `event == "edgeAdd" && target.startsWith("db-")`,
			want: []string{"edgeAdd"},
		},
		{
			name: "typed node events",
			expr: `event.startsWith("node") && type == 2`,
			want: []string{"nodeRemove"},
		},
		{
			name: "by id",
			expr: `id == "svc"`,
			want: []string{"edgeAdd"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := newManager(t)

			var got []string
			w, err := m.Watch(tt.expr, func(ctx context.Context, ev Event) error {
				got = append(got, ev.Name)
				return nil
			})
			require.NoError(t, err)
			defer w.Stop()

			svc := NewRecord(1, "svc", nil)
			db := NewRecord(2, "db-main", nil)
			_, _ = m.AddNode(ctx, NewRecord(3, "other", nil))
			_, _ = m.AddEdge(ctx, svc, db)
			_, _ = m.RemoveNode(ctx, NewRecord(2, "db-main", nil))

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWatch_Stop(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	calls := 0
	w, err := m.Watch("true", func(ctx context.Context, ev Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	w.Stop()

	_, _ = m.AddNode(ctx, NewRecord(1, "A", nil))
	assert.Zero(t, calls)
	assert.Zero(t, m.Bus().SubscriberCount(EventGraphUpdate))
}

func TestWatch_InvalidExpressions(t *testing.T) {
	m := newManager(t)
	for _, expr := range []string{`event ==`, `type + 1`, `unknown == "x"`} {
		_, err := m.Watch(expr, func(ctx context.Context, ev Event) error { return nil })
		assert.Error(t, err, expr)
	}
}
