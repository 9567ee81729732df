//go:build integration

package dynamograph

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/graph/graphtest"
)

// Requires Docker.
func TestConformance_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := localstack.RunContainer(ctx,
		testcontainers.WithImage("localstack/localstack:3.0"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "")
	require.NoError(t, err)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
	)
	require.NoError(t, err)

	graphtest.Run(t, func(t *testing.T) (graph.NodeStore, graph.EdgeIndex) {
		// One table per subtest keeps counters isolated.
		s := NewFromConfig(cfg, fmt.Sprintf("propgraph-%s", uuid.NewString()), "http://"+endpoint)
		require.NoError(t, s.EnsureTable(ctx))
		return s, s.Edges()
	})
}
