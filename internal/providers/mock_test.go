package providers

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockEmbedDeterministicAndNormalized(t *testing.T) {
	m := NewMockProvider(64)
	a, info, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{"graph neural networks", "graph neural networks", "x"}})
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	require.Len(t, a, 3)
	require.Len(t, a[0], 64)
	require.Equal(t, a[0], a[1])
	require.NotEqual(t, a[0], a[2])

	var norm float64
	for _, x := range a[0] {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestMockGenerateRoutesByOperation(t *testing.T) {
	m := NewMockProvider(8)
	out, _, err := m.Generate(context.Background(), GenerateRequest{Operation: "reasoning_synthesis", Context: []string{"a", "b"}})
	require.NoError(t, err)
	require.Contains(t, out.Text, "## Answer")
	require.Contains(t, out.Text, "[C2]")
}
