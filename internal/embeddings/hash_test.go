package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashProviderIsDeterministic(t *testing.T) {
	p := NewHashProvider(16)
	ctx := context.Background()
	a, err := p.Embed(ctx, []byte("deploy the thing"))
	require.NoError(t, err)
	b, err := p.Embed(ctx, []byte("deploy the thing"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestHashProviderDiffersOnDifferentContent(t *testing.T) {
	p := NewHashProvider(16)
	ctx := context.Background()
	a, _ := p.Embed(ctx, []byte("deploy the thing"))
	b, _ := p.Embed(ctx, []byte("roll back the thing"))
	require.NotEqual(t, a, b)
}
