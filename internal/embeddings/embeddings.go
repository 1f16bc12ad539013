// Package embeddings provides the Provider seam C2 and C3 embed content
// through. Mirrors kagent-dev-kagent's adk/pkg/models provider shape: a
// small config struct, an API-key-from-env constructor, and a logr.Logger
// field threaded through every call.
package embeddings

import "context"

// Provider turns content into a fixed-dimension embedding vector.
type Provider interface {
	Embed(ctx context.Context, content []byte) ([]float32, error)
	Dimension() int
}
