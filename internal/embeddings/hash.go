package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// HashProvider is a deterministic, offline embeddings.Provider: it expands a
// sha256 digest of the content into dimension float32s by walking the
// digest bytes cyclically. It produces no semantic similarity whatsoever,
// but it is reproducible and dependency-free, which is what the test suite
// and any operator running without an OPENAI_API_KEY need (SPEC_FULL.md
// §13 embedding-function decision).
type HashProvider struct {
	dimension int
}

func NewHashProvider(dimension int) *HashProvider {
	return &HashProvider{dimension: dimension}
}

func (h *HashProvider) Dimension() int { return h.dimension }

func (h *HashProvider) Embed(_ context.Context, content []byte) ([]float32, error) {
	sum := sha256.Sum256(content)
	out := make([]float32, h.dimension)
	for i := range out {
		byteIdx := (i * 4) % len(sum)
		var chunk [4]byte
		for j := 0; j < 4; j++ {
			chunk[j] = sum[(byteIdx+j)%len(sum)]
		}
		v := binary.BigEndian.Uint32(chunk[:])
		out[i] = float32(v%2000)/1000 - 1 // spread into [-1, 1)
	}
	return out, nil
}
