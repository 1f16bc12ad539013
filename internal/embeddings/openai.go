package embeddings

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultTimeout = 30 * time.Second

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIProvider is the default embeddings.Provider, grounded on the shape
// of kagent's adk/pkg/models OpenAI/Anthropic constructors: read the API key
// from the environment, build client options, keep a logr.Logger.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
	log       logr.Logger
}

// NewOpenAIProvider builds a provider against OPENAI_API_KEY. dimension must
// match the vector column width vectorindex was configured with
// (vector.dimension, default 1536 for text-embedding-3-small).
func NewOpenAIProvider(cfg OpenAIConfig, dimension int, log logr.Logger) (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	opts = append(opts, option.WithRequestTimeout(timeout))

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
		log:       log,
	}, nil
}

func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Embed calls the embeddings endpoint once per content blob. Callers
// (memory.Store) wrap this in their own retry with backoff; a failure here
// is always returned as EmbeddingFailed so the caller decides whether to
// retry or fall back to vector_pending (spec.md §4.1, §7).
func (p *OpenAIProvider) Embed(ctx context.Context, content []byte) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: p.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(string(content)),
		},
		Dimensions: openai.Int(int64(p.dimension)),
	})
	if err != nil {
		p.log.V(1).Info("embedding request failed", "error", err)
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
