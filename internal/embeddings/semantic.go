package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-logr/logr"
)

// SemanticClassifier backs the "semantic" rule condition operator (spec.md
// §4.4 ConditionOp "semantic"): a yes/no judgment of whether free-text
// content matches a natural-language description, which a cosine-similarity
// embedding can't express. Grounded on kagent's adk/pkg/models Anthropic
// client construction (same option.RequestOption/http.Client/logr.Logger
// shape); this package has no embeddings endpoint of its own, so it is used
// only here, not for C2/C3 vectors.
type SemanticClassifier struct {
	client anthropic.Client
	model  anthropic.Model
	log    logr.Logger
}

// NewSemanticClassifier builds a classifier against ANTHROPIC_API_KEY.
func NewSemanticClassifier(modelName string, log logr.Logger) (*SemanticClassifier, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	httpClient := &http.Client{Timeout: 20 * time.Second}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	)
	m := anthropic.Model(modelName)
	if modelName == "" {
		m = anthropic.ModelClaude3_5HaikuLatest
	}
	return &SemanticClassifier{client: client, model: m, log: log}, nil
}

// Matches asks whether content satisfies the natural-language description
// in want, returning a strict boolean so rule evaluation (C4) stays
// deterministic per invocation even though the underlying judgment is an
// LLM call.
func (s *SemanticClassifier) Matches(ctx context.Context, content, want string) (bool, error) {
	prompt := fmt.Sprintf(
		"Answer only \"yes\" or \"no\". Does the following content match this description: %q?\n\nContent:\n%s",
		want, content,
	)
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 8,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		s.log.V(1).Info("semantic classification request failed", "error", err)
		return false, fmt.Errorf("anthropic classify: %w", err)
	}
	if len(resp.Content) == 0 {
		return false, fmt.Errorf("anthropic classify: empty response")
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Content[0].Text))
	return strings.HasPrefix(answer, "y"), nil
}
