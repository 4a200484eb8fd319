package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// VectorDimension is the embedding dimension used across the example store.
// gemini-embedding-001 outputs 3072 dimensions by default and supports
// truncation via OutputDimensionality; the pgvector schema is vector(768).
const VectorDimension int32 = 768

// embedRetryBackoff is the pause before the single internal retry.
const embedRetryBackoff = 500 * time.Millisecond

// ErrEmbedding indicates the embedding provider failed or rejected the input.
var ErrEmbedding = errors.New("embedding failed")

// Embedder converts text into fixed-length vectors via the configured
// provider. It is safe for concurrent use.
type Embedder struct {
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewEmbedder creates an embedding gateway around a Genkit embedder.
func NewEmbedder(embedder ai.Embedder, logger *slog.Logger) (*Embedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{embedder: embedder, logger: logger}, nil
}

// EmbedText embeds a single text. Empty or whitespace-only input is rejected
// before any network call. On provider failure the call is retried once with
// backoff; a second failure surfaces an error wrapping ErrEmbedding.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrEmbedding)
	}

	vec, err := e.embedOnce(ctx, text)
	if err == nil {
		return vec, nil
	}

	e.logger.Debug("embedding failed, retrying once", "error", err)
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, ctx.Err())
	case <-time.After(embedRetryBackoff):
	}

	vec, retryErr := e.embedOnce(ctx, text)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: %v (after retry)", ErrEmbedding, retryErr)
	}
	return vec, nil
}

func (e *Embedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	dim := VectorDimension
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding response")
	}
	return resp.Embeddings[0].Embedding, nil
}
