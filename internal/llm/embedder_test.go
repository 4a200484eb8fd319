package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr    error
	failFirst   bool
	returnEmpty bool
	embeddings  []float32
	callCount   int
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if m.embedErr != nil && (!m.failFirst || m.callCount == 1) {
		return nil, m.embedErr
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{}, nil
	}
	embeddings := m.embeddings
	if embeddings == nil {
		embeddings = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: embeddings}},
	}, nil
}

func TestEmbedText(t *testing.T) {
	ctx := context.Background()

	t.Run("returns vector", func(t *testing.T) {
		mock := &mockEmbedder{embeddings: []float32{0.5, 0.5}}
		e, err := NewEmbedder(mock, nil)
		if err != nil {
			t.Fatalf("NewEmbedder() error = %v", err)
		}

		vec, err := e.EmbedText(ctx, "how do I fix a leaky faucet")
		if err != nil {
			t.Fatalf("EmbedText() error = %v", err)
		}
		if len(vec) != 2 {
			t.Errorf("got %d dimensions, want 2", len(vec))
		}
		if mock.callCount != 1 {
			t.Errorf("callCount = %d, want 1", mock.callCount)
		}
	})

	t.Run("rejects empty input without calling provider", func(t *testing.T) {
		mock := &mockEmbedder{}
		e, _ := NewEmbedder(mock, nil)

		_, err := e.EmbedText(ctx, "   \t\n")
		if !errors.Is(err, ErrEmbedding) {
			t.Errorf("error = %v, want ErrEmbedding", err)
		}
		if mock.callCount != 0 {
			t.Errorf("provider called %d times for empty input", mock.callCount)
		}
	})

	t.Run("retries once then succeeds", func(t *testing.T) {
		mock := &mockEmbedder{embedErr: errors.New("transient"), failFirst: true}
		e, _ := NewEmbedder(mock, nil)

		vec, err := e.EmbedText(ctx, "test")
		if err != nil {
			t.Fatalf("EmbedText() error = %v", err)
		}
		if len(vec) == 0 {
			t.Error("expected non-empty vector after retry")
		}
		if mock.callCount != 2 {
			t.Errorf("callCount = %d, want 2", mock.callCount)
		}
	})

	t.Run("persistent failure wraps ErrEmbedding", func(t *testing.T) {
		mock := &mockEmbedder{embedErr: errors.New("quota exhausted")}
		e, _ := NewEmbedder(mock, nil)

		_, err := e.EmbedText(ctx, "test")
		if !errors.Is(err, ErrEmbedding) {
			t.Errorf("error = %v, want ErrEmbedding", err)
		}
		if mock.callCount != 2 {
			t.Errorf("callCount = %d, want 2", mock.callCount)
		}
	})

	t.Run("empty response wraps ErrEmbedding", func(t *testing.T) {
		mock := &mockEmbedder{returnEmpty: true}
		e, _ := NewEmbedder(mock, nil)

		_, err := e.EmbedText(ctx, "test")
		if !errors.Is(err, ErrEmbedding) {
			t.Errorf("error = %v, want ErrEmbedding", err)
		}
	})

	t.Run("canceled context aborts retry", func(t *testing.T) {
		mock := &mockEmbedder{embedErr: errors.New("transient")}
		e, _ := NewEmbedder(mock, nil)

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := e.EmbedText(canceled, "test")
		if !errors.Is(err, ErrEmbedding) {
			t.Errorf("error = %v, want ErrEmbedding", err)
		}
		if mock.callCount > 1 {
			t.Errorf("callCount = %d, want at most 1 after cancellation", mock.callCount)
		}
	})

	t.Run("nil embedder rejected", func(t *testing.T) {
		if _, err := NewEmbedder(nil, nil); err == nil {
			t.Error("expected error for nil embedder")
		}
	})
}
