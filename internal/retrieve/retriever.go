// Package retrieve sits between the response engine and the example store:
// it validates incoming queries and applies the configured similarity floor
// and result cap before any embedding call is made.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/homedesk/homedesk/internal/example"
)

// ErrInvalidQuery indicates the query is empty or unusable.
var ErrInvalidQuery = errors.New("invalid query")

// DefaultMaxExamples caps how many matches a retrieval returns.
const DefaultMaxExamples = 5

// Searcher is the slice of the example store the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query, language string, limit int, minSimilarity float64) ([]example.Match, error)
}

// Retriever performs validated similarity retrieval over the example corpus.
type Retriever struct {
	searcher      Searcher
	maxExamples   int
	minSimilarity float64
	logger        *slog.Logger
}

// New creates a Retriever. minSimilarity is the floor below which matches
// are discarded; maxExamples caps the result count.
func New(searcher Searcher, maxExamples int, minSimilarity float64, logger *slog.Logger) (*Retriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if maxExamples <= 0 {
		maxExamples = DefaultMaxExamples
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, fmt.Errorf("min similarity %v out of range [0, 1]", minSimilarity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		searcher:      searcher,
		maxExamples:   maxExamples,
		minSimilarity: minSimilarity,
		logger:        logger,
	}, nil
}

// Retrieve returns up to the configured number of matches at or above the
// similarity floor, ordered by similarity descending. Matches are filtered
// to the given language; an empty language defaults to "en". A corpus with
// no sufficiently similar examples yields an empty slice, not an error.
// An empty or whitespace-only query returns ErrInvalidQuery.
func (r *Retriever) Retrieve(ctx context.Context, query, language string) ([]example.Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	if language == "" {
		language = "en"
	}

	matches, err := r.searcher.Search(ctx, query, language, r.maxExamples, r.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("retrieving examples: %w", err)
	}

	r.logger.Debug("retrieval complete",
		"matches", len(matches),
		"language", language,
		"min_similarity", r.minSimilarity)
	return matches, nil
}

// MinSimilarity returns the configured similarity floor.
func (r *Retriever) MinSimilarity() float64 { return r.minSimilarity }
