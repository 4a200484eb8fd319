// Package learning closes the feedback loop: ratings attach to chat log
// entries, success rates flow back to the examples that served the
// response, and well-rated generated answers are promoted into the corpus
// so the next similar question can reuse them directly.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/homedesk/homedesk/internal/chatlog"
	"github.com/homedesk/homedesk/internal/example"
)

// Promotion gates: feedback must be helpful with a rating at or above
// PromoteMinRating. Promoted examples start with an optimistic prior.
const (
	PromoteMinRating    = 4
	PromotedSuccessRate = 0.8
)

// LogStore is the slice of the chat log store the service needs.
type LogStore interface {
	Get(ctx context.Context, id uuid.UUID) (*chatlog.Entry, error)
	UpdateFeedback(ctx context.Context, id uuid.UUID, fb chatlog.Feedback) error
}

// ExampleWriter feeds quality signals and promoted answers back to the corpus.
type ExampleWriter interface {
	UpdateSuccessRate(ctx context.Context, id uuid.UUID, helpful bool) error
	Insert(ctx context.Context, ex example.NewExample) (uuid.UUID, error)
}

// Result reports what one feedback submission changed.
type Result struct {
	ExamplesUpdated int
	Promoted        bool
	PromotedID      uuid.UUID
}

// Service applies feedback to the chat log and the example corpus.
type Service struct {
	logs     LogStore
	examples ExampleWriter
	logger   *slog.Logger
}

// New creates a learning Service.
func New(logs LogStore, examples ExampleWriter, logger *slog.Logger) (*Service, error) {
	if logs == nil {
		return nil, fmt.Errorf("log store is required")
	}
	if examples == nil {
		return nil, fmt.Errorf("example writer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logs: logs, examples: examples, logger: logger}, nil
}

// SubmitFeedback records feedback for a chat log entry, folds the signal
// into every example that served the response, and promotes generated
// answers the user rated highly.
//
// The feedback write is the only hard step: chatlog.ErrNotFound,
// chatlog.ErrFeedbackExists, and chatlog.ErrInvalidFeedback propagate
// unchanged. Success rate updates and promotion are best-effort.
func (s *Service) SubmitFeedback(ctx context.Context, logID uuid.UUID, fb chatlog.Feedback) (*Result, error) {
	if err := s.logs.UpdateFeedback(ctx, logID, fb); err != nil {
		return nil, err
	}

	entry, err := s.logs.Get(ctx, logID)
	if err != nil {
		return nil, fmt.Errorf("loading chat log after feedback: %w", err)
	}

	result := &Result{}
	for _, exID := range entry.ExamplesUsed {
		if err := s.examples.UpdateSuccessRate(ctx, exID, fb.Helpful); err != nil {
			if errors.Is(err, example.ErrNotFound) {
				// The example was deleted after serving; nothing to update.
				continue
			}
			s.logger.Warn("success rate update failed", "example_id", exID, "error", err)
			continue
		}
		result.ExamplesUpdated++
	}

	if shouldPromote(fb) {
		id, promoteErr := s.promote(ctx, entry, example.CategoryGeneral)
		if promoteErr != nil {
			s.logger.Warn("promotion failed", "log_id", logID, "error", promoteErr)
		} else {
			result.Promoted = true
			result.PromotedID = id
		}
	}

	s.logger.Info("feedback applied",
		"log_id", logID,
		"rating", fb.Rating,
		"helpful", fb.Helpful,
		"examples_updated", result.ExamplesUpdated,
		"promoted", result.Promoted)
	return result, nil
}

// shouldPromote gates auto-promotion: helpful feedback with a rating at
// least PromoteMinRating. Auto-promoted examples land in the general
// category; an operator can promote with a specific category instead.
func shouldPromote(fb chatlog.Feedback) bool {
	return fb.Helpful && fb.Rating >= PromoteMinRating
}

// PromoteToExample inserts a chat exchange into the corpus as a learned
// example under the given category. This is the explicit administrative
// operation; auto-promotion goes through SubmitFeedback.
func (s *Service) PromoteToExample(ctx context.Context, logID uuid.UUID, category string) (uuid.UUID, error) {
	entry, err := s.logs.Get(ctx, logID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("loading chat log for promotion: %w", err)
	}
	return s.promote(ctx, entry, category)
}

func (s *Service) promote(ctx context.Context, entry *chatlog.Entry, category string) (uuid.UUID, error) {
	id, err := s.examples.Insert(ctx, example.NewExample{
		Question:    entry.UserMessage,
		Answer:      entry.BotResponse,
		Category:    category,
		Language:    entry.Language,
		Source:      example.SourceLearned,
		SuccessRate: PromotedSuccessRate,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("promoting chat log %s: %w", entry.ID, err)
	}

	s.logger.Info("promoted answer to corpus",
		"log_id", entry.ID, "example_id", id, "category", category)
	return id, nil
}
