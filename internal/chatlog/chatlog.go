// Package chatlog persists the conversation audit trail. Every engine
// response appends one row; feedback later attaches to that row exactly
// once and drives the learning loop.
package chatlog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Strategy identifies how a response was produced.
type Strategy string

const (
	// StrategyDirectReuse means a stored answer was returned verbatim.
	StrategyDirectReuse Strategy = "direct_reuse"
	// StrategyRAGAugmented means the model generated with retrieved context.
	StrategyRAGAugmented Strategy = "rag_augmented"
	// StrategySearchFallback means no similar examples existed and the model
	// answered from general knowledge.
	StrategySearchFallback Strategy = "search_fallback"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyDirectReuse, StrategyRAGAugmented, StrategySearchFallback:
		return true
	}
	return false
}

var (
	// ErrNotFound indicates the chat log entry does not exist.
	ErrNotFound = errors.New("chat log not found")
	// ErrFeedbackExists indicates feedback was already recorded for the entry.
	ErrFeedbackExists = errors.New("feedback already recorded")
	// ErrInvalidLog indicates required fields are missing or malformed.
	ErrInvalidLog = errors.New("invalid chat log")
	// ErrInvalidFeedback indicates the feedback payload is malformed.
	ErrInvalidFeedback = errors.New("invalid feedback")
)

// Feedback is a user's rating of one response.
type Feedback struct {
	Rating  int
	Helpful bool
	Comment string
}

// Entry is one logged exchange, with feedback once submitted.
type Entry struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	UserMessage  string
	BotResponse  string
	Language     string
	Confidence   float64
	Strategy     Strategy
	ExamplesUsed []uuid.UUID
	CreatedAt    time.Time
	Feedback     *Feedback
}

// NewEntry describes an exchange to record. Language defaults to "en".
type NewEntry struct {
	SessionID    uuid.UUID
	UserMessage  string
	BotResponse  string
	Language     string
	Confidence   float64
	Strategy     Strategy
	ExamplesUsed []uuid.UUID
}
