package chatlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const logCols = `id, session_id, user_message, bot_response, language,
	confidence_score, strategy, examples_used, created_at,
	feedback_rating, feedback_helpful, feedback_comment`

// Store manages chat log rows. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a chat log Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Record appends one exchange and returns its ID. The log is append-only;
// only feedback columns ever change after insert.
func (s *Store) Record(ctx context.Context, e NewEntry) (uuid.UUID, error) {
	if strings.TrimSpace(e.UserMessage) == "" {
		return uuid.Nil, fmt.Errorf("%w: user message is required", ErrInvalidLog)
	}
	if strings.TrimSpace(e.BotResponse) == "" {
		return uuid.Nil, fmt.Errorf("%w: bot response is required", ErrInvalidLog)
	}
	if e.SessionID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: session ID is required", ErrInvalidLog)
	}
	if !e.Strategy.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidLog, e.Strategy)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return uuid.Nil, fmt.Errorf("%w: confidence %v out of range", ErrInvalidLog, e.Confidence)
	}
	if e.Language == "" {
		e.Language = "en"
	}
	if e.ExamplesUsed == nil {
		e.ExamplesUsed = []uuid.UUID{}
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_logs
		 (session_id, user_message, bot_response, language, confidence_score, strategy, examples_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		e.SessionID, e.UserMessage, e.BotResponse, e.Language, e.Confidence, e.Strategy, e.ExamplesUsed,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("recording chat log: %w", err)
	}
	return id, nil
}

// Get returns a single entry by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+logCols+` FROM chat_logs WHERE id = $1`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting chat log %s: %w", id, err)
	}
	return entry, nil
}

// UpdateFeedback attaches feedback to an entry. Feedback is write-once:
// a second submission returns ErrFeedbackExists. The first-writer-wins
// check happens in the UPDATE itself, so concurrent submissions cannot
// both succeed.
func (s *Store) UpdateFeedback(ctx context.Context, id uuid.UUID, fb Feedback) error {
	if fb.Rating < 1 || fb.Rating > 5 {
		return fmt.Errorf("%w: rating %d out of range 1-5", ErrInvalidFeedback, fb.Rating)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_logs
		 SET feedback_rating = $2, feedback_helpful = $3, feedback_comment = $4
		 WHERE id = $1 AND feedback_rating IS NULL`,
		id, fb.Rating, fb.Helpful, nullIfEmpty(fb.Comment),
	)
	if err != nil {
		return fmt.Errorf("updating feedback for %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish not-found vs already-rated.
		var exists bool
		lookupErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM chat_logs WHERE id = $1)`, id,
		).Scan(&exists)
		if lookupErr != nil {
			return fmt.Errorf("looking up chat log %s: %w", id, lookupErr)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrFeedbackExists
	}
	return nil
}

// BySession returns a session's entries ordered oldest first.
func (s *Store) BySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+logCols+`
		 FROM chat_logs
		 WHERE session_id = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chat logs for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning chat log: %w", scanErr)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat logs: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var rating *int
	var helpful *bool
	var comment *string

	if err := row.Scan(
		&e.ID, &e.SessionID, &e.UserMessage, &e.BotResponse, &e.Language,
		&e.Confidence, &e.Strategy, &e.ExamplesUsed, &e.CreatedAt,
		&rating, &helpful, &comment,
	); err != nil {
		return nil, err
	}

	if rating != nil {
		fb := &Feedback{Rating: *rating}
		if helpful != nil {
			fb.Helpful = *helpful
		}
		if comment != nil {
			fb.Comment = *comment
		}
		e.Feedback = fb
	}
	return &e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
