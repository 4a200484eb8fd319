package example

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/homedesk/homedesk/internal/llm"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EmbedTimeout bounds the embedding call made before a search or insert.
const EmbedTimeout = 15 * time.Second

// MaxQuestionLength caps question size for inserts and search queries.
const MaxQuestionLength = 4000

// exampleCols is the standard SELECT column list for scanExamples.
const exampleCols = `id, question, answer, category, language, source,
	usage_count, success_rate, created_at, updated_at`

const insertExampleSQL = `INSERT INTO examples
	(question, answer, category, language, embedding, source, success_rate)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

// Store manages the example corpus. Safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder *llm.Embedder
	logger   *slog.Logger
}

// NewStore creates an example Store.
func NewStore(pool *pgxpool.Pool, embedder *llm.Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// Search finds examples similar to the query, ordered by cosine similarity
// descending with ties broken by usage_count then recency. Only matches at
// or above minSimilarity in the given language are returned; an empty
// language matches "en".
func (s *Store) Search(ctx context.Context, query, language string, limit int, minSimilarity float64) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return []Match{}, nil
	}
	if language == "" {
		language = "en"
	}
	if limit <= 0 {
		limit = 5
	}
	if len(query) > MaxQuestionLength {
		query = query[:MaxQuestionLength]
	}
	if strings.ContainsRune(query, 0) {
		return []Match{}, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	raw, err := s.embedder.EmbedText(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	vec := pgvector.NewVector(raw)

	rows, err := s.pool.Query(ctx,
		`SELECT `+exampleCols+`, 1 - (embedding <=> $1) AS similarity
		 FROM examples
		 WHERE 1 - (embedding <=> $1) >= $2 AND language = $3
		 ORDER BY embedding <=> $1, usage_count DESC, updated_at DESC
		 LIMIT $4`,
		vec, minSimilarity, language, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching examples: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// Insert embeds the question and stores a new example.
func (s *Store) Insert(ctx context.Context, ex NewExample) (uuid.UUID, error) {
	normalized, err := normalizeNew(ex)
	if err != nil {
		return uuid.Nil, err
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	raw, err := s.embedder.EmbedText(embedCtx, normalized.Question)
	if err != nil {
		return uuid.Nil, fmt.Errorf("embedding question: %w", err)
	}

	return s.insertRow(ctx, s.pool, normalized, pgvector.NewVector(raw))
}

// InsertBatch inserts multiple examples in a single transaction. Embedding
// happens up front so a provider failure aborts before any row is written.
// Returns the new IDs in input order.
func (s *Store) InsertBatch(ctx context.Context, exs []NewExample) ([]uuid.UUID, error) {
	if len(exs) == 0 {
		return nil, nil
	}

	normalized := make([]NewExample, len(exs))
	vectors := make([]pgvector.Vector, len(exs))
	for i, ex := range exs {
		n, err := normalizeNew(ex)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		normalized[i] = n

		embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
		raw, embedErr := s.embedder.EmbedText(embedCtx, n.Question)
		cancel()
		if embedErr != nil {
			return nil, fmt.Errorf("embedding example %d: %w", i, embedErr)
		}
		vectors[i] = pgvector.NewVector(raw)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	ids := make([]uuid.UUID, len(normalized))
	for i, n := range normalized {
		id, insertErr := s.insertRow(ctx, tx, n, vectors[i])
		if insertErr != nil {
			return nil, fmt.Errorf("inserting example %d: %w", i, insertErr)
		}
		ids[i] = id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing example batch: %w", err)
	}
	return ids, nil
}

func (*Store) insertRow(ctx context.Context, q querier, ex NewExample, vec pgvector.Vector) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, insertExampleSQL,
		ex.Question, ex.Answer, ex.Category, ex.Language, vec, ex.Source, ex.SuccessRate,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting example: %w", err)
	}
	return id, nil
}

// IncrementUsage bumps usage_count for the given examples. The increment is
// a single atomic UPDATE, so concurrent calls never lose counts.
func (s *Store) IncrementUsage(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE examples
		 SET usage_count = usage_count + 1, updated_at = now()
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("incrementing usage for %d examples: %w", len(ids), err)
	}
	return nil
}

// UpdateSuccessRate folds one feedback signal into an example's running
// success rate. usage_count was already bumped when the example served its
// response, so the success count is recovered from the stored rate and the
// current count, then the signal is added:
//
//	new_rate = (round(rate * usage_count) + signal) / usage_count
//
// where signal is 1 for helpful, 0 otherwise. When usage_count is zero the
// rate is set directly from the signal. The arithmetic runs in one UPDATE
// so concurrent feedback never reads a stale rate. Rounding can push the
// recovered count past the stored rate, so the result is additionally
// clamped against the previous rate: unhelpful feedback never raises it
// and helpful feedback never lowers it. Returns ErrNotFound for unknown
// IDs.
func (s *Store) UpdateSuccessRate(ctx context.Context, id uuid.UUID, helpful bool) error {
	signal := 0.0
	if helpful {
		signal = 1.0
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE examples
		 SET success_rate = CASE
		         WHEN usage_count = 0 THEN $2::float8
		         WHEN $2::float8 = 0 THEN LEAST(success_rate, GREATEST(0.0,
		             round(success_rate * usage_count) / usage_count))
		         ELSE GREATEST(success_rate, LEAST(1.0,
		             (round(success_rate * usage_count) + 1) / usage_count))
		     END,
		     updated_at = now()
		 WHERE id = $1`,
		id, signal,
	)
	if err != nil {
		return fmt.Errorf("updating success rate for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a single example by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Example, error) {
	var ex Example
	err := s.pool.QueryRow(ctx,
		`SELECT `+exampleCols+` FROM examples WHERE id = $1`,
		id,
	).Scan(
		&ex.ID, &ex.Question, &ex.Answer, &ex.Category, &ex.Language, &ex.Source,
		&ex.UsageCount, &ex.SuccessRate, &ex.CreatedAt, &ex.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting example %s: %w", id, err)
	}
	return &ex, nil
}

// List returns examples ordered by creation time descending, optionally
// filtered by category.
func (s *Store) List(ctx context.Context, category string, limit, offset int) ([]Example, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows pgx.Rows
	var err error

	if category != "" {
		if !ValidCategory(category) {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidExample, category)
		}
		rows, err = s.pool.Query(ctx,
			`SELECT `+exampleCols+`
			 FROM examples
			 WHERE category = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2 OFFSET $3`,
			category, limit, offset,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+exampleCols+`
			 FROM examples
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1 OFFSET $2`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing examples: %w", err)
	}
	defer rows.Close()

	return scanExamples(rows)
}

// Delete removes an example. Returns ErrNotFound if it does not exist.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM examples WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting example %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates corpus counts for the admin API.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		BySource:   make(map[Source]int64),
		ByCategory: make(map[string]int64),
	}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(success_rate), 0) FROM examples`,
	).Scan(&stats.Total, &stats.AvgSuccess)
	if err != nil {
		return nil, fmt.Errorf("counting examples: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, category, COUNT(*) FROM examples GROUP BY source, category`,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating examples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source Source
		var category string
		var count int64
		if err := rows.Scan(&source, &category, &count); err != nil {
			return nil, fmt.Errorf("scanning example stats: %w", err)
		}
		stats.BySource[source] += count
		stats.ByCategory[category] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating example stats: %w", err)
	}
	return stats, nil
}

// normalizeNew validates and fills defaults for an incoming example.
func normalizeNew(ex NewExample) (NewExample, error) {
	ex.Question = strings.TrimSpace(ex.Question)
	ex.Answer = strings.TrimSpace(ex.Answer)

	if ex.Question == "" {
		return ex, fmt.Errorf("%w: question is required", ErrInvalidExample)
	}
	if len(ex.Question) > MaxQuestionLength {
		return ex, fmt.Errorf("%w: question length %d exceeds maximum %d",
			ErrInvalidExample, len(ex.Question), MaxQuestionLength)
	}
	if ex.Answer == "" {
		return ex, fmt.Errorf("%w: answer is required", ErrInvalidExample)
	}
	if ex.Category == "" {
		ex.Category = CategoryGeneral
	}
	if !ValidCategory(ex.Category) {
		return ex, fmt.Errorf("%w: unknown category %q", ErrInvalidExample, ex.Category)
	}
	if ex.Language == "" {
		ex.Language = "en"
	}
	if ex.Source == "" {
		ex.Source = SourceManual
	}
	if !ex.Source.Valid() {
		return ex, fmt.Errorf("%w: unknown source %q", ErrInvalidExample, ex.Source)
	}
	if ex.SuccessRate < 0 || ex.SuccessRate > 1 {
		return ex, fmt.Errorf("%w: success rate %v out of range", ErrInvalidExample, ex.SuccessRate)
	}
	if ex.SuccessRate == 0 {
		ex.SuccessRate = 0.5
	}
	return ex, nil
}

func scanExamples(rows pgx.Rows) ([]Example, error) {
	var examples []Example
	for rows.Next() {
		var ex Example
		if err := rows.Scan(
			&ex.ID, &ex.Question, &ex.Answer, &ex.Category, &ex.Language, &ex.Source,
			&ex.UsageCount, &ex.SuccessRate, &ex.CreatedAt, &ex.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning example: %w", err)
		}
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating examples: %w", err)
	}
	return examples, nil
}

func scanMatches(rows pgx.Rows) ([]Match, error) {
	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(
			&m.ID, &m.Question, &m.Answer, &m.Category, &m.Language, &m.Source,
			&m.UsageCount, &m.SuccessRate, &m.CreatedAt, &m.UpdatedAt,
			&m.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}
