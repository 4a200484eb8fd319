package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/homedesk/homedesk/internal/example"
	"github.com/homedesk/homedesk/internal/llm"
)

// ExampleAdmin is the corpus administration surface.
type ExampleAdmin interface {
	List(ctx context.Context, category string, limit, offset int) ([]example.Example, error)
	Insert(ctx context.Context, ex example.NewExample) (uuid.UUID, error)
	InsertBatch(ctx context.Context, exs []example.NewExample) ([]uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, query, language string, limit int, minSimilarity float64) ([]example.Match, error)
	Stats(ctx context.Context) (*example.Stats, error)
}

// ExampleGenerator produces synthetic question/answer pairs for a category.
type ExampleGenerator interface {
	GenerateExamples(ctx context.Context, category string, count int) ([]llm.GeneratedExample, error)
}

type exampleHandler struct {
	store     ExampleAdmin
	generator ExampleGenerator
	logger    *slog.Logger
}

type exampleJSON struct {
	ID          string  `json:"id"`
	Question    string  `json:"question"`
	Answer      string  `json:"answer"`
	Category    string  `json:"category"`
	Language    string  `json:"language"`
	Source      string  `json:"source"`
	UsageCount  int     `json:"usage_count"`
	SuccessRate float64 `json:"success_rate"`
}

// list handles GET /api/v1/examples.
func (h *exampleHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", h.logger)
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer", h.logger)
		return
	}

	examples, err := h.store.List(r.Context(), q.Get("category"), limit, offset)
	if err != nil {
		if errors.Is(err, example.ErrInvalidExample) {
			writeError(w, http.StatusBadRequest, "invalid_category", "unknown category", h.logger)
			return
		}
		h.logger.Error("listing examples", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list examples", h.logger)
		return
	}

	out := make([]exampleJSON, len(examples))
	for i, ex := range examples {
		out[i] = exampleJSON{
			ID:          ex.ID.String(),
			Question:    ex.Question,
			Answer:      ex.Answer,
			Category:    ex.Category,
			Language:    ex.Language,
			Source:      string(ex.Source),
			UsageCount:  ex.UsageCount,
			SuccessRate: ex.SuccessRate,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"examples": out}, h.logger)
}

type createExampleRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`
}

// create handles POST /api/v1/examples. New examples are always manual;
// generated and learned rows enter through the seed command and the
// feedback loop.
func (h *exampleHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createExampleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	id, err := h.store.Insert(r.Context(), example.NewExample{
		Question: req.Question,
		Answer:   req.Answer,
		Category: req.Category,
		Language: req.Language,
		Source:   example.SourceManual,
	})
	if err != nil {
		if errors.Is(err, example.ErrInvalidExample) {
			writeError(w, http.StatusBadRequest, "invalid_example", err.Error(), h.logger)
			return
		}
		h.logger.Error("creating example", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "could not create example", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()}, h.logger)
}

// remove handles DELETE /api/v1/examples/{id}.
func (h *exampleHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid example ID", h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, example.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "example not found", h.logger)
			return
		}
		h.logger.Error("deleting example", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "could not delete example", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Category string `json:"category"`
	Count    int    `json:"count,omitempty"`
}

// generate handles POST /api/v1/examples/generate. The model produces
// synthetic pairs for one category, inserted with source "generated".
func (h *exampleHandler) generate(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "generation_unavailable", "example generation is not configured", h.logger)
		return
	}

	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if !example.ValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "invalid_category", "unknown category", h.logger)
		return
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	if req.Count > 20 {
		writeError(w, http.StatusBadRequest, "invalid_count", "count must be at most 20", h.logger)
		return
	}

	generated, err := h.generator.GenerateExamples(r.Context(), req.Category, req.Count)
	if err != nil {
		h.logger.Error("generating examples", "error", err, "category", req.Category)
		writeError(w, http.StatusBadGateway, "generation_failed", "could not generate examples", h.logger)
		return
	}

	batch := make([]example.NewExample, 0, len(generated))
	for _, gen := range generated {
		batch = append(batch, example.NewExample{
			Question: gen.Question,
			Answer:   gen.Answer,
			Category: req.Category,
			Source:   example.SourceGenerated,
		})
	}

	var ids []uuid.UUID
	if len(batch) > 0 {
		ids, err = h.store.InsertBatch(r.Context(), batch)
		if err != nil {
			h.logger.Error("inserting generated examples", "error", err, "category", req.Category)
			writeError(w, http.StatusInternalServerError, "insert_failed", "could not insert examples", h.logger)
			return
		}
	}

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	writeJSON(w, http.StatusCreated, map[string]any{"inserted": len(out), "ids": out}, h.logger)
}

type searchRequest struct {
	Query         string  `json:"query"`
	Language      string  `json:"language,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

type searchMatch struct {
	exampleJSON
	Similarity float64 `json:"similarity"`
}

// search handles POST /api/v1/examples/search. It exposes raw similarity
// search for inspecting what the retriever would see for a query.
func (h *exampleHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required", h.logger)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	matches, err := h.store.Search(r.Context(), req.Query, req.Language, req.Limit, req.MinSimilarity)
	if err != nil {
		h.logger.Error("searching examples", "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "could not search examples", h.logger)
		return
	}

	out := make([]searchMatch, len(matches))
	for i, m := range matches {
		out[i] = searchMatch{
			exampleJSON: exampleJSON{
				ID:          m.ID.String(),
				Question:    m.Question,
				Answer:      m.Answer,
				Category:    m.Category,
				Language:    m.Language,
				Source:      string(m.Source),
				UsageCount:  m.UsageCount,
				SuccessRate: m.SuccessRate,
			},
			Similarity: m.Similarity,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out}, h.logger)
}

// stats handles GET /api/v1/stats.
func (h *exampleHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("aggregating stats", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "could not aggregate stats", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":       stats.Total,
		"by_source":   stats.BySource,
		"by_category": stats.ByCategory,
		"avg_success": stats.AvgSuccess,
	}, h.logger)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
