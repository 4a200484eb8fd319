// Package engine implements the confidence-tiered response pipeline.
// Every message is classified, matched against the example corpus, and
// answered by one of three strategies: a near-exact match is reused
// verbatim, weaker matches ground a generated reply, and with no usable
// match the model answers from general knowledge. Each exchange lands in
// the chat log so feedback can close the learning loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/homedesk/homedesk/internal/chatlog"
	"github.com/homedesk/homedesk/internal/example"
	"github.com/homedesk/homedesk/internal/llm"
)

// DirectReuseThreshold is the similarity above which a stored answer is
// returned verbatim. The comparison is strict: a match at exactly the
// threshold still goes through generation.
const DirectReuseThreshold = 0.85

// RAGContextLimit caps how many matches ground a generated reply and how
// many examples get a usage credit for it.
const RAGContextLimit = 3

// Fixed confidence scores for the generated strategies. Direct reuse
// reports the actual match similarity instead.
const (
	ConfidenceRAG    = 0.75
	ConfidenceSearch = 0.6
)

// ErrEmptyMessage indicates the incoming message had no content.
var ErrEmptyMessage = errors.New("empty message")

// Retriever finds corpus matches for a query in a given language.
type Retriever interface {
	Retrieve(ctx context.Context, query, language string) ([]example.Match, error)
}

// Completer generates replies, with or without retrieved context.
type Completer interface {
	Generate(ctx context.Context, query string, examples []llm.ContextExample, category, instructions string) (string, error)
	GenerateWithSearch(ctx context.Context, query, category string) (*llm.SearchResult, error)
}

// Recorder appends exchanges to the chat log.
type Recorder interface {
	Record(ctx context.Context, e chatlog.NewEntry) (uuid.UUID, error)
}

// UsageTracker bumps usage counters on examples that served a response.
type UsageTracker interface {
	IncrementUsage(ctx context.Context, ids []uuid.UUID) error
}

// Request is one incoming user message. A nil SessionID starts a new
// session. An empty Language is auto-detected from the message.
type Request struct {
	SessionID uuid.UUID
	Message   string
	Language  string
}

// Response is the engine's answer plus everything a client needs to render
// it and submit feedback later.
type Response struct {
	LogID        uuid.UUID
	SessionID    uuid.UUID
	Reply        string
	Strategy     chatlog.Strategy
	Confidence   float64
	Category     string
	Language     string
	Actions      []string
	Sources      []string
	ExamplesUsed []uuid.UUID
}

// Engine orchestrates retrieval, generation, and logging.
type Engine struct {
	retriever Retriever
	completer Completer
	recorder  Recorder
	usage     UsageTracker
	logger    *slog.Logger
}

// New creates an Engine.
func New(retriever Retriever, completer Completer, recorder Recorder, usage UsageTracker, logger *slog.Logger) (*Engine, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage tracker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		retriever: retriever,
		completer: completer,
		recorder:  recorder,
		usage:     usage,
		logger:    logger,
	}, nil
}

// ProcessMessage runs the full pipeline for one message.
//
// Strategy selection:
//   - top match similarity above DirectReuseThreshold: return the stored
//     answer verbatim, confidence = similarity
//   - any match at or above the retrieval floor: generate with up to
//     RAGContextLimit matches as context, confidence = ConfidenceRAG
//   - otherwise: generate from general knowledge, confidence = ConfidenceSearch
//
// A retrieval failure degrades to the fallback strategy rather than
// failing the request; a generation failure is fatal and propagates.
// Usage counting and chat logging are best-effort;
// a logging failure returns the response with a nil LogID.
func (e *Engine) ProcessMessage(ctx context.Context, req Request) (*Response, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}
	if req.SessionID == uuid.Nil {
		req.SessionID = uuid.New()
	}

	if req.Language == "" {
		req.Language = DetectLanguage(req.Message)
	}

	resp := &Response{
		SessionID: req.SessionID,
		Category:  DetectCategory(req.Message),
		Language:  req.Language,
		Actions:   SuggestedActions(req.Message),
	}

	matches, err := e.retriever.Retrieve(ctx, req.Message, req.Language)
	if err != nil {
		e.logger.Warn("retrieval failed, falling back to search",
			"error", err, "session_id", req.SessionID)
		matches = nil
	}

	if err := e.respond(ctx, req, resp, matches); err != nil {
		return nil, err
	}

	e.trackUsage(ctx, resp.ExamplesUsed)
	e.record(ctx, req, resp)

	e.logger.Info("message processed",
		"session_id", req.SessionID,
		"strategy", resp.Strategy,
		"confidence", resp.Confidence,
		"category", resp.Category,
		"matches", len(matches))
	return resp, nil
}

// respond fills Reply, Strategy, Confidence, Sources, and ExamplesUsed.
func (e *Engine) respond(ctx context.Context, req Request, resp *Response, matches []example.Match) error {
	if len(matches) > 0 && matches[0].Similarity > DirectReuseThreshold {
		top := matches[0]
		resp.Reply = top.Answer
		resp.Strategy = chatlog.StrategyDirectReuse
		resp.Confidence = top.Similarity
		resp.ExamplesUsed = []uuid.UUID{top.ID}
		return nil
	}

	if len(matches) > 0 {
		if len(matches) > RAGContextLimit {
			matches = matches[:RAGContextLimit]
		}
		reply, err := e.generateAugmented(ctx, req, resp, matches)
		if err != nil {
			return fmt.Errorf("generating augmented response: %w", err)
		}
		resp.Reply = reply
		resp.Strategy = chatlog.StrategyRAGAugmented
		resp.Confidence = ConfidenceRAG
		resp.ExamplesUsed = matchIDs(matches)
		return nil
	}

	result, err := e.completer.GenerateWithSearch(ctx, req.Message, resp.Category)
	if err != nil {
		return fmt.Errorf("generating fallback response: %w", err)
	}
	resp.Reply = result.Text
	resp.Strategy = chatlog.StrategySearchFallback
	resp.Confidence = ConfidenceSearch
	resp.Sources = result.Sources
	return nil
}

func (e *Engine) generateAugmented(ctx context.Context, req Request, resp *Response, matches []example.Match) (string, error) {
	contextExamples := make([]llm.ContextExample, len(matches))
	for i, m := range matches {
		contextExamples[i] = llm.ContextExample{Question: m.Question, Answer: m.Answer}
	}
	return e.completer.Generate(ctx, req.Message, contextExamples, resp.Category, languageInstruction(resp.Language))
}

// languageInstruction tells the model to answer in the detected language.
func languageInstruction(lang string) string {
	if lang == "" || lang == "en" {
		return ""
	}
	return fmt.Sprintf("The customer wrote in language %q. Respond in that language.", lang)
}

func (e *Engine) trackUsage(ctx context.Context, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	if err := e.usage.IncrementUsage(ctx, ids); err != nil {
		e.logger.Warn("usage tracking failed", "error", err, "examples", len(ids))
	}
}

func (e *Engine) record(ctx context.Context, req Request, resp *Response) {
	id, err := e.recorder.Record(ctx, chatlog.NewEntry{
		SessionID:    req.SessionID,
		UserMessage:  req.Message,
		BotResponse:  resp.Reply,
		Language:     resp.Language,
		Confidence:   resp.Confidence,
		Strategy:     resp.Strategy,
		ExamplesUsed: resp.ExamplesUsed,
	})
	if err != nil {
		e.logger.Error("chat logging failed", "error", err, "session_id", req.SessionID)
		return
	}
	resp.LogID = id
}

func matchIDs(matches []example.Match) []uuid.UUID {
	ids := make([]uuid.UUID, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids
}
