package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"
)

// DefaultGenerateTimeout bounds a single completion call.
const DefaultGenerateTimeout = 60 * time.Second

var (
	// ErrGeneration indicates the model call failed.
	ErrGeneration = errors.New("generation failed")
	// ErrGenerationTimeout indicates the model call exceeded its deadline.
	ErrGenerationTimeout = errors.New("generation timed out")
)

// ContextExample is a retrieved question/answer pair injected into the
// system prompt as grounding context.
type ContextExample struct {
	Question string
	Answer   string
}

// SearchResult carries a grounded answer. Sources may be empty when the
// provider does not return citation metadata.
type SearchResult struct {
	Text    string
	Sources []string
}

// GeneratedExample is a synthetic question/answer pair produced for seeding.
type GeneratedExample struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
}

// Completer wraps Genkit text generation for the response engine. It is safe
// for concurrent use.
type Completer struct {
	g            *genkit.Genkit
	modelName    string
	searchModel  string
	groundSearch bool
	timeout      time.Duration
	logger       *slog.Logger
}

// CompleterOption customizes a Completer.
type CompleterOption func(*Completer)

// WithSearchModel sets the model used for search-grounded fallback calls.
func WithSearchModel(name string) CompleterOption {
	return func(c *Completer) { c.searchModel = name }
}

// WithSearchGrounding enables the provider's web search tool on fallback
// calls. Only effective for providers that support it.
func WithSearchGrounding(enabled bool) CompleterOption {
	return func(c *Completer) { c.groundSearch = enabled }
}

// WithGenerateTimeout overrides the per-call deadline.
func WithGenerateTimeout(d time.Duration) CompleterOption {
	return func(c *Completer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCompleter creates a completion gateway.
func NewCompleter(g *genkit.Genkit, modelName string, logger *slog.Logger, opts ...CompleterOption) (*Completer, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Completer{
		g:           g,
		modelName:   modelName,
		searchModel: modelName,
		timeout:     DefaultGenerateTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate produces a reply to query, grounded on the supplied examples.
// Examples and instructions are folded into the system content; the user
// turn carries only the raw query.
func (c *Completer) Generate(ctx context.Context, query string, examples []ContextExample, category, instructions string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("%w: empty query", ErrGeneration)
	}

	system := buildSystemPrompt(examples, category, instructions)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithSystem(system),
		ai.WithPrompt(query),
	)
	if err != nil {
		return "", c.wrapGenerateErr(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return text, nil
}

// GenerateWithSearch produces a reply using web search grounding when the
// provider supports it. Used when no sufficiently similar examples exist.
func (c *Completer) GenerateWithSearch(ctx context.Context, query, category string) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrGeneration)
	}

	system := buildSystemPrompt(nil, category,
		"No similar past answers are available. Answer from general knowledge, "+
			"be upfront about uncertainty, and recommend a professional inspection "+
			"when the problem could be hazardous.")

	opts := []ai.GenerateOption{
		ai.WithModelName(c.searchModel),
		ai.WithSystem(system),
		ai.WithPrompt(query),
	}
	if c.groundSearch {
		opts = append(opts, ai.WithConfig(&genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		}))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return nil, c.wrapGenerateErr(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return &SearchResult{Text: text}, nil
}

// GenerateExamples asks the model for count synthetic question/answer pairs
// in the given category, returned as parsed JSON. Used by the seed command.
func (c *Completer) GenerateExamples(ctx context.Context, category string, count int) ([]GeneratedExample, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrGeneration)
	}

	prompt := fmt.Sprintf(
		"Generate %d realistic customer support question/answer pairs for a home "+
			"services company, category %q. Questions should sound like real customers; "+
			"answers should be helpful, specific, and 2-4 sentences. "+
			"Respond with ONLY a JSON array of objects with keys "+
			"\"question\", \"answer\", \"category\". No markdown fences.",
		count, category)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return nil, c.wrapGenerateErr(err)
	}

	examples, err := parseExampleJSON(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	for i := range examples {
		if examples[i].Category == "" {
			examples[i].Category = category
		}
	}
	return examples, nil
}

func (c *Completer) wrapGenerateErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrGeneration, err)
}

func buildSystemPrompt(examples []ContextExample, category, instructions string) string {
	var b strings.Builder
	b.WriteString("You are a professional home service receptionist for a company ")
	b.WriteString("covering plumbing, HVAC, electrical, and roofing. Provide concise ")
	b.WriteString("answers (2-3 sentences) that a receptionist would give a customer. ")
	b.WriteString("For anything dangerous (gas smell, sparking outlets, major leaks) ")
	b.WriteString("tell the customer to prioritize safety and offer emergency service.")

	if category != "" && category != "general" {
		fmt.Fprintf(&b, "\n\nThe customer's question appears to be about %s.", category)
	}
	if instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(instructions)
	}
	if len(examples) > 0 {
		b.WriteString("\n\nPast answers that worked well for similar questions. ")
		b.WriteString("Use them as grounding; adapt rather than repeat verbatim.\n")
		for i, ex := range examples {
			fmt.Fprintf(&b, "\nExample %d:\nQ: %s\nA: %s\n", i+1, ex.Question, ex.Answer)
		}
	}
	return b.String()
}

// parseExampleJSON extracts the first JSON array from raw model output,
// tolerating surrounding prose or code fences.
func parseExampleJSON(raw string) ([]GeneratedExample, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON array in model output")
	}

	var examples []GeneratedExample
	if err := json.Unmarshal([]byte(raw[start:end+1]), &examples); err != nil {
		return nil, fmt.Errorf("parse examples: %v", err)
	}

	valid := examples[:0]
	for _, ex := range examples {
		if strings.TrimSpace(ex.Question) == "" || strings.TrimSpace(ex.Answer) == "" {
			continue
		}
		valid = append(valid, ex)
	}
	if len(valid) == 0 {
		return nil, errors.New("model output contained no usable examples")
	}
	return valid, nil
}
