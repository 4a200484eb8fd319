// Package example manages the question/answer corpus backed by
// PostgreSQL + pgvector. Examples are the retrieval substrate for the
// response engine: every incoming question is matched against them by
// cosine similarity, and the feedback loop feeds quality signals back
// into usage_count and success_rate.
package example

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Source identifies how an example entered the corpus.
type Source string

const (
	// SourceManual marks examples entered by an operator.
	SourceManual Source = "manual"
	// SourceGenerated marks examples produced by the seed command.
	SourceGenerated Source = "generated"
	// SourceLearned marks examples promoted from well-rated conversations.
	SourceLearned Source = "learned"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceGenerated, SourceLearned:
		return true
	}
	return false
}

// Known categories. CategoryGeneral is the fallback when no keyword matches.
const (
	CategoryPlumbing   = "plumbing"
	CategoryHVAC       = "hvac"
	CategoryElectrical = "electrical"
	CategoryRoofing    = "roofing"
	CategoryGeneral    = "general"
)

// Categories lists all known categories, fallback last.
func Categories() []string {
	return []string{CategoryPlumbing, CategoryHVAC, CategoryElectrical, CategoryRoofing, CategoryGeneral}
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryPlumbing, CategoryHVAC, CategoryElectrical, CategoryRoofing, CategoryGeneral:
		return true
	}
	return false
}

var (
	// ErrNotFound indicates the example does not exist.
	ErrNotFound = errors.New("example not found")
	// ErrInvalidExample indicates required fields are missing or malformed.
	ErrInvalidExample = errors.New("invalid example")
)

// Example is a stored question/answer pair.
type Example struct {
	ID          uuid.UUID
	Question    string
	Answer      string
	Category    string
	Language    string
	Source      Source
	UsageCount  int
	SuccessRate float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Match is an example returned from similarity search, with its cosine
// similarity to the query in [0, 1].
type Match struct {
	Example
	Similarity float64
}

// NewExample describes an example to insert. Category and Language default
// to "general" and "en" when empty.
type NewExample struct {
	Question    string
	Answer      string
	Category    string
	Language    string
	Source      Source
	SuccessRate float64
}

// Stats summarizes the corpus for the admin API.
type Stats struct {
	Total      int64
	BySource   map[Source]int64
	ByCategory map[string]int64
	AvgSuccess float64
}
