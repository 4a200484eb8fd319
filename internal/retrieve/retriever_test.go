package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/homedesk/homedesk/internal/example"
)

type fakeSearcher struct {
	matches   []example.Match
	err       error
	gotQuery  string
	gotLang   string
	gotLimit  int
	gotMinSim float64
	callCount int
}

func (f *fakeSearcher) Search(ctx context.Context, query, language string, limit int, minSimilarity float64) ([]example.Match, error) {
	f.callCount++
	f.gotQuery = query
	f.gotLang = language
	f.gotLimit = limit
	f.gotMinSim = minSimilarity
	return f.matches, f.err
}

func TestRetrieve(t *testing.T) {
	t.Run("passes configured bounds", func(t *testing.T) {
		fake := &fakeSearcher{matches: []example.Match{{Similarity: 0.9}}}
		r, err := New(fake, 3, 0.75, nil)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		got, err := r.Retrieve(context.Background(), "leaky faucet", "en")
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("got %d matches, want 1", len(got))
		}
		if fake.gotQuery != "leaky faucet" || fake.gotLang != "en" || fake.gotLimit != 3 || fake.gotMinSim != 0.75 {
			t.Errorf("search called with (%q, %q, %d, %v), want (leaky faucet, en, 3, 0.75)",
				fake.gotQuery, fake.gotLang, fake.gotLimit, fake.gotMinSim)
		}
	})

	t.Run("empty query rejected before search", func(t *testing.T) {
		fake := &fakeSearcher{}
		r, _ := New(fake, 3, 0.75, nil)

		_, err := r.Retrieve(context.Background(), "", "en")
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("error = %v, want ErrInvalidQuery", err)
		}
		if fake.callCount != 0 {
			t.Errorf("search called %d times for empty query", fake.callCount)
		}
	})

	t.Run("whitespace query rejected before search", func(t *testing.T) {
		fake := &fakeSearcher{}
		r, _ := New(fake, 3, 0.75, nil)

		_, err := r.Retrieve(context.Background(), "   \t\n", "en")
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("error = %v, want ErrInvalidQuery", err)
		}
		if fake.callCount != 0 {
			t.Errorf("search called %d times for whitespace query", fake.callCount)
		}
	})

	t.Run("empty language defaults to en", func(t *testing.T) {
		fake := &fakeSearcher{}
		r, _ := New(fake, 3, 0.75, nil)

		if _, err := r.Retrieve(context.Background(), "query", ""); err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if fake.gotLang != "en" {
			t.Errorf("language = %q, want en", fake.gotLang)
		}
	})

	t.Run("no matches is not an error", func(t *testing.T) {
		r, _ := New(&fakeSearcher{}, 3, 0.75, nil)

		got, err := r.Retrieve(context.Background(), "anything", "en")
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d matches, want 0", len(got))
		}
	})

	t.Run("search errors propagate", func(t *testing.T) {
		fake := &fakeSearcher{err: errors.New("pool closed")}
		r, _ := New(fake, 3, 0.75, nil)

		if _, err := r.Retrieve(context.Background(), "query", "en"); err == nil {
			t.Error("expected error from failing searcher")
		}
	})
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, 3, 0.75, nil); err == nil {
		t.Error("expected error for nil searcher")
	}
	if _, err := New(&fakeSearcher{}, 3, 1.5, nil); err == nil {
		t.Error("expected error for out-of-range similarity")
	}

	r, err := New(&fakeSearcher{}, 0, 0.75, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r.maxExamples != DefaultMaxExamples {
		t.Errorf("maxExamples = %d, want default %d", r.maxExamples, DefaultMaxExamples)
	}
}
