package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/homedesk/homedesk/internal/example"
	"github.com/homedesk/homedesk/internal/llm"
)

func TestExamplesList(t *testing.T) {
	srv, fakes := newTestServer(t, nil)
	fakes.examples.examples = []example.Example{
		{ID: uuid.New(), Question: "Q", Answer: "A", Category: "plumbing", Language: "en", Source: example.SourceManual, SuccessRate: 0.5},
	}

	rec := doRequest(srv, http.MethodGet, "/api/v1/examples?category=plumbing&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Examples []exampleJSON `json:"examples"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(got.Examples) != 1 || got.Examples[0].Category != "plumbing" {
		t.Errorf("examples = %+v, want the plumbing example", got.Examples)
	}

	rec = doRequest(srv, http.MethodGet, "/api/v1/examples?limit=-3", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for negative limit", rec.Code)
	}
}

func TestExamplesCreate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, fakes := newTestServer(t, nil)

		rec := doRequest(srv, http.MethodPost, "/api/v1/examples",
			`{"question":"Why does my breaker trip?","answer":"Usually an overloaded circuit.","category":"electrical"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
		}

		var got map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if got["id"] != fakes.examples.insertID.String() {
			t.Errorf("id = %q, want the inserted ID", got["id"])
		}
	})

	t.Run("validation error maps to 400", func(t *testing.T) {
		srv, fakes := newTestServer(t, nil)
		fakes.examples.insertErr = example.ErrInvalidExample

		rec := doRequest(srv, http.MethodPost, "/api/v1/examples", `{"question":"","answer":""}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestExamplesDelete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		rec := doRequest(srv, http.MethodDelete, "/api/v1/examples/"+uuid.New().String(), "")
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		srv, fakes := newTestServer(t, nil)
		fakes.examples.deleteErr = example.ErrNotFound

		rec := doRequest(srv, http.MethodDelete, "/api/v1/examples/"+uuid.New().String(), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("invalid ID", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		rec := doRequest(srv, http.MethodDelete, "/api/v1/examples/nope", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestExamplesGenerate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, fakes := newTestServer(t, nil)
		fakes.generator.generated = []llm.GeneratedExample{
			{Question: "My AC is blowing warm air", Answer: "Check the filter and refrigerant."},
			{Question: "Thermostat shows blank screen", Answer: "Replace the batteries first."},
		}
		fakes.examples.batchIDs = []uuid.UUID{uuid.New(), uuid.New()}

		rec := doRequest(srv, http.MethodPost, "/api/v1/examples/generate", `{"category":"hvac","count":2}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
		}
		if fakes.generator.gotCategory != "hvac" || fakes.generator.gotCount != 2 {
			t.Errorf("generator called with (%q, %d), want (hvac, 2)", fakes.generator.gotCategory, fakes.generator.gotCount)
		}
		if len(fakes.examples.gotBatch) != 2 {
			t.Fatalf("inserted %d examples, want 2", len(fakes.examples.gotBatch))
		}
		for _, ex := range fakes.examples.gotBatch {
			if ex.Source != example.SourceGenerated {
				t.Errorf("source = %q, want generated", ex.Source)
			}
			if ex.Category != "hvac" {
				t.Errorf("category = %q, want hvac", ex.Category)
			}
		}

		var got struct {
			Inserted int      `json:"inserted"`
			IDs      []string `json:"ids"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if got.Inserted != 2 || len(got.IDs) != 2 {
			t.Errorf("response = %+v, want 2 inserted IDs", got)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		rec := doRequest(srv, http.MethodPost, "/api/v1/examples/generate", `{"category":"astrology"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("count too large", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		rec := doRequest(srv, http.MethodPost, "/api/v1/examples/generate", `{"category":"hvac","count":100}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("generation failure maps to 502", func(t *testing.T) {
		srv, fakes := newTestServer(t, nil)
		fakes.generator.err = errBoom

		rec := doRequest(srv, http.MethodPost, "/api/v1/examples/generate", `{"category":"hvac"}`)
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
	})

	t.Run("unavailable without a generator", func(t *testing.T) {
		srv, _ := newTestServer(t, func(cfg *ServerConfig, _ *serverFakes) {
			cfg.Generator = nil
		})

		rec := doRequest(srv, http.MethodPost, "/api/v1/examples/generate", `{"category":"hvac"}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestExamplesSearch(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, fakes := newTestServer(t, nil)
		fakes.examples.matches = []example.Match{
			{
				Example:    example.Example{ID: uuid.New(), Question: "Q", Answer: "A", Category: "plumbing", Language: "en", Source: example.SourceManual},
				Similarity: 0.91,
			},
		}

		rec := doRequest(srv, http.MethodPost, "/api/v1/examples/search",
			`{"query":"leaky faucet","language":"en","limit":3,"min_similarity":0.7}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
		}
		if fakes.examples.gotQuery != "leaky faucet" || fakes.examples.gotLang != "en" {
			t.Errorf("search called with (%q, %q)", fakes.examples.gotQuery, fakes.examples.gotLang)
		}
		if fakes.examples.gotLimit != 3 || fakes.examples.gotMinSim != 0.7 {
			t.Errorf("search bounds = (%d, %v), want (3, 0.7)", fakes.examples.gotLimit, fakes.examples.gotMinSim)
		}

		var got struct {
			Matches []searchMatch `json:"matches"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if len(got.Matches) != 1 || got.Matches[0].Similarity != 0.91 {
			t.Errorf("matches = %+v, want one match at 0.91", got.Matches)
		}
	})

	t.Run("missing query", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		rec := doRequest(srv, http.MethodPost, "/api/v1/examples/search", `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("default limit applied", func(t *testing.T) {
		srv, fakes := newTestServer(t, nil)
		rec := doRequest(srv, http.MethodPost, "/api/v1/examples/search", `{"query":"hi"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if fakes.examples.gotLimit != 5 {
			t.Errorf("limit = %d, want default 5", fakes.examples.gotLimit)
		}
	})
}

func TestStatsEndpoint(t *testing.T) {
	srv, fakes := newTestServer(t, nil)
	fakes.examples.stats = &example.Stats{
		Total:      12,
		BySource:   map[example.Source]int64{example.SourceLearned: 3},
		ByCategory: map[string]int64{"plumbing": 7},
		AvgSuccess: 0.64,
	}

	rec := doRequest(srv, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got struct {
		Total      int64            `json:"total"`
		BySource   map[string]int64 `json:"by_source"`
		AvgSuccess float64          `json:"avg_success"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Total != 12 || got.BySource["learned"] != 3 || got.AvgSuccess != 0.64 {
		t.Errorf("stats = %+v, want totals from the store", got)
	}
}
