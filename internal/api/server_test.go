package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/homedesk/homedesk/internal/chatlog"
	"github.com/homedesk/homedesk/internal/engine"
	"github.com/homedesk/homedesk/internal/example"
	"github.com/homedesk/homedesk/internal/learning"
	"github.com/homedesk/homedesk/internal/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ----------------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------------

type fakeResponder struct {
	resp *engine.Response
	err  error
	got  *engine.Request
}

func (f *fakeResponder) ProcessMessage(ctx context.Context, req engine.Request) (*engine.Response, error) {
	f.got = &req
	return f.resp, f.err
}

type fakeFeedback struct {
	result *learning.Result
	err    error

	promotedID  uuid.UUID
	promoteErr  error
	gotLogID    uuid.UUID
	gotCategory string
}

func (f *fakeFeedback) SubmitFeedback(ctx context.Context, logID uuid.UUID, fb chatlog.Feedback) (*learning.Result, error) {
	return f.result, f.err
}

func (f *fakeFeedback) PromoteToExample(ctx context.Context, logID uuid.UUID, category string) (uuid.UUID, error) {
	f.gotLogID = logID
	f.gotCategory = category
	return f.promotedID, f.promoteErr
}

type fakeLogReader struct {
	entries []chatlog.Entry
	err     error
}

func (f *fakeLogReader) BySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]chatlog.Entry, error) {
	return f.entries, f.err
}

type fakeExampleAdmin struct {
	examples  []example.Example
	listErr   error
	insertID  uuid.UUID
	insertErr error
	deleteErr error
	stats     *example.Stats
	statsErr  error

	batchIDs  []uuid.UUID
	batchErr  error
	gotBatch  []example.NewExample
	matches   []example.Match
	searchErr error
	gotQuery  string
	gotLang   string
	gotLimit  int
	gotMinSim float64
}

func (f *fakeExampleAdmin) List(ctx context.Context, category string, limit, offset int) ([]example.Example, error) {
	return f.examples, f.listErr
}

func (f *fakeExampleAdmin) Insert(ctx context.Context, ex example.NewExample) (uuid.UUID, error) {
	return f.insertID, f.insertErr
}

func (f *fakeExampleAdmin) Delete(ctx context.Context, id uuid.UUID) error {
	return f.deleteErr
}

func (f *fakeExampleAdmin) InsertBatch(ctx context.Context, exs []example.NewExample) ([]uuid.UUID, error) {
	f.gotBatch = exs
	return f.batchIDs, f.batchErr
}

func (f *fakeExampleAdmin) Search(ctx context.Context, query, language string, limit int, minSimilarity float64) ([]example.Match, error) {
	f.gotQuery = query
	f.gotLang = language
	f.gotLimit = limit
	f.gotMinSim = minSimilarity
	return f.matches, f.searchErr
}

func (f *fakeExampleAdmin) Stats(ctx context.Context) (*example.Stats, error) {
	return f.stats, f.statsErr
}

type fakeGenerator struct {
	generated   []llm.GeneratedExample
	err         error
	gotCategory string
	gotCount    int
}

func (f *fakeGenerator) GenerateExamples(ctx context.Context, category string, count int) ([]llm.GeneratedExample, error) {
	f.gotCategory = category
	f.gotCount = count
	return f.generated, f.err
}

type fakeSender struct {
	sentTo   []string
	sentText []string
	err      error
}

func (f *fakeSender) SendText(ctx context.Context, to, text string) error {
	f.sentTo = append(f.sentTo, to)
	f.sentText = append(f.sentText, text)
	return f.err
}

type serverFakes struct {
	responder *fakeResponder
	feedback  *fakeFeedback
	logs      *fakeLogReader
	examples  *fakeExampleAdmin
	generator *fakeGenerator
	sender    *fakeSender
}

func newTestServer(t *testing.T, mutate func(*ServerConfig, *serverFakes)) (*Server, *serverFakes) {
	t.Helper()

	fakes := &serverFakes{
		responder: &fakeResponder{resp: &engine.Response{
			LogID:     uuid.New(),
			SessionID: uuid.New(),
			Reply:     "stored answer",
			Strategy:  chatlog.StrategyDirectReuse,
		}},
		feedback:  &fakeFeedback{result: &learning.Result{}},
		logs:      &fakeLogReader{},
		examples:  &fakeExampleAdmin{insertID: uuid.New(), stats: &example.Stats{}},
		generator: &fakeGenerator{},
		sender:    &fakeSender{},
	}

	cfg := ServerConfig{
		Responder:   fakes.responder,
		Feedback:    fakes.feedback,
		Logs:        fakes.logs,
		Examples:    fakes.examples,
		Generator:   fakes.generator,
		Sender:      fakes.sender,
		VerifyToken: "secret-token",
		IsDev:       true,
		RateBurst:   1000,
	}
	if mutate != nil {
		mutate(&cfg, fakes)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv, fakes
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// ----------------------------------------------------------------------------
// Server wiring
// ----------------------------------------------------------------------------

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("/health body = %q, want status ok", rec.Body.String())
	}

	rec = doRequest(srv, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/ready status = %d, want 200 without a pool", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/api/v1/nothing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookNotRegisteredWithoutSender(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *ServerConfig, _ *serverFakes) {
		cfg.Sender = nil
	})

	rec := doRequest(srv, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=x", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when webhook is disabled", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/api/v1/stats", "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS set in dev mode: %q", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates when absent", func(t *testing.T) {
		handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := requestIDFromContext(r.Context()); !ok {
				t.Error("request ID missing from context")
			}
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		got := rec.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("X-Request-ID = %q, not a valid UUID", got)
		}
	})

	t.Run("reuses valid incoming ID", func(t *testing.T) {
		handler := requestIDMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		want := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", want)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != want {
			t.Errorf("X-Request-ID = %q, want %q", got, want)
		}
	})

	t.Run("replaces invalid incoming ID", func(t *testing.T) {
		handler := requestIDMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "not-a-uuid")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get("X-Request-ID")
		if got == "not-a-uuid" {
			t.Error("invalid X-Request-ID reused")
		}
		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("X-Request-ID = %q, not a valid UUID", got)
		}
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, fakes := newTestServer(t, nil)
	fakes.responder.resp = nil
	fakes.responder.err = nil // nil resp + nil err forces a panic in the handler

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("panic escaped the middleware: %v", r)
		}
	}()

	rec := doRequest(srv, http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 after panic", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *ServerConfig, _ *serverFakes) {
		cfg.CORSOrigins = []string{"https://app.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q, want the configured origin", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for unknown origin, want empty", got)
	}
}

var errBoom = errors.New("boom")
