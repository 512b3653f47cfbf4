package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/app"
	"github.com/JakeFAU/leadcrawl/internal/canonical"
	"github.com/JakeFAU/leadcrawl/internal/config"
	"github.com/JakeFAU/leadcrawl/internal/crawler"
	"github.com/JakeFAU/leadcrawl/internal/fetch"
	"github.com/JakeFAU/leadcrawl/internal/index"
)

type fakeService struct {
	mu sync.Mutex

	crawlSeed string
	crawlOpts app.Overrides
	crawlErr  error

	indexURLs  []string
	indexCrawl bool
	textURL    string
	textTS     time.Time
	query      index.QueryOptions
}

func (f *fakeService) Crawl(_ context.Context, seed string, o app.Overrides) (crawler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crawlSeed = seed
	f.crawlOpts = o
	if f.crawlErr != nil {
		return crawler.Result{}, f.crawlErr
	}
	return crawler.Result{
		SessionID: "session-1",
		Seed:      seed,
		Pages:     map[string]string{seed: "<html>home</html>"},
		Order:     []string{seed},
	}, nil
}

func (f *fakeService) FetchResults(_ context.Context, urls []string, _ app.Overrides) []fetch.Result {
	out := make([]fetch.Result, 0, len(urls))
	for _, u := range urls {
		if u == "https://down.example/" {
			out = append(out, fetch.Result{URL: u, Status: 503, Err: &fetch.StatusError{URL: u, Status: 503}})
			continue
		}
		out = append(out, fetch.Result{URL: u, HTML: "<p>ok</p>", Status: 200, Source: fetch.SourceHTTP, FinalURL: u})
	}
	return out
}

func (f *fakeService) IndexURLs(_ context.Context, urls []string, crawl bool, _ app.Overrides) ([]app.IndexedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexURLs = urls
	f.indexCrawl = crawl
	pages := make([]app.IndexedPage, 0, len(urls))
	for _, u := range urls {
		pages = append(pages, app.IndexedPage{URL: u, Chunks: 2})
	}
	return pages, nil
}

func (f *fakeService) IndexText(_ context.Context, pageURL, _ string, _ map[string]any, ts time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textURL = pageURL
	f.textTS = ts
	return 3, nil
}

func (f *fakeService) Query(text string, opts index.QueryOptions) []index.QueryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = opts
	if text == "nothing" {
		return nil
	}
	return []index.QueryResult{{URL: "https://acme.example/", Score: 0.9, Text: text}}
}

func (f *fakeService) IndexRows() int { return 7 }

func newTestServer(svc Service, cfg config.APIConfig) *Server {
	return NewServer(svc, cfg, zap.NewNop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_HealthAndReady(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{}, config.APIConfig{})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, decodeBody(t, rec)["index_rows"])
}

func TestServer_MetricsExposed(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{}, config.APIConfig{})
	do(t, s, http.MethodGet, "/healthz", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{}, config.APIConfig{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_CrawlReturnsSizes(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := newTestServer(svc, config.APIConfig{})

	rec := do(t, s, http.MethodPost, "/v1/crawl", `{"seed":"https://acme.example/","max_pages":3,"max_depth":0,"deep_contact":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "session-1", body["session_id"])
	pages := body["pages"].(map[string]any)
	assert.EqualValues(t, len("<html>home</html>"), pages["https://acme.example/"])

	assert.Equal(t, "https://acme.example/", svc.crawlSeed)
	assert.Equal(t, 3, svc.crawlOpts.MaxPages)
	require.NotNil(t, svc.crawlOpts.MaxDepth)
	assert.Equal(t, 0, *svc.crawlOpts.MaxDepth)
	require.NotNil(t, svc.crawlOpts.DeepContact)
	assert.False(t, *svc.crawlOpts.DeepContact)
	assert.Nil(t, svc.crawlOpts.UseCache)
}

func TestServer_CrawlIncludeHTML(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{}, config.APIConfig{})
	rec := do(t, s, http.MethodPost, "/v1/crawl", `{"seed":"https://acme.example/","include_html":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	pages := decodeBody(t, rec)["pages"].(map[string]any)
	assert.Equal(t, "<html>home</html>", pages["https://acme.example/"])
}

func TestServer_CrawlErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "invalid json", body: "{invalid", want: http.StatusBadRequest},
		{name: "unknown field", body: `{"seed":"https://a.example","bogus":1}`, want: http.StatusBadRequest},
		{name: "missing seed", body: `{}`, want: http.StatusBadRequest},
		{
			name: "malformed seed",
			body: `{"seed":"ftp://a.example"}`,
			err:  fmt.Errorf("crawl: %w", canonical.ErrMalformedURL),
			want: http.StatusBadRequest,
		},
		{
			name: "invalid options",
			body: `{"seed":"https://a.example","max_depth":-1}`,
			err:  fmt.Errorf("crawl: %w", crawler.ErrInvalidOptions),
			want: http.StatusBadRequest,
		},
		{name: "internal", body: `{"seed":"https://a.example"}`, err: errors.New("boom"), want: http.StatusInternalServerError},
		{name: "deadline", body: `{"seed":"https://a.example"}`, err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(&fakeService{crawlErr: tc.err}, config.APIConfig{})
			rec := do(t, s, http.MethodPost, "/v1/crawl", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestServer_Fetch(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{}, config.APIConfig{})

	rec := do(t, s, http.MethodPost, "/v1/fetch", `{"urls":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/fetch", `{"urls":["https://acme.example/","https://down.example/"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []fetchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.True(t, body.Results[0].OK)
	assert.Equal(t, "http", body.Results[0].Source)
	assert.Empty(t, body.Results[0].HTML)
	assert.False(t, body.Results[1].OK)
	assert.Equal(t, 503, body.Results[1].Status)
	assert.NotEmpty(t, body.Results[1].Error)
}

func TestServer_IndexURLs(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := newTestServer(svc, config.APIConfig{})

	rec := do(t, s, http.MethodPost, "/v1/index", `{"urls":["https://acme.example/"],"crawl":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://acme.example/"}, svc.indexURLs)
	assert.True(t, svc.indexCrawl)
	assert.Contains(t, rec.Body.String(), `"chunks":2`)
}

func TestServer_IndexText(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := newTestServer(svc, config.APIConfig{})

	rec := do(t, s, http.MethodPost, "/v1/index", `{"text":"hello"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/index", `{"url":"https://acme.example/a","text":"hello","timestamp":"not a date"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/index", `{"url":"https://acme.example/a","text":"hello","timestamp":"2024-03-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decodeBody(t, rec)["chunks"])
	assert.Equal(t, "https://acme.example/a", svc.textURL)
	assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Equal(svc.textTS))

	rec = do(t, s, http.MethodPost, "/v1/index", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Query(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := newTestServer(svc, config.APIConfig{})

	rec := do(t, s, http.MethodPost, "/v1/query", `{"text":"pipes","domain":"acme.example","start":"2024-01-01","end":"2024-12-31T23:59:59Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultTopK, svc.query.TopK)
	assert.Equal(t, "acme.example", svc.query.Domain)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(svc.query.Start))
	assert.True(t, time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC).Equal(svc.query.End))
	results := decodeBody(t, rec)["results"].([]any)
	require.Len(t, results, 1)

	rec = do(t, s, http.MethodPost, "/v1/query", `{"text":"nothing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/v1/query", `{"text":"pipes","start":"yesterday"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{}, config.APIConfig{APIKey: "secret"})

	rec := do(t, s, http.MethodPost, "/v1/query", `{"text":"pipes"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(`{"text":"pipes"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/query?api_key=secret", `{"text":"pipes"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health checks stay open.
	rec = do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

type panicService struct{ fakeService }

func (p *panicService) Query(string, index.QueryOptions) []index.QueryResult {
	panic("kaboom")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	s := newTestServer(&panicService{}, config.APIConfig{})
	rec := do(t, s, http.MethodPost, "/v1/query", `{"text":"pipes"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestServer_UnknownRoute(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{}, config.APIConfig{})
	rec := do(t, s, http.MethodGet, "/v1/crawl", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
