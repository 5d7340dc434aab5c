package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/auth"
	"github.com/seanblong/repochat/internal/chat"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

type mockModel struct {
	calls   int
	lastReq ai.CompletionRequest
	answer  string
	err     error
}

func (m *mockModel) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	m.calls++
	m.lastReq = req
	return m.answer, m.err
}

type mockRetriever struct {
	bundle *models.ContextBundle
	err    error
}

func (m *mockRetriever) Bundle(ctx context.Context, query string) (*models.ContextBundle, error) {
	return m.bundle, m.err
}

type mockRepos struct {
	gotRepo string
}

func (m *mockRepos) GetRepositories(ctx context.Context) ([]string, error) {
	return []string{"inhumantsar/tacostats"}, nil
}

func (m *mockRepos) GetRefs(ctx context.Context, repository string) ([]string, error) {
	m.gotRepo = repository
	return []string{"main"}, nil
}

type mockSearcher struct {
	res []models.SearchResult
	err error
}

func (m *mockSearcher) Query(ctx context.Context, q string, k int, opt store.QueryOpts) ([]models.SearchResult, error) {
	return m.res, m.err
}

func newTestServer(model *mockModel) *server {
	return &server{
		repos:  &mockRepos{},
		search: &mockSearcher{},
		model:  model,
		auth:   auth.New(auth.Config{}),
	}
}

func postChat(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(b)))
	return rec
}

func TestChat_Answer(t *testing.T) {
	model := &mockModel{answer: "Lambdas are declared in `template.yaml`.\n"}
	rec := postChat(t, newTestServer(model).routes(), chatRequest{Query: "show me how the lambda functions are created"})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != model.answer {
		t.Errorf("Expected answer to be passed through unmodified, got %q", resp.Answer)
	}
	if model.calls != 1 {
		t.Errorf("Expected one upstream call, got %d", model.calls)
	}
	if !strings.Contains(model.lastReq.Prompt, "show me how the lambda functions are created") {
		t.Errorf("Expected query in prompt, got %q", model.lastReq.Prompt)
	}
}

func TestChat_ExplicitContextSkipsRetrieval(t *testing.T) {
	model := &mockModel{answer: "ok"}
	srv := newTestServer(model)
	retrieved := false
	srv.retriever = func(repository, ref string, k int) chat.Retriever {
		retrieved = true
		return &mockRetriever{}
	}

	rec := postChat(t, srv.routes(), chatRequest{
		Query:   "what does this do?",
		Context: []models.Snippet{{Path: "template.yaml", Content: "Resources: {}"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if retrieved {
		t.Error("Expected explicit context to bypass retrieval")
	}
	if !strings.Contains(model.lastReq.Prompt, "Resources: {}") {
		t.Errorf("Expected snippet in prompt, got %q", model.lastReq.Prompt)
	}
}

func TestChat_RetrieverScopedByRequest(t *testing.T) {
	model := &mockModel{answer: "ok"}
	srv := newTestServer(model)
	var gotRepo, gotRef string
	var gotK int
	srv.retriever = func(repository, ref string, k int) chat.Retriever {
		gotRepo, gotRef, gotK = repository, ref, k
		return &mockRetriever{bundle: &models.ContextBundle{Snippets: []models.Snippet{{Path: "handler.py", Content: "def handler(): pass"}}}}
	}

	rec := postChat(t, srv.routes(), chatRequest{Query: "q", Repository: "inhumantsar/tacostats", Ref: "main", K: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if gotRepo != "inhumantsar/tacostats" || gotRef != "main" || gotK != 3 {
		t.Errorf("Unexpected retriever scope %q %q %d", gotRepo, gotRef, gotK)
	}
	if !strings.Contains(model.lastReq.Prompt, "def handler(): pass") {
		t.Errorf("Expected retrieved snippet in prompt, got %q", model.lastReq.Prompt)
	}
}

func TestChat_Edit(t *testing.T) {
	model := &mockModel{answer: "%%% template.yaml\nResources: {}\n"}
	rec := postChat(t, newTestServer(model).routes(), chatRequest{Query: "remove all functions", Mode: "edit"})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Files) != 1 || resp.Files[0].Path != "template.yaml" {
		t.Errorf("Unexpected files %+v", resp.Files)
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		model      *mockModel
		retriever  func(string, string, int) chat.Retriever
		wantStatus int
		wantCode   string
		wantCalls  int
	}{
		{"empty query", http.MethodPost, `{"query":"   "}`, &mockModel{answer: "x"}, nil, http.StatusBadRequest, "INVALID_QUERY", 0},
		{"malformed body", http.MethodPost, `{`, &mockModel{answer: "x"}, nil, http.StatusBadRequest, "BAD_REQUEST", 0},
		{"unknown mode", http.MethodPost, `{"query":"q","mode":"rewrite"}`, &mockModel{answer: "x"}, nil, http.StatusBadRequest, "BAD_REQUEST", 0},
		{"upstream failure", http.MethodPost, `{"query":"q"}`, &mockModel{err: &ai.StatusError{StatusCode: 503}}, nil, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", 1},
		{"empty answer", http.MethodPost, `{"query":"q"}`, &mockModel{answer: " \n"}, nil, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", 1},
		{"retrieval failure", http.MethodPost, `{"query":"q"}`, &mockModel{answer: "x"}, func(string, string, int) chat.Retriever {
			return &mockRetriever{err: errors.New("db down")}
		}, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", 0},
		{"wrong method", http.MethodGet, ``, &mockModel{answer: "x"}, nil, http.StatusMethodNotAllowed, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(tt.model)
			srv.retriever = tt.retriever
			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, httptest.NewRequest(tt.method, "/chat", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				var resp errorResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Code != tt.wantCode {
					t.Errorf("Expected code %q, got %q", tt.wantCode, resp.Code)
				}
			}
			if tt.model.calls != tt.wantCalls {
				t.Errorf("Expected %d upstream calls, got %d", tt.wantCalls, tt.model.calls)
			}
		})
	}
}

func TestChat_RequiresAuthWhenEnabled(t *testing.T) {
	srv := newTestServer(&mockModel{answer: "x"})
	srv.auth = auth.New(auth.Config{Enabled: true, JwtSecret: []byte("s")})

	rec := postChat(t, srv.routes(), chatRequest{Query: "q"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestRepositoriesAndRefs(t *testing.T) {
	srv := newTestServer(&mockModel{})
	repos := srv.repos.(*mockRepos)
	h := srv.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/repositories", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "inhumantsar/tacostats") {
		t.Errorf("Unexpected /repositories response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/repositories/inhumantsar%2Ftacostats/refs", nil))
	if rec.Code != http.StatusOK || repos.gotRepo != "inhumantsar/tacostats" {
		t.Errorf("Unexpected refs response %d for repo %q", rec.Code, repos.gotRepo)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/repositories/inhumantsar%2Ftacostats", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	srv := newTestServer(&mockModel{})
	srv.search = &mockSearcher{res: []models.SearchResult{{Chunk: models.Chunk{Path: "template.yaml"}, Score: math.NaN()}}}
	h := srv.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without q, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=lambda&k=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var res []models.SearchResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res) != 1 || res[0].Score != 0 {
		t.Errorf("Expected NaN score to be zeroed, got %+v", res)
	}

	srv.search = &mockSearcher{}
	rec = httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=lambda", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Expected empty array, got %q", rec.Body.String())
	}
}
