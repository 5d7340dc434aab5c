package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/seanblong/repochat/internal/auth"
	"github.com/seanblong/repochat/internal/chat"
	"github.com/seanblong/repochat/internal/edit"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

type repoLister interface {
	GetRepositories(ctx context.Context) ([]string, error)
	GetRefs(ctx context.Context, repository string) ([]string, error)
}

type searcher interface {
	Query(ctx context.Context, q string, k int, opt store.QueryOpts) ([]models.SearchResult, error)
}

type server struct {
	repos  repoLister
	search searcher
	model  chat.Completer
	auth   *auth.Authenticator

	// retriever scopes context retrieval for one /chat request; nil
	// disables retrieval.
	retriever   func(repository, ref string, k int) chat.Retriever
	chatOptions []chat.Option
	chatTimeout time.Duration
}

type chatRequest struct {
	Query      string           `json:"query"`
	Repository string           `json:"repository"`
	Ref        string           `json:"ref"`
	K          int              `json:"k"`
	Context    []models.Snippet `json:"context"`
	Mode       string           `json:"mode"`
}

type chatResponse struct {
	Answer string      `json:"answer,omitempty"`
	Files  []edit.File `json:"files,omitempty"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	s.auth.Register(mux)
	mux.HandleFunc("/repositories", s.auth.Middleware(s.handleRepositories))
	mux.HandleFunc("/repositories/", s.auth.Middleware(s.handleRefs))
	mux.HandleFunc("/search", s.auth.Middleware(s.handleSearch))
	mux.HandleFunc("/chat", s.auth.Middleware(s.handleChat))
	return mux
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	opts := s.chatOptions
	var bundle *models.ContextBundle
	if len(req.Context) > 0 {
		bundle = &models.ContextBundle{Snippets: req.Context}
	} else if s.retriever != nil {
		opts = append(opts[:len(opts):len(opts)], chat.WithRetriever(s.retriever(req.Repository, req.Ref, req.K)))
	}

	sess, err := chat.New(s.model, opts...)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	ctx := r.Context()
	if s.chatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.chatTimeout)
		defer cancel()
	}

	var resp chatResponse
	switch strings.ToLower(req.Mode) {
	case "", "ask":
		resp.Answer, err = sess.Ask(ctx, req.Query, bundle)
	case "edit":
		resp.Files, err = sess.Edit(ctx, req.Query, bundle)
	default:
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "unknown mode "+strconv.Quote(req.Mode))
		return
	}
	if err != nil {
		writeChatError(w, r, err)
		return
	}

	if u := auth.UserFromContext(r.Context()); u != nil {
		hlog.FromRequest(r).Info().Str("user", u.Login).Str("mode", req.Mode).Msg("chat served")
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *chat.Error
	switch {
	case errors.Is(err, chat.ErrInvalidQuery):
		writeError(w, r, http.StatusBadRequest, string(chat.CodeInvalidQuery), "query must not be empty")
	case errors.As(err, &ce) && ce.Code == chat.CodeUpstreamUnavailable:
		hlog.FromRequest(r).Error().Err(err).Str("reason", ce.Reason).Msg("upstream unavailable")
		writeError(w, r, http.StatusBadGateway, string(ce.Code), ce.Reason)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("chat failed")
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (s *server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	repos, err := s.repos.GetRepositories(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, repos)
}

// handleRefs serves /repositories/{repo}/refs where {repo} may be
// "owner%2Frepo" or a plain "owner/repo".
func (s *server) handleRefs(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimSuffix(strings.TrimPrefix(r.URL.EscapedPath(), "/repositories/"), "/")
	if !strings.HasSuffix(rel, "/refs") {
		http.NotFound(w, r)
		return
	}
	repoName, err := url.PathUnescape(strings.TrimPrefix(strings.TrimSuffix(rel, "/refs"), "/"))
	if err != nil || repoName == "" {
		http.Error(w, "Invalid repository path", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	refs, err := s.repos.GetRefs(ctx, repoName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, refs)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query().Get("q")
	k := 5
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			k = n
		}
	}
	if q == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	opt := store.QueryOpts{
		Language:     r.URL.Query().Get("language"),
		PathContains: r.URL.Query().Get("path_contains"),
		Repository:   r.URL.Query().Get("repository"),
		Ref:          r.URL.Query().Get("ref"),
	}
	res, err := s.search.Query(ctx, q, k, opt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if res == nil {
		res = []models.SearchResult{}
	}
	for i := range res {
		if math.IsNaN(res[i].Score) || math.IsInf(res[i].Score, 0) {
			res[i].Score = 0
		}
	}
	writeJSON(w, r, http.StatusOK, res)

	hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).Int("k", k).Dur("dur", time.Since(start)).Msg("served")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, r, status, errorResponse{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}
