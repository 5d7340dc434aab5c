package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

const DefaultK = 5

type Service struct {
	Client ai.Client
	Store  store.ChunkStore

	// K and Scope apply to Bundle.
	K     int
	Scope store.QueryOpts
}

// NewService creates a new search service with the provided AI client and store
func NewService(client ai.Client, store store.ChunkStore) *Service {
	return &Service{
		Client: client,
		Store:  store,
		K:      DefaultK,
	}
}

// Query embeds q and returns the k best chunks. An embedding failure
// degrades to text-only ranking instead of failing the search.
func (s *Service) Query(ctx context.Context, q string, k int, opt store.QueryOpts) ([]models.SearchResult, error) {
	q = strings.TrimSpace(q)
	opt.QueryText = q

	head, err := s.Client.Embed(q)
	if err != nil {
		log.Warn().Err(err).Str("query", q).Msg("query embedding failed, falling back to text ranking")
		head = nil
	}

	return s.Store.Search(ctx, head, k, opt)
}

// Bundle assembles chat context from the best chunks for query within Scope.
func (s *Service) Bundle(ctx context.Context, query string) (*models.ContextBundle, error) {
	k := s.K
	if k <= 0 {
		k = DefaultK
	}
	res, err := s.Query(ctx, query, k, s.Scope)
	if err != nil {
		return nil, err
	}

	b := &models.ContextBundle{Snippets: make([]models.Snippet, 0, len(res))}
	for _, r := range res {
		b.Snippets = append(b.Snippets, models.SnippetFromChunk(r.Chunk))
	}
	if len(b.Snippets) == 0 {
		log.Warn().
			Str("repository", s.Scope.Repository).
			Str("ref", s.Scope.Ref).
			Msg("no indexed chunks matched; answering without context")
		return b, nil
	}
	log.Debug().Str("query", query).Int("snippets", len(b.Snippets)).Msg("assembled context")
	return b, nil
}
