package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/seanblong/repochat/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore defines the methods that the Store must implement.
type ChunkStore interface {
	GetRepositories(ctx context.Context) ([]string, error)
	Migrate(ctx context.Context, summaryDim int) error
	UpsertChunk(ctx context.Context, c models.Chunk, summaryVec []float32, contentHash string) error
	Search(ctx context.Context, summaryVec []float32, k int, opt QueryOpts) ([]models.SearchResult, error)
	GetChunkMeta(ctx context.Context, repository, ref, path string, ls, le int) (ChunkMeta, bool, error)
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// GetRepositories returns a list of all unique repositories in the database.
func (s *Store) GetRepositories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT repository FROM chunks ORDER BY repository")
}

// GetRefs returns distinct refs for a given repository.
func (s *Store) GetRefs(ctx context.Context, repository string) ([]string, error) {
	return s.distinct(ctx, "SELECT DISTINCT ref FROM chunks WHERE repository = $1 ORDER BY ref", repository)
}

func (s *Store) distinct(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Migrate creates the extensions, table and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context, summaryDim int) error {
	if summaryDim <= 0 {
		return errors.New("store: embedding dimension must be positive")
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(schema, summaryDim))
	return err
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS chunks (
  id            TEXT PRIMARY KEY,
  repository    TEXT NOT NULL,
  ref           TEXT NOT NULL DEFAULT '',
  path          TEXT NOT NULL,
  language      TEXT,
  summary       TEXT,
  content       TEXT,
  line_start    INT,
  line_end      INT,
  summary_vec   vector(%d),
  content_hash  TEXT,
  summarized_at TIMESTAMP WITH TIME ZONE,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now(),
  ts_fielded    tsvector GENERATED ALWAYS AS (
    setweight(to_tsvector('english', regexp_replace(coalesce(path,''), '[^A-Za-z0-9]+', ' ', 'g')), 'A') ||
    setweight(to_tsvector('english', coalesce(summary,'')), 'B') ||
    setweight(to_tsvector('english', coalesce(content,'')), 'C')
  ) STORED
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_repo_path_span_ref_uidx
  ON chunks (repository, ref, path, line_start, line_end);
CREATE INDEX IF NOT EXISTS chunks_repository_idx ON chunks (repository);
CREATE INDEX IF NOT EXISTS chunks_ts_fielded_gin ON chunks USING GIN (ts_fielded);
CREATE INDEX IF NOT EXISTS chunks_path_trgm ON chunks USING GIN (path gin_trgm_ops);
CREATE INDEX IF NOT EXISTS chunks_summary_vec_idx
  ON chunks USING ivfflat (summary_vec vector_cosine_ops) WITH (lists = 100);
`

// UpsertChunk inserts or updates a chunk. A nil vector or empty summary
// keeps what is already stored.
func (s *Store) UpsertChunk(ctx context.Context, c models.Chunk, summaryVec []float32, contentHash string) error {
	var sv any = (*pgvector.Vector)(nil)
	if summaryVec != nil {
		sv = pgvector.NewVector(summaryVec)
	}

	const q = `
		INSERT INTO chunks (
			id, repository, ref, path, language, summary, content,
			line_start, line_end, summary_vec, content_hash, summarized_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,
			CASE WHEN $6 <> '' THEN now() ELSE NULL END
		)
		ON CONFLICT (repository, ref, path, line_start, line_end) DO UPDATE SET
			language      = EXCLUDED.language,
			content       = EXCLUDED.content,
			content_hash  = EXCLUDED.content_hash,
			summary       = COALESCE(NULLIF(EXCLUDED.summary, ''), chunks.summary),
			summarized_at = COALESCE(EXCLUDED.summarized_at, chunks.summarized_at),
			summary_vec   = COALESCE(EXCLUDED.summary_vec, chunks.summary_vec);`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.Repository, c.Ref, c.Path, c.Language, c.Summary, c.Content,
		c.LineStart, c.LineEnd, sv, contentHash,
	)
	return err
}

type QueryOpts struct {
	Repository   string // optional: filter by specific repository
	Ref          string // optional: filter by branch, tag or commit
	Language     string // optional: "shell"|"python"|"go"|...
	PathContains string // optional substring filter
	QueryText    string // raw q for the full text match
}

// where renders the optional filters starting at placeholder $next.
func (o QueryOpts) where(next int) (string, []any) {
	clauses := []string{"TRUE"}
	var args []any
	add := func(expr, v string) {
		if v == "" {
			return
		}
		clauses = append(clauses, fmt.Sprintf(expr, next))
		args = append(args, v)
		next++
	}
	add("repository = $%d", o.Repository)
	add("ref = $%d", o.Ref)
	add("language = $%d", o.Language)
	add("path ILIKE '%%' || $%d || '%%'", o.PathContains)
	return strings.Join(clauses, " AND "), args
}

// Search ranks chunks by summary-vector similarity blended with full text
// and path trigram matches. A nil vector falls back to the text signals.
func (s *Store) Search(ctx context.Context, summaryVec []float32, k int, opt QueryOpts) ([]models.SearchResult, error) {
	qtext := strings.TrimSpace(opt.QueryText)
	if qtext == "" {
		return []models.SearchResult{}, nil
	}
	if k <= 0 {
		k = 5
	}

	var sv any = (*pgvector.Vector)(nil)
	if len(summaryVec) > 0 {
		sv = pgvector.NewVector(summaryVec)
	}

	where, extra := opt.where(4)
	args := append([]any{sv, qtext, k}, extra...)

	q := fmt.Sprintf(`
WITH q AS (
  SELECT $1::vector AS sv, websearch_to_tsquery('english', $2) AS tq, lower($2) AS raw
),
cand AS (
  SELECT
    id, repository, ref, path, language, summary, content, line_start, line_end, created_at,
    CASE WHEN summary_vec IS NULL OR (SELECT sv FROM q) IS NULL THEN 0
         ELSE GREATEST(1.0 - (summary_vec <=> (SELECT sv FROM q)), 0) END AS sem,
    ts_rank_cd(ts_fielded, (SELECT tq FROM q)) AS lex,
    similarity(lower(path), (SELECT raw FROM q)) AS tri
  FROM chunks
  WHERE %s
),
ranked AS (
  SELECT *, MAX(sem) OVER () AS max_sem, MAX(lex) OVER () AS max_lex, MAX(tri) OVER () AS max_tri
  FROM cand
)
SELECT id, repository, ref, path, language, summary, content, line_start, line_end, created_at,
  0.75 * COALESCE(sem / NULLIF(max_sem, 0), 0) +
  0.20 * COALESCE(lex / NULLIF(max_lex, 0), 0) +
  0.05 * COALESCE(tri / NULLIF(max_tri, 0), 0) AS score
FROM ranked
ORDER BY score DESC
LIMIT $3;
`, where)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SearchResult{}
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(
			&c.ID, &c.Repository, &c.Ref, &c.Path, &c.Language, &c.Summary, &c.Content, &c.LineStart, &c.LineEnd, &c.CreatedAt,
			&score,
		); err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// ChunkMeta holds what the indexer needs to skip unchanged chunks.
type ChunkMeta struct {
	ContentHash   string
	Summary       string
	HasSummaryVec bool
}

// GetChunkMeta retrieves metadata for a chunk by repository, ref, path and line span.
func (s *Store) GetChunkMeta(ctx context.Context, repository, ref, path string, ls, le int) (ChunkMeta, bool, error) {
	const q = `
      SELECT COALESCE(content_hash, ''),
             COALESCE(summary, ''),
             summary_vec IS NOT NULL
      FROM chunks
      WHERE repository = $1 AND ref = $2 AND path = $3 AND line_start = $4 AND line_end = $5`
	var m ChunkMeta
	err := s.pool.QueryRow(ctx, q, repository, ref, path, ls, le).
		Scan(&m.ContentHash, &m.Summary, &m.HasSummaryVec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChunkMeta{}, false, nil
		}
		return ChunkMeta{}, false, err
	}
	return m, true, nil
}
