package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/loader"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

// maxSummaryInput bounds what is sent to the summarizer for huge files.
const maxSummaryInput = 400_000

// Indexer summarizes, embeds and stores the documents of one repository ref.
type Indexer struct {
	Store      store.ChunkStore
	Repository string
	Ref        string
	Client     ai.Client
	Workers    int
}

// hashContent returns the SHA-1 hash of the given content as a hex string.
func hashContent(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// New creates a new Indexer instance.
func New(s store.ChunkStore, repository, ref string, client ai.Client) *Indexer {
	return &Indexer{
		Store:      s,
		Repository: repository,
		Ref:        ref,
		Client:     client,
	}
}

func (ix *Indexer) workers() int {
	if ix.Workers > 0 {
		return ix.Workers
	}
	// capped to avoid overwhelming the AI API
	return min(runtime.NumCPU(), 8)
}

// processDocument stores every chunk of doc, reusing the stored summary and
// vector when the chunk content has not changed.
func (ix *Indexer) processDocument(ctx context.Context, doc loader.Document) error {
	for _, ch := range naiveChunk(doc.Content) {
		hash := hashContent(ch.Content)

		var needSummary, needEmbed bool
		meta, found, err := ix.Store.GetChunkMeta(ctx, ix.Repository, ix.Ref, doc.Path, ch.LineStart, ch.LineEnd)
		if err != nil {
			needSummary, needEmbed = true, true
		} else {
			needSummary = !found || meta.ContentHash != hash || meta.Summary == ""
			needEmbed = !found || meta.ContentHash != hash || !meta.HasSummaryVec
		}

		summary := meta.Summary
		if needSummary {
			summary = ix.summarize(ctx, doc, ch.Content)
		}

		var summaryVec []float32
		if needEmbed {
			if summaryVec, err = ix.Client.Embed(summary); err != nil {
				log.Warn().Err(err).Str("path", doc.Path).Msg("embedding failed, storing chunk without vector")
				summaryVec = nil
			}
		}

		m := models.Chunk{
			ID: chunkID(ix.Repository, ix.Ref, doc.Path, ch.LineStart, ch.LineEnd), Repository: ix.Repository, Ref: ix.Ref,
			Path: doc.Path, Language: doc.Language, Summary: summary, Content: ch.Content,
			LineStart: ch.LineStart, LineEnd: ch.LineEnd,
		}
		log.Info().Str("path", doc.Path).
			Int("lines", ch.LineEnd-ch.LineStart+1).
			Bool("need_summary", needSummary).
			Bool("need_embed", needEmbed).
			Msg("indexing chunk")
		if err := ix.Store.UpsertChunk(ctx, m, summaryVec, hash); err != nil {
			return fmt.Errorf("upsert %s: %w", doc.Path, err)
		}
	}
	return nil
}

func (ix *Indexer) summarize(ctx context.Context, doc loader.Document, content string) string {
	if ix.Client == nil {
		log.Warn().Str("path", doc.Path).Msg("no summarizer client, using heuristic")
		return summarizeHeuristic(content)
	}
	if len(content) > maxSummaryInput {
		content = content[:maxSummaryInput]
	}
	s, err := ix.Client.Summarize(ctx, doc.Path, doc.Language, content)
	if err != nil || strings.TrimSpace(s) == "" {
		log.Warn().Err(err).Str("path", doc.Path).Msg("summarization failed, using heuristic")
		return summarizeHeuristic(content)
	}
	return s
}

// Run fans the documents out to a bounded pool of workers. The first
// worker error is returned after all workers stop.
func (ix *Indexer) Run(ctx context.Context, docs []loader.Document) error {
	n := ix.workers()
	log.Info().Int("workers", n).Int("documents", len(docs)).Msg("starting concurrent indexing")

	workChan := make(chan loader.Document, n*2)
	errorChan := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for doc := range workChan {
				if err := ix.processDocument(ctx, doc); err != nil {
					select {
					case errorChan <- err:
					default:
						log.Error().Err(err).Str("path", doc.Path).Msg("worker processing error")
					}
				}
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	var sendErr error
feed:
	for _, doc := range docs {
		select {
		case workChan <- doc:
		case <-ctx.Done():
			sendErr = ctx.Err()
			break feed
		}
	}
	close(workChan)
	wg.Wait()

	select {
	case err := <-errorChan:
		return err
	default:
	}
	return sendErr
}

// chunk holds a piece of a file.
type chunk struct {
	Content            string
	LineStart, LineEnd int
}

// naiveChunk keeps the whole file as a single chunk.
func naiveChunk(content string) []chunk {
	lines := strings.Count(content, "\n") + 1
	return []chunk{{Content: content, LineStart: 1, LineEnd: lines}}
}

// summarizeHeuristic provides a simple heuristic summary by truncating the content.
func summarizeHeuristic(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 240 {
		s = s[:240]
	}
	return s
}

func chunkID(repository, ref, path string, a, b int) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s@%s:%s#%d:%d", repository, ref, path, a, b)))
	return hex.EncodeToString(h[:])
}
