package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/ingest"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/openai"
	"github.com/nebulus/gantry/internal/platform/vectorindex"
)

const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.30
	DefaultRecencyWindow = 7 * 24 * time.Hour
	DefaultRecencyBoost  = 0.2

	// Overfetch so the similarity floor and dedupe still leave TopK hits.
	overfetchFactor = 3
)

type Options struct {
	TopK          int
	MinSimilarity float64
	RecencyWindow time.Duration
	RecencyBoost  float64
	// Filter narrows hits by index metadata, e.g. source_kind or
	// document_id.
	Filter map[string]any
}

func DefaultOptions() Options {
	return Options{
		TopK:          DefaultTopK,
		MinSimilarity: DefaultMinSimilarity,
		RecencyWindow: DefaultRecencyWindow,
		RecencyBoost:  DefaultRecencyBoost,
	}
}

// Hit pairs a stored chunk with its raw similarity and its final ranking
// score after the recency boost.
type Hit struct {
	Chunk      *memory.Chunk
	Similarity float64
	Score      float64
}

type Retriever interface {
	// Retrieve returns the user's most relevant chunks for a query.
	// Failures degrade to an empty result so generation never blocks on
	// the index.
	Retrieve(ctx context.Context, userID uuid.UUID, query string, opts Options) []Hit
}

type retriever struct {
	chunks repos.ChunkRepo
	index  vectorindex.Store
	ai     openai.Client
	log    *logger.Logger
	now    func() time.Time
}

func NewRetriever(chunks repos.ChunkRepo, index vectorindex.Store, ai openai.Client, log *logger.Logger) Retriever {
	return &retriever{
		chunks: chunks,
		index:  index,
		ai:     ai,
		log:    log.With("service", "Retriever"),
		now:    time.Now,
	}
}

func (r *retriever) Retrieve(ctx context.Context, userID uuid.UUID, query string, opts Options) []Hit {
	if userID == uuid.Nil || query == "" {
		return nil
	}
	opts = withDefaults(opts)

	embeddings, err := r.ai.Embed(ctx, []string{query})
	if err != nil || len(embeddings) == 0 {
		r.log.Warn("query embedding failed (degrading to empty)", "error", err)
		return nil
	}

	matches, err := r.index.Query(ctx, ingest.Namespace(userID), embeddings[0], opts.TopK*overfetchFactor, opts.Filter)
	if err != nil {
		r.log.Warn("vector query failed (degrading to empty)", "error", err)
		return nil
	}

	// The similarity floor applies to the raw score, before any boost.
	simByID := make(map[string]float64, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Score < opts.MinSimilarity {
			continue
		}
		if _, ok := simByID[m.ID]; ok {
			continue
		}
		simByID[m.ID] = m.Score
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.chunks.GetByVectorIDs(dbctx.Context{Ctx: ctx}, userID, ids)
	if err != nil {
		r.log.Warn("chunk load failed (degrading to empty)", "error", err)
		return nil
	}

	cutoff := r.now().Add(-opts.RecencyWindow)
	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		sim := simByID[row.VectorID]
		score := sim
		if row.CreatedAt.After(cutoff) {
			score += opts.RecencyBoost
		}
		hits = append(hits, Hit{Chunk: row, Similarity: sim, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.CreatedAt.After(hits[j].Chunk.CreatedAt)
	})
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits
}

func withDefaults(o Options) Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	if o.RecencyWindow <= 0 {
		o.RecencyWindow = DefaultRecencyWindow
	}
	if o.RecencyBoost < 0 {
		o.RecencyBoost = DefaultRecencyBoost
	}
	return o
}
