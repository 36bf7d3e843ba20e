package chromem_go

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexlapax/engram/pkg/embed"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/semantic"
	chromem "github.com/philippgille/chromem-go"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "engram"

// ChromemGoAdapter implements semantic.Indexer on an embedded chromem-go
// vector database. Embeddings come from an embed.Embedder so that a cache
// or a different provider can be slotted in.
type ChromemGoAdapter struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embed.Embedder
}

// NewChromemGoAdapter creates an adapter on collectionName in db.
func NewChromemGoAdapter(db *chromem.DB, collectionName string, embedder embed.Embedder) (*ChromemGoAdapter, error) {
	if db == nil {
		return nil, errors.New("chromem-go client cannot be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if collectionName == "" {
		collectionName = DefaultCollection
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embed.EmbedOne(ctx, embedder, text)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection %s: %w", collectionName, err)
	}

	log.Debug("Initialized chromem-go semantic indexer", "collection", collectionName, "documents", collection.Count())
	return &ChromemGoAdapter{db: db, collection: collection, embedder: embedder}, nil
}

// Open creates an adapter on a chromem-go database persisted under path.
// An empty path keeps everything in memory.
func Open(path, collectionName string, embedder embed.Embedder) (*ChromemGoAdapter, error) {
	if path == "" {
		return NewChromemGoAdapter(chromem.NewDB(), collectionName, embedder)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem-go database at %s: %w", path, err)
	}
	return NewChromemGoAdapter(db, collectionName, embedder)
}

// Index implements semantic.Indexer.
func (a *ChromemGoAdapter) Index(ctx context.Context, rec *record.MemoryRecord) error {
	text := semantic.Document(rec)
	embedding, err := embed.EmbedOne(ctx, a.embedder, text)
	if err != nil {
		return fmt.Errorf("failed to embed record %s: %w", rec.ID, err)
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   text,
		Embedding: embedding,
		Metadata:  map[string]string{"kind": string(rec.Kind)},
	}
	if err := a.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index record %s: %w", rec.ID, err)
	}
	return nil
}

// Reindex implements semantic.Indexer. chromem-go replaces documents by id.
func (a *ChromemGoAdapter) Reindex(ctx context.Context, rec *record.MemoryRecord) error {
	return a.Index(ctx, rec)
}

// Remove implements semantic.Indexer.
func (a *ChromemGoAdapter) Remove(ctx context.Context, id string) error {
	if _, err := a.collection.GetByID(ctx, id); err != nil {
		return nil
	}
	if err := a.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}
	return nil
}

// SemanticSearch implements semantic.Indexer.
func (a *ChromemGoAdapter) SemanticSearch(ctx context.Context, text string, limit int, minScore float64) ([]semantic.Match, error) {
	embedding, err := embed.EmbedOne(ctx, a.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return a.query(ctx, embedding, "", limit, minScore)
}

// FindSimilar implements semantic.Indexer.
func (a *ChromemGoAdapter) FindSimilar(ctx context.Context, id string, limit int, minSimilarity float64) ([]semantic.Match, error) {
	doc, err := a.collection.GetByID(ctx, id)
	if err != nil {
		// Not indexed yet; nothing is similar.
		return nil, nil
	}
	return a.query(ctx, doc.Embedding, id, limit, minSimilarity)
}

func (a *ChromemGoAdapter) query(ctx context.Context, embedding []float32, exclude string, limit int, minScore float64) ([]semantic.Match, error) {
	n := a.collection.Count()
	if n == 0 || limit <= 0 {
		return nil, nil
	}
	want := limit
	if exclude != "" {
		want++
	}
	// chromem-go rejects nResults larger than the collection.
	if want > n {
		want = n
	}

	results, err := a.collection.QueryEmbedding(ctx, embedding, want, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	out := make([]semantic.Match, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if r.ID == exclude || score < minScore {
			continue
		}
		out = append(out, semantic.Match{ID: r.ID, Score: score})
	}
	semantic.SortMatches(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of indexed documents.
func (a *ChromemGoAdapter) Count() int {
	return a.collection.Count()
}
