// Package semantic defines the semantic indexer collaborator: an external
// similarity search over record content. The engine never depends on it
// for correctness; failures fall back to local retrieval.
package semantic

import (
	"context"
	"sort"

	"github.com/lexlapax/engram/pkg/mem/record"
)

// Match is a similarity hit. Score is in [0,1] for every shipped adapter,
// higher meaning more similar.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Indexer is the interface every semantic indexer adapter implements.
type Indexer interface {
	// Index adds rec to the index, replacing any previous entry for its id.
	Index(ctx context.Context, rec *record.MemoryRecord) error

	// Reindex refreshes rec after its content changed.
	Reindex(ctx context.Context, rec *record.MemoryRecord) error

	// Remove drops id. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error

	// SemanticSearch returns up to limit matches for text scoring at least minScore.
	SemanticSearch(ctx context.Context, text string, limit int, minScore float64) ([]Match, error)

	// FindSimilar returns up to limit records similar to id, excluding id itself.
	FindSimilar(ctx context.Context, id string, limit int, minSimilarity float64) ([]Match, error)
}

// SortMatches orders matches by descending score, then id.
func SortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].ID < ms[j].ID
	})
}

// Document is the text an adapter embeds for rec.
func Document(rec *record.MemoryRecord) string {
	return rec.Content
}
