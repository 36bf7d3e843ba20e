// Package embed turns text into vector embeddings for the semantic
// indexer adapters.
package embed

import (
	"context"
	"fmt"
	"math"

	"github.com/dgraph-io/ristretto"
	"github.com/lexlapax/engram/pkg/log"
)

// Embedder generates one embedding per input text, in input order.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	out, err := e.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("embedder returned %d embeddings for 1 text", len(out))
	}
	return out[0], nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place. A zero vector is left alone.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// DefaultCacheSize is the number of embeddings CachedEmbedder keeps.
const DefaultCacheSize = 10000

// CachedEmbedder memoizes embeddings per text in a ristretto cache so that
// reindexing unchanged content and repeated queries skip the provider.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with a cache of up to size embeddings.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// Cost counts entries, not bytes.
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(size) * 10,
		MaxCost:            int64(size),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// GenerateEmbeddings implements Embedder. Only cache misses reach the
// wrapped embedder, in a single batch.
func (c *CachedEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.([]float32)
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.GenerateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d embeddings for %d texts", len(fresh), len(missTexts))
	}
	for j, v := range fresh {
		out[missIdx[j]] = v
		c.cache.Set(missTexts[j], v, 1)
	}
	c.cache.Wait()

	log.DebugContext(ctx, "Generated embeddings", "requested", len(texts), "cache_misses", len(missTexts))
	return out, nil
}

// Close releases the cache.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
