// Package graph maintains the associative links between memory records and
// answers "what is related to this memory" with a tiered lookup: direct
// connections first, then semantic neighbours, then keyword overlap.
package graph

import (
	"context"
	"sort"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/salience"
	"github.com/lexlapax/engram/pkg/mem/semantic"
	"github.com/lexlapax/engram/pkg/mem/store"
)

// Source names the tier a related record came from.
type Source string

const (
	Direct   Source = "direct"
	Semantic Source = "semantic"
	Keyword  Source = "keyword"
)

const (
	// DefaultRelatedLimit applies when RelatedTo is called with limit <= 0.
	DefaultRelatedLimit = 5

	// DefaultTimeout bounds each semantic indexer call.
	DefaultTimeout = 2 * time.Second
)

// Related is one RelatedTo result.
type Related struct {
	Record *record.MemoryRecord `json:"record"`
	Source Source               `json:"source"`

	// Score is salience for direct links, similarity for semantic
	// neighbours and the shared-token fraction for keyword overlap.
	Score float64 `json:"score"`
}

// Option configures a Graph.
type Option func(*Graph)

// WithIndexer enables the semantic tier.
func WithIndexer(ix semantic.Indexer) Option {
	return func(g *Graph) { g.indexer = ix }
}

// WithSalience sets the parameters used to rank direct connections.
func WithSalience(p salience.Params) Option {
	return func(g *Graph) { g.params = p }
}

// WithTimeout bounds each semantic indexer call.
func WithTimeout(d time.Duration) Option {
	return func(g *Graph) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMinSimilarity drops semantic neighbours scoring below min.
func WithMinSimilarity(min float64) Option {
	return func(g *Graph) { g.minSimilarity = min }
}

// Graph operates on the connections held by a record store.
type Graph struct {
	store         *store.Store
	indexer       semantic.Indexer
	params        salience.Params
	timeout       time.Duration
	minSimilarity float64
}

// New creates a graph over s.
func New(s *store.Store, opts ...Option) *Graph {
	g := &Graph{
		store:   s,
		params:  salience.DefaultParams(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect links a and b in both directions in a single atomic update.
// It reports false when a == b or either record is missing. Connecting
// records that are already linked succeeds without rewriting them.
func (g *Graph) Connect(ctx context.Context, a, b string) bool {
	if a == b {
		return false
	}
	found, err := g.store.UpdateMany(ctx, []string{a, b}, func(recs map[string]*record.MemoryRecord) (bool, error) {
		ra, rb := recs[a], recs[b]
		if ra.Connections.Has(b) && rb.Connections.Has(a) {
			return false, nil
		}
		ra.Connections.Add(b)
		rb.Connections.Add(a)
		return true, nil
	})
	if err != nil {
		log.WarnContext(ctx, "Failed to connect records", "from", a, "to", b, "error", err)
		return false
	}
	if found {
		log.DebugContext(ctx, "Connected records", "from", a, "to", b)
	}
	return found
}

// Disconnect removes the link between a and b. It reports false when
// either record is missing or they were not linked.
func (g *Graph) Disconnect(ctx context.Context, a, b string) bool {
	if a == b {
		return false
	}
	linked := false
	found, err := g.store.UpdateMany(ctx, []string{a, b}, func(recs map[string]*record.MemoryRecord) (bool, error) {
		ra, rb := recs[a], recs[b]
		removedA := ra.Connections.Remove(b)
		removedB := rb.Connections.Remove(a)
		linked = removedA || removedB
		return linked, nil
	})
	if err != nil {
		log.WarnContext(ctx, "Failed to disconnect records", "from", a, "to", b, "error", err)
		return false
	}
	return found && linked
}

// Neighbors returns the sorted ids directly connected to id.
func (g *Graph) Neighbors(id string) []string {
	rec, ok := g.store.Peek(id)
	if !ok {
		return nil
	}
	return rec.Connections.Slice()
}

// RelatedTo returns up to limit records related to id. Direct connections
// come first by descending salience; remaining slots are filled from the
// semantic indexer and then from keyword overlap. No tier repeats an id
// already present, and id itself is never returned. A failing indexer is
// logged and skipped.
func (g *Graph) RelatedTo(ctx context.Context, id string, limit int) []Related {
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}
	src, ok := g.store.Peek(id)
	if !ok {
		return nil
	}

	seen := map[string]struct{}{id: {}}
	out := g.direct(src, limit)
	for _, r := range out {
		seen[r.Record.ID] = struct{}{}
	}

	if len(out) < limit && g.indexer != nil {
		for _, r := range g.similar(ctx, id, limit+len(seen)) {
			if len(out) >= limit {
				break
			}
			if _, dup := seen[r.Record.ID]; dup {
				continue
			}
			seen[r.Record.ID] = struct{}{}
			out = append(out, r)
		}
	}

	if len(out) < limit {
		for _, r := range g.overlap(id) {
			if len(out) >= limit {
				break
			}
			if _, dup := seen[r.Record.ID]; dup {
				continue
			}
			seen[r.Record.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func (g *Graph) direct(src *record.MemoryRecord, limit int) []Related {
	now := g.store.Now()
	var out []Related
	for _, peerID := range src.Connections.Slice() {
		peer, ok := g.store.Peek(peerID)
		if !ok {
			continue
		}
		out = append(out, Related{Record: peer, Source: Direct, Score: g.params.Score(peer, now)})
	}
	sortRelated(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (g *Graph) similar(ctx context.Context, id string, n int) []Related {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	matches, err := g.indexer.FindSimilar(cctx, id, n, g.minSimilarity)
	if err != nil {
		log.WarnContext(ctx, "Semantic tier unavailable for related lookup", "record_id", id,
			"error", errors.NewCollaboratorError("semantic", "FindSimilar", err))
		return nil
	}
	out := make([]Related, 0, len(matches))
	for _, m := range matches {
		if rec, ok := g.store.Peek(m.ID); ok {
			out = append(out, Related{Record: rec, Source: Semantic, Score: m.Score})
		}
	}
	return out
}

// overlap ranks records by how many keyword-index tokens they share with id.
func (g *Graph) overlap(id string) []Related {
	ix := g.store.Indices()
	tokens := ix.KeysOf(index.Keyword, id)
	if len(tokens) == 0 {
		return nil
	}
	shared := make(map[string]int)
	for _, tok := range tokens {
		for _, other := range ix.Lookup(index.Keyword, tok) {
			if other != id {
				shared[other]++
			}
		}
	}
	out := make([]Related, 0, len(shared))
	for other, n := range shared {
		if rec, ok := g.store.Peek(other); ok {
			out = append(out, Related{Record: rec, Source: Keyword, Score: float64(n) / float64(len(tokens))})
		}
	}
	sortRelated(out)
	return out
}

func sortRelated(rs []Related) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].Record.ID < rs[j].Record.ID
	})
}
