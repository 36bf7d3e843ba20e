// Package query is the retrieval engine: candidate generation from the
// semantic indexer or the local indices, conjunctive filtering fanned out
// per kind, ranking, connection expansion and a persistence fallback.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/salience"
	"github.com/lexlapax/engram/pkg/mem/semantic"
	"github.com/lexlapax/engram/pkg/mem/store"
	"github.com/lexlapax/engram/pkg/mem/workingset"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultLimit applies when a query does not set one.
	DefaultLimit = 10

	// DefaultTimeout bounds each collaborator call.
	DefaultTimeout = 2 * time.Second

	// MaxConnectedPerResult caps the records IncludeConnected adds per hit.
	MaxConnectedPerResult = 3

	// candidateFactor sizes the semantic and persistence requests relative
	// to the query limit so filtering still leaves enough hits.
	candidateFactor = 5
)

// SortBy selects the ranking criterion.
type SortBy string

const (
	BySalience      SortBy = "SALIENCE"
	ByRecency       SortBy = "RECENCY"
	ByPriority      SortBy = "PRIORITY"
	ByEmotional     SortBy = "EMOTIONAL"
	ByTextRelevance SortBy = "TEXT_RELEVANCE"
)

// ParseSortBy parses a sort criterion, case-insensitively. Empty means salience.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(upper(s)) {
	case "":
		return BySalience, nil
	case BySalience, ByRecency, ByPriority, ByEmotional, ByTextRelevance:
		return SortBy(upper(s)), nil
	}
	return "", fmt.Errorf("%w: unknown sort %q", errors.ErrInvalidInput, s)
}

// Tier names a retrieval path that contributed to a result.
type Tier string

const (
	TierSemantic    Tier = "semantic"
	TierKeyword     Tier = "keyword"
	TierScan        Tier = "scan"
	TierConnected   Tier = "connected"
	TierPersistence Tier = "persistence"
	TierWorkingSet  Tier = "working_set"
	TierTimeFrame   Tier = "time_frame"
	TierEmotion     Tier = "emotion"
)

var tierOrder = []Tier{TierSemantic, TierKeyword, TierScan, TierWorkingSet, TierTimeFrame, TierEmotion, TierConnected, TierPersistence}

// Range is an inclusive numeric range.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies in r.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// TimeRange is an inclusive creation-time range. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// Contains reports whether t lies in r.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Query describes a structured retrieval request. Every set filter must
// hold for a record to match.
type Query struct {
	Text             string        `json:"text,omitempty"`
	Kinds            []record.Kind `json:"kinds,omitempty"`
	MinCertainty     float64       `json:"min_certainty,omitempty"`
	Valence          *Range        `json:"valence,omitempty"`
	Tags             []string      `json:"tags,omitempty"`
	TimeRange        *TimeRange    `json:"time_range,omitempty"`
	Entities         []string      `json:"entities,omitempty"`
	MinReinforcement float64       `json:"min_reinforcement,omitempty"`
	Limit            int           `json:"limit,omitempty"`
	SortBy           SortBy        `json:"sort_by,omitempty"`
	IncludeConnected bool          `json:"include_connected,omitempty"`
}

// Validate checks the query's own consistency.
func (q Query) Validate() error {
	verr := &errors.ValidationError{}
	for _, k := range q.Kinds {
		if !k.Valid() {
			verr.Add("kinds", "unknown kind %q", k)
		}
	}
	if q.Limit < 0 {
		verr.Add("limit", "must not be negative (got %d)", q.Limit)
	}
	if q.MinCertainty < 0 || q.MinCertainty > 1 {
		verr.Add("min_certainty", "must be within [0,1] (got %g)", q.MinCertainty)
	}
	if q.Valence != nil && q.Valence.Min > q.Valence.Max {
		verr.Add("valence", "min %g exceeds max %g", q.Valence.Min, q.Valence.Max)
	}
	if q.TimeRange != nil && !q.TimeRange.From.IsZero() && !q.TimeRange.To.IsZero() && q.TimeRange.From.After(q.TimeRange.To) {
		verr.Add("time_range", "from is after to")
	}
	if q.SortBy != "" {
		if _, err := ParseSortBy(string(q.SortBy)); err != nil {
			verr.Add("sort_by", "unknown sort %q", q.SortBy)
		}
	}
	return verr.OrNil()
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

func (q Query) kinds() []record.Kind {
	if len(q.Kinds) == 0 {
		return record.Kinds
	}
	return q.Kinds
}

// Result is the outcome of a retrieval.
type Result struct {
	Records []*record.MemoryRecord `json:"records"`

	// TotalMatches counts every record that passed the filters before truncation.
	TotalMatches int `json:"total_matches"`

	Elapsed time.Duration `json:"elapsed"`

	// Sources lists the tiers that contributed at least one returned record.
	Sources []Tier `json:"sources"`
}

// IDs returns the ids of the returned records in order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Records))
	for i, rec := range r.Records {
		ids[i] = rec.ID
	}
	return ids
}

// ScoreHook may adjust a record's salience score before ranking. An error
// keeps the original score.
type ScoreHook func(ctx context.Context, rec *record.MemoryRecord, score float64) (float64, error)

// Option configures an Engine.
type Option func(*Engine)

// WithIndexer enables the semantic candidate tier.
func WithIndexer(ix semantic.Indexer) Option {
	return func(e *Engine) { e.indexer = ix }
}

// WithPersistence enables the persistence fallback tier.
func WithPersistence(p ltm.Store) Option {
	return func(e *Engine) { e.persistence = p }
}

// WithSalience sets the salience parameters used for ranking.
func WithSalience(p salience.Params) Option {
	return func(e *Engine) { e.params = p }
}

// WithTimeout bounds each collaborator call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMinSemanticScore drops semantic candidates scoring below min.
func WithMinSemanticScore(min float64) Option {
	return func(e *Engine) { e.minSemanticScore = min }
}

// WithScoreHook installs a salience adjustment hook.
func WithScoreHook(h ScoreHook) Option {
	return func(e *Engine) { e.hook = h }
}

// WithWorkingSet supplies the cache ByWorkingSet reads.
func WithWorkingSet(ws *workingset.Cache) Option {
	return func(e *Engine) { e.ws = ws }
}

// Engine answers queries against a record store.
type Engine struct {
	store            *store.Store
	indexer          semantic.Indexer
	persistence      ltm.Store
	ws               *workingset.Cache
	params           salience.Params
	timeout          time.Duration
	minSemanticScore float64
	hook             ScoreHook
}

// New creates a query engine over s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		params:  salience.DefaultParams(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// candidates is the output of candidate generation. A nil ids set means
// every record of the allowed kinds.
type candidates struct {
	ids       record.IDSet
	tier      Tier
	substring string
}

// Query runs q. Only an invalid query or a cancelled context produce an
// error; collaborator failures are logged and the next tier is used.
func (e *Engine) Query(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.SortBy == "" {
		q.SortBy = BySalience
	}
	q.SortBy, _ = ParseSortBy(string(q.SortBy))
	limit := q.limit()
	now := e.store.Now()

	cand := e.semanticCandidates(ctx, q, limit)
	if cand == nil {
		cand = e.localCandidates(q)
	}

	matched, err := e.filter(ctx, q, cand)
	if err != nil {
		return nil, err
	}
	sources := make(map[string]Tier, len(matched))
	for _, r := range matched {
		sources[r.ID] = cand.tier
	}
	// Semantic candidates that the filters reject leave room for the
	// local indices.
	if cand.tier == TierSemantic && len(matched) < limit {
		local := e.localCandidates(q)
		more, err := e.filter(ctx, q, local)
		if err != nil {
			return nil, err
		}
		for _, r := range more {
			if _, dup := sources[r.ID]; dup {
				continue
			}
			sources[r.ID] = local.tier
			matched = append(matched, r)
		}
	}
	total := len(matched)

	ranked := e.rank(ctx, q, matched, now)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	if q.IncludeConnected {
		ranked = e.expand(ranked, sources, limit, now)
	}

	if len(ranked) < limit && e.persistence != nil {
		extra := e.fallback(ctx, q, limit, ranked)
		if len(extra) > 0 {
			total += len(extra)
			for _, r := range extra {
				sources[r.ID] = TierPersistence
			}
			ranked = e.rank(ctx, q, append(ranked, extra...), now)
			if len(ranked) > limit {
				ranked = ranked[:limit]
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ranked = e.touch(ctx, ranked)

	res := &Result{
		Records:      ranked,
		TotalMatches: total,
		Elapsed:      time.Since(start),
		Sources:      contributing(ranked, sources),
	}
	log.DebugContext(ctx, "Query completed", "text", q.Text, "returned", len(res.Records),
		"total_matches", res.TotalMatches, "sources", res.Sources, "elapsed", res.Elapsed)
	return res, nil
}

func (e *Engine) semanticCandidates(ctx context.Context, q Query, limit int) *candidates {
	if q.Text == "" || e.indexer == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	matches, err := e.indexer.SemanticSearch(cctx, q.Text, limit*candidateFactor, e.minSemanticScore)
	if err != nil {
		log.WarnContext(ctx, "Semantic tier unavailable, using local indices",
			"error", errors.NewCollaboratorError("semantic", "SemanticSearch", err))
		return nil
	}
	ids := record.IDSet{}
	for _, m := range matches {
		if e.store.Exists(m.ID) {
			ids.Add(m.ID)
		}
	}
	if ids.Len() == 0 {
		return nil
	}
	return &candidates{ids: ids, tier: TierSemantic}
}

func (e *Engine) localCandidates(q Query) *candidates {
	if q.Text == "" {
		return &candidates{tier: TierScan}
	}
	tokens := index.Tokenize(q.Text)
	if len(tokens) == 0 {
		return &candidates{tier: TierScan, substring: lower(q.Text)}
	}
	return &candidates{ids: e.store.Indices().Union(index.Keyword, tokens...), tier: TierKeyword}
}

// filter applies every predicate of q to the candidates, one goroutine per
// kind, and merges the per-kind results in kind order.
func (e *Engine) filter(ctx context.Context, q Query, cand *candidates) ([]*record.MemoryRecord, error) {
	kinds := q.kinds()
	perKind := make([][]*record.MemoryRecord, len(kinds))

	var byKind map[record.Kind][]*record.MemoryRecord
	if cand.ids != nil {
		byKind = make(map[record.Kind][]*record.MemoryRecord)
		for _, id := range cand.ids.Slice() {
			if rec, ok := e.store.Peek(id); ok {
				byKind[rec.Kind] = append(byKind[rec.Kind], rec)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			var recs []*record.MemoryRecord
			if byKind != nil {
				recs = byKind[kind]
			} else {
				recs = e.store.Partition(kind)
			}
			var out []*record.MemoryRecord
			for _, rec := range recs {
				if err := gctx.Err(); err != nil {
					return err
				}
				if cand.substring != "" && !containsFold(rec.Content, cand.substring) {
					continue
				}
				if Matches(rec, q) {
					out = append(out, rec)
				}
			}
			perKind[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []*record.MemoryRecord
	for _, recs := range perKind {
		merged = append(merged, recs...)
	}
	return merged, nil
}

// expand appends up to MaxConnectedPerResult connected records per result,
// most salient first, skipping ids already present, then re-truncates.
func (e *Engine) expand(ranked []*record.MemoryRecord, sources map[string]Tier, limit int, now time.Time) []*record.MemoryRecord {
	present := make(map[string]struct{}, len(ranked))
	for _, r := range ranked {
		present[r.ID] = struct{}{}
	}
	out := append([]*record.MemoryRecord(nil), ranked...)
	for _, r := range ranked {
		var peers []scored
		for _, id := range r.Connections.Slice() {
			if _, dup := present[id]; dup {
				continue
			}
			if peer, ok := e.store.Peek(id); ok {
				peers = append(peers, scored{rec: peer, score: e.params.Score(peer, now)})
			}
		}
		sortScored(peers)
		for i := 0; i < len(peers) && i < MaxConnectedPerResult; i++ {
			id := peers[i].rec.ID
			present[id] = struct{}{}
			sources[id] = TierConnected
			out = append(out, peers[i].rec)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// fallback asks the persistence collaborator for records the store does
// not hold. Results pass the same predicates and are not rehydrated.
func (e *Engine) fallback(ctx context.Context, q Query, limit int, have []*record.MemoryRecord) []*record.MemoryRecord {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	found, err := e.persistence.Search(cctx, ltm.SearchQuery{
		Text:  q.Text,
		Kinds: q.Kinds,
		Limit: limit * candidateFactor,
	})
	if err != nil {
		log.WarnContext(ctx, "Persistence fallback unavailable",
			"error", errors.NewCollaboratorError("persistence", "Search", err))
		return nil
	}

	present := make(map[string]struct{}, len(have))
	for _, r := range have {
		present[r.ID] = struct{}{}
	}
	var out []*record.MemoryRecord
	for _, r := range found {
		if r == nil {
			continue
		}
		if _, dup := present[r.ID]; dup || e.store.Exists(r.ID) {
			continue
		}
		if !Matches(r, q) {
			continue
		}
		present[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// touch marks every returned in-store record accessed and swaps in the
// updated copies.
func (e *Engine) touch(ctx context.Context, recs []*record.MemoryRecord) []*record.MemoryRecord {
	for i, r := range recs {
		if updated, ok := e.store.Get(ctx, r.ID); ok {
			recs[i] = updated
		}
	}
	return recs
}

func contributing(recs []*record.MemoryRecord, sources map[string]Tier) []Tier {
	used := make(map[Tier]bool)
	for _, r := range recs {
		used[sources[r.ID]] = true
	}
	out := []Tier{}
	for _, t := range tierOrder {
		if used[t] {
			out = append(out, t)
		}
	}
	return out
}
