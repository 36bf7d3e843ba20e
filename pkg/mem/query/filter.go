package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/record"
)

// Matches reports whether rec passes every structured filter of q. Text is
// not checked here; candidate generation handles it.
func Matches(rec *record.MemoryRecord, q Query) bool {
	if len(q.Kinds) > 0 && !hasKind(q.Kinds, rec.Kind) {
		return false
	}
	if rec.Certainty < q.MinCertainty {
		return false
	}
	if q.Valence != nil && !q.Valence.Contains(rec.EmotionalValence) {
		return false
	}
	for _, tag := range q.Tags {
		if !rec.HasTag(tag) {
			return false
		}
	}
	if q.TimeRange != nil && !q.TimeRange.Contains(rec.CreatedAt) {
		return false
	}
	for _, ent := range q.Entities {
		if !hasEntity(rec, ent) {
			return false
		}
	}
	if rec.ReinforcementScore < q.MinReinforcement {
		return false
	}
	return true
}

func hasKind(kinds []record.Kind, k record.Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func hasEntity(rec *record.MemoryRecord, ent string) bool {
	if rec.Context.AssociatedEntities.Has(ent) {
		return true
	}
	for have := range rec.Context.AssociatedEntities {
		if strings.EqualFold(have, ent) {
			return true
		}
	}
	return false
}

type scored struct {
	rec   *record.MemoryRecord
	score float64
}

// sortScored orders by descending score; ties go to the newer record, then
// the smaller id.
func sortScored(ss []scored) {
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].score != ss[j].score {
			return ss[i].score > ss[j].score
		}
		if !ss[i].rec.CreatedAt.Equal(ss[j].rec.CreatedAt) {
			return ss[i].rec.CreatedAt.After(ss[j].rec.CreatedAt)
		}
		return ss[i].rec.ID < ss[j].rec.ID
	})
}

func unwrap(ss []scored) []*record.MemoryRecord {
	out := make([]*record.MemoryRecord, len(ss))
	for i, s := range ss {
		out[i] = s.rec
	}
	return out
}

// rank orders recs by q.SortBy.
func (e *Engine) rank(ctx context.Context, q Query, recs []*record.MemoryRecord, now time.Time) []*record.MemoryRecord {
	var words []string
	if q.SortBy == ByTextRelevance {
		words = index.Words(q.Text)
	}
	ss := make([]scored, len(recs))
	for i, rec := range recs {
		var score float64
		switch q.SortBy {
		case ByRecency:
			// Ordered entirely by the creation-time tie break.
		case ByPriority:
			score = float64(rec.Priority)
		case ByEmotional:
			score = rec.EmotionalWeight()
		case ByTextRelevance:
			score = float64(TextRelevance(rec.Content, words))
		default:
			score = e.salience(ctx, rec, now)
		}
		ss[i] = scored{rec: rec, score: score}
	}
	sortScored(ss)
	return unwrap(ss)
}

// salience scores rec and passes the score through the hook, if any.
func (e *Engine) salience(ctx context.Context, rec *record.MemoryRecord, now time.Time) float64 {
	score := e.params.Score(rec, now)
	if e.hook == nil {
		return score
	}
	adjusted, err := e.hook(ctx, rec, score)
	if err != nil {
		log.WarnContext(ctx, "Score hook failed, keeping salience", "record_id", rec.ID, "error", err)
		return score
	}
	return adjusted
}

// TextRelevance counts whole-word occurrences of each query word in content.
func TextRelevance(content string, queryWords []string) int {
	if len(queryWords) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, w := range index.Words(content) {
		counts[w]++
	}
	n := 0
	seen := make(map[string]struct{}, len(queryWords))
	for _, w := range queryWords {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		n += counts[w]
	}
	return n
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func containsFold(s, lowered string) bool {
	return strings.Contains(strings.ToLower(s), lowered)
}
