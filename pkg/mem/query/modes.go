package query

import (
	"context"
	"math"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/record"
)

// maxBucketDays bounds how many day buckets ByTimeFrame probes before it
// scans the partitions instead.
const maxBucketDays = 366

// Emotion match grades used by ByEmotion.
const (
	emotionExact    = 1.0
	emotionSameSign = 0.6
	emotionOpposite = 0.1

	// emotionTolerance is the valence distance still counted as exact, and
	// the band around zero treated as neutral.
	emotionTolerance = 0.1
)

// ByWorkingSet returns records associated with what is currently attended:
// the direct connections of each working-set entry, weighted by how
// recently that entry was attended and by their own salience. Working-set
// members themselves are excluded.
func (e *Engine) ByWorkingSet(ctx context.Context, limit int) (*Result, error) {
	start := time.Now()
	if limit <= 0 {
		limit = DefaultLimit
	}
	if e.ws == nil {
		return &Result{Records: []*record.MemoryRecord{}, Elapsed: time.Since(start), Sources: []Tier{}}, nil
	}

	now := e.store.Now()
	entries := e.ws.Entries()
	members := make(map[string]struct{}, len(entries))
	for _, en := range entries {
		members[en.ID] = struct{}{}
	}

	retention := e.ws.Retention()
	weights := make(map[string]float64)
	peers := make(map[string]*record.MemoryRecord)
	for _, en := range entries {
		src, ok := e.store.Peek(en.ID)
		if !ok {
			continue
		}
		attention := attentionWeight(now.Sub(en.EnteredAt), retention)
		for _, id := range src.Connections.Slice() {
			if _, member := members[id]; member {
				continue
			}
			peer, ok := peers[id]
			if !ok {
				if peer, ok = e.store.Peek(id); !ok {
					continue
				}
				peers[id] = peer
			}
			weights[id] += attention * e.salience(ctx, peer, now)
		}
	}

	ss := make([]scored, 0, len(peers))
	for id, peer := range peers {
		ss = append(ss, scored{rec: peer, score: weights[id]})
	}
	return e.finish(ctx, ss, limit, TierWorkingSet, start)
}

// attentionWeight decays linearly from 1 for an entry attended just now to
// a floor of 0.1 at the end of the retention window.
func attentionWeight(age, retention time.Duration) float64 {
	if retention <= 0 || age <= 0 {
		return 1
	}
	w := 1 - float64(age)/float64(retention)
	return math.Max(w, 0.1)
}

// ByTimeFrame returns records created within [from, to], inclusive, ranked
// by salience weighted by closeness to the middle of the range.
func (e *Engine) ByTimeFrame(ctx context.Context, from, to time.Time, limit int, kinds ...record.Kind) (*Result, error) {
	start := time.Now()
	q := Query{Kinds: kinds, TimeRange: &TimeRange{From: from, To: to}, Limit: limit}
	if from.IsZero() || to.IsZero() {
		verr := &errors.ValidationError{}
		verr.Add("time_range", "both bounds are required")
		return nil, verr
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	cand := &candidates{tier: TierTimeFrame}
	if buckets := index.DayBuckets(from, to, maxBucketDays); buckets != nil {
		cand.ids = e.store.Indices().Union(index.TimeBucket, buckets...)
	}
	matched, err := e.filter(ctx, q, cand)
	if err != nil {
		return nil, err
	}

	now := e.store.Now()
	mid := from.Add(to.Sub(from) / 2)
	half := float64(to.Sub(from)) / 2
	ss := make([]scored, len(matched))
	for i, rec := range matched {
		closeness := 1.0
		if half > 0 {
			closeness = 1 - math.Abs(float64(rec.CreatedAt.Sub(mid)))/half
		}
		ss[i] = scored{rec: rec, score: e.salience(ctx, rec, now) * (0.5 + 0.5*closeness)}
	}
	return e.finish(ctx, ss, q.limit(), TierTimeFrame, start)
}

// ByEmotion ranks records by how well their valence matches valence: an
// exact match beats the same sign, which beats the opposite sign, each
// graded by the record's intensity.
func (e *Engine) ByEmotion(ctx context.Context, valence float64, limit int, kinds ...record.Kind) (*Result, error) {
	start := time.Now()
	q := Query{Kinds: kinds, Limit: limit}
	if valence < -1 || valence > 1 {
		verr := &errors.ValidationError{}
		verr.Add("valence", "must be within [-1,1] (got %g)", valence)
		return nil, verr
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	matched, err := e.filter(ctx, q, &candidates{tier: TierEmotion})
	if err != nil {
		return nil, err
	}
	ss := make([]scored, len(matched))
	for i, rec := range matched {
		ss[i] = scored{rec: rec, score: EmotionMatch(valence, rec.EmotionalValence) * (1 + rec.EmotionalIntensity)}
	}
	return e.finish(ctx, ss, q.limit(), TierEmotion, start)
}

// EmotionMatch grades how well have matches want.
func EmotionMatch(want, have float64) float64 {
	switch {
	case math.Abs(want-have) <= emotionTolerance:
		return emotionExact
	case sign(want) == sign(have):
		return emotionSameSign
	default:
		return emotionOpposite
	}
}

func sign(v float64) int {
	switch {
	case v > emotionTolerance:
		return 1
	case v < -emotionTolerance:
		return -1
	default:
		return 0
	}
}

// finish ranks, truncates and touches the records of a specialized mode.
func (e *Engine) finish(ctx context.Context, ss []scored, limit int, tier Tier, start time.Time) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sortScored(ss)
	total := len(ss)
	if len(ss) > limit {
		ss = ss[:limit]
	}
	recs := e.touch(ctx, unwrap(ss))
	res := &Result{Records: recs, TotalMatches: total, Elapsed: time.Since(start), Sources: []Tier{}}
	if len(recs) > 0 {
		res.Sources = []Tier{tier}
	}
	log.DebugContext(ctx, "Mode query completed", "mode", tier, "returned", len(recs), "total_matches", total)
	return res, nil
}
