package query

import (
	"context"
	"testing"
	"time"

	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/workingset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByWorkingSet(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	wsNow := now.Add(-8 * time.Minute)
	ws := workingset.New(workingset.WithClock(func() time.Time { return wsNow }))

	stale := record.NewEpisodic("Reading the incident report", hoursAgo(1))
	fresh := record.NewEpisodic("Call with the on-call engineer", hoursAgo(1))
	oldPeer := record.NewSemantic("The incident was caused by a config push", hoursAgo(2))
	freshPeer := record.NewSemantic("The on-call rotation changes on Monday", hoursAgo(2))
	shared := record.NewProcedural("Post-mortems are due within five days", hoursAgo(3))
	put(t, s, stale, fresh, oldPeer, freshPeer, shared)
	connect(t, s, stale.ID, oldPeer.ID)
	connect(t, s, fresh.ID, freshPeer.ID)
	connect(t, s, stale.ID, fresh.ID)

	ws.Add(stale.ID)
	wsNow = now
	ws.Add(fresh.ID)

	e := New(s, WithWorkingSet(ws))
	res, err := e.ByWorkingSet(ctx, 10)
	require.NoError(t, err)
	// Members are excluded; the freshly attended entry's link outranks the stale one's.
	assert.Equal(t, []string{freshPeer.ID, oldPeer.ID}, res.IDs())
	assert.Equal(t, []Tier{TierWorkingSet}, res.Sources)

	res, err = e.ByWorkingSet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{freshPeer.ID}, res.IDs())
	assert.Equal(t, 2, res.TotalMatches)

	empty, err := New(s).ByWorkingSet(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, empty.Records)
}

func TestAttentionWeight(t *testing.T) {
	assert.Equal(t, 1.0, attentionWeight(0, 10*time.Minute))
	assert.InDelta(t, 0.5, attentionWeight(5*time.Minute, 10*time.Minute), 1e-9)
	assert.Equal(t, 0.1, attentionWeight(time.Hour, 10*time.Minute))
	assert.Equal(t, 1.0, attentionWeight(time.Hour, 0))
}

func TestByTimeFrame(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	from := now.Add(-72 * time.Hour)
	to := now.Add(-24 * time.Hour)
	mid := from.Add(24 * time.Hour)

	edge := record.NewEpisodic("Flight landed late", record.WithCreatedAt(from))
	center := record.NewEpisodic("Checked into the hotel", record.WithCreatedAt(mid))
	outside := record.NewEpisodic("Booked the trip", record.WithCreatedAt(from.Add(-time.Minute)))
	otherKind := record.NewSemantic("The hotel has a rooftop pool", record.WithCreatedAt(mid))
	put(t, s, edge, center, outside, otherKind)

	e := New(s)
	res, err := e.ByTimeFrame(ctx, from, to, 10, record.Episodic)
	require.NoError(t, err)
	assert.Equal(t, []string{center.ID, edge.ID}, res.IDs())
	assert.Equal(t, []Tier{TierTimeFrame}, res.Sources)

	res, err = e.ByTimeFrame(ctx, from, to, 10)
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)

	_, err = e.ByTimeFrame(ctx, to, from, 10)
	assert.Error(t, err)
	_, err = e.ByTimeFrame(ctx, time.Time{}, to, 10)
	assert.Error(t, err)
}

func TestByTimeFrame_LongRangeScans(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	old := record.NewEpisodic("First day at the company", record.WithCreatedAt(now.AddDate(-3, 0, 0)))
	put(t, s, old)

	res, err := New(s).ByTimeFrame(ctx, now.AddDate(-5, 0, 0), now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, res.IDs())
}

func TestByEmotion(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	exact := record.NewEmotional("Thrilled about the offer", 0.85, 0.4, hoursAgo(1))
	sameSign := record.NewEmotional("Pleased with the demo", 0.3, 0.9, hoursAgo(2))
	opposite := record.NewEmotional("Dreading the dentist", -0.8, 1.0, hoursAgo(3))
	put(t, s, exact, sameSign, opposite)

	res, err := New(s).ByEmotion(ctx, 0.8, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{exact.ID, sameSign.ID, opposite.ID}, res.IDs())
	assert.Equal(t, []Tier{TierEmotion}, res.Sources)

	_, err = New(s).ByEmotion(ctx, 1.5, 10)
	assert.Error(t, err)
}

func TestEmotionMatch(t *testing.T) {
	assert.Equal(t, 1.0, EmotionMatch(0.5, 0.55))
	assert.Equal(t, 0.6, EmotionMatch(0.5, 0.9))
	assert.Equal(t, 0.1, EmotionMatch(0.5, -0.5))
	assert.Equal(t, 1.0, EmotionMatch(0, 0.05))
	assert.Equal(t, 0.6, EmotionMatch(-0.05, 0.1))
	assert.Equal(t, 0.1, EmotionMatch(0, 0.5))
}
