package engram

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	engramerrors "github.com/lexlapax/engram/pkg/errors"
	ltmmock "github.com/lexlapax/engram/pkg/mem/ltm/adapters/mock"
	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/query"
	"github.com/lexlapax/engram/pkg/mem/record"
	semmock "github.com/lexlapax/engram/pkg/mem/semantic/adapters/mock"
	"github.com/lexlapax/engram/pkg/scripting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestEngine_RememberRecallForget(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()

	id, err := e.Remember(ctx, record.NewEpisodic("met Dana at the cafe", record.WithPriority(70)))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, ok := e.Recall(ctx, id)
	require.True(t, ok)
	assert.Equal(t, "met Dana at the cafe", rec.Content)
	assert.Equal(t, 1, rec.AccessCount)

	peeked, ok := e.Peek(id)
	require.True(t, ok)
	assert.Equal(t, 1, peeked.AccessCount, "peek does not count as an access")

	require.Len(t, e.WorkingSet(), 1)
	assert.Equal(t, id, e.WorkingSet()[0].ID)

	assert.True(t, e.Forget(ctx, id))
	assert.False(t, e.Forget(ctx, id))
	_, ok = e.Peek(id)
	assert.False(t, ok)
	assert.Empty(t, e.WorkingSet())
}

func TestEngine_RememberRejectsInvalid(t *testing.T) {
	e := New()
	defer e.Close()

	_, err := e.Remember(context.Background(), record.NewEpisodic("", record.WithPriority(500)))
	require.Error(t, err)
	var verr *engramerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"content", "priority"}, verr.Fields())
	assert.Empty(t, e.WorkingSet())
	assert.Zero(t, e.Stats().Records)
}

func TestEngine_WriteThrough(t *testing.T) {
	ctx := context.Background()
	persistence := ltmmock.NewMockStore()
	indexer := semmock.NewMockIndexer()
	e := New(WithPersistence(persistence), WithIndexer(indexer))
	defer e.Close()

	a, err := e.Remember(ctx, record.NewEpisodic("walked the dog in the park"))
	require.NoError(t, err)
	b, err := e.Remember(ctx, record.NewSemantic("dogs need daily walks"))
	require.NoError(t, err)

	n, err := persistence.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, indexer.Len())
	assert.Equal(t, 2, indexer.Calls("Index"))

	require.True(t, e.Connect(ctx, a, b))
	persisted, err := persistence.Get(ctx, a)
	require.NoError(t, err)
	assert.True(t, persisted.Connections.Has(b))
	assert.Equal(t, 2, indexer.Calls("Reindex"))

	require.True(t, e.Forget(ctx, a))
	n, err = persistence.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, indexer.Len())

	// The peer lost its back-link in persistence too.
	persisted, err = persistence.Get(ctx, b)
	require.NoError(t, err)
	assert.False(t, persisted.Connections.Has(a))
}

func TestEngine_CollaboratorFailureDoesNotFailWrites(t *testing.T) {
	ctx := context.Background()
	persistence := ltmmock.NewMockStore()
	indexer := semmock.NewMockIndexer()
	persistence.SetError(engramerrors.New("disk on fire"))
	indexer.SetError(engramerrors.New("index offline"))

	e := New(WithPersistence(persistence), WithIndexer(indexer))
	defer e.Close()

	id, err := e.Remember(ctx, record.NewEpisodic("still remembered"))
	require.NoError(t, err)
	_, ok := e.Peek(id)
	assert.True(t, ok)

	res, err := e.Query(ctx, query.Query{Text: "remembered"})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, res.IDs())
	assert.Equal(t, []query.Tier{query.TierKeyword}, res.Sources)
}

func TestEngine_Reinforce(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()

	ok, err := e.Reinforce(ctx, "missing", 0.5)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := e.Remember(ctx, record.NewSemantic("water boils at 100C"))
	require.NoError(t, err)

	ok, err = e.Reinforce(ctx, id, 0.5)
	require.NoError(t, err)
	assert.True(t, ok)
	rec, _ := e.Peek(id)
	assert.InDelta(t, 1.5, rec.ReinforcementScore, 1e-9)

	_, err = e.Reinforce(ctx, id, 1.0)
	assert.ErrorIs(t, err, engramerrors.ErrInvalidInput)
	rec, _ = e.Peek(id)
	assert.InDelta(t, 1.5, rec.ReinforcementScore, 1e-9, "rejected reinforcement leaves the score alone")

	_, err = e.Reinforce(ctx, id, -1.4)
	assert.ErrorIs(t, err, engramerrors.ErrInvalidInput)
}

func TestEngine_WorkingSetEvictsOldest(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	e := New(WithClock(clock.Now))
	defer e.Close()

	var ids []string
	for i := 0; i < 10; i++ {
		id, err := e.Remember(ctx, record.NewEpisodic("moment "+string(rune('a'+i))))
		require.NoError(t, err)
		ids = append(ids, id)
		clock.Advance(time.Second)
	}

	entries := e.WorkingSet()
	require.Len(t, entries, 9)
	assert.Equal(t, ids[1], entries[0].ID)
	assert.Equal(t, ids[9], entries[8].ID)

	assert.True(t, e.Attend(ids[0]))
	entries = e.WorkingSet()
	assert.Equal(t, ids[0], entries[8].ID)
	assert.Equal(t, ids[2], entries[0].ID)
	assert.False(t, e.Attend("missing"))
}

func TestEngine_RelatedAndModes(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()

	a, _ := e.Remember(ctx, record.NewEpisodic("picnic by the river", record.WithEmotion(0.8, 0.9)))
	b, _ := e.Remember(ctx, record.NewEpisodic("river was cold", record.WithEmotion(-0.4, 0.3)))
	c, _ := e.Remember(ctx, record.NewSemantic("rivers flow to the sea"))

	require.True(t, e.Connect(ctx, a, b))
	related := e.Related(ctx, a, 5)
	require.NotEmpty(t, related)
	assert.Equal(t, b, related[0].Record.ID)

	require.True(t, e.Disconnect(ctx, a, b))
	rec, _ := e.Peek(b)
	assert.False(t, rec.IsConnected(a))

	res, err := e.ByEmotion(ctx, 0.8, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, res.IDs())

	res, err = e.ByTimeFrame(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 10, record.Semantic)
	require.NoError(t, err)
	assert.Equal(t, []string{c}, res.IDs())

	require.True(t, e.Connect(ctx, b, c))
	e.Attend(b)
	res, err = e.ByWorkingSet(ctx, 10)
	require.NoError(t, err)
	assert.NotContains(t, res.IDs(), b, "working-set members are excluded")
}

func TestEngine_Salience(t *testing.T) {
	e := New()
	defer e.Close()

	id, _ := e.Remember(context.Background(), record.NewEpisodic("scored", record.WithPriority(50)))
	b, ok := e.Salience(id)
	require.True(t, ok)
	assert.InDelta(t, 0.5, b.Importance, 1e-9)
	assert.Greater(t, b.Score, 0.0)

	_, ok = e.Salience("missing")
	assert.False(t, ok)
}

func TestEngine_ExportImport(t *testing.T) {
	ctx := context.Background()
	src := New()
	defer src.Close()

	a, _ := src.Remember(ctx, record.NewEpisodic("first day at work", record.WithTags("work")))
	b, _ := src.Remember(ctx, record.NewProcedural("how to file expenses"))
	require.True(t, src.Connect(ctx, a, b))

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf))

	persistence := ltmmock.NewMockStore()
	dst := New(WithPersistence(persistence))
	defer dst.Close()

	n, err := dst.Import(ctx, bytes.NewReader(buf.Bytes()), false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, ok := dst.Peek(a)
	require.True(t, ok)
	assert.True(t, rec.IsConnected(b))
	assert.Equal(t, []string{"work"}, rec.Tags())

	count, err := persistence.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "imported records are written through")

	_, err = dst.Import(ctx, strings.NewReader("not json"), false)
	assert.ErrorIs(t, err, engramerrors.ErrInvalidInput)
}

func TestEngine_ImportIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()

	var buf bytes.Buffer
	require.NoError(t, record.EncodeJSON(&buf, []*record.MemoryRecord{
		record.NewEpisodic("fine"),
		record.NewEpisodic("broken", record.WithPriority(101)),
	}))

	_, err := e.Import(ctx, &buf, false)
	assert.ErrorIs(t, err, engramerrors.ErrInvalidInput)
	assert.Zero(t, e.Stats().Records)
}

func TestEngine_ImportReplace(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()

	old, _ := e.Remember(ctx, record.NewEpisodic("old memory"))

	var buf bytes.Buffer
	fresh := record.NewSemantic("fresh fact")
	require.NoError(t, record.EncodeJSON(&buf, []*record.MemoryRecord{fresh}))

	n, err := e.Import(ctx, &buf, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := e.Peek(old)
	assert.False(t, ok)
	_, ok = e.Peek(fresh.ID)
	assert.True(t, ok)
	assert.Empty(t, e.WorkingSet())
}

func TestEngine_Hydrate(t *testing.T) {
	ctx := context.Background()
	persistence := ltmmock.NewMockStore()
	a := record.NewEpisodic("persisted breakfast with Sam")
	b := record.NewSemantic("Sam likes pancakes")
	a.Connections.Add(b.ID)
	b.Connections.Add(a.ID)
	require.NoError(t, persistence.SaveMany(ctx, []*record.MemoryRecord{a, b}))

	indexer := semmock.NewMockIndexer()
	e := New(WithPersistence(persistence), WithIndexer(indexer))
	defer e.Close()

	n, err := e.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, persistence.Calls("Save"), "hydration does not write back")
	assert.Equal(t, 2, indexer.Len())

	rec, ok := e.Peek(a.ID)
	require.True(t, ok)
	assert.True(t, rec.IsConnected(b.ID))

	res, err := e.Query(ctx, query.Query{Text: "pancakes"})
	require.NoError(t, err)
	assert.Contains(t, res.IDs(), b.ID)
}

func TestEngine_HydrateWithoutPersistence(t *testing.T) {
	e := New()
	defer e.Close()
	n, err := e.Hydrate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_HydrateFailure(t *testing.T) {
	persistence := ltmmock.NewMockStore()
	persistence.SetError(engramerrors.New("offline"))
	e := New(WithPersistence(persistence))
	defer e.Close()

	_, err := e.Hydrate(context.Background())
	assert.ErrorIs(t, err, engramerrors.ErrCollaboratorUnavailable)
}

func TestEngine_Stats(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()

	_, _ = e.Remember(ctx, record.NewEpisodic("morning run along the canal"))
	_, _ = e.Remember(ctx, record.NewEpisodic("evening swim"))
	_, _ = e.Remember(ctx, record.NewSemantic("canals were built for freight"))

	st := e.Stats()
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, 2, st.ByKind[record.Episodic])
	assert.Equal(t, 1, st.ByKind[record.Semantic])
	assert.Greater(t, st.IndexKeys[index.Keyword], 0)
	assert.Equal(t, 3, st.WorkingSet)
	assert.Equal(t, 9, st.WorkingSetCapacity)
	assert.Nil(t, st.LastConsolidation)

	_, err := e.Consolidate(ctx)
	require.NoError(t, err)
	st = e.Stats()
	require.NotNil(t, st.LastConsolidation)
	assert.Equal(t, 3, st.LastConsolidation.Scanned)
}

func TestEngine_StartAndClose(t *testing.T) {
	ctx := context.Background()
	e := New(WithSweepInterval(10*time.Millisecond), WithWorkingSet(9, 20*time.Millisecond))

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx), "starting twice is a no-op")

	_, err := e.Remember(ctx, record.NewEpisodic("fleeting thought"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(e.WorkingSet()) == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Remember(ctx, record.NewEpisodic("too late"))
	assert.ErrorIs(t, err, engramerrors.ErrClosed)
	_, err = e.Consolidate(ctx)
	assert.ErrorIs(t, err, engramerrors.ErrClosed)
	assert.ErrorIs(t, e.Start(ctx), engramerrors.ErrClosed)
}

func TestEngine_OperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	e := New()
	a, err := e.Remember(ctx, record.NewEpisodic("packed the tent"))
	require.NoError(t, err)
	b, err := e.Remember(ctx, record.NewEpisodic("drove to the trailhead"))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, ok := e.Recall(ctx, a)
	assert.False(t, ok)
	assert.False(t, e.Attend(a))
	assert.False(t, e.Connect(ctx, a, b))
	assert.False(t, e.Disconnect(ctx, a, b))
	assert.Nil(t, e.Related(ctx, a, 5))
	assert.False(t, e.Forget(ctx, a))

	_, err = e.Query(ctx, query.Query{Text: "tent"})
	assert.ErrorIs(t, err, engramerrors.ErrClosed)
	_, err = e.ByWorkingSet(ctx, 5)
	assert.ErrorIs(t, err, engramerrors.ErrClosed)
	_, err = e.ByTimeFrame(ctx, time.Now().Add(-time.Hour), time.Now(), 5)
	assert.ErrorIs(t, err, engramerrors.ErrClosed)
	_, err = e.ByEmotion(ctx, 0.5, 5)
	assert.ErrorIs(t, err, engramerrors.ErrClosed)
	_, err = e.Reinforce(ctx, a, 0.1)
	assert.ErrorIs(t, err, engramerrors.ErrClosed)

	// Reads of the in-memory state still work.
	rec, ok := e.Peek(a)
	require.True(t, ok)
	assert.Zero(t, rec.AccessCount)
	assert.Empty(t, rec.Connections.Slice())
	_, ok = e.Salience(b)
	assert.True(t, ok)
	var buf bytes.Buffer
	require.NoError(t, e.Export(&buf))
	assert.Contains(t, buf.String(), "packed the tent")
}

const hookScript = `
last_scanned = -1

function adjust_score(rec, score)
  for _, t in ipairs(rec.tags) do
    if t == "pinned" then
      return score * 100
    end
  end
  return score
end

function after_consolidate(report)
  last_scanned = report.scanned
end

function get_last_scanned()
  return last_scanned
end
`

func TestEngine_LuaHooks(t *testing.T) {
	ctx := context.Background()
	scripts, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, scripts.LoadScript("hooks.lua", []byte(hookScript)))

	e := New(WithScripting(scripts))
	defer e.Close()

	important, _ := e.Remember(ctx, record.NewEpisodic("quarterly report review", record.WithPriority(90)))
	pinned, _ := e.Remember(ctx, record.NewEpisodic("draft report notes", record.WithPriority(10), record.WithTags("pinned")))

	res, err := e.Query(ctx, query.Query{Text: "report"})
	require.NoError(t, err)
	assert.Equal(t, []string{pinned, important}, res.IDs())

	_, err = e.Consolidate(ctx)
	require.NoError(t, err)
	got, err := scripts.ExecuteFunction(ctx, "get_last_scanned")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got)
}

func TestEngine_LuaHookErrorKeepsScore(t *testing.T) {
	ctx := context.Background()
	scripts, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, scripts.LoadScript("broken.lua", []byte(`
function adjust_score(rec, score)
  error("boom")
end`)))

	e := New(WithScripting(scripts))
	defer e.Close()

	high, _ := e.Remember(ctx, record.NewEpisodic("budget meeting", record.WithPriority(90)))
	low, _ := e.Remember(ctx, record.NewEpisodic("budget spreadsheet", record.WithPriority(10)))

	res, err := e.Query(ctx, query.Query{Text: "budget"})
	require.NoError(t, err)
	assert.Equal(t, []string{high, low}, res.IDs())
}

func TestScoreHook_AbsentFunction(t *testing.T) {
	scripts, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	require.NoError(t, err)
	defer scripts.Close()

	assert.Nil(t, scoreHook(scripts))
	assert.Nil(t, afterConsolidateHook(scripts))
}
