// Package ltmtest provides a conformance suite every ltm.Store adapter
// runs from its own tests.
package ltmtest

import (
	"context"
	"testing"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

// Fixtures returns a small, varied record set.
func Fixtures() []*record.MemoryRecord {
	lunch := record.NewEpisodic("Lunch with Dana at the Thai place",
		record.WithEmotion(0.6, 0.7),
		record.WithTags("food", "friends"),
		record.WithEntities("Dana"),
		record.WithCreatedAt(base),
	)
	pref := record.NewSemantic("Dana prefers Thai food",
		record.WithCertainty(0.9),
		record.WithCreatedAt(base.Add(time.Hour)),
	)
	lunch.Connections.Add(pref.ID)
	pref.Connections.Add(lunch.ID)

	return []*record.MemoryRecord{
		lunch,
		pref,
		record.NewEmotional("Nervous before the launch review", -0.4, 0.8,
			record.WithCreatedAt(base.Add(2*time.Hour))),
		record.NewProcedural("Rotate the signing keys every quarter",
			record.WithCreatedAt(base.Add(3*time.Hour))),
	}
}

// Run exercises every ltm.Store operation against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) ltm.Store) {
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		s := newStore(t)
		fx := Fixtures()
		require.NoError(t, s.Save(ctx, fx[0]))

		got, err := s.Get(ctx, fx[0].ID)
		require.NoError(t, err)
		assert.Equal(t, fx[0].ID, got.ID)
		assert.Equal(t, fx[0].Kind, got.Kind)
		assert.Equal(t, fx[0].Content, got.Content)
		assert.Equal(t, fx[0].Tags(), got.Tags())
		assert.True(t, fx[0].CreatedAt.Equal(got.CreatedAt))
		assert.True(t, got.Connections.Equal(fx[0].Connections))
		assert.True(t, got.Context.AssociatedEntities.Has("Dana"))

		_, err = s.Get(ctx, "missing")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("SaveUpserts", func(t *testing.T) {
		s := newStore(t)
		rec := Fixtures()[1]
		require.NoError(t, s.Save(ctx, rec))

		rec.Content = "Dana prefers Vietnamese food now"
		rec.Priority = 90
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Content, got.Content)
		assert.Equal(t, 90, got.Priority)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("GetByKind", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveMany(ctx, Fixtures()))

		eps, err := s.GetByKind(ctx, record.Episodic)
		require.NoError(t, err)
		require.Len(t, eps, 1)
		assert.Equal(t, record.Episodic, eps[0].Kind)

		procs, err := s.GetByKind(ctx, record.Procedural)
		require.NoError(t, err)
		assert.Len(t, procs, 1)
	})

	t.Run("Search", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveMany(ctx, Fixtures()))

		found, err := s.Search(ctx, ltm.SearchQuery{Text: "dana"})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		// Newest first.
		assert.Equal(t, record.Semantic, found[0].Kind)

		found, err = s.Search(ctx, ltm.SearchQuery{Text: "Thai lunch", Kinds: []record.Kind{record.Episodic}})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, record.Episodic, found[0].Kind)

		found, err = s.Search(ctx, ltm.SearchQuery{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, found, 3)

		found, err = s.Search(ctx, ltm.SearchQuery{Text: "zebra"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("DeleteAndClear", func(t *testing.T) {
		s := newStore(t)
		fx := Fixtures()
		require.NoError(t, s.SaveMany(ctx, fx))

		require.NoError(t, s.Delete(ctx, fx[0].ID))
		require.NoError(t, s.Delete(ctx, "never-existed"))
		_, err := s.Get(ctx, fx[0].ID)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		require.NoError(t, s.DeleteMany(ctx, []string{fx[1].ID, fx[2].ID}))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, s.Clear(ctx))
		n, err = s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
