package engram

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/semantic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type indexerMock struct {
	mock.Mock
}

func (m *indexerMock) Index(ctx context.Context, rec *record.MemoryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *indexerMock) Reindex(ctx context.Context, rec *record.MemoryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *indexerMock) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *indexerMock) SemanticSearch(ctx context.Context, text string, limit int, minScore float64) ([]semantic.Match, error) {
	args := m.Called(ctx, text, limit, minScore)
	return args.Get(0).([]semantic.Match), args.Error(1)
}

func (m *indexerMock) FindSimilar(ctx context.Context, id string, limit int, minSimilarity float64) ([]semantic.Match, error) {
	args := m.Called(ctx, id, limit, minSimilarity)
	return args.Get(0).([]semantic.Match), args.Error(1)
}

type persistenceMock struct {
	mock.Mock
	ltm.Store
}

func (m *persistenceMock) Save(ctx context.Context, rec *record.MemoryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *persistenceMock) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func deadlineCtx() interface{} {
	return mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})
}

func TestSyncListener_Stored(t *testing.T) {
	ix := new(indexerMock)
	ps := new(persistenceMock)
	l := &syncListener{persistence: ps, indexer: ix, timeout: time.Second}

	rec := record.NewEpisodic("walked the dog at dawn")
	ps.On("Save", deadlineCtx(), rec).Return(nil).Twice()
	ix.On("Index", deadlineCtx(), rec).Return(nil).Once()
	ix.On("Reindex", deadlineCtx(), rec).Return(errors.New("index offline")).Once()

	l.OnStored(context.Background(), rec, true)
	// Failures stay inside the listener.
	l.OnStored(context.Background(), rec, false)

	ps.AssertExpectations(t)
	ix.AssertExpectations(t)
}

func TestSyncListener_Removed(t *testing.T) {
	ix := new(indexerMock)
	ps := new(persistenceMock)
	l := &syncListener{persistence: ps, indexer: ix, timeout: time.Second}

	ps.On("Delete", deadlineCtx(), "gone").Return(errors.Wrap(errors.ErrNotFound, "record gone")).Once()
	ix.On("Remove", deadlineCtx(), "gone").Return(nil).Once()

	l.OnRemoved(context.Background(), "gone")

	ps.AssertExpectations(t)
	ix.AssertExpectations(t)
}

func TestSyncListener_CancelledContextSkipsCollaborators(t *testing.T) {
	ix := new(indexerMock)
	ps := new(persistenceMock)
	l := &syncListener{persistence: ps, indexer: ix, timeout: time.Second}

	var buf bytes.Buffer
	logger := log.SetupWithOutput(log.Config{Level: log.WarnLevel, Format: log.TextFormat}, &buf)
	ctx, cancel := context.WithCancel(log.WithLogger(context.Background(), logger))
	cancel()
	rec := record.NewSemantic("water boils at 100C at sea level")
	l.OnStored(ctx, rec, true)
	l.OnRemoved(ctx, rec.ID)

	out := buf.String()
	assert.Equal(t, 4, strings.Count(out, `msg="Write-through skipped"`))
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "record_id="+rec.ID)
	assert.Contains(t, out, "context canceled")

	ps.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	ps.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	ix.AssertNotCalled(t, "Index", mock.Anything, mock.Anything)
	ix.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}

func TestSyncListener_IndexerOnly(t *testing.T) {
	ix := new(indexerMock)
	l := &syncListener{indexer: ix, timeout: time.Second}

	rec := record.NewProcedural("tap the card, then enter the PIN")
	ix.On("Index", mock.Anything, rec).Return(nil).Once()
	l.OnStored(context.Background(), rec, true)

	ix.AssertExpectations(t)
	assert.Len(t, ix.Calls, 1)
}
