package mock

import (
	"context"
	"testing"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/ltm/ltmtest"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Conformance(t *testing.T) {
	ltmtest.Run(t, func(t *testing.T) ltm.Store {
		return NewMockStore()
	})
}

func TestMockStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()
	boom := errors.New("disk on fire")

	s.SetError(boom)
	err := s.Save(ctx, record.NewEpisodic("never saved"))
	assert.Equal(t, boom, err)
	_, err = s.Search(ctx, ltm.SearchQuery{Text: "saved"})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, s.Calls("Save"))
	assert.Equal(t, 1, s.Calls("Search"))

	s.SetError(nil)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
