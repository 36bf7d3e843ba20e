package mock

import (
	"context"
	"testing"

	"github.com/lexlapax/engram/pkg/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_SimilarTextsAreClose(t *testing.T) {
	m := NewMockEmbedder()
	out, err := m.GenerateEmbeddings(context.Background(), []string{
		"Dana prefers Thai food",
		"Thai food Dana prefers",
		"Rotate the signing keys quarterly",
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, embed.Cosine(out[0], out[1]), 1e-6)
	assert.Less(t, embed.Cosine(out[0], out[2]), 0.5)
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	a, err := NewMockEmbedder().GenerateEmbeddings(context.Background(), []string{"same words"})
	require.NoError(t, err)
	b, err := NewMockEmbedder().GenerateEmbeddings(context.Background(), []string{"same words"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMockEmbedder_CannedAndEmpty(t *testing.T) {
	m := NewMockEmbedder(WithDimensions(4), WithCannedEmbedding("pinned", []float32{0, 1, 0, 0}))
	out, err := m.GenerateEmbeddings(context.Background(), []string{"pinned", ""})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, out[0])
	assert.Equal(t, []float32{1, 0, 0, 0}, out[1])
}
