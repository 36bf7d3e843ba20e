package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/lexlapax/engram/pkg/embed"
	"github.com/lexlapax/engram/pkg/mem/index"
)

// DefaultDimensions is the vector size of a MockEmbedder.
const DefaultDimensions = 64

// MockEmbedder produces deterministic bag-of-words embeddings by hashing
// each keyword token into a fixed number of dimensions. Texts sharing
// words end up with high cosine similarity, which is enough to exercise
// semantic search without a provider.
type MockEmbedder struct {
	dims   int
	canned map[string][]float32
	fail   error
	calls  int
	texts  int
	mutex  sync.Mutex
}

// MockOption configures a MockEmbedder.
type MockOption func(*MockEmbedder)

// WithDimensions sets the vector size.
func WithDimensions(n int) MockOption {
	return func(m *MockEmbedder) {
		if n > 0 {
			m.dims = n
		}
	}
}

// WithCannedEmbedding pins the embedding returned for text.
func WithCannedEmbedding(text string, v []float32) MockOption {
	return func(m *MockEmbedder) { m.canned[text] = v }
}

// NewMockEmbedder creates a mock embedder.
func NewMockEmbedder(opts ...MockOption) *MockEmbedder {
	m := &MockEmbedder{dims: DefaultDimensions, canned: make(map[string][]float32)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetError makes every subsequent call fail with err. Nil restores normal operation.
func (m *MockEmbedder) SetError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.fail = err
}

// Calls returns how many GenerateEmbeddings calls were made.
func (m *MockEmbedder) Calls() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.calls
}

// TextsEmbedded returns how many texts were embedded in total.
func (m *MockEmbedder) TextsEmbedded() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.texts
}

// GenerateEmbeddings implements embed.Embedder.
func (m *MockEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls++
	if m.fail != nil {
		return nil, m.fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.texts += len(texts)

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.canned[t]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = m.hash(t)
	}
	return out, nil
}

func (m *MockEmbedder) hash(text string) []float32 {
	v := make([]float32, m.dims)
	tokens := index.Tokenize(text)
	if len(tokens) == 0 {
		tokens = index.Words(text)
	}
	if len(tokens) == 0 {
		v[0] = 1
		return v
	}
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		v[sum%uint32(m.dims)] += 1
	}
	return embed.Normalize(v)
}
