package mock

import (
	"context"
	"sync"

	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/semantic"
)

// MockIndexer is an in-memory semantic.Indexer scoring by the Jaccard
// overlap of keyword tokens. It can be told to fail or to block so
// callers can exercise their fallback and timeout paths.
type MockIndexer struct {
	docs  map[string]map[string]struct{}
	fail  error
	block bool
	calls map[string]int
	mutex sync.Mutex
}

// NewMockIndexer creates an empty mock indexer.
func NewMockIndexer() *MockIndexer {
	return &MockIndexer{
		docs:  make(map[string]map[string]struct{}),
		calls: make(map[string]int),
	}
}

// SetError makes every subsequent call fail with err. Nil restores normal operation.
func (m *MockIndexer) SetError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.fail = err
}

// SetBlocking makes search calls wait until their context is done.
func (m *MockIndexer) SetBlocking(block bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.block = block
}

// Calls returns how many times op was invoked.
func (m *MockIndexer) Calls(op string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.calls[op]
}

// Len returns the number of indexed documents.
func (m *MockIndexer) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.docs)
}

func (m *MockIndexer) begin(ctx context.Context, op string, search bool) error {
	m.mutex.Lock()
	m.calls[op]++
	fail, block := m.fail, m.block
	m.mutex.Unlock()
	if fail != nil {
		return fail
	}
	if search && block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range index.Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// Index implements semantic.Indexer.
func (m *MockIndexer) Index(ctx context.Context, rec *record.MemoryRecord) error {
	if err := m.begin(ctx, "Index", false); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.docs[rec.ID] = tokenSet(semantic.Document(rec))
	return nil
}

// Reindex implements semantic.Indexer.
func (m *MockIndexer) Reindex(ctx context.Context, rec *record.MemoryRecord) error {
	return m.Index(ctx, rec)
}

// Remove implements semantic.Indexer.
func (m *MockIndexer) Remove(ctx context.Context, id string) error {
	if err := m.begin(ctx, "Remove", false); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.docs, id)
	return nil
}

// SemanticSearch implements semantic.Indexer.
func (m *MockIndexer) SemanticSearch(ctx context.Context, text string, limit int, minScore float64) ([]semantic.Match, error) {
	if err := m.begin(ctx, "SemanticSearch", true); err != nil {
		return nil, err
	}
	return m.rank(tokenSet(text), "", limit, minScore), nil
}

// FindSimilar implements semantic.Indexer.
func (m *MockIndexer) FindSimilar(ctx context.Context, id string, limit int, minSimilarity float64) ([]semantic.Match, error) {
	if err := m.begin(ctx, "FindSimilar", true); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	probe, ok := m.docs[id]
	m.mutex.Unlock()
	if !ok {
		return nil, nil
	}
	return m.rank(probe, id, limit, minSimilarity), nil
}

func (m *MockIndexer) rank(probe map[string]struct{}, exclude string, limit int, minScore float64) []semantic.Match {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var out []semantic.Match
	for id, doc := range m.docs {
		if id == exclude {
			continue
		}
		score := jaccard(probe, doc)
		if score > 0 && score >= minScore {
			out = append(out, semantic.Match{ID: id, Score: score})
		}
	}
	semantic.SortMatches(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
