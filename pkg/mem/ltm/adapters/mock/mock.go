package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/record"
)

// MockStore is an in-memory implementation of ltm.Store used for testing
// and development. It can be told to fail so callers can exercise their
// fallback paths.
type MockStore struct {
	records map[string]*record.MemoryRecord

	// fail, when set, is returned by every operation
	fail error

	// calls counts operations by name
	calls map[string]int

	mutex sync.RWMutex
}

// NewMockStore creates a new instance of the MockStore.
func NewMockStore() *MockStore {
	log.Debug("Initialized LTM mock store adapter")
	return &MockStore{
		records: make(map[string]*record.MemoryRecord),
		calls:   make(map[string]int),
	}
}

// SetError makes every subsequent call fail with err. Nil restores normal operation.
func (m *MockStore) SetError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.fail = err
}

// Calls returns how many times op was invoked.
func (m *MockStore) Calls(op string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.calls[op]
}

func (m *MockStore) begin(op string) error {
	m.calls[op]++
	return m.fail
}

// Save implements ltm.Store.
func (m *MockStore) Save(ctx context.Context, rec *record.MemoryRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin("Save"); err != nil {
		return err
	}
	m.records[rec.ID] = rec.Clone()
	log.DebugContext(ctx, "Saved memory record in mock store", "record_id", rec.ID)
	return nil
}

// SaveMany implements ltm.Store.
func (m *MockStore) SaveMany(ctx context.Context, recs []*record.MemoryRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin("SaveMany"); err != nil {
		return err
	}
	for _, r := range recs {
		m.records[r.ID] = r.Clone()
	}
	return nil
}

// Get implements ltm.Store.
func (m *MockStore) Get(ctx context.Context, id string) (*record.MemoryRecord, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin("Get"); err != nil {
		return nil, err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "record %s", id)
	}
	return r.Clone(), nil
}

// GetByKind implements ltm.Store.
func (m *MockStore) GetByKind(ctx context.Context, kind record.Kind) ([]*record.MemoryRecord, error) {
	return m.Search(ctx, ltm.SearchQuery{Kinds: []record.Kind{kind}, Limit: -1})
}

// Search implements ltm.Store. A negative limit returns every match.
func (m *MockStore) Search(ctx context.Context, q ltm.SearchQuery) ([]*record.MemoryRecord, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin("Search"); err != nil {
		return nil, err
	}

	var out []*record.MemoryRecord
	for _, r := range m.records {
		if ltm.Matches(r, q) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit >= 0 && len(out) > q.EffectiveLimit() {
		out = out[:q.EffectiveLimit()]
	}
	return out, nil
}

// Delete implements ltm.Store.
func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin("Delete"); err != nil {
		return err
	}
	delete(m.records, id)
	return nil
}

// DeleteMany implements ltm.Store.
func (m *MockStore) DeleteMany(ctx context.Context, ids []string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin("DeleteMany"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Count implements ltm.Store.
func (m *MockStore) Count(ctx context.Context) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin("Count"); err != nil {
		return 0, err
	}
	return len(m.records), nil
}

// Clear implements ltm.Store.
func (m *MockStore) Clear(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin("Clear"); err != nil {
		return err
	}
	m.records = make(map[string]*record.MemoryRecord)
	return nil
}
