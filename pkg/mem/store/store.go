// Package store is the record store: typed partitions of memory records
// keyed by id, kept consistent with the secondary indices under
// concurrent reads and writes.
//
// Canonical records are never mutated in place. Every write builds a new
// copy and swaps it into its partition while the id's stripe lock is held,
// so readers only ever observe whole records.
package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/record"
)

// lockStripes is the number of per-id mutex stripes.
const lockStripes = 64

// Listener receives change notifications after a write's locks are released.
// Records passed to a listener are copies.
type Listener interface {
	OnStored(ctx context.Context, rec *record.MemoryRecord, created bool)
	OnRemoved(ctx context.Context, id string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Stored  func(ctx context.Context, rec *record.MemoryRecord, created bool)
	Removed func(ctx context.Context, id string)
}

// OnStored implements Listener.
func (l ListenerFuncs) OnStored(ctx context.Context, rec *record.MemoryRecord, created bool) {
	if l.Stored != nil {
		l.Stored(ctx, rec, created)
	}
}

// OnRemoved implements Listener.
func (l ListenerFuncs) OnRemoved(ctx context.Context, id string) {
	if l.Removed != nil {
		l.Removed(ctx, id)
	}
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIndexSet supplies a pre-built index set.
func WithIndexSet(ix *index.Set) Option {
	return func(s *Store) { s.indices = ix }
}

type partition struct {
	mu      sync.RWMutex
	records map[string]*record.MemoryRecord
}

// Store holds the canonical copy of every memory record.
type Store struct {
	partitions map[record.Kind]*partition
	indices    *index.Set
	stripes    [lockStripes]sync.Mutex

	lmu       sync.RWMutex
	listeners []Listener

	now func() time.Time
}

// New creates an empty store with one partition per kind.
func New(opts ...Option) *Store {
	s := &Store{
		partitions: make(map[record.Kind]*partition, len(record.Kinds)),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, k := range record.Kinds {
		s.partitions[k] = &partition{records: make(map[string]*record.MemoryRecord)}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.indices == nil {
		s.indices = index.NewSet()
	}
	return s
}

// Indices exposes the secondary indices to the query engine and graph.
func (s *Store) Indices() *index.Set {
	return s.indices
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Subscribe registers l for change notifications.
func (s *Store) Subscribe(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Store validates rec and upserts a copy into its kind partition, updating
// every index before returning. A missing id is generated. On update the
// kind, creation time and connections of the existing record are kept:
// connections change only through UpdateMany, and access bookkeeping never
// moves backwards.
func (s *Store) Store(ctx context.Context, rec *record.MemoryRecord) (string, error) {
	if rec == nil {
		verr := &errors.ValidationError{}
		verr.Add("record", "must not be nil")
		return "", verr
	}

	cp := rec.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	s.applyDefaults(cp)

	unlock := s.lock(cp.ID)
	existing, _ := s.lookup(cp.ID)
	if existing != nil {
		if existing.Kind != cp.Kind {
			unlock()
			verr := &errors.ValidationError{}
			verr.Add("kind", "is immutable (stored as %s, got %s)", existing.Kind, cp.Kind)
			return "", verr
		}
		cp.CreatedAt = existing.CreatedAt
		cp.Connections = existing.Connections.Clone()
		if existing.AccessCount > cp.AccessCount {
			cp.AccessCount = existing.AccessCount
		}
		if existing.LastAccessedAt.After(cp.LastAccessedAt) {
			cp.LastAccessedAt = existing.LastAccessedAt
		}
	} else {
		cp.Connections = record.IDSet{}
	}

	if err := cp.Validate(); err != nil {
		unlock()
		log.DebugContext(ctx, "Rejected memory record", "record_id", cp.ID, "error", err)
		return "", err
	}

	s.put(cp)
	s.indices.Add(cp)
	unlock()

	s.notifyStored(ctx, cp.Clone(), existing == nil)
	return cp.ID, nil
}

// Get returns a copy of the record and counts the call as a recall:
// accessCount is incremented and lastAccessedAt moved to now.
func (s *Store) Get(ctx context.Context, id string) (*record.MemoryRecord, bool) {
	unlock := s.lock(id)
	defer unlock()

	cur, _ := s.lookup(id)
	if cur == nil {
		return nil, false
	}
	cp := cur.Clone()
	cp.MarkAccessed(s.now())
	s.put(cp)
	return cp.Clone(), true
}

// Peek returns a copy of the record without touching access bookkeeping.
func (s *Store) Peek(id string) (*record.MemoryRecord, bool) {
	cur, _ := s.lookup(id)
	if cur == nil {
		return nil, false
	}
	return cur.Clone(), true
}

// Exists reports whether id is stored.
func (s *Store) Exists(id string) bool {
	cur, _ := s.lookup(id)
	return cur != nil
}

// Touch marks each existing id as accessed and returns the updated copies
// in argument order. Missing ids are skipped.
func (s *Store) Touch(ctx context.Context, ids ...string) []*record.MemoryRecord {
	out := make([]*record.MemoryRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.Get(ctx, id); ok {
			out = append(out, rec)
		}
	}
	return out
}

// UpdateFunc mutates the copies it is handed and reports whether anything changed.
type UpdateFunc func(recs map[string]*record.MemoryRecord) (changed bool, err error)

// Update atomically applies fn to a single record. It reports false when
// the id does not exist.
func (s *Store) Update(ctx context.Context, id string, fn func(rec *record.MemoryRecord) (bool, error)) (bool, error) {
	return s.UpdateMany(ctx, []string{id}, func(recs map[string]*record.MemoryRecord) (bool, error) {
		return fn(recs[id])
	})
}

// UpdateMany atomically applies fn to copies of several records, holding
// every involved id lock for the duration. If any id is missing nothing is
// changed and found is false. Changed records are re-validated, swapped in,
// re-indexed and announced to listeners; unchanged ones are left alone.
func (s *Store) UpdateMany(ctx context.Context, ids []string, fn UpdateFunc) (found bool, err error) {
	unlock := s.lock(ids...)

	recs := make(map[string]*record.MemoryRecord, len(ids))
	for _, id := range ids {
		cur, _ := s.lookup(id)
		if cur == nil {
			unlock()
			return false, nil
		}
		recs[id] = cur.Clone()
	}

	changed, err := fn(recs)
	if err != nil || !changed {
		unlock()
		return true, err
	}

	for id, rec := range recs {
		orig, _ := s.lookup(id)
		verr := &errors.ValidationError{}
		if rec.ID != id {
			verr.Add("id", "is immutable")
		}
		if rec.Kind != orig.Kind {
			verr.Add("kind", "is immutable")
		}
		if verr.HasViolations() {
			unlock()
			return true, verr
		}
		if err := rec.Validate(); err != nil {
			unlock()
			return true, err
		}
	}

	updated := make([]*record.MemoryRecord, 0, len(recs))
	for _, id := range ids {
		rec := recs[id]
		s.put(rec)
		s.indices.Add(rec)
		updated = append(updated, rec.Clone())
	}
	unlock()

	for _, rec := range updated {
		s.notifyStored(ctx, rec, false)
	}
	return true, nil
}

// Remove deletes id, purging it from every index and from the connections
// of each linked peer while holding the locks of the record and all its
// peers. It reports false if id was not stored.
func (s *Store) Remove(ctx context.Context, id string) bool {
	for {
		snapshot, ok := s.Peek(id)
		if !ok {
			return false
		}
		peers := snapshot.Connections.Slice()

		unlock := s.lock(append([]string{id}, peers...)...)
		cur, _ := s.lookup(id)
		if cur == nil {
			unlock()
			return false
		}
		if !cur.Connections.Equal(snapshot.Connections) {
			// A connect or disconnect slipped in between; retry with the new peer set.
			unlock()
			continue
		}

		var touched []*record.MemoryRecord
		for _, peerID := range peers {
			peer, _ := s.lookup(peerID)
			if peer == nil || !peer.Connections.Has(id) {
				continue
			}
			cp := peer.Clone()
			cp.Connections.Remove(id)
			s.put(cp)
			touched = append(touched, cp.Clone())
		}
		s.delete(cur)
		s.indices.Remove(id)
		unlock()

		log.DebugContext(ctx, "Removed memory record", "record_id", id, "peers_updated", len(touched))
		s.notifyRemoved(ctx, id)
		for _, peer := range touched {
			s.notifyStored(ctx, peer, false)
		}
		return true
	}
}

// All returns copies of every record of the given kinds (all kinds when
// none are given), ordered by creation time then id.
func (s *Store) All(kinds ...record.Kind) []*record.MemoryRecord {
	if len(kinds) == 0 {
		kinds = record.Kinds
	}
	var out []*record.MemoryRecord
	for _, k := range kinds {
		out = append(out, s.Partition(k)...)
	}
	SortByCreated(out)
	return out
}

// Partition returns copies of every record of kind in unspecified order.
func (s *Store) Partition(kind record.Kind) []*record.MemoryRecord {
	p, ok := s.partitions[kind]
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*record.MemoryRecord, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r.Clone())
	}
	return out
}

// IDs returns the ids of every record of the given kinds, sorted.
func (s *Store) IDs(kinds ...record.Kind) []string {
	if len(kinds) == 0 {
		kinds = record.Kinds
	}
	var ids []string
	for _, k := range kinds {
		p, ok := s.partitions[k]
		if !ok {
			continue
		}
		p.mu.RLock()
		for id := range p.records {
			ids = append(ids, id)
		}
		p.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// Count returns the total number of records.
func (s *Store) Count() int {
	n := 0
	for _, c := range s.CountByKind() {
		n += c
	}
	return n
}

// CountByKind returns the record count of each partition.
func (s *Store) CountByKind() map[record.Kind]int {
	out := make(map[record.Kind]int, len(s.partitions))
	for k, p := range s.partitions {
		p.mu.RLock()
		out[k] = len(p.records)
		p.mu.RUnlock()
	}
	return out
}

// ImportOption configures Import.
type ImportOption func(*importOptions)

type importOptions struct {
	replace bool
	silent  bool
}

// ImportReplace discards current contents before loading.
func ImportReplace() ImportOption {
	return func(o *importOptions) { o.replace = true }
}

// ImportSilent skips listener notification, for loading state that came
// from a listener's own backing store.
func ImportSilent() ImportOption {
	return func(o *importOptions) { o.silent = true }
}

// Import loads records in bulk. Every record is validated before anything
// changes; a single invalid record aborts the whole import. Connections are
// restricted to ids that exist after the import and made symmetric. When
// merging over an existing record its creation time is kept, access
// bookkeeping never moves backwards, and peers the incoming copy no longer
// lists lose their back-link.
func (s *Store) Import(ctx context.Context, recs []*record.MemoryRecord, opts ...ImportOption) error {
	var o importOptions
	for _, opt := range opts {
		opt(&o)
	}

	incoming := make(map[string]*record.MemoryRecord, len(recs))
	order := make([]string, 0, len(recs))
	verr := &errors.ValidationError{}
	for i, r := range recs {
		if r == nil {
			verr.Add(fmt.Sprintf("records[%d]", i), "must not be nil")
			continue
		}
		cp := r.Clone()
		if cp.ID == "" {
			cp.ID = uuid.New().String()
		}
		s.applyDefaults(cp)
		if _, dup := incoming[cp.ID]; dup {
			verr.Add(fmt.Sprintf("records[%d].id", i), "duplicate id %s", cp.ID)
			continue
		}
		if err := cp.Validate(); err != nil {
			verr.Add(fmt.Sprintf("records[%d]", i), "%v", err)
			continue
		}
		incoming[cp.ID] = cp
		order = append(order, cp.ID)
	}
	if verr.HasViolations() {
		return verr
	}

	unlock := s.lockAll()

	var removed []string
	if o.replace {
		for _, k := range record.Kinds {
			p := s.partitions[k]
			p.mu.Lock()
			for id := range p.records {
				if _, keep := incoming[id]; !keep {
					removed = append(removed, id)
				}
			}
			p.records = make(map[string]*record.MemoryRecord)
			p.mu.Unlock()
		}
	} else {
		for id, r := range incoming {
			if cur, _ := s.lookup(id); cur != nil && cur.Kind != r.Kind {
				unlock()
				verr.Add("kind", "is immutable for %s (stored as %s, got %s)", id, cur.Kind, r.Kind)
				return verr
			}
		}
	}

	// Peers outside the import whose links change get a fresh copy.
	touched := make(map[string]*record.MemoryRecord)
	touch := func(id string, peer *record.MemoryRecord) *record.MemoryRecord {
		if cp, ok := touched[id]; ok {
			return cp
		}
		cp := peer.Clone()
		touched[id] = cp
		return cp
	}

	existed := make(map[string]bool)
	if !o.replace {
		for _, id := range order {
			cur, _ := s.lookup(id)
			if cur == nil {
				continue
			}
			existed[id] = true
			r := incoming[id]
			r.CreatedAt = cur.CreatedAt
			if cur.AccessCount > r.AccessCount {
				r.AccessCount = cur.AccessCount
			}
			if cur.LastAccessedAt.After(r.LastAccessedAt) {
				r.LastAccessedAt = cur.LastAccessedAt
			}
			// Peers the incoming copy no longer lists drop their back-link.
			for _, peerID := range cur.Connections.Slice() {
				if r.Connections.Has(peerID) {
					continue
				}
				if _, ours := incoming[peerID]; ours {
					continue
				}
				peer, _ := s.lookup(peerID)
				if peer == nil || !peer.Connections.Has(id) {
					continue
				}
				touch(peerID, peer).Connections.Remove(id)
			}
		}
	}

	resolve := func(id string) *record.MemoryRecord {
		if r, ok := incoming[id]; ok {
			return r
		}
		cur, _ := s.lookup(id)
		return cur
	}

	for _, id := range order {
		r := incoming[id]
		for _, peerID := range r.Connections.Slice() {
			peer := resolve(peerID)
			if peer == nil || peerID == id {
				r.Connections.Remove(peerID)
				continue
			}
			if _, ours := incoming[peerID]; !ours {
				if cp, ok := touched[peerID]; ok {
					peer = cp
				}
			}
			if peer.Connections.Has(id) {
				continue
			}
			if _, ours := incoming[peerID]; !ours {
				peer = touch(peerID, peer)
			}
			peer.Connections.Add(id)
		}
	}

	for _, id := range order {
		s.put(incoming[id])
	}
	for _, peer := range touched {
		s.put(peer)
	}
	if o.replace {
		s.indices.Rebuild(s.allLocked())
	} else {
		for _, id := range order {
			s.indices.Add(incoming[id])
		}
	}
	unlock()

	log.InfoContext(ctx, "Imported memory records", "count", len(order), "replace", o.replace)
	if o.silent {
		return nil
	}
	for _, id := range removed {
		s.notifyRemoved(ctx, id)
	}
	for _, id := range order {
		s.notifyStored(ctx, incoming[id].Clone(), !existed[id])
	}
	for _, peer := range touched {
		s.notifyStored(ctx, peer.Clone(), false)
	}
	return nil
}

// Export returns copies of every record, ordered by creation time.
func (s *Store) Export() []*record.MemoryRecord {
	return s.All()
}

// Clear removes every record and resets the indices.
func (s *Store) Clear(ctx context.Context) {
	unlock := s.lockAll()
	ids := make([]string, 0)
	for _, k := range record.Kinds {
		p := s.partitions[k]
		p.mu.Lock()
		for id := range p.records {
			ids = append(ids, id)
		}
		p.records = make(map[string]*record.MemoryRecord)
		p.mu.Unlock()
	}
	s.indices.Rebuild(nil)
	unlock()

	for _, id := range ids {
		s.notifyRemoved(ctx, id)
	}
}

func (s *Store) allLocked() []*record.MemoryRecord {
	var out []*record.MemoryRecord
	for _, k := range record.Kinds {
		p := s.partitions[k]
		p.mu.RLock()
		for _, r := range p.records {
			out = append(out, r)
		}
		p.mu.RUnlock()
	}
	return out
}

// SortByCreated orders records by creation time, then id.
func SortByCreated(recs []*record.MemoryRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

// applyDefaults fills unset fields. Zero timestamps and a zero
// reinforcement score count as unset; nothing else is adjusted.
func (s *Store) applyDefaults(r *record.MemoryRecord) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.LastAccessedAt.IsZero() {
		r.LastAccessedAt = r.CreatedAt
	}
	if r.Context.Timestamp.IsZero() {
		r.Context.Timestamp = r.CreatedAt
	}
	if r.ReinforcementScore == 0 {
		r.ReinforcementScore = record.DefaultReinforcement
	}
}

func (s *Store) lookup(id string) (*record.MemoryRecord, *partition) {
	for _, k := range record.Kinds {
		p := s.partitions[k]
		p.mu.RLock()
		r, ok := p.records[id]
		p.mu.RUnlock()
		if ok {
			return r, p
		}
	}
	return nil, nil
}

func (s *Store) put(r *record.MemoryRecord) {
	p := s.partitions[r.Kind]
	p.mu.Lock()
	p.records[r.ID] = r
	p.mu.Unlock()
}

func (s *Store) delete(r *record.MemoryRecord) {
	p := s.partitions[r.Kind]
	p.mu.Lock()
	delete(p.records, r.ID)
	p.mu.Unlock()
}

func stripeOf(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % lockStripes)
}

// lock acquires the stripe locks of ids in ascending stripe order and
// returns the matching unlock function.
func (s *Store) lock(ids ...string) func() {
	seen := make(map[int]struct{}, len(ids))
	stripes := make([]int, 0, len(ids))
	for _, id := range ids {
		st := stripeOf(id)
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		stripes = append(stripes, st)
	}
	sort.Ints(stripes)
	for _, st := range stripes {
		s.stripes[st].Lock()
	}
	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			s.stripes[stripes[i]].Unlock()
		}
	}
}

func (s *Store) lockAll() func() {
	for i := range s.stripes {
		s.stripes[i].Lock()
	}
	return func() {
		for i := len(s.stripes) - 1; i >= 0; i-- {
			s.stripes[i].Unlock()
		}
	}
}

func (s *Store) snapshotListeners() []Listener {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *Store) notifyStored(ctx context.Context, rec *record.MemoryRecord, created bool) {
	for _, l := range s.snapshotListeners() {
		l.OnStored(ctx, rec.Clone(), created)
	}
}

func (s *Store) notifyRemoved(ctx context.Context, id string) {
	for _, l := range s.snapshotListeners() {
		l.OnRemoved(ctx, id)
	}
}
