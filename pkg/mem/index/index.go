// Package index maintains the secondary indices over stored memory records.
// Indices map derived keys to id sets and are consulted by the query engine
// and the associative graph; they never hold record copies.
package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/lexlapax/engram/pkg/mem/record"
)

// Name identifies one of the secondary indices.
type Name string

// Index names.
const (
	Keyword    Name = "keyword"
	Tag        Name = "tag"
	TimeBucket Name = "time_bucket"
	Emotion    Name = "emotion"
	Entity     Name = "entity"
)

// Names lists every index.
var Names = []Name{Keyword, Tag, TimeBucket, Emotion, Entity}

// index is a single key -> ids mapping with a reverse id -> keys map so
// upserts and removals touch only the buckets a record occupies.
type index struct {
	mu      sync.RWMutex
	buckets map[string]record.IDSet
	keysOf  map[string][]string
}

func newIndex() *index {
	return &index{
		buckets: make(map[string]record.IDSet),
		keysOf:  make(map[string][]string),
	}
}

func (ix *index) put(id string, keys []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
	if len(keys) == 0 {
		return
	}
	for _, k := range keys {
		set := ix.buckets[k]
		set.Add(id)
		ix.buckets[k] = set
	}
	ix.keysOf[id] = keys
}

func (ix *index) remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *index) removeLocked(id string) {
	for _, k := range ix.keysOf[id] {
		set := ix.buckets[k]
		set.Remove(id)
		if set.Len() == 0 {
			delete(ix.buckets, k)
		}
	}
	delete(ix.keysOf, id)
}

func (ix *index) lookup(key string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.buckets[key].Slice()
}

func (ix *index) keys(id string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, len(ix.keysOf[id]))
	copy(out, ix.keysOf[id])
	return out
}

func (ix *index) reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.buckets = make(map[string]record.IDSet)
	ix.keysOf = make(map[string][]string)
}

func (ix *index) size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.buckets)
}

// Set holds the five secondary indices. It is safe for concurrent use.
type Set struct {
	indices map[Name]*index
}

// NewSet creates an empty index set.
func NewSet() *Set {
	s := &Set{indices: make(map[Name]*index, len(Names))}
	for _, n := range Names {
		s.indices[n] = newIndex()
	}
	return s
}

// Add indexes rec, replacing whatever was previously indexed under its id.
// Records are assumed to be validated already.
func (s *Set) Add(rec *record.MemoryRecord) {
	for name, keys := range KeysFor(rec) {
		s.indices[name].put(rec.ID, keys)
	}
}

// Remove drops id from every index.
func (s *Set) Remove(id string) {
	for _, ix := range s.indices {
		ix.remove(id)
	}
}

// Rebuild discards all index state and re-indexes records from scratch.
func (s *Set) Rebuild(records []*record.MemoryRecord) {
	for _, ix := range s.indices {
		ix.reset()
	}
	for _, rec := range records {
		s.Add(rec)
	}
}

// Lookup returns the ids indexed under key, sorted.
func (s *Set) Lookup(name Name, key string) []string {
	ix, ok := s.indices[name]
	if !ok {
		return nil
	}
	return ix.lookup(normalizeKey(name, key))
}

// Union returns every id indexed under any of keys.
func (s *Set) Union(name Name, keys ...string) record.IDSet {
	out := record.IDSet{}
	for _, k := range keys {
		for _, id := range s.Lookup(name, k) {
			out.Add(id)
		}
	}
	return out
}

// Intersect returns the ids indexed under every one of keys.
// With no keys it returns nil, meaning "no constraint".
func (s *Set) Intersect(name Name, keys ...string) record.IDSet {
	if len(keys) == 0 {
		return nil
	}
	out := record.NewIDSet(s.Lookup(name, keys[0])...)
	for _, k := range keys[1:] {
		next := record.NewIDSet(s.Lookup(name, k)...)
		for id := range out {
			if !next.Has(id) {
				delete(out, id)
			}
		}
	}
	return out
}

// KeysOf returns the keys id is currently indexed under in name.
func (s *Set) KeysOf(name Name, id string) []string {
	ix, ok := s.indices[name]
	if !ok {
		return nil
	}
	return ix.keys(id)
}

// Contains reports whether id is referenced by any index bucket.
func (s *Set) Contains(id string) bool {
	for _, n := range Names {
		if len(s.indices[n].keys(id)) > 0 {
			return true
		}
	}
	return false
}

// Sizes reports the number of distinct keys per index.
func (s *Set) Sizes() map[Name]int {
	out := make(map[Name]int, len(s.indices))
	for n, ix := range s.indices {
		out[n] = ix.size()
	}
	return out
}

// KeysFor derives the index keys of rec for every index.
func KeysFor(rec *record.MemoryRecord) map[Name][]string {
	keys := map[Name][]string{
		Keyword:    Tokenize(rec.Content),
		Tag:        dedupe(rec.Tags()),
		TimeBucket: {DayBucket(rec.CreatedAt)},
		Emotion:    {EmotionCategory(rec.EmotionalValence, rec.EmotionalIntensity)},
	}
	entities := make([]string, 0, rec.Context.AssociatedEntities.Len())
	for _, e := range rec.Context.AssociatedEntities.Slice() {
		entities = append(entities, strings.ToLower(e))
	}
	keys[Entity] = dedupe(entities)
	return keys
}

func normalizeKey(name Name, key string) string {
	switch name {
	case Keyword, Tag, Entity:
		return strings.ToLower(strings.TrimSpace(key))
	}
	return key
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
