package record

import (
	"encoding/json"
	"sort"
)

// IDSet is a set of string identifiers. It marshals as a sorted JSON array.
type IDSet map[string]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id, reporting whether it was new.
func (s *IDSet) Add(id string) bool {
	if *s == nil {
		*s = make(IDSet)
	}
	if _, ok := (*s)[id]; ok {
		return false
	}
	(*s)[id] = struct{}{}
	return true
}

// Remove deletes id, reporting whether it was present.
func (s IDSet) Remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the set size.
func (s IDSet) Len() int {
	return len(s)
}

// Slice returns the members in ascending order.
func (s IDSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of s; a nil set clones to nil.
func (s IDSet) Clone() IDSet {
	if s == nil {
		return nil
	}
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Equal reports whether s and o hold the same members.
func (s IDSet) Equal(o IDSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array of ids.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	if ids == nil {
		*s = nil
		return nil
	}
	*s = NewIDSet(ids...)
	return nil
}
