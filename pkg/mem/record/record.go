// Package record defines the memory record data model shared by every
// component of the engine: kinds, the record itself, its context, and
// the ordered metadata and id-set helper types.
package record

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind is the memory partition a record belongs to. It is fixed at creation.
type Kind string

// Memory kinds.
const (
	Episodic   Kind = "EPISODIC"
	Semantic   Kind = "SEMANTIC"
	Emotional  Kind = "EMOTIONAL"
	Procedural Kind = "PROCEDURAL"
)

// Kinds lists every kind in partition order.
var Kinds = []Kind{Episodic, Semantic, Emotional, Procedural}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case Episodic, Semantic, Emotional, Procedural:
		return true
	}
	return false
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown memory kind %q", s)
	}
	return k, nil
}

// TagsKey is the metadata key holding comma-separated tags.
const TagsKey = "tags"

// Reinforcement bounds.
const (
	MinReinforcement     = 0.2
	MaxReinforcement     = 2.0
	DefaultReinforcement = 1.0
)

// Context captures the situation a memory was formed in.
type Context struct {
	Timestamp          time.Time         `json:"timestamp"`
	Location           string            `json:"location,omitempty"`
	ConversationID     string            `json:"conversation_id,omitempty"`
	AssociatedEntities IDSet             `json:"associated_entities,omitempty"`
	EnvironmentTags    map[string]string `json:"environment_tags,omitempty"`
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	out.AssociatedEntities = c.AssociatedEntities.Clone()
	if c.EnvironmentTags != nil {
		out.EnvironmentTags = make(map[string]string, len(c.EnvironmentTags))
		for k, v := range c.EnvironmentTags {
			out.EnvironmentTags[k] = v
		}
	}
	return out
}

// MemoryRecord is a single memory. The record store owns the canonical
// copy; everything handed out by the engine is a Clone.
type MemoryRecord struct {
	ID                 string    `json:"id"`
	Kind               Kind      `json:"kind"`
	Content            string    `json:"content"`
	Metadata           Metadata  `json:"metadata"`
	Priority           int       `json:"priority"`
	CreatedAt          time.Time `json:"created_at"`
	LastAccessedAt     time.Time `json:"last_accessed_at"`
	AccessCount        int       `json:"access_count"`
	EmotionalValence   float64   `json:"emotional_valence"`
	EmotionalIntensity float64   `json:"emotional_intensity"`
	Certainty          float64   `json:"certainty"`
	Connections        IDSet     `json:"connections"`
	// ReinforcementScore of zero means unset; the store fills in
	// DefaultReinforcement. Any other value outside the bounds is rejected.
	ReinforcementScore float64   `json:"reinforcement_score"`
	Context            Context   `json:"context"`
}

// Clone returns a deep copy of r.
func (r *MemoryRecord) Clone() *MemoryRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = r.Metadata.Clone()
	out.Connections = r.Connections.Clone()
	out.Context = r.Context.Clone()
	return &out
}

// Tags returns the record's tags parsed from the tags metadata field.
func (r *MemoryRecord) Tags() []string {
	raw, ok := r.Metadata.Get(TagsKey)
	if !ok {
		return nil
	}
	return SplitTags(raw)
}

// HasTag reports whether the record carries tag, either in its tags
// metadata or as an environment tag ("key" or "key=value").
func (r *MemoryRecord) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return true
	}
	for _, t := range r.Tags() {
		if t == tag {
			return true
		}
	}
	for k, v := range r.Context.EnvironmentTags {
		k = strings.ToLower(k)
		if k == tag || k+"="+strings.ToLower(v) == tag {
			return true
		}
	}
	return false
}

// EmotionalWeight is |valence| * intensity.
func (r *MemoryRecord) EmotionalWeight() float64 {
	return math.Abs(r.EmotionalValence) * r.EmotionalIntensity
}

// IsConnected reports whether id is a direct connection of r.
func (r *MemoryRecord) IsConnected(id string) bool {
	return r.Connections.Has(id)
}

// MarkAccessed records a recall at now.
func (r *MemoryRecord) MarkAccessed(now time.Time) {
	r.AccessCount++
	if now.After(r.LastAccessedAt) {
		r.LastAccessedAt = now
	}
}

// SplitTags splits a comma-separated tag list, case-folding and dropping blanks.
func SplitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
