package record

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Option customizes a record built by one of the kind factories.
type Option func(*MemoryRecord)

// WithPriority sets the importance, 0 to 100.
func WithPriority(p int) Option {
	return func(r *MemoryRecord) { r.Priority = p }
}

// WithEmotion sets valence and intensity.
func WithEmotion(valence, intensity float64) Option {
	return func(r *MemoryRecord) {
		r.EmotionalValence = valence
		r.EmotionalIntensity = intensity
	}
}

// WithCertainty sets the confidence in the record's factual correctness.
func WithCertainty(c float64) Option {
	return func(r *MemoryRecord) { r.Certainty = c }
}

// WithMetadata sets a metadata entry.
func WithMetadata(key, value string) Option {
	return func(r *MemoryRecord) { r.Metadata.Set(key, value) }
}

// WithTags appends tags to the tags metadata field.
func WithTags(tags ...string) Option {
	return func(r *MemoryRecord) {
		existing := r.Tags()
		for _, t := range tags {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" {
				existing = append(existing, t)
			}
		}
		r.Metadata.Set(TagsKey, strings.Join(existing, ","))
	}
}

// WithEntities adds associated entities to the record context.
func WithEntities(entities ...string) Option {
	return func(r *MemoryRecord) {
		for _, e := range entities {
			e = strings.TrimSpace(e)
			if e != "" {
				r.Context.AssociatedEntities.Add(e)
			}
		}
	}
}

// WithLocation sets the context location.
func WithLocation(location string) Option {
	return func(r *MemoryRecord) { r.Context.Location = location }
}

// WithConversation sets the context conversation id.
func WithConversation(id string) Option {
	return func(r *MemoryRecord) { r.Context.ConversationID = id }
}

// WithEnvironmentTag sets a context environment tag.
func WithEnvironmentTag(key, value string) Option {
	return func(r *MemoryRecord) {
		if r.Context.EnvironmentTags == nil {
			r.Context.EnvironmentTags = make(map[string]string)
		}
		r.Context.EnvironmentTags[key] = value
	}
}

// WithCreatedAt backdates the record. LastAccessedAt and the context
// timestamp follow.
func WithCreatedAt(t time.Time) Option {
	return func(r *MemoryRecord) {
		r.CreatedAt = t
		r.LastAccessedAt = t
		r.Context.Timestamp = t
	}
}

// WithLastAccessedAt overrides the last recall time.
func WithLastAccessedAt(t time.Time) Option {
	return func(r *MemoryRecord) { r.LastAccessedAt = t }
}

// WithAccessCount overrides the access counter.
func WithAccessCount(n int) Option {
	return func(r *MemoryRecord) { r.AccessCount = n }
}

// WithReinforcement overrides the reinforcement score.
func WithReinforcement(score float64) Option {
	return func(r *MemoryRecord) { r.ReinforcementScore = score }
}

// WithID overrides the generated id, for restores and tests.
func WithID(id string) Option {
	return func(r *MemoryRecord) { r.ID = id }
}

// NewEpisodic creates an event-like memory.
func NewEpisodic(content string, opts ...Option) *MemoryRecord {
	return build(Episodic, content, 50, 1.0, opts)
}

// NewSemantic creates a factual memory. Facts start with less than full certainty.
func NewSemantic(content string, opts ...Option) *MemoryRecord {
	return build(Semantic, content, 60, 0.8, opts)
}

// NewEmotional creates an emotional memory with the given valence and intensity.
func NewEmotional(content string, valence, intensity float64, opts ...Option) *MemoryRecord {
	return build(Emotional, content, 70, 1.0, append([]Option{WithEmotion(valence, intensity)}, opts...))
}

// NewProcedural creates a skill-like memory.
func NewProcedural(content string, opts ...Option) *MemoryRecord {
	return build(Procedural, content, 55, 0.9, opts)
}

// New dispatches to the factory for kind.
func New(kind Kind, content string, opts ...Option) *MemoryRecord {
	switch kind {
	case Semantic:
		return NewSemantic(content, opts...)
	case Emotional:
		return NewEmotional(content, 0, 0, opts...)
	case Procedural:
		return NewProcedural(content, opts...)
	case Episodic:
		return NewEpisodic(content, opts...)
	}
	// Unknown kinds are carried through so Validate can reject them.
	return build(kind, content, 50, 1.0, opts)
}

func build(kind Kind, content string, priority int, certainty float64, opts []Option) *MemoryRecord {
	now := time.Now().UTC()
	r := &MemoryRecord{
		ID:                 uuid.New().String(),
		Kind:               kind,
		Content:            content,
		Priority:           priority,
		Certainty:          certainty,
		CreatedAt:          now,
		LastAccessedAt:     now,
		ReinforcementScore: DefaultReinforcement,
		Connections:        IDSet{},
		Context:            Context{Timestamp: now},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}
