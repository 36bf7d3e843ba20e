package record

import (
	"math"
	"strings"

	"github.com/lexlapax/engram/pkg/errors"
)

// Validate checks every write-time invariant and returns a
// *errors.ValidationError naming each violated field. Values are never clamped.
func (r *MemoryRecord) Validate() error {
	verr := &errors.ValidationError{}

	if !r.Kind.Valid() {
		verr.Add("kind", "unknown kind %q", r.Kind)
	}
	if strings.TrimSpace(r.Content) == "" {
		verr.Add("content", "must not be empty")
	}
	if r.Priority < 0 || r.Priority > 100 {
		verr.Add("priority", "must be within [0,100], got %d", r.Priority)
	}
	if !inRange(r.EmotionalValence, -1, 1) {
		verr.Add("emotional_valence", "must be within [-1,1], got %g", r.EmotionalValence)
	}
	if !inRange(r.EmotionalIntensity, 0, 1) {
		verr.Add("emotional_intensity", "must be within [0,1], got %g", r.EmotionalIntensity)
	}
	if !inRange(r.Certainty, 0, 1) {
		verr.Add("certainty", "must be within [0,1], got %g", r.Certainty)
	}
	if !inRange(r.ReinforcementScore, MinReinforcement, MaxReinforcement) {
		verr.Add("reinforcement_score", "must be within [%g,%g], got %g",
			MinReinforcement, MaxReinforcement, r.ReinforcementScore)
	}
	if r.AccessCount < 0 {
		verr.Add("access_count", "must not be negative, got %d", r.AccessCount)
	}
	if !r.CreatedAt.IsZero() && !r.LastAccessedAt.IsZero() && r.LastAccessedAt.Before(r.CreatedAt) {
		verr.Add("last_accessed_at", "must not precede created_at")
	}
	if r.ID != "" && r.Connections.Has(r.ID) {
		verr.Add("connections", "must not contain the record's own id")
	}

	return verr.OrNil()
}

// inRange reports lo <= v <= hi, treating NaN as out of range.
func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
