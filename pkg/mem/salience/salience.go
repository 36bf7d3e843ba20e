// Package salience computes the point-in-time retrieval likelihood of a
// memory record. Scores are never stored; they are recomputed on demand.
package salience

import (
	"math"
	"time"

	"github.com/lexlapax/engram/pkg/mem/record"
)

// DefaultHalfLife is the recency half-life: one week.
const DefaultHalfLife = 7 * 24 * time.Hour

// Params tunes the salience factors.
type Params struct {
	// HalfLife is the time since last access after which the recency factor halves
	HalfLife time.Duration `yaml:"half_life"`

	// FrequencyWeight scales log10(1 + accessCount)
	FrequencyWeight float64 `yaml:"frequency_weight"`

	// ConnectionWeight scales the number of connections
	ConnectionWeight float64 `yaml:"connection_weight"`
}

// DefaultParams returns the standard weighting.
func DefaultParams() Params {
	return Params{
		HalfLife:         DefaultHalfLife,
		FrequencyWeight:  0.2,
		ConnectionWeight: 0.05,
	}
}

// RecencyRate is the per-hour decay constant k_r = ln2 / halfLifeHours.
func (p Params) RecencyRate() float64 {
	hl := p.HalfLife
	if hl <= 0 {
		hl = DefaultHalfLife
	}
	return math.Ln2 / hl.Hours()
}

// Breakdown exposes each factor of a salience score.
type Breakdown struct {
	Importance float64
	Recency    float64
	Emotional  float64
	Frequency  float64
	Connection float64
	Certainty  float64
	Score      float64
}

// Explain computes the salience of rec at now along with its factors.
func (p Params) Explain(rec *record.MemoryRecord, now time.Time) Breakdown {
	hours := now.Sub(rec.LastAccessedAt).Hours()
	if hours < 0 {
		hours = 0
	}

	b := Breakdown{
		Importance: float64(rec.Priority) / 100,
		Recency:    math.Exp(-p.RecencyRate() * hours),
		Emotional:  1 + rec.EmotionalWeight(),
		Frequency:  1 + p.FrequencyWeight*math.Log10(1+float64(max(rec.AccessCount, 0))),
		Connection: 1 + p.ConnectionWeight*float64(rec.Connections.Len()),
		Certainty:  rec.Certainty,
	}
	b.Score = b.Importance * b.Recency * b.Emotional * b.Frequency * b.Connection * b.Certainty
	return b
}

// Score computes the salience of rec at now.
func (p Params) Score(rec *record.MemoryRecord, now time.Time) float64 {
	return p.Explain(rec, now).Score
}

// Score computes salience with the default parameters.
func Score(rec *record.MemoryRecord, now time.Time) float64 {
	return DefaultParams().Score(rec, now)
}
