package index

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// MinKeywordLength is the exclusive lower bound on indexed token length.
const MinKeywordLength = 3

// DayLayout is the time-bucket key format.
const DayLayout = "2006-01-02"

// Words splits text into case-folded alphanumeric words of any length.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokenize returns the distinct keyword-index tokens of text: case-folded
// words longer than MinKeywordLength characters, in first-seen order.
func Tokenize(text string) []string {
	words := Words(text)
	seen := make(map[string]struct{}, len(words))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) <= MinKeywordLength {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		tokens = append(tokens, w)
	}
	return tokens
}

// DayBucket returns the UTC day bucket for t.
func DayBucket(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// DayBuckets lists every day bucket from..to inclusive. It returns nil when
// the span exceeds maxDays so callers can fall back to a scan.
func DayBuckets(from, to time.Time, maxDays int) []string {
	start := time.Date(from.UTC().Year(), from.UTC().Month(), from.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := to.UTC()
	if end.Before(start) {
		return []string{}
	}
	var buckets []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if len(buckets) >= maxDays {
			return nil
		}
		buckets = append(buckets, d.Format(DayLayout))
	}
	return buckets
}

// EmotionCategory buckets a record's emotion by valence band crossed with
// intensity tier, e.g. "strong_positive:high" or "neutral:low".
func EmotionCategory(valence, intensity float64) string {
	return valenceBand(valence) + ":" + intensityTier(intensity)
}

func valenceBand(v float64) string {
	mag := math.Abs(v)
	switch {
	case mag <= 0.1:
		return "neutral"
	case v > 0 && mag >= 0.5:
		return "strong_positive"
	case v > 0:
		return "mild_positive"
	case mag >= 0.5:
		return "strong_negative"
	default:
		return "mild_negative"
	}
}

func intensityTier(i float64) string {
	switch {
	case i < 0.34:
		return "low"
	case i < 0.67:
		return "medium"
	default:
		return "high"
	}
}
