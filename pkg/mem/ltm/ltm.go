// Package ltm defines the long-term persistence collaborator. The engine
// treats a Store as a durability and fallback layer only; the in-memory
// record store stays the primary read path.
package ltm

import (
	"context"
	"strings"

	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/record"
)

// DefaultSearchLimit caps Search when the query sets no limit.
const DefaultSearchLimit = 100

// SearchQuery selects persisted records by content text and kind.
type SearchQuery struct {
	// Text is matched case-insensitively against record content. Empty
	// matches everything.
	Text string

	// Kinds restricts the search. Empty means every kind.
	Kinds []record.Kind

	// Limit caps the result size. Zero means DefaultSearchLimit.
	Limit int
}

// EffectiveLimit returns the limit to apply.
func (q SearchQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultSearchLimit
	}
	return q.Limit
}

// Store is the interface every long-term persistence adapter implements.
type Store interface {
	// Save upserts a record.
	Save(ctx context.Context, rec *record.MemoryRecord) error

	// SaveMany upserts records in one batch.
	SaveMany(ctx context.Context, recs []*record.MemoryRecord) error

	// Get returns the record with id or an error wrapping errors.ErrNotFound.
	Get(ctx context.Context, id string) (*record.MemoryRecord, error)

	// GetByKind returns every record of kind.
	GetByKind(ctx context.Context, kind record.Kind) ([]*record.MemoryRecord, error)

	// Search returns records whose content matches the query.
	Search(ctx context.Context, q SearchQuery) ([]*record.MemoryRecord, error)

	// Delete removes id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteMany removes ids in one batch.
	DeleteMany(ctx context.Context, ids []string) error

	// Count returns the number of persisted records.
	Count(ctx context.Context) (int, error)

	// Clear removes every persisted record.
	Clear(ctx context.Context) error
}

// Closer is implemented by adapters that hold connections or file handles.
type Closer interface {
	Close() error
}

// Matches reports whether rec satisfies q, for adapters that filter in Go.
// Text matches when the content contains the whole text or, failing that,
// any of its keyword tokens.
func Matches(rec *record.MemoryRecord, q SearchQuery) bool {
	if len(q.Kinds) > 0 {
		ok := false
		for _, k := range q.Kinds {
			if rec.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return true
	}
	content := strings.ToLower(rec.Content)
	if strings.Contains(content, text) {
		return true
	}
	for _, tok := range index.Tokenize(text) {
		if strings.Contains(content, tok) {
			return true
		}
	}
	return false
}

// SearchTerms returns the LIKE patterns SQL adapters use for q.Text: the
// whole text plus each keyword token.
func SearchTerms(text string) []string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}
	terms := []string{"%" + text + "%"}
	for _, tok := range index.Tokenize(text) {
		if tok != text {
			terms = append(terms, "%"+tok+"%")
		}
	}
	return terms
}
