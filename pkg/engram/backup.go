package engram

import (
	"context"
	"fmt"
	"io"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/store"
)

// Export writes every record to w as a JSON array ordered by creation time.
func (e *Engine) Export(w io.Writer) error {
	return record.EncodeJSON(w, e.store.Export())
}

// Import loads a JSON array written by Export. With replace the current
// contents are discarded first. Imported records are written through to
// the collaborators. Nothing changes if any record is invalid.
func (e *Engine) Import(ctx context.Context, r io.Reader, replace bool) (int, error) {
	if e.isClosed() {
		return 0, errors.ErrClosed
	}
	recs, err := record.DecodeJSON(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	var opts []store.ImportOption
	if replace {
		opts = append(opts, store.ImportReplace())
	}
	if err := e.store.Import(ctx, recs, opts...); err != nil {
		return 0, err
	}
	if replace {
		e.ws.Clear()
	}
	return len(recs), nil
}

// Hydrate loads every persisted record into the store, rebuilding the
// indices, and re-indexes them in the semantic indexer. Records already in
// memory are overwritten by their persisted copy. It returns how many
// records were loaded.
func (e *Engine) Hydrate(ctx context.Context) (int, error) {
	if e.isClosed() {
		return 0, errors.ErrClosed
	}
	if e.persistence == nil {
		return 0, nil
	}

	var all []*record.MemoryRecord
	for _, kind := range record.Kinds {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		recs, err := e.persistence.GetByKind(cctx, kind)
		cancel()
		if err != nil {
			return 0, errors.NewCollaboratorError("persistence", "GetByKind", err)
		}
		all = append(all, recs...)
	}

	// The records came from persistence, so listeners are not told.
	if err := e.store.Import(ctx, all, store.ImportSilent()); err != nil {
		return 0, err
	}

	if e.indexer != nil {
		failed := 0
		for _, rec := range all {
			if ctx.Err() != nil {
				return len(all), ctx.Err()
			}
			cctx, cancel := context.WithTimeout(ctx, e.timeout)
			if err := e.indexer.Index(cctx, rec); err != nil {
				failed++
			}
			cancel()
		}
		if failed > 0 {
			log.WarnContext(ctx, "Some hydrated records could not be indexed", "failed", failed, "total", len(all))
		}
	}

	log.InfoContext(ctx, "Hydrated from persistence", "records", len(all))
	return len(all), nil
}
