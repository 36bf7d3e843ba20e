package engram

import (
	"context"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/semantic"
)

// syncListener writes store changes through to the collaborators. Failures
// are logged and never reach the caller; the in-memory store stays
// authoritative.
type syncListener struct {
	persistence ltm.Store
	indexer     semantic.Indexer
	timeout     time.Duration
}

func (l *syncListener) OnStored(ctx context.Context, rec *record.MemoryRecord, created bool) {
	if l.persistence != nil {
		l.call(ctx, "persistence", "Save", rec.ID, func(ctx context.Context) error {
			return l.persistence.Save(ctx, rec)
		})
	}
	if l.indexer != nil {
		op, fn := "Reindex", l.indexer.Reindex
		if created {
			op, fn = "Index", l.indexer.Index
		}
		l.call(ctx, "semantic_indexer", op, rec.ID, func(ctx context.Context) error {
			return fn(ctx, rec)
		})
	}
}

func (l *syncListener) OnRemoved(ctx context.Context, id string) {
	if l.persistence != nil {
		l.call(ctx, "persistence", "Delete", id, func(ctx context.Context) error {
			err := l.persistence.Delete(ctx, id)
			if errors.Is(err, errors.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	if l.indexer != nil {
		l.call(ctx, "semantic_indexer", "Remove", id, func(ctx context.Context) error {
			return l.indexer.Remove(ctx, id)
		})
	}
}

func (l *syncListener) call(ctx context.Context, collaborator, op, id string, fn func(context.Context) error) {
	if err := ctx.Err(); err != nil {
		log.WarnContext(log.WithRecord(ctx, id), "Write-through skipped",
			"error", errors.NewCollaboratorError(collaborator, op, err))
		return
	}
	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := fn(cctx); err != nil {
		log.WarnContext(log.WithRecord(ctx, id), "Write-through failed",
			"error", errors.NewCollaboratorError(collaborator, op, err))
	}
}
