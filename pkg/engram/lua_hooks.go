package engram

import (
	"context"
	"fmt"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/consolidate"
	"github.com/lexlapax/engram/pkg/mem/query"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/scripting"
)

const (
	// adjustScoreFuncName is called with (record, score) while ranking by
	// salience and returns the score to use.
	adjustScoreFuncName = "adjust_score"

	// afterConsolidateFuncName is called with the report of every
	// consolidation pass.
	afterConsolidateFuncName = "after_consolidate"
)

// scoreHook returns a query.ScoreHook backed by adjust_score, or nil when
// the scripts do not define it.
func scoreHook(engine scripting.Engine) query.ScoreHook {
	if !engine.HasFunction(adjustScoreFuncName) {
		return nil
	}
	return func(ctx context.Context, rec *record.MemoryRecord, score float64) (float64, error) {
		result, err := engine.ExecuteFunction(ctx, adjustScoreFuncName, recordToMap(rec), score)
		if err != nil {
			log.WarnContext(ctx, "Error calling Lua hook", "hook", adjustScoreFuncName, "record_id", rec.ID, "error", err)
			return score, err
		}
		switch v := result.(type) {
		case nil:
			return score, nil
		case float64:
			if v < 0 {
				return 0, nil
			}
			return v, nil
		default:
			err := fmt.Errorf("%w: %s returned %T, want number", errors.ErrLuaExecution, adjustScoreFuncName, result)
			log.WarnContext(ctx, "Ignoring Lua hook result", "hook", adjustScoreFuncName, "error", err)
			return score, err
		}
	}
}

// afterConsolidateHook returns a consolidate.AfterRunHook backed by
// after_consolidate, or nil when the scripts do not define it.
func afterConsolidateHook(engine scripting.Engine) consolidate.AfterRunHook {
	if !engine.HasFunction(afterConsolidateFuncName) {
		return nil
	}
	return func(ctx context.Context, r consolidate.Report) error {
		_, err := engine.ExecuteFunction(ctx, afterConsolidateFuncName, map[string]interface{}{
			"started_at": r.StartedAt,
			"scanned":    r.Scanned,
			"reinforced": r.Reinforced,
			"decayed":    r.Decayed,
			"linked":     r.Linked,
			"elapsed_ms": r.Elapsed.Milliseconds(),
		})
		return err
	}
}

// recordToMap is the view of a record handed to Lua.
func recordToMap(rec *record.MemoryRecord) map[string]interface{} {
	tags := rec.Tags()
	if tags == nil {
		tags = []string{}
	}
	return map[string]interface{}{
		"id":                  rec.ID,
		"kind":                string(rec.Kind),
		"content":             rec.Content,
		"priority":            rec.Priority,
		"certainty":           rec.Certainty,
		"emotional_valence":   rec.EmotionalValence,
		"emotional_intensity": rec.EmotionalIntensity,
		"access_count":        rec.AccessCount,
		"reinforcement_score": rec.ReinforcementScore,
		"connections":         rec.Connections.Len(),
		"created_at":          rec.CreatedAt,
		"last_accessed_at":    rec.LastAccessedAt,
		"tags":                tags,
		"metadata":            rec.Metadata.Map(),
	}
}
