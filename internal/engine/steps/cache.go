package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fsexport/fsexport/internal/cache"
	"github.com/fsexport/fsexport/internal/engine"
	"go.uber.org/zap"
)

const CacheStepKind = "cache"

type CacheStepConfig struct {
	Store  *cache.Store
	FormID string
	// Items is the raw items response saved along the results.
	Items    json.RawMessage
	Location *time.Location
	// Last keeps the first Last merged rows, every row when 0.
	Last int
}

// NewCacheStep merges the table with the cached results of the form and saves
// the union. The table is replaced with the merged rows so later steps see
// every known result, trimmed to Last.
func NewCacheStep(name string, logger *zap.Logger, cfg CacheStepConfig) (engine.Step, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.FormID == "" {
		return nil, fmt.Errorf("form id is required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return engine.StepFunction(name, CacheStepKind, func(ctx context.Context, table *engine.Table) error {
		if !table.Empty() && table.ColumnIndex(engine.ReferenceColumn) == -1 {
			return fmt.Errorf("results without a %q column cannot be cached", engine.ReferenceColumn)
		}

		fresh := table.Len()
		merged, err := cfg.Store.Update(ctx, cfg.FormID, table, cfg.Items)
		if err != nil {
			return fmt.Errorf("failed to update cache: %w", err)
		}

		merged.InZone(loc)
		cached := merged.Len()
		table.Columns = merged.Columns
		table.Rows = merged.Rows
		table.Head(cfg.Last)

		logger.Info("updated cache",
			zap.String("form", cfg.FormID),
			zap.Int("fresh", fresh),
			zap.Int("cached", cached),
			zap.Int("total", table.Len()),
		)
		return nil
	}), nil
}
