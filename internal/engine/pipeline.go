package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
)

// StepEntry is a step and the id it runs under.
type StepEntry struct {
	ID   string
	Step Step
}

// Pipeline runs its steps in insertion order over a single table.
type Pipeline struct {
	name   string
	logger *zap.Logger
	steps  []StepEntry
}

func NewPipeline(name string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{name: name, logger: logger}
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) AddStep(id string, step Step) error {
	if slices.ContainsFunc(p.steps, func(e StepEntry) bool { return e.ID == id }) {
		return fmt.Errorf("step %s already exists", id)
	}

	p.steps = append(p.steps, StepEntry{ID: id, Step: step})
	return nil
}

func (p *Pipeline) Steps() []StepEntry {
	return p.steps
}

// Run stops at the first failing step, and before the next step once ctx is
// done.
func (p *Pipeline) Run(ctx context.Context, table *Table) error {
	for _, entry := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled while running pipeline at step '%s': %w", entry.ID, err)
		}

		start := time.Now()
		if err := entry.Step.Run(ctx, table); err != nil {
			return fmt.Errorf("failed to run step '%s': %w", entry.ID, err)
		}
		p.logger.Debug("step finished",
			zap.String("pipeline", p.name),
			zap.String("step_id", entry.ID),
			zap.String("kind", entry.Step.Kind()),
			zap.Int("rows", table.Len()),
			zap.Duration("duration", time.Since(start)),
		)
	}

	return nil
}
