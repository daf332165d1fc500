package engine

import "context"

// Step consumes the exported table. Steps run in order. A step may replace
// the table contents (the cache merge does) but never reorders the rows it
// was given.
type Step interface {
	Named
	Run(ctx context.Context, table *Table) error
}

type StepFunc func(ctx context.Context, table *Table) error

type stepFunction struct {
	name string
	kind string
	fn   StepFunc
}

func (s *stepFunction) Name() string {
	return s.name
}

func (s *stepFunction) Kind() string {
	return s.kind
}

func (s *stepFunction) Run(ctx context.Context, table *Table) error {
	return s.fn(ctx, table)
}

func StepFunction(name string, kind string, fn StepFunc) Step {
	return &stepFunction{name: name, kind: kind, fn: fn}
}
