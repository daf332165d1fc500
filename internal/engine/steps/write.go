package steps

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/fsexport/fsexport/internal/engine"
	"go.uber.org/zap"
)

const (
	WriteTableStepKind      = "write_table"
	LatestReferenceStepKind = "latest_reference"
)

type WriteTableStepConfig struct {
	Encoder engine.Encoder
	Sink    engine.Sink
	// Filename defaults to "<step name>.<encoder extension>".
	Filename string
}

// NewWriteTableStep encodes the whole table and writes it to the sink.
func NewWriteTableStep(name string, logger *zap.Logger, cfg WriteTableStepConfig) (engine.Step, error) {
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	filename := cfg.Filename
	if filename == "" {
		filename = fmt.Sprintf("%s.%s", name, cfg.Encoder.FileExtension())
	}

	return engine.StepFunction(name, WriteTableStepKind, func(ctx context.Context, table *engine.Table) error {
		reader, err := cfg.Encoder.EncodeTable(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to encode table: %w", err)
		}

		if err := cfg.Sink.Write(ctx, filename, reader); err != nil {
			return fmt.Errorf("failed to write %s to %s: %w", filename, cfg.Sink.Name(), err)
		}

		logger.Info("wrote results",
			zap.String("file", filename),
			zap.String("sink", cfg.Sink.Name()),
			zap.Int("rows", table.Len()),
		)
		return nil
	}), nil
}

type LatestReferenceStepConfig struct {
	Sink     engine.Sink
	Filename string
}

// NewLatestReferenceStep writes the highest reference number of the table,
// followed by a newline. An empty table writes nothing.
func NewLatestReferenceStep(name string, logger *zap.Logger, cfg LatestReferenceStepConfig) (engine.Step, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	filename := cfg.Filename
	if filename == "" {
		filename = name + ".txt"
	}

	return engine.StepFunction(name, LatestReferenceStepKind, func(ctx context.Context, table *engine.Table) error {
		latest, ok := table.LatestReference()
		if !ok {
			logger.Warn("no reference numbers in results, latest reference not written")
			return nil
		}

		data := bytes.NewBufferString(strconv.FormatInt(latest, 10) + "\n")
		if err := cfg.Sink.Write(ctx, filename, data); err != nil {
			return fmt.Errorf("failed to write latest reference: %w", err)
		}

		logger.Info("wrote latest reference", zap.String("file", filename), zap.Int64("reference", latest))
		return nil
	}), nil
}
