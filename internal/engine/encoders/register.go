package encoders

import (
	"context"

	"github.com/fsexport/fsexport/internal/engine"
	"go.uber.org/zap"
)

// Register registers an encoder factory per output format.
func Register(r *engine.Registry) {
	r.RegisterEncoder(FormatCSV, engine.NewEncoderFactory(FormatCSV, func(_ context.Context, _ *zap.Logger, opts Options) (engine.Encoder, error) {
		return NewCSVEncoder(opts)
	}))
	r.RegisterEncoder(FormatJSON, engine.NewEncoderFactory(FormatJSON, func(_ context.Context, _ *zap.Logger, opts Options) (engine.Encoder, error) {
		return NewJSONEncoder(opts), nil
	}))
	r.RegisterEncoder(FormatExcel, engine.NewEncoderFactory(FormatExcel, func(_ context.Context, _ *zap.Logger, opts Options) (engine.Encoder, error) {
		return NewExcelEncoder(opts), nil
	}))
	r.RegisterEncoder(FormatParquet, engine.NewEncoderFactory(FormatParquet, func(_ context.Context, _ *zap.Logger, opts Options) (engine.Encoder, error) {
		return NewParquetEncoder(opts), nil
	}))
	r.RegisterEncoder(FormatFeather, engine.NewEncoderFactory(FormatFeather, func(_ context.Context, _ *zap.Logger, opts Options) (engine.Encoder, error) {
		return NewFeatherEncoder(opts), nil
	}))
	r.RegisterEncoder(FormatPickle, engine.NewEncoderFactory(FormatPickle, func(_ context.Context, _ *zap.Logger, opts Options) (engine.Encoder, error) {
		return NewPickleEncoder(opts)
	}))
	r.RegisterEncoder(FormatMarkdown, engine.NewEncoderFactory(FormatMarkdown, func(_ context.Context, _ *zap.Logger, opts Options) (engine.Encoder, error) {
		return NewMarkdownEncoder(opts)
	}))
}
