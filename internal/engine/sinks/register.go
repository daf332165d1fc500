package sinks

import (
	"context"
	"fmt"
	"io"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Options carries the settings shared by every sink built from a location.
type Options struct {
	Fs                 afero.Fs
	Stdout             io.Writer
	S3                 S3Config
	GCSCredentialsFile string
}

// Register registers a sink factory per location scheme.
func Register(r *engine.Registry, opts Options) {
	r.RegisterSink(SchemeFile, engine.NewSinkFactory(SchemeFile, func(_ context.Context, logger *zap.Logger, loc Location) (engine.Sink, error) {
		logger.Debug("opening filesystem sink", zap.String("dir", loc.Dir))
		return NewFilesystemSinkFromPath(opts.Fs, loc.Dir)
	}))

	r.RegisterSink(SchemeStdout, engine.NewSinkFactory(SchemeStdout, func(_ context.Context, _ *zap.Logger, _ Location) (engine.Sink, error) {
		return NewStreamSink(opts.Stdout), nil
	}))

	r.RegisterSink(SchemeS3, engine.NewSinkFactory(SchemeS3, func(ctx context.Context, logger *zap.Logger, loc Location) (engine.Sink, error) {
		cfg := opts.S3
		cfg.Bucket = loc.Bucket
		cfg.Prefix = loc.Dir
		logger.Debug("opening s3 sink", zap.String("bucket", cfg.Bucket), zap.String("prefix", cfg.Prefix))
		return NewS3Sink(ctx, cfg)
	}))

	r.RegisterSink(SchemeGCS, engine.NewSinkFactory(SchemeGCS, func(ctx context.Context, logger *zap.Logger, loc Location) (engine.Sink, error) {
		logger.Debug("opening gcs sink", zap.String("bucket", loc.Bucket), zap.String("prefix", loc.Dir))
		return NewGCSSink(ctx, GCSConfig{
			Bucket:          loc.Bucket,
			Prefix:          loc.Dir,
			CredentialsFile: opts.GCSCredentialsFile,
		})
	}))
}

// Open parses raw and creates the matching sink. The returned name is the
// file name to pass to Write.
func Open(ctx context.Context, r *engine.Registry, raw string) (engine.Sink, string, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, "", err
	}

	sink, err := r.CreateSink(ctx, loc.Scheme, loc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", loc, err)
	}

	return sink, loc.Name, nil
}

// OpenDir parses raw as a directory location and creates the matching sink.
func OpenDir(ctx context.Context, r *engine.Registry, raw string) (engine.Sink, Location, error) {
	loc, err := ParseDirLocation(raw)
	if err != nil {
		return nil, Location{}, err
	}

	sink, err := r.CreateSink(ctx, loc.Scheme, loc)
	if err != nil {
		return nil, Location{}, fmt.Errorf("failed to open %s: %w", loc, err)
	}

	return sink, loc, nil
}
