package steps

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/fsexport/fsexport/internal/download"
	"github.com/fsexport/fsexport/internal/engine"
	"github.com/fsexport/fsexport/internal/formsite"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const DownloadStepKind = "download"

type DownloadStepConfig struct {
	Server    string
	Directory string
	Filter    *regexp.Regexp
	Plan      download.PlanOptions
	Options   download.Options
	Sink      engine.Sink

	// Fs and Dir locate the files already downloaded. They are only listed
	// when overwriting is off.
	Fs  afero.Fs
	Dir string

	// ReportSink receives the per file report when set.
	ReportSink     engine.Sink
	ReportFilename string

	HTTPClient *http.Client
	Progress   download.ProgressFunc
}

// NewDownloadStep downloads every file linked from the table. Failed
// downloads are logged and reported but never fail the step.
func NewDownloadStep(name string, logger *zap.Logger, cfg DownloadStepConfig) (engine.Step, error) {
	if cfg.Server == "" || cfg.Directory == "" {
		return nil, fmt.Errorf("server and directory are required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.ReportSink != nil && cfg.ReportFilename == "" {
		cfg.ReportFilename = name + "_report.txt"
	}

	opts := []download.Option{download.WithLogger(logger)}
	if cfg.HTTPClient != nil {
		opts = append(opts, download.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Progress != nil {
		opts = append(opts, download.WithProgress(cfg.Progress))
	}
	downloader := download.New(cfg.Sink, cfg.Options, opts...)

	return engine.StepFunction(name, DownloadStepKind, func(ctx context.Context, table *engine.Table) error {
		links := formsite.ExtractLinks(table, cfg.Server, cfg.Directory, cfg.Filter)
		if len(links) == 0 {
			logger.Info("no files to download")
			return nil
		}

		plan := cfg.Plan
		if !plan.Overwrite && cfg.Fs != nil {
			existing, err := download.ExistingNames(cfg.Fs, cfg.Dir)
			if err != nil {
				return err
			}
			plan.Existing = append(plan.Existing, existing...)
		}

		targets := download.Plan(links, plan)
		if skipped := len(links) - len(targets); skipped > 0 {
			logger.Info("skipping files already downloaded", zap.Int("skipped", skipped))
		}

		report, err := downloader.Run(ctx, targets)
		if err != nil {
			return err
		}

		if cfg.ReportSink != nil {
			if err := cfg.ReportSink.Write(ctx, cfg.ReportFilename, report.Reader()); err != nil {
				return fmt.Errorf("failed to write download report: %w", err)
			}
		}

		if failed := report.Failed(); failed > 0 {
			logger.Warn("some files could not be downloaded",
				zap.Int("failed", failed),
				zap.Int("succeeded", report.Succeeded()),
			)
		}
		return nil
	}), nil
}
