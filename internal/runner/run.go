package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	v1 "github.com/fsexport/fsexport/apis/v1"
	"github.com/fsexport/fsexport/internal/cache"
	"github.com/fsexport/fsexport/internal/download"
	"github.com/fsexport/fsexport/internal/engine"
	"github.com/fsexport/fsexport/internal/formsite"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	defaultValidator = validator.New(validator.WithRequiredStructEnabled())
)

// Options carries the process level dependencies of a run.
type Options struct {
	// Fs backs local output paths. Defaults to the OS filesystem.
	Fs afero.Fs
	// Stdout receives output written to "-". Defaults to os.Stdout.
	Stdout io.Writer
	// HTTPClient replaces the API and download clients when set.
	HTTPClient       *http.Client
	FetchProgress    formsite.ProgressFunc
	DownloadProgress download.ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	return o
}

// Summary describes a finished run.
type Summary struct {
	FormID   string
	Results  int
	Pages    int
	Duration time.Duration
}

type Runner struct {
	logger   *zap.Logger
	job      v1.ExportJob
	opts     Options
	date     time.Time
	registry *engine.Registry
	client   *formsite.Client
	params   formsite.Parameters
	loc      *time.Location
	store    *cache.Store
	outputs  *outputs
}

// ParseExportJob parses a YAML or JSON job file and checks its struct
// constraints. Values that may hold ${VAR} templates are checked by
// ValidateExportJob once expanded.
func ParseExportJob(data []byte) (v1.ExportJob, error) {
	var job v1.ExportJob
	if err := yaml.Unmarshal(data, &job); err != nil {
		return v1.ExportJob{}, fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	if err := defaultValidator.Struct(job); err != nil {
		return v1.ExportJob{}, fmt.Errorf("failed to validate job: %w", err)
	}

	return job, nil
}

// ValidateExportJob checks the struct constraints of an expanded job and the
// values the API would reject: dates and timezone.
func ValidateExportJob(job v1.ExportJob) error {
	if err := defaultValidator.Struct(job); err != nil {
		return fmt.Errorf("failed to validate job: %w", err)
	}

	if err := buildParameters(job.Spec.Parameters).Validate(); err != nil {
		return fmt.Errorf("failed to validate job parameters: %w", err)
	}

	return nil
}

// New builds every component of the job and opens its outputs. Nothing is
// fetched until Run.
func New(ctx context.Context, logger *zap.Logger, job v1.ExportJob, opts Options) (_ *Runner, err error) {
	logger.Info("creating runner", zap.String("job_name", job.Metadata.Name), zap.String("form", job.Spec.Form))

	opts = opts.withDefaults()

	if job.Spec.Form == "" {
		return nil, formsite.ErrMissingFormID
	}

	params := buildParameters(job.Spec.Parameters)
	if err := params.Validate(); err != nil {
		return nil, err
	}
	loc, err := params.Location()
	if err != nil {
		return nil, err
	}

	client, err := buildClient(job, opts, logger.Named("client"))
	if err != nil {
		return nil, fmt.Errorf("failed to create formsite client: %w", err)
	}

	r := &Runner{
		logger:   logger,
		job:      job,
		opts:     opts,
		date:     time.Now().UTC(),
		registry: createRegistry(logger, job, opts),
		client:   client,
		params:   params,
		loc:      loc,
	}

	if job.Spec.Cache != nil {
		r.store, err = cache.Open(job.Spec.Cache.Path)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil && r.store != nil {
			_ = r.store.Close()
		}
	}()

	r.outputs, err = r.openOutputs(ctx)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Run fetches the form and runs every output step over the results.
func (r *Runner) Run(ctx context.Context) (_ *Summary, err error) {
	start := time.Now()

	if err := r.client.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start collector '%s': %w", r.client.Name(), err)
	}

	defer func() {
		// Use a background context for cleanup to ensure we always attempt cleanup
		// even if the original context was cancelled
		cleanupCtx := context.Background()
		if cerr := r.client.Close(cleanupCtx); cerr != nil {
			r.logger.Error("failed to close collector", zap.String("collector_name", r.client.Name()), zap.Error(cerr))
		}
		if cerr := r.outputs.close(cleanupCtx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close outputs: %w", cerr))
		}
		if r.store != nil {
			if cerr := r.store.Close(); cerr != nil {
				r.logger.Error("failed to close cache", zap.Error(cerr))
			}
		}
	}()

	params, cached, err := r.incrementalParameters(ctx)
	if err != nil {
		return nil, err
	}

	fetcher, err := formsite.NewFetcher(r.client, r.job.Spec.Form, params,
		formsite.WithPageConcurrency(r.pageConcurrency()),
		formsite.WithProgress(r.opts.FetchProgress),
		formsite.WithFetcherLogger(r.logger.Named("fetcher")),
	)
	if err != nil {
		return nil, err
	}

	export, err := fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch form %s: %w", r.job.Spec.Form, err)
	}
	if export.Table.Empty() && !cached {
		return nil, fmt.Errorf("form %s: %w", r.job.Spec.Form, formsite.ErrNoResults)
	}

	pipeline, err := r.createPipeline(export)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	if err := pipeline.Run(ctx, export.Table); err != nil {
		return nil, fmt.Errorf("failed to run pipeline: %w", err)
	}

	summary := &Summary{
		FormID:   export.FormID,
		Results:  export.Table.Len(),
		Pages:    export.Pages,
		Duration: time.Since(start),
	}
	r.logger.Info("export finished",
		zap.String("form", summary.FormID),
		zap.Int("results", summary.Results),
		zap.Int("pages", summary.Pages),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// incrementalParameters starts the fetch after the latest cached result when
// the job caches results and sets no reference window of its own. With a
// cache the whole window is fetched so every new result gets cached; Last is
// applied after the merge. cached reports whether the cache holds results.
func (r *Runner) incrementalParameters(ctx context.Context) (_ formsite.Parameters, cached bool, _ error) {
	params := r.params
	if r.store == nil {
		return params, false, nil
	}
	params.Last = 0

	latest, ok, err := r.store.LatestReference(ctx, r.job.Spec.Form)
	if err != nil {
		return params, false, err
	}
	if ok && params.AfterRef == 0 && params.BeforeRef == 0 {
		r.logger.Info("fetching results newer than the cache", zap.Int64("after_ref", latest))
		params.AfterRef = latest
	}
	return params, ok, nil
}

func (r *Runner) pageConcurrency() int {
	if r.job.Spec.Fetch == nil {
		return formsite.DefaultPageConcurrency
	}
	return r.job.Spec.Fetch.PageConcurrency
}
