package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	v1 "github.com/fsexport/fsexport/apis/v1"
	"github.com/fsexport/fsexport/internal/download"
	"github.com/fsexport/fsexport/internal/engine"
	"github.com/fsexport/fsexport/internal/engine/archivers"
	"github.com/fsexport/fsexport/internal/engine/encoders"
	"github.com/fsexport/fsexport/internal/engine/sinks"
	"github.com/fsexport/fsexport/internal/engine/steps"
	"github.com/fsexport/fsexport/internal/formsite"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// fileOutput is a single file written to a sink.
type fileOutput struct {
	sink engine.Sink
	name string
}

type downloadsOutput struct {
	sink    engine.Sink
	loc     sinks.Location
	archive bool
	filter  *regexp.Regexp
	plan    download.PlanOptions
	options download.Options
	report  *fileOutput
}

// outputs holds the opened destinations of a run.
type outputs struct {
	table     *fileOutput
	encoder   engine.Encoder
	latest    *fileOutput
	links     *fileOutput
	linksRe   *regexp.Regexp
	downloads *downloadsOutput
	opened    []engine.Sink
}

func (o *outputs) open(ctx context.Context, r *engine.Registry, raw string) (*fileOutput, error) {
	sink, name, err := sinks.Open(ctx, r, raw)
	if err != nil {
		return nil, err
	}
	o.opened = append(o.opened, sink)
	return &fileOutput{sink: sink, name: name}, nil
}

// close closes every opened sink in reverse order.
func (o *outputs) close(ctx context.Context) error {
	if o == nil {
		return nil
	}

	var errs error
	for i := len(o.opened) - 1; i >= 0; i-- {
		if err := o.opened[i].Close(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", o.opened[i].Name(), err))
		}
	}
	o.opened = nil
	return errs
}

func createRegistry(logger *zap.Logger, job v1.ExportJob, opts Options) *engine.Registry {
	registry := engine.NewRegistry(logger.Named("registry"))
	encoders.Register(registry)

	sinkOpts := sinks.Options{Fs: opts.Fs, Stdout: opts.Stdout}
	if storage := job.Spec.Storage; storage != nil {
		if storage.S3 != nil {
			sinkOpts.S3 = sinks.S3Config{
				Region:         storage.S3.Region,
				Endpoint:       storage.S3.Endpoint,
				ForcePathStyle: storage.S3.ForcePathStyle,
			}
			if creds := storage.S3.Credentials; creds != nil {
				sinkOpts.S3.AccessKeyID = creds.AccessKeyID
				sinkOpts.S3.SecretAccessKey = creds.SecretAccessKey
			}
		}
		if storage.GCS != nil {
			sinkOpts.GCSCredentialsFile = storage.GCS.CredentialsFile
		}
	}
	sinks.Register(registry, sinkOpts)

	return registry
}

func buildParameters(spec *v1.Parameters) formsite.Parameters {
	params := formsite.DefaultParameters()
	if spec == nil {
		return params
	}

	params.Last = spec.Last
	params.AfterRef = spec.AfterRef
	params.BeforeRef = spec.BeforeRef
	params.AfterDate = spec.AfterDate
	params.BeforeDate = spec.BeforeDate
	params.Timezone = lo.CoalesceOrEmpty(spec.Timezone, params.Timezone)
	params.ResultsView = lo.CoalesceOrEmpty(spec.ResultsView, params.ResultsView)
	params.ResultsLabels = spec.ResultsLabels
	params.Sort = lo.CoalesceOrEmpty(strings.ToLower(spec.Sort), params.Sort)
	return params
}

func buildClient(job v1.ExportJob, opts Options, logger *zap.Logger) (*formsite.Client, error) {
	conn := job.Spec.Connection
	cfg := formsite.Config{
		Token:     conn.Token,
		Server:    conn.Server,
		Directory: conn.Directory,
		BaseURL:   conn.BaseURL,
	}

	if fetch := job.Spec.Fetch; fetch != nil {
		var err error
		if cfg.Timeout, err = parseDuration("fetch timeout", fetch.Timeout); err != nil {
			return nil, err
		}
		if cfg.RateLimitDelay, err = parseDuration("rate limit delay", fetch.RateLimitDelay); err != nil {
			return nil, err
		}
		cfg.MaxRetries = fetch.MaxRetries
	}

	clientOpts := []formsite.ClientOption{formsite.WithLogger(logger)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, formsite.WithHTTPClient(opts.HTTPClient))
	}

	return formsite.NewClient(cfg, clientOpts...)
}

// defaultPath names an output after the form and the run date when the job
// leaves its path empty.
func (r *Runner) defaultPath(prefix, ext string) string {
	return fmt.Sprintf("%s_%s_%s%s", prefix, r.job.Spec.Form, r.date.Format(engine.ISO8601Basic), ext)
}

func (r *Runner) openOutputs(ctx context.Context) (_ *outputs, err error) {
	spec := r.job.Spec
	out := &outputs{}
	defer func() {
		if err != nil {
			_ = out.close(context.Background())
		}
	}()

	if spec.Output != nil {
		raw := lo.CoalesceOrEmpty(spec.Output.Path, r.defaultPath("export", ".csv"))
		if out.table, err = out.open(ctx, r.registry, raw); err != nil {
			return nil, fmt.Errorf("failed to open output: %w", err)
		}
		if out.encoder, err = r.buildEncoder(ctx, spec.Output, out.table.name); err != nil {
			return nil, fmt.Errorf("failed to build encoder: %w", err)
		}
	}

	if spec.LatestReference != nil {
		if out.latest, err = out.open(ctx, r.registry, spec.LatestReference.Path); err != nil {
			return nil, fmt.Errorf("failed to open latest reference output: %w", err)
		}
	}

	if spec.Links != nil {
		raw := lo.CoalesceOrEmpty(spec.Links.Path, r.defaultPath("url", ".txt"))
		if out.links, err = out.open(ctx, r.registry, raw); err != nil {
			return nil, fmt.Errorf("failed to open links output: %w", err)
		}
		if out.linksRe, err = formsite.CompileLinkFilter(spec.Links.Filter); err != nil {
			return nil, err
		}
	}

	if spec.Downloads != nil {
		if out.downloads, err = r.openDownloads(ctx, out, spec.Downloads); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (r *Runner) buildEncoder(ctx context.Context, spec *v1.OutputSpec, filename string) (engine.Encoder, error) {
	format := encoders.FormatFromExtension(path.Ext(filename))
	if spec.Format != "" {
		var err error
		if format, err = encoders.NormalizeFormat(spec.Format); err != nil {
			return nil, err
		}
	}

	opts := encoders.Options{
		UseLabels:  lo.FromPtrOr(spec.UseLabels, true),
		DateFormat: spec.DateFormat,
		Indent:     spec.Indent,
		CSV: encoders.CSVOptions{
			Delimiter:      spec.Delimiter,
			Quoting:        encoders.Quoting(spec.Quoting),
			LineTerminator: spec.LineTerminator,
			Encoding:       spec.Encoding,
		},
	}

	return r.registry.CreateEncoder(ctx, format, opts)
}

func (r *Runner) openDownloads(ctx context.Context, out *outputs, spec *v1.DownloadsSpec) (*downloadsOutput, error) {
	raw := lo.CoalesceOrEmpty(spec.Dir, r.defaultPath("download", ""))
	sink, loc, err := sinks.OpenDir(ctx, r.registry, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to open downloads directory: %w", err)
	}

	d := &downloadsOutput{sink: sink, loc: loc}

	if spec.Archive != nil {
		archiveSink, err := r.buildArchiveSink(sink, spec.Archive)
		if err != nil {
			_ = sink.Close(ctx)
			return nil, err
		}
		d.sink = archiveSink
		d.archive = true
	}
	// the archive sink closes the directory sink it wraps
	out.opened = append(out.opened, d.sink)

	if d.filter, err = formsite.CompileLinkFilter(spec.Filter); err != nil {
		return nil, err
	}

	d.plan = download.PlanOptions{
		StripPrefix: spec.StripPrefix,
		Overwrite:   lo.FromPtrOr(spec.Overwrite, true),
	}
	if spec.FilenameSubstitution != "" {
		if d.plan.Substitution, err = regexp.Compile(spec.FilenameSubstitution); err != nil {
			return nil, fmt.Errorf("%w: invalid filename substitution %q: %w", formsite.ErrInvalidParameter, spec.FilenameSubstitution, err)
		}
	}

	timeout, err := parseDuration("download timeout", spec.Timeout)
	if err != nil {
		return nil, err
	}
	d.options = download.DefaultOptions()
	d.options.Workers = lo.CoalesceOrEmpty(spec.Workers, d.options.Workers)
	d.options.Timeout = lo.CoalesceOrEmpty(timeout, d.options.Timeout)
	d.options.MaxAttempts = lo.CoalesceOrEmpty(spec.MaxAttempts, d.options.MaxAttempts)

	if spec.ReportPath != "" {
		if d.report, err = out.open(ctx, r.registry, spec.ReportPath); err != nil {
			return nil, fmt.Errorf("failed to open download report: %w", err)
		}
	}

	return d, nil
}

func (r *Runner) buildArchiveSink(inner engine.Sink, spec *v1.ArchiveSpec) (engine.Sink, error) {
	name := lo.CoalesceOrEmpty(spec.Name, r.job.Metadata.Name)

	compression := spec.Compression
	if compression == "" {
		compression = string(archivers.CompressionFromName(name))
	}

	archiver, err := archivers.NewTarArchiver(compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create tar archiver: %w", err)
	}

	if !strings.HasSuffix(strings.ToLower(name), archiver.Extension()) {
		name += archiver.Extension()
	}

	return sinks.NewArchiveSink(inner, archiver, name), nil
}

// createPipeline adds a step per configured output. The cache step runs first
// so every other output sees the merged results.
func (r *Runner) createPipeline(export *formsite.Export) (*engine.Pipeline, error) {
	logger := r.logger.Named("pipeline")
	pipeline := engine.NewPipeline(r.job.Metadata.Name, logger)
	out := r.outputs

	type entry struct {
		id    string
		build func() (engine.Step, error)
	}
	var entries []entry

	if r.store != nil {
		entries = append(entries, entry{"cache", func() (engine.Step, error) {
			items, err := json.Marshal(export.Items)
			if err != nil {
				return nil, fmt.Errorf("failed to encode items: %w", err)
			}
			return steps.NewCacheStep("cache", logger, steps.CacheStepConfig{
				Store:    r.store,
				FormID:   export.FormID,
				Items:    items,
				Location: r.loc,
				Last:     r.params.Last,
			})
		}})
	}

	if out.table != nil {
		entries = append(entries, entry{"results", func() (engine.Step, error) {
			return steps.NewWriteTableStep("results", logger, steps.WriteTableStepConfig{
				Encoder:  out.encoder,
				Sink:     out.table.sink,
				Filename: out.table.name,
			})
		}})
	}

	if out.latest != nil {
		entries = append(entries, entry{"latest_reference", func() (engine.Step, error) {
			return steps.NewLatestReferenceStep("latest_reference", logger, steps.LatestReferenceStepConfig{
				Sink:     out.latest.sink,
				Filename: out.latest.name,
			})
		}})
	}

	if out.links != nil {
		entries = append(entries, entry{"links", func() (engine.Step, error) {
			return steps.NewExtractLinksStep("links", logger, steps.ExtractLinksStepConfig{
				Server:    r.client.Server(),
				Directory: r.client.Directory(),
				Filter:    out.linksRe,
				Sink:      out.links.sink,
				Filename:  out.links.name,
			})
		}})
	}

	if d := out.downloads; d != nil {
		entries = append(entries, entry{"downloads", func() (engine.Step, error) {
			cfg := steps.DownloadStepConfig{
				Server:     r.client.Server(),
				Directory:  r.client.Directory(),
				Filter:     d.filter,
				Plan:       d.plan,
				Options:    d.options,
				Sink:       d.sink,
				HTTPClient: r.opts.HTTPClient,
				Progress:   r.opts.DownloadProgress,
			}
			if d.loc.Scheme == sinks.SchemeFile && !d.archive {
				cfg.Fs = r.opts.Fs
				cfg.Dir = d.loc.Dir
			}
			if d.report != nil {
				cfg.ReportSink = d.report.sink
				cfg.ReportFilename = d.report.name
			}
			return steps.NewDownloadStep("downloads", logger.Named("downloader"), cfg)
		}})
	}

	for _, e := range entries {
		step, err := e.build()
		if err != nil {
			return nil, fmt.Errorf("failed to build step '%s': %w", e.id, err)
		}
		if err := pipeline.AddStep(e.id, step); err != nil {
			return nil, err
		}
		logger.Debug("added step", zap.String("step_id", e.id), zap.String("kind", step.Kind()))
	}

	return pipeline, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q: %w", formsite.ErrInvalidParameter, name, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", formsite.ErrInvalidParameter, name)
	}
	return d, nil
}

// BuildVariables creates the variables map for expansion.
// It includes built-in variables and reads allowed environment variables.
// If a variable is not set, an error is returned.
func BuildVariables(job v1.ExportJob, allowedEnv []string) (map[string]string, error) {
	date := time.Now().UTC()
	variables := map[string]string{
		"JOB_NAME":         job.Metadata.Name,
		"JOB_DATE_ISO8601": date.Format(engine.ISO8601Basic),
		"JOB_DATE_RFC3339": date.Format(time.RFC3339),
	}

	var errs error
	for _, envName := range allowedEnv {
		val, ok := os.LookupEnv(envName)
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("environment variable %q is not set", envName))
			continue
		}
		variables[envName] = val
	}

	if errs != nil {
		return nil, errs
	}

	return variables, nil
}
