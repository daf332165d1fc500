package runner

import (
	"context"
	"errors"
	"fmt"
	"path"

	v1 "github.com/fsexport/fsexport/apis/v1"
	"github.com/fsexport/fsexport/internal/engine/encoders"
	"github.com/fsexport/fsexport/internal/engine/sinks"
	"github.com/fsexport/fsexport/internal/formsite"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type FormsOptions struct {
	// SortBy is "name", "results_count" or "files_size".
	SortBy string
	// Output is a path or "-" for stdout. Default: "-"
	Output string
	// Format overrides the format implied by Output. Stdout defaults to
	// markdown.
	Format string
}

// ListForms lists the forms of a directory and writes them as a table.
func ListForms(ctx context.Context, logger *zap.Logger, conn v1.Connection, opts Options, forms FormsOptions) (_ []formsite.Form, err error) {
	job := v1.ExportJob{Spec: v1.ExportJobSpec{Connection: conn}}
	opts = opts.withDefaults()

	client, err := buildClient(job, opts, logger.Named("client"))
	if err != nil {
		return nil, fmt.Errorf("failed to create formsite client: %w", err)
	}
	defer func() { _ = client.Close(context.Background()) }()

	list, err := client.ListForms(ctx)
	if err != nil {
		return nil, err
	}
	if err := formsite.SortForms(list, forms.SortBy); err != nil {
		return nil, err
	}
	logger.Debug("listed forms", zap.Int("count", len(list)))

	registry := createRegistry(logger, job, opts)

	raw := lo.CoalesceOrEmpty(forms.Output, sinks.StdoutPath)
	sink, name, err := sinks.Open(ctx, registry, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	defer func() {
		if cerr := sink.Close(context.Background()); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close output: %w", cerr))
		}
	}()

	format := forms.Format
	switch {
	case format != "":
		if format, err = encoders.NormalizeFormat(format); err != nil {
			return nil, err
		}
	case raw == sinks.StdoutPath:
		format = encoders.FormatMarkdown
	default:
		format = encoders.FormatFromExtension(path.Ext(name))
	}

	encoder, err := registry.CreateEncoder(ctx, format, encoders.Options{UseLabels: true})
	if err != nil {
		return nil, err
	}

	data, err := encoder.EncodeTable(ctx, formsite.FormsTable(list))
	if err != nil {
		return nil, fmt.Errorf("failed to encode forms: %w", err)
	}
	if err := sink.Write(ctx, name, data); err != nil {
		return nil, fmt.Errorf("failed to write forms: %w", err)
	}

	return list, nil
}
