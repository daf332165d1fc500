package steps

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/fsexport/fsexport/internal/formsite"
	"go.uber.org/zap"
)

const ExtractLinksStepKind = "extract_links"

type ExtractLinksStepConfig struct {
	Server    string
	Directory string
	// Filter keeps only the links it matches. Nil keeps all.
	Filter   *regexp.Regexp
	Sink     engine.Sink
	Filename string
}

// NewExtractLinksStep writes the uploaded file links found in the table, one
// per line.
func NewExtractLinksStep(name string, logger *zap.Logger, cfg ExtractLinksStepConfig) (engine.Step, error) {
	if cfg.Server == "" || cfg.Directory == "" {
		return nil, fmt.Errorf("server and directory are required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	filename := cfg.Filename
	if filename == "" {
		filename = name + ".txt"
	}

	return engine.StepFunction(name, ExtractLinksStepKind, func(ctx context.Context, table *engine.Table) error {
		links := formsite.ExtractLinks(table, cfg.Server, cfg.Directory, cfg.Filter)

		var buf bytes.Buffer
		for _, link := range links {
			buf.WriteString(link)
			buf.WriteByte('\n')
		}

		if err := cfg.Sink.Write(ctx, filename, &buf); err != nil {
			return fmt.Errorf("failed to write links: %w", err)
		}

		logger.Info("extracted links", zap.String("file", filename), zap.Int("links", len(links)))
		return nil
	}), nil
}
