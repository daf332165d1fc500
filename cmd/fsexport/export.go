package main

import (
	"context"
	"fmt"
	"time"

	v1 "github.com/fsexport/fsexport/apis/v1"
	"github.com/fsexport/fsexport/internal/formsite"
	"github.com/fsexport/fsexport/internal/runner"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

const (
	connectionCategory = "Connection"
	filterCategory     = "Results"
	outputCategory     = "Output"
	downloadCategory   = "Downloads"
)

// connectionFlags are shared by every command talking to the API.
func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "token",
			Aliases:  []string{"t"},
			Usage:    "Formsite API token",
			Sources:  cli.EnvVars("FORMSITE_TOKEN"),
			Category: connectionCategory,
		},
		&cli.StringFlag{
			Name:     "server",
			Aliases:  []string{"s"},
			Usage:    "Formsite server, e.g. fs22",
			Sources:  cli.EnvVars("FORMSITE_SERVER"),
			Category: connectionCategory,
		},
		&cli.StringFlag{
			Name:     "directory",
			Aliases:  []string{"d"},
			Usage:    "Formsite user directory",
			Sources:  cli.EnvVars("FORMSITE_DIRECTORY"),
			Category: connectionCategory,
		},
	}
}

func connectionFromFlags(command *cli.Command) v1.Connection {
	return v1.Connection{
		Token:     command.String("token"),
		Server:    command.String("server"),
		Directory: command.String("directory"),
	}
}

var exportCommand = &cli.Command{
	Name:  "export",
	Usage: "Export the results of a form",
	Flags: exportFlags(),
	Action: func(ctx context.Context, command *cli.Command) error {
		job, err := jobFromFlags(command)
		if err != nil {
			return err
		}

		if err := runner.ValidateExportJob(job); err != nil {
			return formatValidationError(err)
		}

		return runJob(ctx, command, job)
	},
}

func exportFlags() []cli.Flag {
	return append(connectionFlags(),
		&cli.StringFlag{Name: "form", Aliases: []string{"f"}, Usage: "Id of the form to export", Category: connectionCategory},

		&cli.IntFlag{Name: "last", Usage: "Export only the last N results", Category: filterCategory},
		&cli.Int64Flag{Name: "afterref", Usage: "Export results with a reference number greater than this", Category: filterCategory},
		&cli.Int64Flag{Name: "beforeref", Usage: "Export results with a reference number less than this", Category: filterCategory},
		&cli.StringFlag{Name: "afterdate", Usage: "Export results updated after this date (YYYY-MM-DD[ HH:MM:SS])", Category: filterCategory},
		&cli.StringFlag{Name: "beforedate", Usage: "Export results updated before this date (YYYY-MM-DD[ HH:MM:SS])", Category: filterCategory},
		&cli.StringFlag{Name: "timezone", Aliases: []string{"T"}, Value: "UTC", Usage: "Timezone of dates, an IANA name, local or an offset like +02:00", Category: filterCategory},
		&cli.StringFlag{Name: "sort", Value: formsite.SortDescending, Usage: "Sort by reference number, asc or desc", Category: filterCategory},
		&cli.IntFlag{Name: "resultsview", Value: formsite.DefaultResultsView, Usage: "Results view of the exported columns", Category: filterCategory},
		&cli.IntFlag{Name: "resultslabels", Usage: "Results labels of the column headers", Category: filterCategory},
		&cli.IntFlag{Name: "page-concurrency", Value: formsite.DefaultPageConcurrency, Usage: "Results pages fetched at once", Category: filterCategory},
		&cli.DurationFlag{Name: "rate-limit-delay", Value: formsite.DefaultRateLimitDelay, Usage: "Wait after the API rate limit is hit", Category: filterCategory},

		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file, - for stdout, s3:// or gs:// URL. The extension picks the format", Category: outputCategory},
		&cli.StringFlag{Name: "format", Usage: "Output format: csv, xlsx, json, parquet, feather, pkl or md", Category: outputCategory},
		&cli.BoolFlag{Name: "ids", Usage: "Use item ids instead of labels as column headers", Category: outputCategory},
		&cli.StringFlag{Name: "encoding", Usage: "CSV encoding (default: utf-8-sig)", Category: outputCategory},
		&cli.StringFlag{Name: "delimiter", Usage: "CSV delimiter (default: ,)", Category: outputCategory},
		&cli.StringFlag{Name: "quoting", Usage: "CSV quoting: minimal, all, nonnumeric or none", Category: outputCategory},
		&cli.StringFlag{Name: "line-terminator", Usage: "CSV line terminator: lf, crlf, cr or os", Category: outputCategory},
		&cli.StringFlag{Name: "date-format", Usage: "strftime pattern of dates (default: %Y-%m-%d %H:%M:%S)", Category: outputCategory},
		&cli.StringFlag{Name: "latest-id", Aliases: []string{"S"}, Usage: "Write the latest reference number to this file", Category: outputCategory},
		&cli.StringFlag{Name: "cache", Usage: "SQLite cache of results, only newer results are fetched", Category: outputCategory},

		&cli.StringFlag{Name: "extract", Aliases: []string{"x"}, Usage: "Write the links of uploaded files to this file", Category: downloadCategory},
		&cli.StringFlag{Name: "extract-regex", Usage: "Keep only links matching this regular expression, for both --extract and --download", Category: downloadCategory},
		&cli.StringFlag{Name: "download", Aliases: []string{"D"}, Usage: "Download uploaded files to this directory, s3:// or gs:// URL", Category: downloadCategory},
		&cli.StringFlag{Name: "download-regex", Aliases: []string{"filename-regex"}, Usage: "Remove matches of this regular expression from downloaded file names", Category: downloadCategory},
		&cli.BoolFlag{Name: "strip-prefix", Usage: "Remove the f-123-456- prefix from file names", Category: downloadCategory},
		&cli.BoolFlag{Name: "no-overwrite", Usage: "Skip files already in the download directory", Category: downloadCategory},
		&cli.IntFlag{Name: "concurrent-downloads", Aliases: []string{"c"}, Value: 5, Usage: "Files downloaded at once", Category: downloadCategory},
		&cli.DurationFlag{Name: "timeout", Value: 80 * time.Second, Usage: "Timeout of each download", Category: downloadCategory},
		&cli.IntFlag{Name: "retries", Value: 3, Usage: "Attempts per download", Category: downloadCategory},
		&cli.StringFlag{Name: "download-report", Usage: "Write the status of every download to this file", Category: downloadCategory},
		&cli.StringFlag{Name: "download-archive", Usage: "Bundle downloads into this archive (.tar.gz, .tar.zst or .tar)", Category: downloadCategory},

		&cli.BoolFlag{Name: "progress", Usage: "Draw progress bars, defaults to on when attached to a terminal"},
	)
}

// jobFromFlags builds the job the export flags describe. Without any output
// flag the results are written to a default named CSV file.
func jobFromFlags(command *cli.Command) (v1.ExportJob, error) {
	form := command.String("form")
	if form == "" {
		return v1.ExportJob{}, formsite.ErrMissingFormID
	}

	spec := v1.ExportJobSpec{
		Connection: connectionFromFlags(command),
		Form:       form,
		Parameters: &v1.Parameters{
			Last:          command.Int("last"),
			AfterRef:      command.Int64("afterref"),
			BeforeRef:     command.Int64("beforeref"),
			AfterDate:     command.String("afterdate"),
			BeforeDate:    command.String("beforedate"),
			Timezone:      command.String("timezone"),
			ResultsView:   command.Int("resultsview"),
			ResultsLabels: command.Int("resultslabels"),
			Sort:          command.String("sort"),
		},
		Fetch: &v1.FetchSpec{
			PageConcurrency: command.Int("page-concurrency"),
			RateLimitDelay:  command.Duration("rate-limit-delay").String(),
		},
	}

	anyOutput := lo.SomeBy([]string{"output", "extract", "download", "latest-id", "cache"}, command.IsSet)
	if command.IsSet("output") || !anyOutput {
		spec.Output = &v1.OutputSpec{
			Path:           command.String("output"),
			Format:         command.String("format"),
			UseLabels:      lo.ToPtr(!command.Bool("ids")),
			DateFormat:     command.String("date-format"),
			Encoding:       command.String("encoding"),
			Delimiter:      command.String("delimiter"),
			Quoting:        command.String("quoting"),
			LineTerminator: command.String("line-terminator"),
		}
	}

	if command.IsSet("latest-id") {
		spec.LatestReference = &v1.LatestReferenceSpec{Path: command.String("latest-id")}
	}

	if command.IsSet("cache") {
		spec.Cache = &v1.CacheSpec{Path: command.String("cache")}
	}

	if command.IsSet("extract") {
		spec.Links = &v1.LinksSpec{
			Path:   command.String("extract"),
			Filter: command.String("extract-regex"),
		}
	}

	if command.IsSet("download") {
		spec.Downloads = &v1.DownloadsSpec{
			Dir:                  command.String("download"),
			Filter:               command.String("extract-regex"),
			StripPrefix:          command.Bool("strip-prefix"),
			FilenameSubstitution: command.String("download-regex"),
			Overwrite:            lo.ToPtr(!command.Bool("no-overwrite")),
			Workers:              command.Int("concurrent-downloads"),
			Timeout:              command.Duration("timeout").String(),
			MaxAttempts:          command.Int("retries"),
			ReportPath:           command.String("download-report"),
		}
		if name := command.String("download-archive"); name != "" {
			spec.Downloads.Archive = &v1.ArchiveSpec{Name: name}
		}
	}

	job := v1.ExportJob{
		Kind:     v1.ExportJobKind,
		Metadata: v1.Metadata{Name: fmt.Sprintf("export-%s", form)},
		Spec:     spec,
	}
	return job, nil
}
