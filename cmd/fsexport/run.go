package main

import (
	"context"
	"fmt"

	v1 "github.com/fsexport/fsexport/apis/v1"
	"github.com/fsexport/fsexport/internal/runner"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run an export job file",
	ArgsUsage: "<job.yaml>",
	Flags: []cli.Flag{
		allowedEnvFlag(),
		&cli.BoolFlag{
			Name:  "progress",
			Usage: "Draw progress bars, defaults to on when attached to a terminal",
		},
	},
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      "job",
			UsageText: "The job file to run, - for stdin",
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		jobFilename := command.StringArg("job")
		if jobFilename == "" {
			return fmt.Errorf("no job file provided")
		}

		job, err := loadJob(ctx, jobFilename, command.StringSlice("allowed-env"))
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}

		return runJob(ctx, command, job)
	},
}

// runJob runs job and logs its summary.
func runJob(ctx context.Context, command *cli.Command, job v1.ExportJob) error {
	logger := getLogger(ctx)

	var opts runner.Options
	showProgress := isInteractive(ctx)
	if command.IsSet("progress") {
		showProgress = command.Bool("progress")
	}
	if showProgress {
		opts.FetchProgress = fetchProgress()
		opts.DownloadProgress = downloadProgress()
	}

	r, err := runner.New(ctx, logger.Named("runner"), job, opts)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	summary, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to run job: %w", err)
	}

	logger.Debug("job done", zap.String("job_name", job.Metadata.Name), zap.Int("results", summary.Results))
	return nil
}
