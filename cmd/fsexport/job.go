package main

import (
	"context"
	"fmt"
	"io"
	"os"

	v1 "github.com/fsexport/fsexport/apis/v1"
	"github.com/fsexport/fsexport/internal/runner"
	"go.uber.org/zap"
)

// readJobFile reads a job file, or stdin when filename is "-".
func readJobFile(filename string) ([]byte, error) {
	if filename == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(filename)
}

// loadJob parses a job file, expands its templates and validates the result.
func loadJob(ctx context.Context, filename string, allowedEnv []string) (v1.ExportJob, error) {
	logger := getLogger(ctx).With(zap.String("job_filename", filename))

	data, err := readJobFile(filename)
	if err != nil {
		return v1.ExportJob{}, fmt.Errorf("failed to read job file '%s': %w", filename, err)
	}

	logger.Debug("parsing job file")
	job, err := runner.ParseExportJob(data)
	if err != nil {
		return v1.ExportJob{}, formatValidationError(err)
	}

	variables, err := runner.BuildVariables(job, allowedEnv)
	if err != nil {
		return v1.ExportJob{}, fmt.Errorf("failed to build variables: %w", err)
	}

	if err := runner.ExpandTemplates(&job, variables); err != nil {
		return v1.ExportJob{}, fmt.Errorf("failed to expand templates: %w", err)
	}

	if err := runner.ValidateExportJob(job); err != nil {
		return v1.ExportJob{}, formatValidationError(err)
	}

	return job, nil
}
