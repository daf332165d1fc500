package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
)

func allowedEnvFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "allowed-env",
		Usage: "Environment variables allowed in job configuration (can be repeated)",
	}
}

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Validate a job file",
	ArgsUsage: "<job.yaml>",
	Flags:     []cli.Flag{allowedEnvFlag()},
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      "job",
			UsageText: "The job file to validate, - for stdin",
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		jobFilename := command.StringArg("job")
		if jobFilename == "" {
			return fmt.Errorf("no job file provided")
		}

		job, err := loadJob(ctx, jobFilename, command.StringSlice("allowed-env"))
		if err != nil {
			_, _ = fmt.Fprintln(command.Root().ErrWriter, err)
			return fmt.Errorf("job file '%s' is invalid", jobFilename)
		}

		_, _ = fmt.Fprintf(command.Root().Writer, "✓ Job file '%s' is valid (form %s)\n", jobFilename, job.Spec.Form)
		return nil
	},
}

// formatValidationError lists every failed constraint of a validator error
// on its own line. Other errors are returned unchanged.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "job file has %d validation error(s):", len(validationErrs))
	for _, fe := range validationErrs {
		fmt.Fprintf(&sb, "\n  • %s: failed '%s' validation", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			fmt.Fprintf(&sb, " (param: %s)", fe.Param())
		}
	}
	return errors.New(sb.String())
}
