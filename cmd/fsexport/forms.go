package main

import (
	"context"
	"fmt"

	"github.com/fsexport/fsexport/internal/formsite"
	"github.com/fsexport/fsexport/internal/runner"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var formsCommand = &cli.Command{
	Name:  "forms",
	Usage: "List the forms of a directory",
	Flags: append(connectionFlags(),
		&cli.StringFlag{
			Name:  "sort-by",
			Value: formsite.SortFormsByName,
			Usage: fmt.Sprintf("Sort forms by %s, %s or %s", formsite.SortFormsByName, formsite.SortFormsByResultsCount, formsite.SortFormsByFilesSize),
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Value:   "-",
			Usage:   "Output file, - for stdout. The extension picks the format",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format, markdown on stdout",
		},
	),
	Action: func(ctx context.Context, command *cli.Command) error {
		logger := getLogger(ctx)

		forms, err := runner.ListForms(ctx, logger.Named("forms"), connectionFromFlags(command), runner.Options{
			Stdout: command.Root().Writer,
		}, runner.FormsOptions{
			SortBy: command.String("sort-by"),
			Output: command.String("output"),
			Format: command.String("format"),
		})
		if err != nil {
			return fmt.Errorf("failed to list forms: %w", err)
		}

		logger.Debug("listed forms", zap.Int("count", len(forms)))
		return nil
	},
}
