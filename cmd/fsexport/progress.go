package main

import (
	"os"

	"github.com/fsexport/fsexport/internal/download"
	"github.com/fsexport/fsexport/internal/formsite"
	"github.com/schollz/progressbar/v3"
)

func newProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionOnCompletion(func() { _, _ = os.Stderr.WriteString("\n") }),
	)
}

// fetchProgress draws the fetched results pages.
func fetchProgress() formsite.ProgressFunc {
	bar := newProgressBar("fetching pages")
	return func(done, total int) {
		if bar.GetMax() != total {
			bar.ChangeMax(total)
		}
		_ = bar.Set(done)
	}
}

// downloadProgress draws the finished downloads.
func downloadProgress() download.ProgressFunc {
	bar := newProgressBar("downloading files")
	return func(_ download.Status, done, total int) {
		if bar.GetMax() != total {
			bar.ChangeMax(total)
		}
		_ = bar.Set(done)
	}
}
