package encoders

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/lestrrat-go/strftime"
)

// Supported output formats.
const (
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatExcel    = "xlsx"
	FormatParquet  = "parquet"
	FormatFeather  = "feather"
	FormatPickle   = "pickle"
	FormatMarkdown = "markdown"
)

// DefaultDateFormat is the strftime pattern used for dates in text formats.
const DefaultDateFormat = "%Y-%m-%d %H:%M:%S"

// Options configures every encoder. Fields that do not apply to a format are ignored.
type Options struct {
	// UseLabels writes item labels as headers instead of column ids.
	UseLabels bool
	// DateFormat is a strftime pattern for dates in CSV, Excel headers,
	// Markdown and pickle. Empty means DefaultDateFormat.
	DateFormat string
	// Indent is the JSON indentation. Empty = compact.
	Indent string
	CSV    CSVOptions
}

var extensionFormats = map[string]string{
	"csv":     FormatCSV,
	"json":    FormatJSON,
	"xlsx":    FormatExcel,
	"parquet": FormatParquet,
	"feather": FormatFeather,
	"pkl":     FormatPickle,
	"pickle":  FormatPickle,
	"md":      FormatMarkdown,
}

// FormatFromExtension maps a file extension (with or without dot) to a format.
// Unknown extensions default to CSV.
func FormatFromExtension(ext string) string {
	if format, ok := extensionFormats[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return format
	}
	return FormatCSV
}

// NormalizeFormat resolves a user supplied format name or alias.
func NormalizeFormat(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "excel":
		return FormatExcel, nil
	case "markdown":
		return FormatMarkdown, nil
	}
	format, ok := extensionFormats[name]
	if !ok {
		return "", fmt.Errorf("unknown output format %q", name)
	}
	return format, nil
}

// dateFormatter compiles a strftime pattern into a time formatting func.
func dateFormatter(pattern string) (func(time.Time) string, error) {
	if pattern == "" {
		pattern = DefaultDateFormat
	}

	f, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid date format %q: %w", pattern, err)
	}

	return f.FormatString, nil
}

// uniqueHeaders returns the table headers with duplicates suffixed ".1",
// ".2", ... so they can be used as keys.
func uniqueHeaders(table *engine.Table, useLabels bool) []string {
	headers := table.Headers(useLabels)

	taken := make(map[string]bool, len(headers))
	for _, h := range headers {
		taken[h] = true
	}

	seen := make(map[string]bool, len(headers))
	suffix := make(map[string]int)
	for i, h := range headers {
		if !seen[h] {
			seen[h] = true
			continue
		}
		for {
			suffix[h]++
			candidate := fmt.Sprintf("%s.%d", h, suffix[h])
			if !taken[candidate] {
				headers[i] = candidate
				taken[candidate] = true
				break
			}
		}
	}

	return headers
}
