package encoders

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/olekukonko/tablewriter"
)

// MarkdownEncoder writes a table as a GitHub flavored Markdown table.
type MarkdownEncoder struct {
	useLabels  bool
	formatTime func(time.Time) string
}

func NewMarkdownEncoder(opts Options) (engine.Encoder, error) {
	formatTime, err := dateFormatter(opts.DateFormat)
	if err != nil {
		return nil, err
	}
	return &MarkdownEncoder{useLabels: opts.UseLabels, formatTime: formatTime}, nil
}

var markdownEscaper = strings.NewReplacer("|", `\|`, "\r\n", "<br>", "\n", "<br>", "\r", "<br>")

func (e *MarkdownEncoder) EncodeTable(ctx context.Context, table *engine.Table) (io.Reader, error) {
	var buf bytes.Buffer

	tw := tablewriter.NewWriter(&buf)
	tw.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	tw.SetCenterSeparator("|")
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)

	headers := table.Headers(e.useLabels)
	for i, h := range headers {
		headers[i] = markdownEscaper.Replace(h)
	}
	tw.SetHeader(headers)

	for _, row := range table.Rows {
		cells := make([]string, len(table.Columns))
		for j, c := range table.Columns {
			cells[j] = markdownEscaper.Replace(engine.FormatCell(row[c.ID], e.formatTime))
		}
		tw.Append(cells)
	}

	tw.Render()
	return &buf, nil
}

func (e *MarkdownEncoder) FileExtension() string {
	return "md"
}
