package encoders

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/xuri/excelize/v2"
)

const (
	excelSheet      = "Sheet1"
	excelDateFormat = "yyyy-mm-dd hh:mm:ss"
)

// ExcelEncoder writes a table as a single-sheet xlsx workbook. Dates are real
// Excel dates showing the wall clock of the export timezone.
type ExcelEncoder struct {
	useLabels bool
}

func NewExcelEncoder(opts Options) engine.Encoder {
	return &ExcelEncoder{useLabels: opts.UseLabels}
}

func (e *ExcelEncoder) EncodeTable(ctx context.Context, table *engine.Table) (_ io.Reader, err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close workbook: %w", cerr)
		}
	}()

	numFmt := excelDateFormat
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return nil, fmt.Errorf("failed to create date style: %w", err)
	}

	sw, err := f.NewStreamWriter(excelSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet writer: %w", err)
	}

	if err := sw.SetRow("A1", stringsToAny(table.Headers(e.useLabels))); err != nil {
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}

	for i, row := range table.Rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		cells := make([]any, len(table.Columns))
		for j, c := range table.Columns {
			switch v := row[c.ID].(type) {
			case nil:
				cells[j] = nil
			case time.Time:
				// Excel has no timezones, keep the local wall clock
				wall := time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), 0, time.UTC)
				cells[j] = excelize.Cell{StyleID: dateStyle, Value: wall}
			default:
				cells[j] = v
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	return buf, nil
}

func (e *ExcelEncoder) FileExtension() string {
	return "xlsx"
}
