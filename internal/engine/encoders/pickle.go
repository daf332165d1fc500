package encoders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	ogorek "github.com/kisielk/og-rek"
)

const pickleProtocol = 2

// orderedDict keeps column order through unpickling, go maps have none.
var orderedDict = ogorek.Class{Module: "collections", Name: "OrderedDict"}

// PickleEncoder writes a table as a pickled list of OrderedDicts (protocol 2),
// loadable with pickle.load and pandas.DataFrame(records). Dates are
// formatted strings.
type PickleEncoder struct {
	useLabels  bool
	formatTime func(time.Time) string
}

func NewPickleEncoder(opts Options) (engine.Encoder, error) {
	formatTime, err := dateFormatter(opts.DateFormat)
	if err != nil {
		return nil, err
	}
	return &PickleEncoder{useLabels: opts.UseLabels, formatTime: formatTime}, nil
}

func (e *PickleEncoder) EncodeTable(ctx context.Context, table *engine.Table) (io.Reader, error) {
	keys := uniqueHeaders(table, e.useLabels)

	records := make([]interface{}, 0, len(table.Rows))
	for _, row := range table.Rows {
		pairs := make([]interface{}, len(table.Columns))
		for i, c := range table.Columns {
			pairs[i] = ogorek.Tuple{keys[i], e.value(row[c.ID])}
		}
		records = append(records, ogorek.Call{Callable: orderedDict, Args: ogorek.Tuple{pairs}})
	}

	var buf bytes.Buffer
	enc := ogorek.NewEncoderWithConfig(&buf, &ogorek.EncoderConfig{Protocol: pickleProtocol})
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("failed to pickle results: %w", err)
	}
	return &buf, nil
}

func (e *PickleEncoder) FileExtension() string {
	return "pkl"
}

func (e *PickleEncoder) value(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val
	case int:
		return int64(val)
	case time.Time:
		return e.formatTime(val)
	default:
		return engine.FormatCell(val, e.formatTime)
	}
}
