package encoders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
)

// JSONEncoder writes a table as an array of records. Keys keep the column order.
type JSONEncoder struct {
	useLabels bool
	indent    string
}

func NewJSONEncoder(opts Options) engine.Encoder {
	return &JSONEncoder{
		useLabels: opts.UseLabels,
		indent:    opts.Indent,
	}
}

// orderedRecord marshals as a JSON object whose keys follow the column order.
type orderedRecord struct {
	keys   []string
	values []any
}

func (r orderedRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalUnescaped(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		v := r.values[i]
		if ts, ok := v.(time.Time); ok {
			v = ts.Format(time.RFC3339)
		}
		value, err := marshalUnescaped(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %q: %w", k, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalUnescaped is json.Marshal without HTML escaping, so result URLs keep
// their "&" characters.
func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (e *JSONEncoder) EncodeTable(ctx context.Context, table *engine.Table) (io.Reader, error) {
	keys := uniqueHeaders(table, e.useLabels)

	records := make([]orderedRecord, len(table.Rows))
	for i, row := range table.Rows {
		values := make([]any, len(table.Columns))
		for j, c := range table.Columns {
			values[j] = row[c.ID]
		}
		records[i] = orderedRecord{keys: keys, values: values}
	}

	var buff bytes.Buffer
	encoder := json.NewEncoder(&buff)
	encoder.SetEscapeHTML(false)
	if e.indent != "" {
		encoder.SetIndent("", e.indent)
	}

	if err := encoder.Encode(records); err != nil {
		return nil, fmt.Errorf("failed to encode table as JSON: %w", err)
	}

	return &buff, nil
}

// FileExtension returns "json".
func (e *JSONEncoder) FileExtension() string {
	return "json"
}
