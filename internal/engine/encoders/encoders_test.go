package encoders

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	ogorek "github.com/kisielk/og-rek"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var chicago = func() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
	return loc
}()

func exportTable() *engine.Table {
	submitted := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC).In(chicago)
	return engine.NewTable(
		[]engine.Column{
			{ID: "id", Label: "Reference #"},
			{ID: "result_status", Label: "Status"},
			{ID: "2", Label: "Comments"},
			{ID: "5", Label: "Upload"},
			{ID: "date_update", Label: "Date"},
		},
		[]engine.Row{
			{"id": int64(1003), "result_status": "Complete", "2": `said "hi", left`, "5": "https://fs1.formsite.com/dir/files/f-1-5-a.pdf", "date_update": submitted},
			{"id": int64(1002), "result_status": "Complete", "2": "multi\nline", "date_update": submitted.Add(-time.Hour)},
			{"id": int64(1001), "result_status": "Incomplete", "2": "é | ü"},
		},
	)
}

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return b
}

func TestFormatFromExtension(t *testing.T) {
	tests := map[string]string{
		".csv":     FormatCSV,
		"JSON":     FormatJSON,
		".xlsx":    FormatExcel,
		"parquet":  FormatParquet,
		".feather": FormatFeather,
		".pkl":     FormatPickle,
		"pickle":   FormatPickle,
		".md":      FormatMarkdown,
		".txt":     FormatCSV,
		"":         FormatCSV,
	}

	for ext, want := range tests {
		assert.Equal(t, want, FormatFromExtension(ext), "extension %q", ext)
	}
}

func TestNormalizeFormat(t *testing.T) {
	for _, name := range []string{"excel", "XLSX", " markdown ", "md", "pkl"} {
		_, err := NormalizeFormat(name)
		assert.NoError(t, err, name)
	}

	_, err := NormalizeFormat("yaml")
	assert.ErrorContains(t, err, `unknown output format "yaml"`)
}

func TestUniqueHeaders(t *testing.T) {
	table := engine.NewTable([]engine.Column{
		{ID: "1", Label: "Name"},
		{ID: "2", Label: "Name"},
		{ID: "3", Label: "Name.1"},
		{ID: "4", Label: "Name"},
	}, nil)

	assert.Equal(t, []string{"Name", "Name.2", "Name.1", "Name.3"}, uniqueHeaders(table, true))
	assert.Equal(t, []string{"1", "2", "3", "4"}, uniqueHeaders(table, false))
}

func TestCSVEncoder_RoundTripReferenceNumbers(t *testing.T) {
	table := exportTable()
	enc, err := NewCSVEncoder(Options{UseLabels: true})
	require.NoError(t, err)

	r, err := enc.EncodeTable(t.Context(), table)
	require.NoError(t, err)

	data := readAll(t, r)
	require.True(t, bytes.HasPrefix(data, []byte(utf8BOM)), "utf-8-sig output starts with a BOM")

	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte(utf8BOM)))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(table.Rows)+1)
	assert.Equal(t, table.Headers(true), records[0])

	var refs []int64
	for _, rec := range records[1:] {
		ref, err := strconv.ParseInt(rec[0], 10, 64)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	assert.Equal(t, table.ReferenceNumbers(), refs)

	assert.Equal(t, `said "hi", left`, records[1][2])
	assert.Equal(t, "multi\nline", records[2][2])
	assert.Equal(t, "2024-05-01 09:30:00", records[1][4], "dates use the row timezone wall clock")
	assert.Equal(t, "", records[3][4])
}

func TestCSVEncoder_Quoting(t *testing.T) {
	table := engine.NewTable(
		[]engine.Column{{ID: "id"}, {ID: "a"}, {ID: "b"}},
		[]engine.Row{{"id": int64(7), "a": "x,y", "b": `q"`}},
	)

	tests := []struct {
		quoting Quoting
		want    string
	}{
		{quoting: QuoteMinimal, want: "id,a,b\n7,\"x,y\",\"q\"\"\"\n"},
		{quoting: "QUOTE_ALL", want: "\"id\",\"a\",\"b\"\n\"7\",\"x,y\",\"q\"\"\"\n"},
		{quoting: QuoteNonNumeric, want: "\"id\",\"a\",\"b\"\n7,\"x,y\",\"q\"\"\"\n"},
		{quoting: QuoteNone, want: "id,a,b\n7,x\\,y,q\\\"\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.quoting), func(t *testing.T) {
			enc, err := NewCSVEncoder(Options{CSV: CSVOptions{Quoting: tt.quoting, Encoding: "utf-8"}})
			require.NoError(t, err)

			r, err := enc.EncodeTable(t.Context(), table)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(readAll(t, r)))
		})
	}
}

func TestCSVEncoder_DelimiterAndTerminator(t *testing.T) {
	table := engine.NewTable([]engine.Column{{ID: "a"}, {ID: "b"}}, []engine.Row{{"a": "1;2", "b": "3"}})

	enc, err := NewCSVEncoder(Options{CSV: CSVOptions{Delimiter: ";", LineTerminator: "crlf", Encoding: "utf-8"}})
	require.NoError(t, err)

	r, err := enc.EncodeTable(t.Context(), table)
	require.NoError(t, err)
	assert.Equal(t, "a;b\r\n\"1;2\";3\r\n", string(readAll(t, r)))
}

func TestCSVEncoder_Charset(t *testing.T) {
	table := engine.NewTable([]engine.Column{{ID: "name"}}, []engine.Row{{"name": "café"}})

	enc, err := NewCSVEncoder(Options{CSV: CSVOptions{Encoding: "windows-1252"}})
	require.NoError(t, err)

	r, err := enc.EncodeTable(t.Context(), table)
	require.NoError(t, err)
	assert.Equal(t, []byte("name\ncaf\xe9\n"), readAll(t, r))
}

func TestCSVEncoder_DateFormat(t *testing.T) {
	ts := time.Date(2023, 12, 24, 18, 5, 0, 0, time.UTC)
	table := engine.NewTable([]engine.Column{{ID: "date_start"}}, []engine.Row{{"date_start": ts}})

	enc, err := NewCSVEncoder(Options{DateFormat: "%d/%m/%Y %H:%M", CSV: CSVOptions{Encoding: "utf-8"}})
	require.NoError(t, err)

	r, err := enc.EncodeTable(t.Context(), table)
	require.NoError(t, err)
	assert.Equal(t, "date_start\n24/12/2023 18:05\n", string(readAll(t, r)))
}

func TestNewCSVEncoder_InvalidOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "quoting", opts: Options{CSV: CSVOptions{Quoting: "sometimes"}}, wantErr: "unknown quoting"},
		{name: "encoding", opts: Options{CSV: CSVOptions{Encoding: "klingon"}}, wantErr: "unsupported encoding"},
		{name: "delimiter", opts: Options{CSV: CSVOptions{Delimiter: `"`}}, wantErr: "invalid csv delimiter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCSVEncoder(tt.opts)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseLineTerminator(t *testing.T) {
	assert.Equal(t, "\n", ParseLineTerminator(""))
	assert.Equal(t, "\n", ParseLineTerminator("LF"))
	assert.Equal(t, "\r", ParseLineTerminator("cr"))
	assert.Equal(t, "\r\n", ParseLineTerminator("CRLF"))
	assert.NotEmpty(t, ParseLineTerminator("os_default"))
}

func TestJSONEncoder(t *testing.T) {
	enc := NewJSONEncoder(Options{UseLabels: true})

	r, err := enc.EncodeTable(t.Context(), exportTable())
	require.NoError(t, err)
	data := readAll(t, r)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 3)
	assert.Equal(t, float64(1003), records[0]["Reference #"])
	assert.Equal(t, "2024-05-01T09:30:00-05:00", records[0]["Date"])
	assert.Nil(t, records[2]["Date"])

	assert.True(t, strings.HasPrefix(string(data), `[{"Reference #":1003,"Status":"Complete"`), "keys keep column order")
}

func TestJSONEncoder_Empty(t *testing.T) {
	r, err := NewJSONEncoder(Options{Indent: "  "}).EncodeTable(t.Context(), engine.NewTable(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(readAll(t, r)))
}

func TestPickleEncoder(t *testing.T) {
	table := engine.NewTable(
		[]engine.Column{{ID: "id", Label: "Reference #"}, {ID: "b", Label: "Name"}, {ID: "a", Label: "Date"}},
		[]engine.Row{
			{"id": int64(1), "b": "x", "a": time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)},
			{"id": 2},
		},
	)

	enc, err := NewPickleEncoder(Options{UseLabels: true})
	require.NoError(t, err)
	r, err := enc.EncodeTable(t.Context(), table)
	require.NoError(t, err)

	data := readAll(t, r)
	assert.Equal(t, []byte{0x80, 2}, data[:2], "protocol 2 header")
	assert.Equal(t, byte('.'), data[len(data)-1])
	assert.Contains(t, string(data), "collections\nOrderedDict\n")

	decoded, err := ogorek.NewDecoder(bytes.NewReader(data)).Decode()
	require.NoError(t, err)

	records, ok := decoded.([]interface{})
	require.True(t, ok, "%T", decoded)
	require.Len(t, records, 2)

	pairs := func(record interface{}) []interface{} {
		call, ok := record.(ogorek.Call)
		require.True(t, ok, "%T", record)
		assert.Equal(t, ogorek.Class{Module: "collections", Name: "OrderedDict"}, call.Callable)
		require.Len(t, call.Args, 1)
		items, ok := call.Args[0].([]interface{})
		require.True(t, ok, "%T", call.Args[0])
		return items
	}

	assert.Equal(t, []interface{}{
		ogorek.Tuple{"Reference #", int64(1)},
		ogorek.Tuple{"Name", "x"},
		ogorek.Tuple{"Date", "2024-05-01 09:30:00"},
	}, pairs(records[0]), "keys keep column order")

	assert.Equal(t, []interface{}{
		ogorek.Tuple{"Reference #", int64(2)},
		ogorek.Tuple{"Name", ogorek.None{}},
		ogorek.Tuple{"Date", ogorek.None{}},
	}, pairs(records[1]))
}

func TestPickleEncoder_Empty(t *testing.T) {
	enc, err := NewPickleEncoder(Options{})
	require.NoError(t, err)
	r, err := enc.EncodeTable(t.Context(), engine.NewTable(nil, nil))
	require.NoError(t, err)

	decoded, err := ogorek.NewDecoder(r).Decode()
	require.NoError(t, err)
	assert.Empty(t, decoded)
	assert.Equal(t, "pkl", enc.FileExtension())
}

func TestMarkdownEncoder(t *testing.T) {
	enc, err := NewMarkdownEncoder(Options{UseLabels: true})
	require.NoError(t, err)

	r, err := enc.EncodeTable(t.Context(), exportTable())
	require.NoError(t, err)
	out := string(readAll(t, r))

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5, "header, separator and three rows")
	assert.Contains(t, lines[0], "Reference #")
	assert.Contains(t, lines[1], "---")
	assert.Contains(t, out, `é \| ü`)
	assert.Contains(t, out, "multi<br>line")
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "|"), line)
	}
}

func TestRegister(t *testing.T) {
	r := engine.NewRegistry(zap.NewNop())
	Register(r)

	assert.Equal(t, []string{"csv", "feather", "json", "markdown", "parquet", "pickle", "xlsx"}, r.AvailableEncoders())

	for _, format := range r.AvailableEncoders() {
		enc, err := r.CreateEncoder(t.Context(), format, Options{})
		require.NoError(t, err, format)

		_, err = enc.EncodeTable(t.Context(), exportTable())
		require.NoError(t, err, format)
	}
}
